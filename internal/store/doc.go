// Package store persists conversation ledgers for the local engine using SQLite.
//
// # Data Model
//
// Every message or participant change in a conversation is a LedgerEvent.
// SQLite assigns each event a Sequence (an INTEGER primary key) when it is
// saved, so sequence order is insertion order and is total within a
// conversation.
//
// # Ranges
//
// ListEventRange addresses history by index counted from the newest event:
// index 0 is the most recent event. Results are always returned oldest
// first. GetEvents walks a conversation oldest first with opaque cursors.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Testing
//
// NewMockStore returns an in-memory EventStore with the same semantics.
package store
