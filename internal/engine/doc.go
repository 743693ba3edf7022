// Package engine defines the contract between the conversation
// synchronization core and the chat engine that actually owns rooms,
// history and delivery.
//
// The core never reimplements the engine. It consumes four operations:
//
//   - Subscribe: notifications for locally sent (engine-confirmed) and
//     remotely received messages, delivered on the engine's own context
//   - FetchHistoryRange: a slice of history, indices counted from the
//     newest event, returned oldest first
//   - SendText: submit an outgoing text message
//   - HistorySize: total number of events the engine holds
//
// Engine methods may block; the core only calls them through an Executor
// bound to the engine context, never from the presentation context.
//
// Implementations in this module: localengine (SQLite ledger), matrixengine
// (mautrix client) and MockEngine for tests.
package engine
