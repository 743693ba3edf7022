// Package eventlog holds the ordered, deduplicated event log of a single
// conversation.
//
// # Ordering
//
// Records are kept in ascending engine sequence order. Records with equal
// sequences keep the order in which they were inserted, except that a page
// inserted at the front with AppendBatch lands before existing records it
// ties with.
//
// # Idempotency
//
// A record is ignored when a record with the same ID or the same engine
// reference is already present. This is what absorbs redelivered
// notifications and overlapping history pages.
//
// # Gaps
//
// The store never claims completeness. Pagination can leave holes relative
// to the engine's full history and nothing here detects or fills them.
//
// # Concurrency
//
// Store is not safe for concurrent use. All calls must come from the
// presentation context (see package dispatch).
package eventlog
