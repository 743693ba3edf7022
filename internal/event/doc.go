// Package event defines the values that flow from a chat engine into the
// conversation synchronization core.
//
// An EngineEvent is what an engine delivers: a stable reference into
// engine-owned data, a sequence token that totally orders events within one
// conversation, and a kind tag. A Record wraps exactly one EngineEvent with
// a process-local identity assigned at ingestion time.
//
// Records are immutable. Two records are equal only when their IDs match,
// regardless of content; deduplication of redelivered engine events is
// done on the engine reference by the eventlog package.
package event
