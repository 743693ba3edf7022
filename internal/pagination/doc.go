// Package pagination drives incremental loading of a conversation's history
// into an eventlog.Store.
//
// # State machine
//
//	Idle ──LoadInitial──▶ LoadingInitial ──page──▶ Idle | Exhausted
//	Idle ──LoadOlder───▶ LoadingOlder   ──page──▶ Idle | Exhausted
//	any loading state ──fetch error──▶ state before the fetch
//
// A page shorter than the page size means the engine reached the start of
// history and the controller becomes Exhausted. Exhausted only stops
// backward loads; live events keep arriving through the bridge.
//
// # Contexts
//
// All methods must be called on the presentation context. Fetches run
// through the engine Executor and their completions are posted back to the
// presentation context before the store is touched.
//
// # Cursors
//
// OldestCursor and NewestCursor are opaque tokens, base64("sequence|ref"),
// describing the load boundaries. They are informational; offsets passed to
// the engine are record counts.
package pagination
