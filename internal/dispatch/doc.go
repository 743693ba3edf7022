// Package dispatch provides the serial task queue used to model an execution
// context.
//
// The synchronization core has two contexts. The presentation context is one
// Queue on which every read and write of a session's event log and
// pagination state happens. The engine context belongs to the engine
// implementation; code running there only ever posts closures to the
// presentation Queue and never touches session state directly.
//
// Post never blocks: the queue is unbounded, so an engine thread delivering a
// burst of notifications cannot stall on a busy presentation loop.
//
//	q := dispatch.New("presentation", logger)
//	go q.Run(ctx)
//	q.Post(func() { ... })          // from any goroutine
//	err := q.Do(ctx, func() { ... }) // post and wait, never from inside q
package dispatch
