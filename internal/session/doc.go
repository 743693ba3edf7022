// Package session is the presentation-facing façade of the conversation
// synchronization core.
//
// A Session shows one conversation at a time. Activate builds a fresh event
// log, pagination controller and engine bridge for the target conversation,
// attaches the bridge and requests the newest page. Deactivate detaches and
// clears. Switching conversations is always destroy-and-recreate.
//
// # Contexts
//
// Every Session method must be called on the presentation context, the
// dispatch.Queue passed in Config.Presentation. Engine calls run through
// Config.Executor and complete by posting back to that queue. Observers are
// invoked on the presentation context after each mutation.
//
// # Sending
//
// SendText never appends to the log. The record shows up through the
// engine's "message sent" notification like any other confirmed event, so
// there is exactly one append path. A draft sent with SendDraft is cleared
// when that confirmation arrives and kept if the engine rejects the send.
//
// # Example
//
//	q := dispatch.New("presentation", logger)
//	go q.Run(ctx)
//
//	s := session.New(session.Config{Engine: eng, Presentation: q})
//	q.Post(func() {
//		s.Observe(func(c session.Change) { render(s) })
//		_ = s.Activate("room-1")
//	})
package session
