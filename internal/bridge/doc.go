// Package bridge is the single crossing point between the engine context
// and the presentation context.
//
// A Bridge subscribes to a conversation's "message sent" and "messages
// received" notifications. Engine callbacks only wrap the delivered events
// into records and post a closure to the presentation queue; the closure
// appends them to the event log at the back.
//
// Every Attach starts a new generation. A notification is delivered only if
// its generation is still current when it is both received and executed,
// so anything arriving after Detach, or for a replaced attachment, is
// dropped rather than queued.
package bridge
