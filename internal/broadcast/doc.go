// Package broadcast fans persisted ledger events out to in-process
// subscribers of a conversation.
//
// Each subscriber gets a buffered channel. Publish never blocks: a
// subscriber whose buffer is full misses the event, and the drop is logged.
// Subscriptions end when their context is cancelled, on Unsubscribe, or on
// Close, and the channel is closed in every case.
package broadcast
