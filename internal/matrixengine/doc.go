// Package matrixengine implements engine.Engine over a Matrix homeserver
// using mautrix.
//
// Each room is a conversation. Events arriving through /sync are live and
// get sequences counting up from 0. History fetched with backward
// /messages pagination gets sequences counting down from -1, so sequence
// order matches timeline order without a server-side counter.
//
// A message we send is confirmed through the subscriber's sent callback
// exactly once: whichever of the send response and its /sync echo arrives
// first is delivered and the other is suppressed by the dedupe cache.
//
// HistorySize reports the events known locally. It grows as history is
// backfilled; Matrix offers no cheap way to count a room's timeline.
package matrixengine
