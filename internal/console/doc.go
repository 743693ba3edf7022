// ABOUTME: Package console is the line-oriented terminal front end shared by the chatsync binaries
// ABOUTME: It reads commands from stdin and prints session changes as they happen

// Package console drives a session.Session from a line-oriented terminal.
//
// Every interaction with the session happens on the presentation queue:
// input lines are handed over with dispatch.Queue.Do, and change
// notifications are printed from the observer, which already runs there.
// Engine-specific commands (for example injecting a remote message into
// the local ledger) are added through Config.Commands.
package console
