// ABOUTME: Engine collaborator contract consumed by the synchronization core
// ABOUTME: Subscriptions, history range fetches, text sends and the engine executor

package engine

import (
	"context"
	"errors"

	"github.com/2389/coven-chatsync/internal/event"
)

var (
	// ErrConversationNotFound is returned for an unknown conversation.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidRange is returned when end < begin or begin < 0.
	ErrInvalidRange = errors.New("invalid history range")
)

// SentFunc receives one engine-confirmed outgoing event. Its Ref must equal
// the Ref the same event carries in history ranges and in any echo, or the
// event log cannot recognize the duplicate.
type SentFunc func(event.EngineEvent)

// ReceivedFunc receives a batch of remotely originated events, in order.
type ReceivedFunc func([]event.EngineEvent)

// Subscription is a live notification registration.
type Subscription interface {
	// Cancel stops delivery. It is idempotent.
	Cancel()
}

// Engine is the external chat engine.
type Engine interface {
	// Subscribe registers callbacks for one conversation. Callbacks run on
	// the engine context.
	Subscribe(ctx context.Context, conversationID string, onSent SentFunc, onReceived ReceivedFunc) (Subscription, error)

	// FetchHistoryRange returns events [begin, end) counted from the newest
	// (index 0), ordered oldest first. Fewer than end-begin events are
	// returned only at the true history boundary.
	FetchHistoryRange(ctx context.Context, conversationID string, begin, end int) ([]event.EngineEvent, error)

	// SendText submits a message. Confirmation arrives through SentFunc.
	SendText(ctx context.Context, conversationID, body string) error

	// HistorySize returns the number of events the engine holds.
	HistorySize(ctx context.Context, conversationID string) (int, error)
}

// Executor runs work on the engine context.
type Executor interface {
	Post(fn func()) bool
}

// GoExecutor runs each task on its own goroutine. Used when an engine has
// no dedicated context of its own.
type GoExecutor struct{}

// Post starts fn on a new goroutine.
func (GoExecutor) Post(fn func()) bool {
	go fn()
	return true
}

// ValidateRange checks the arguments of FetchHistoryRange.
func ValidateRange(begin, end int) error {
	if begin < 0 || end < begin {
		return ErrInvalidRange
	}
	return nil
}

// RangeFromNewest slices an oldest-first history by indices counted from
// the newest element, returning [begin, end) oldest first.
func RangeFromNewest[T any](history []T, begin, end int) []T {
	n := len(history)
	if begin >= n || end <= begin {
		return []T{}
	}
	hi := n - begin
	lo := max(n-end, 0)
	out := make([]T, hi-lo)
	copy(out, history[lo:hi])
	return out
}
