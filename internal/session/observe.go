// ABOUTME: Change notifications for presentation-layer observers
// ABOUTME: Explicit callback registration, invoked on the presentation context after each mutation

package session

import (
	"github.com/google/uuid"

	"github.com/2389/coven-chatsync/internal/event"
)

// ChangeKind classifies a Change.
type ChangeKind string

const (
	ChangeAppended    ChangeKind = "appended"  // newer records at the back
	ChangePrepended   ChangeKind = "prepended" // an older page at the front
	ChangeCleared     ChangeKind = "cleared"
	ChangeHistorySize ChangeKind = "history_size"
	ChangeDraft       ChangeKind = "draft"
	ChangeError       ChangeKind = "error" // non-fatal; see Err
)

// Change describes one state change of a Session.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	Count          int // records after the change
	Inserted       int
	Records        []event.Record // the inserted records, for appends and prepends
	Exhausted      bool           // no older history remains
	Err            error
}

// Observer receives changes on the presentation context.
type Observer func(Change)

type observerEntry struct {
	id string
	fn Observer
}

// Observe registers fn and returns a function that unregisters it.
func (s *Session) Observe(fn Observer) (cancel func()) {
	id := uuid.New().String()
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})

	return func() {
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) notify(c Change) {
	c.ConversationID = s.conversationID
	c.Count = s.store.Count()

	// Observers may unregister while being notified.
	targets := make([]Observer, len(s.observers))
	for i, o := range s.observers {
		targets[i] = o.fn
	}
	for _, fn := range targets {
		fn(c)
	}
}
