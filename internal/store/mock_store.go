// ABOUTME: Mock EventStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory EventStore implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	events  map[string]*LedgerEvent   // keyed by event ID
	byConv  map[string][]*LedgerEvent // keyed by conversation, oldest first
	nextSeq int64
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		events: make(map[string]*LedgerEvent),
		byConv: make(map[string][]*LedgerEvent),
	}
}

// SaveEvent stores an event and assigns its sequence.
func (m *MockStore) SaveEvent(ctx context.Context, event *LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if _, ok := m.events[event.ID]; ok {
		return ErrDuplicateEvent
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Type == "" {
		event.Type = EventTypeMessage
	}

	m.nextSeq++
	event.Sequence = m.nextSeq

	// Make a copy to avoid external modification
	e := *event
	m.events[e.ID] = &e
	m.byConv[e.ConversationKey] = append(m.byConv[e.ConversationKey], &e)
	return nil
}

// GetEvent retrieves an event by ID.
func (m *MockStore) GetEvent(ctx context.Context, id string) (*LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

// CountEvents returns the number of events in a conversation.
func (m *MockStore) CountEvents(ctx context.Context, conversationKey string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConv[conversationKey]), nil
}

// ListEventRange returns indices [begin, end) counted from the newest event.
func (m *MockStore) ListEventRange(ctx context.Context, conversationKey string, begin, end int) ([]*LedgerEvent, error) {
	if err := validateRange(begin, end); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.byConv[conversationKey]
	hi := len(all) - begin
	lo := len(all) - end
	if hi <= 0 {
		return nil, nil
	}
	lo = max(lo, 0)

	out := make([]*LedgerEvent, 0, hi-lo)
	for _, e := range all[lo:hi] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// GetEvents walks a conversation oldest first.
func (m *MockStore) GetEvents(ctx context.Context, p GetEventsParams) (*GetEventsResult, error) {
	if p.ConversationKey == "" {
		return nil, errors.New("conversation_key required")
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}

	var after int64
	if p.Cursor != "" {
		seq, err := decodeCursor(p.Cursor)
		if err != nil {
			return nil, err
		}
		after = seq
	}

	m.mu.RLock()
	all := slices.Clone(m.byConv[p.ConversationKey])
	m.mu.RUnlock()

	result := &GetEventsResult{}
	for _, e := range all {
		if e.Sequence <= after {
			continue
		}
		if p.Since != nil && e.Timestamp.Before(*p.Since) {
			continue
		}
		if len(result.Events) == p.Limit {
			result.HasMore = true
			break
		}
		result.Events = append(result.Events, *e)
	}
	if result.HasMore {
		result.NextCursor = encodeCursor(result.Events[len(result.Events)-1].Sequence)
	}
	return result, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
