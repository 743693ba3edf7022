// ABOUTME: Tests for ledger event store operations
// ABOUTME: Runs the same cases against SQLite and the in-memory mock

package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

// eventStores returns every EventStore implementation under test.
func eventStores(t *testing.T) map[string]EventStore {
	return map[string]EventStore{
		"sqlite": setupTestStore(t),
		"mock":   NewMockStore(),
	}
}

func seed(t *testing.T, s EventStore, conv string, n int) []*LedgerEvent {
	t.Helper()
	out := make([]*LedgerEvent, 0, n)
	for i := 1; i <= n; i++ {
		e := &LedgerEvent{
			ConversationKey: conv,
			Direction:       EventDirectionInbound,
			Author:          "remote",
			Text:            strPtr(fmt.Sprintf("message %d", i)),
		}
		require.NoError(t, s.SaveEvent(t.Context(), e))
		out = append(out, e)
	}
	return out
}

func texts(events []*LedgerEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, *e.Text)
	}
	return out
}

func TestEventStore_SaveAndGet(t *testing.T) {
	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			ts := time.Now().UTC().Truncate(time.Millisecond)
			event := &LedgerEvent{
				ID:              "event-123",
				ConversationKey: "local:general",
				Direction:       EventDirectionOutbound,
				Author:          "me",
				Timestamp:       ts,
				Type:            EventTypeMessage,
				Text:            strPtr("Hello, world!"),
			}
			require.NoError(t, s.SaveEvent(t.Context(), event))
			assert.Positive(t, event.Sequence)

			got, err := s.GetEvent(t.Context(), "event-123")
			require.NoError(t, err)
			assert.Equal(t, event.Sequence, got.Sequence)
			assert.Equal(t, "local:general", got.ConversationKey)
			assert.Equal(t, EventDirectionOutbound, got.Direction)
			assert.Equal(t, "me", got.Author)
			assert.True(t, ts.Equal(got.Timestamp))
			assert.Equal(t, "Hello, world!", *got.Text)
		})
	}
}

func TestEventStore_SaveAssignsDefaults(t *testing.T) {
	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			event := &LedgerEvent{
				ConversationKey: "local:general",
				Direction:       EventDirectionInbound,
				Author:          "remote",
			}
			require.NoError(t, s.SaveEvent(t.Context(), event))

			assert.NotEmpty(t, event.ID)
			assert.False(t, event.Timestamp.IsZero())
			assert.Equal(t, EventTypeMessage, event.Type)

			got, err := s.GetEvent(t.Context(), event.ID)
			require.NoError(t, err)
			assert.Nil(t, got.Text)
		})
	}
}

func TestEventStore_DuplicateID(t *testing.T) {
	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			event := &LedgerEvent{ID: "dup", ConversationKey: "c", Direction: EventDirectionInbound, Author: "a"}
			require.NoError(t, s.SaveEvent(t.Context(), event))

			again := &LedgerEvent{ID: "dup", ConversationKey: "c", Direction: EventDirectionInbound, Author: "a"}
			assert.ErrorIs(t, s.SaveEvent(t.Context(), again), ErrDuplicateEvent)
		})
	}
}

func TestEventStore_GetEventNotFound(t *testing.T) {
	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetEvent(t.Context(), "missing")
			assert.ErrorIs(t, err, ErrEventNotFound)
		})
	}
}

func TestEventStore_SequencesIncrease(t *testing.T) {
	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			a := seed(t, s, "conv-a", 3)
			b := seed(t, s, "conv-b", 2)

			all := append(a, b...)
			for i := 1; i < len(all); i++ {
				assert.Greater(t, all[i].Sequence, all[i-1].Sequence)
			}
		})
	}
}

func TestEventStore_CountEvents(t *testing.T) {
	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, "conv-a", 4)
			seed(t, s, "conv-b", 1)

			n, err := s.CountEvents(t.Context(), "conv-a")
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			n, err = s.CountEvents(t.Context(), "empty")
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestEventStore_ListEventRange(t *testing.T) {
	tests := []struct {
		name       string
		begin, end int
		want       []string
	}{
		{"newest page", 0, 2, []string{"message 4", "message 5"}},
		{"older page", 2, 4, []string{"message 2", "message 3"}},
		{"truncated at oldest", 3, 10, []string{"message 1", "message 2"}},
		{"past history", 5, 10, nil},
		{"empty range", 1, 1, nil},
	}

	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, "conv", 5)
			seed(t, s, "other", 3)

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := s.ListEventRange(t.Context(), "conv", tt.begin, tt.end)
					require.NoError(t, err)
					if tt.want == nil {
						assert.Empty(t, got)
						return
					}
					assert.Equal(t, tt.want, texts(got))
				})
			}
		})
	}
}

func TestEventStore_ListEventRangeInvalid(t *testing.T) {
	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.ListEventRange(t.Context(), "conv", -1, 2)
			assert.ErrorIs(t, err, ErrInvalidRange)

			_, err = s.ListEventRange(t.Context(), "conv", 3, 2)
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}
}

func TestEventStore_GetEventsPagination(t *testing.T) {
	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, "conv", 5)

			first, err := s.GetEvents(t.Context(), GetEventsParams{ConversationKey: "conv", Limit: 2})
			require.NoError(t, err)
			require.Len(t, first.Events, 2)
			assert.True(t, first.HasMore)
			assert.NotEmpty(t, first.NextCursor)
			assert.Equal(t, "message 1", *first.Events[0].Text)

			second, err := s.GetEvents(t.Context(), GetEventsParams{ConversationKey: "conv", Limit: 2, Cursor: first.NextCursor})
			require.NoError(t, err)
			require.Len(t, second.Events, 2)
			assert.Equal(t, "message 3", *second.Events[0].Text)

			last, err := s.GetEvents(t.Context(), GetEventsParams{ConversationKey: "conv", Limit: 2, Cursor: second.NextCursor})
			require.NoError(t, err)
			require.Len(t, last.Events, 1)
			assert.False(t, last.HasMore)
			assert.Empty(t, last.NextCursor)
			assert.Equal(t, "message 5", *last.Events[0].Text)
		})
	}
}

func TestEventStore_GetEventsValidation(t *testing.T) {
	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetEvents(t.Context(), GetEventsParams{})
			assert.Error(t, err)

			_, err = s.GetEvents(t.Context(), GetEventsParams{ConversationKey: "conv", Cursor: "!!not-base64"})
			assert.Error(t, err)
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	seq, err := decodeCursor(encodeCursor(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
}
