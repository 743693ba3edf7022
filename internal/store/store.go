// ABOUTME: EventStore interface and ledger data types for conversation persistence
// ABOUTME: Shared by the SQLite implementation and the in-memory mock

package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEventNotFound is returned when a requested event does not exist
	ErrEventNotFound = errors.New("event not found")

	// ErrDuplicateEvent is returned when saving an event ID twice
	ErrDuplicateEvent = errors.New("event already exists")

	// ErrInvalidRange is returned for a negative or inverted index range
	ErrInvalidRange = errors.New("invalid event range")
)

// EventDirection tells whether the local user sent or received an event
type EventDirection string

const (
	EventDirectionInbound  EventDirection = "inbound"
	EventDirectionOutbound EventDirection = "outbound"
)

// EventType categorizes the kind of event
type EventType string

const (
	EventTypeMessage     EventType = "message"
	EventTypeParticipant EventType = "participant"
	EventTypeSystem      EventType = "system"
)

// LedgerEvent is one persisted event of a conversation.
type LedgerEvent struct {
	Sequence        int64 // assigned by SaveEvent
	ID              string
	ConversationKey string
	Direction       EventDirection
	Author          string
	Timestamp       time.Time
	Type            EventType
	Text            *string
}

// GetEventsParams specifies a cursor-paginated walk over a conversation.
type GetEventsParams struct {
	ConversationKey string     // Required
	Since           *time.Time // Optional: only events at or after this timestamp
	Limit           int        // 1-500, defaults to 50
	Cursor          string     // Opaque cursor from a previous result
}

// GetEventsResult contains one page of GetEvents.
type GetEventsResult struct {
	Events     []LedgerEvent
	NextCursor string // empty when HasMore is false
	HasMore    bool
}

// EventStore persists conversation ledgers.
type EventStore interface {
	SaveEvent(ctx context.Context, event *LedgerEvent) error
	GetEvent(ctx context.Context, id string) (*LedgerEvent, error)
	CountEvents(ctx context.Context, conversationKey string) (int, error)
	ListEventRange(ctx context.Context, conversationKey string, begin, end int) ([]*LedgerEvent, error)
	GetEvents(ctx context.Context, p GetEventsParams) (*GetEventsResult, error)
	Close() error
}

func validateRange(begin, end int) error {
	if begin < 0 || end < begin {
		return ErrInvalidRange
	}
	return nil
}
