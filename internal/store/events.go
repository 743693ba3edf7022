// ABOUTME: Ledger event operations for conversation history
// ABOUTME: Save, lookup, newest-indexed ranges and cursor pagination over ledger_events

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const eventColumns = `sequence, event_id, conversation_key, direction, author, timestamp, type, text`

// timestampLayout is fixed width so stored timestamps compare as strings.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SaveEvent persists a ledger event and sets its Sequence. An empty ID is
// filled with a new UUID and a zero Timestamp with the current time.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *LedgerEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Type == "" {
		event.Type = EventTypeMessage
	}

	query := `
		INSERT INTO ledger_events (event_id, conversation_key, direction, author, timestamp, type, text)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.ConversationKey,
		string(event.Direction),
		event.Author,
		event.Timestamp.UTC().Format(timestampLayout),
		string(event.Type),
		event.Text,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("inserting event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading event sequence: %w", err)
	}
	event.Sequence = seq

	s.logger.Debug("saved ledger event",
		"event_id", event.ID,
		"conversation_key", event.ConversationKey,
		"sequence", seq,
		"type", event.Type,
	)
	return nil
}

// GetEvent retrieves a single event by ID
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*LedgerEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM ledger_events WHERE event_id = ?`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return event, nil
}

// CountEvents returns the number of events in a conversation.
func (s *SQLiteStore) CountEvents(ctx context.Context, conversationKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_events WHERE conversation_key = ?`,
		conversationKey,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// ListEventRange returns the events at indices [begin, end) counted from
// the newest event, ordered oldest first. Ranges past the oldest event are
// truncated.
func (s *SQLiteStore) ListEventRange(ctx context.Context, conversationKey string, begin, end int) ([]*LedgerEvent, error) {
	if err := validateRange(begin, end); err != nil {
		return nil, err
	}
	if begin == end {
		return nil, nil
	}

	query := `SELECT ` + eventColumns + `
		FROM ledger_events
		WHERE conversation_key = ?
		ORDER BY sequence DESC
		LIMIT ? OFFSET ?
	`

	events, err := s.queryEvents(ctx, query, conversationKey, end-begin, begin)
	if err != nil {
		return nil, err
	}
	slices.Reverse(events)
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*LedgerEvent, error) {
	event := &LedgerEvent{}
	var timestampStr, direction, eventType string

	if err := row.Scan(
		&event.Sequence,
		&event.ID,
		&event.ConversationKey,
		&direction,
		&event.Author,
		&timestampStr,
		&eventType,
		&event.Text,
	); err != nil {
		return nil, err
	}

	event.Direction = EventDirection(direction)
	event.Type = EventType(eventType)

	ts, err := time.Parse(timestampLayout, timestampStr)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	event.Timestamp = ts
	return event, nil
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]*LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*LedgerEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

// encodeCursor creates an opaque cursor from a sequence number.
func encodeCursor(seq int64) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

// CursorAfter returns a GetEvents cursor that resumes after e.
func CursorAfter(e *LedgerEvent) string {
	return encodeCursor(e.Sequence)
}

// decodeCursor parses a cursor created by encodeCursor.
func decodeCursor(cursor string) (int64, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	seq, err := strconv.ParseInt(string(decoded), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor sequence: %w", err)
	}
	return seq, nil
}

// GetEvents retrieves events for a conversation with pagination support.
// Events are returned in chronological order (oldest first).
func (s *SQLiteStore) GetEvents(ctx context.Context, p GetEventsParams) (*GetEventsResult, error) {
	if p.ConversationKey == "" {
		return nil, errors.New("conversation_key required")
	}

	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}

	var args []any
	query := `SELECT ` + eventColumns + ` FROM ledger_events WHERE conversation_key = ?`
	args = append(args, p.ConversationKey)

	if p.Since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, p.Since.UTC().Format(timestampLayout))
	}

	if p.Cursor != "" {
		after, err := decodeCursor(p.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		query += ` AND sequence > ?`
		args = append(args, after)
	}

	// Fetch limit+1 to detect if there are more results
	query += ` ORDER BY sequence ASC LIMIT ?`
	args = append(args, p.Limit+1)

	rows, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	hasMore := len(rows) > p.Limit
	if hasMore {
		rows = rows[:p.Limit]
	}

	result := &GetEventsResult{
		Events:  make([]LedgerEvent, 0, len(rows)),
		HasMore: hasMore,
	}
	for _, e := range rows {
		result.Events = append(result.Events, *e)
	}
	if hasMore && len(rows) > 0 {
		result.NextCursor = encodeCursor(rows[len(rows)-1].Sequence)
	}
	return result, nil
}
