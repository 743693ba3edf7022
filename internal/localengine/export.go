// ABOUTME: Oldest-first walk over a conversation ledger for exports
// ABOUTME: Pages through the store with GetEvents cursors, optionally resuming after an event

package localengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/store"
)

const exportPageSize = 200

// ErrForeignEvent is returned when the resume event belongs to another
// conversation.
var ErrForeignEvent = errors.New("event belongs to another conversation")

// ExportOptions narrows an Export.
type ExportOptions struct {
	AfterRef string     // resume after this event; empty starts at the oldest
	Since    *time.Time // skip events older than this
}

// Export calls fn for every stored event of conversationID, oldest first.
// It stops at the first error fn returns.
func (e *Engine) Export(ctx context.Context, conversationID string, opts ExportOptions, fn func(event.EngineEvent) error) error {
	params := store.GetEventsParams{
		ConversationKey: conversationID,
		Since:           opts.Since,
		Limit:           exportPageSize,
	}

	if opts.AfterRef != "" {
		after, err := e.store.GetEvent(ctx, opts.AfterRef)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", opts.AfterRef, err)
		}
		if after.ConversationKey != conversationID {
			return fmt.Errorf("%s: %w", opts.AfterRef, ErrForeignEvent)
		}
		params.Cursor = store.CursorAfter(after)
	}

	exported := 0
	for {
		page, err := e.store.GetEvents(ctx, params)
		if err != nil {
			return fmt.Errorf("reading ledger: %w", err)
		}
		for i := range page.Events {
			if err := fn(toEngineEvent(&page.Events[i])); err != nil {
				return err
			}
		}
		exported += len(page.Events)
		if !page.HasMore {
			break
		}
		params.Cursor = page.NextCursor
	}

	e.logger.Debug("exported conversation", "conversation_id", conversationID, "events", exported)
	return nil
}
