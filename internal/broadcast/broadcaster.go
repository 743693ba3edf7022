// ABOUTME: In-memory fan-out of persisted ledger events per conversation
// ABOUTME: Buffered subscriber channels with drop-on-full and context cleanup

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-chatsync/internal/store"
)

// DefaultBufferSize is the channel buffer for each subscriber.
const DefaultBufferSize = 64

// Broadcaster provides pub/sub for persisted LedgerEvents keyed by
// conversation.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.LedgerEvent // conversationKey -> subID -> ch
	closed      bool
	bufferSize  int
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default and bufferSize <= 0
// for DefaultBufferSize.
func New(logger *slog.Logger, bufferSize int) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *store.LedgerEvent),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events on conversationKey. The subscription is
// removed when ctx is cancelled. Subscribing to a closed broadcaster
// returns an already closed channel.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationKey string) (<-chan *store.LedgerEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *store.LedgerEvent, b.bufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[conversationKey]; !ok {
		b.subscribers[conversationKey] = make(map[string]chan *store.LedgerEvent)
	}
	b.subscribers[conversationKey][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"conversation_key", conversationKey,
		"sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationKey, subID)
	}()

	return ch, subID
}

// Publish sends event to every subscriber of conversationKey and returns
// how many received it. Never blocks.
func (b *Broadcaster) Publish(conversationKey string, event *store.LedgerEvent) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for subID, ch := range b.subscribers[conversationKey] {
		select {
		case ch <- event:
			delivered++
		default:
			b.logger.Warn("dropped event for slow subscriber",
				"conversation_key", conversationKey,
				"sub_id", subID,
				"event_id", event.ID)
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions on conversationKey.
func (b *Broadcaster) Subscribers(conversationKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[conversationKey])
}

// Unsubscribe removes a subscription and closes its channel. Unknown IDs
// are ignored.
func (b *Broadcaster) Unsubscribe(conversationKey, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationKey]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, conversationKey)
	}

	b.logger.Debug("subscriber removed",
		"conversation_key", conversationKey,
		"sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, key)
	}
	b.logger.Debug("broadcaster closed")
}
