// ABOUTME: Local chat engine backed by the SQLite ledger and the event broadcaster
// ABOUTME: Serves history ranges, persists sends and receives, and fans out notifications

package localengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-chatsync/internal/broadcast"
	"github.com/2389/coven-chatsync/internal/dispatch"
	"github.com/2389/coven-chatsync/internal/engine"
	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/store"
)

// DefaultSelf is the author recorded for messages sent by this process.
const DefaultSelf = "me"

// ErrEmptyText is returned for blank message bodies.
var ErrEmptyText = errors.New("message text is empty")

// Message is the payload of every event this engine produces.
type Message struct {
	Author    string
	Text      string
	Timestamp time.Time
	Outbound  bool
}

// Config holds the engine's collaborators.
type Config struct {
	Store       store.EventStore
	Broadcaster *broadcast.Broadcaster // created when nil
	Self        string                 // defaults to DefaultSelf
	Logger      *slog.Logger
}

// Engine is an engine.Engine over a local ledger.
type Engine struct {
	store  store.EventStore
	bc     *broadcast.Broadcaster
	self   string
	queue  *dispatch.Queue
	logger *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine. Run must be called before callbacks are delivered.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bc := cfg.Broadcaster
	if bc == nil {
		bc = broadcast.New(logger, 0)
	}
	self := cfg.Self
	if self == "" {
		self = DefaultSelf
	}
	return &Engine{
		store:  cfg.Store,
		bc:     bc,
		self:   self,
		queue:  dispatch.New("engine", logger),
		logger: logger.With("component", "localengine"),
	}
}

// Queue returns the engine context. Pass it as the session's executor.
func (e *Engine) Queue() *dispatch.Queue {
	return e.queue
}

// Run processes the engine context until ctx is done or Close is called.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("local engine running")
	return e.queue.Run(ctx)
}

// Close stops the engine context and ends every subscription.
func (e *Engine) Close() {
	e.queue.Close()
	e.bc.Close()
}

// Subscribe delivers new ledger events of conversationID. Outbound events
// go to onSent, inbound events to onReceived in batches.
func (e *Engine) Subscribe(ctx context.Context, conversationID string, onSent engine.SentFunc, onReceived engine.ReceivedFunc) (engine.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ch, subID := e.bc.Subscribe(subCtx, conversationID)

	sub := &subscription{
		cancel: cancel,
	}
	go e.pump(sub, ch, onSent, onReceived)

	e.logger.Debug("subscribed", "conversation_id", conversationID, "sub_id", subID)
	return sub, nil
}

// pump reads broadcast events and hands them to the engine context. Inbound
// events already buffered together are delivered as one batch.
func (e *Engine) pump(sub *subscription, ch <-chan *store.LedgerEvent, onSent engine.SentFunc, onReceived engine.ReceivedFunc) {
	for first := range ch {
		batch := []*store.LedgerEvent{first}
	drain:
		for {
			select {
			case next, ok := <-ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		e.queue.Post(func() {
			if sub.cancelled.Load() {
				return
			}
			deliver(batch, onSent, onReceived)
		})
	}
}

// deliver splits a batch into runs by direction, keeping order.
func deliver(batch []*store.LedgerEvent, onSent engine.SentFunc, onReceived engine.ReceivedFunc) {
	var received []event.EngineEvent
	flush := func() {
		if len(received) > 0 {
			onReceived(received)
			received = nil
		}
	}

	for _, le := range batch {
		evt := toEngineEvent(le)
		if le.Direction == store.EventDirectionOutbound {
			flush()
			onSent(evt)
			continue
		}
		received = append(received, evt)
	}
	flush()
}

// FetchHistoryRange serves [begin, end) counted from the newest event.
func (e *Engine) FetchHistoryRange(ctx context.Context, conversationID string, begin, end int) ([]event.EngineEvent, error) {
	if err := engine.ValidateRange(begin, end); err != nil {
		return nil, err
	}

	rows, err := e.store.ListEventRange(ctx, conversationID, begin, end)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	out := make([]event.EngineEvent, 0, len(rows))
	for _, le := range rows {
		out = append(out, toEngineEvent(le))
	}
	return out, nil
}

// HistorySize returns the number of stored events.
func (e *Engine) HistorySize(ctx context.Context, conversationID string) (int, error) {
	n, err := e.store.CountEvents(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return n, nil
}

// SendText stores an outbound message and notifies subscribers.
func (e *Engine) SendText(ctx context.Context, conversationID, body string) error {
	_, err := e.record(ctx, conversationID, store.EventDirectionOutbound, store.EventTypeMessage, e.self, body)
	return err
}

// Receive stores a message from author and notifies subscribers.
func (e *Engine) Receive(ctx context.Context, conversationID, author, body string) (*store.LedgerEvent, error) {
	return e.record(ctx, conversationID, store.EventDirectionInbound, store.EventTypeMessage, author, body)
}

// Join records that who joined the conversation.
func (e *Engine) Join(ctx context.Context, conversationID, who string) (*store.LedgerEvent, error) {
	return e.record(ctx, conversationID, store.EventDirectionInbound, store.EventTypeParticipant, who, who+" joined")
}

func (e *Engine) record(ctx context.Context, conversationID string, dir store.EventDirection, typ store.EventType, author, body string) (*store.LedgerEvent, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyText
	}

	le := &store.LedgerEvent{
		ConversationKey: conversationID,
		Direction:       dir,
		Author:          author,
		Type:            typ,
		Text:            &body,
	}
	if err := e.store.SaveEvent(ctx, le); err != nil {
		return nil, fmt.Errorf("saving event: %w", err)
	}

	n := e.bc.Publish(conversationID, le)
	e.logger.Debug("event recorded",
		"conversation_id", conversationID,
		"event_ref", le.ID,
		"sequence", le.Sequence,
		"direction", dir,
		"subscribers", n)
	return le, nil
}

func toEngineEvent(le *store.LedgerEvent) event.EngineEvent {
	var text string
	if le.Text != nil {
		text = *le.Text
	}

	kind := event.KindOther
	switch {
	case le.Type == store.EventTypeParticipant:
		kind = event.KindParticipantChange
	case le.Type != store.EventTypeMessage:
	case le.Direction == store.EventDirectionOutbound:
		kind = event.KindMessageSent
	default:
		kind = event.KindMessageReceived
	}

	return event.EngineEvent{
		Ref:      le.ID,
		Sequence: le.Sequence,
		Kind:     kind,
		Payload: &Message{
			Author:    le.Author,
			Text:      text,
			Timestamp: le.Timestamp,
			Outbound:  le.Direction == store.EventDirectionOutbound,
		},
	}
}

type subscription struct {
	once      sync.Once
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Cancel stops delivery. Callbacks already queued on the engine context
// are skipped.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		s.cancel()
	})
}
