// ABOUTME: Engine event bridge marshalling engine-context notifications onto the presentation queue
// ABOUTME: Generation-checked attach/detach drops stale deliveries for replaced sessions

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-chatsync/internal/dispatch"
	"github.com/2389/coven-chatsync/internal/engine"
	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/eventlog"
	"github.com/2389/coven-chatsync/internal/metrics"
)

const subscribeTimeout = 10 * time.Second

var (
	// ErrStaleDelivery marks a notification for a detached or replaced bridge.
	ErrStaleDelivery = errors.New("stale delivery")

	// ErrAlreadyAttached is returned by Attach on an attached bridge.
	ErrAlreadyAttached = errors.New("bridge already attached")

	// ErrSubscribeFailed wraps engine subscription errors.
	ErrSubscribeFailed = errors.New("engine subscription failed")
)

// Source tells which notification produced a Delivery.
type Source string

const (
	SourceSent     Source = "sent"
	SourceReceived Source = "received"
)

// Delivery is reported on the presentation context after records from one
// notification were appended.
type Delivery struct {
	Source   Source
	Records  []event.Record // inserted records, duplicates excluded
	Inserted int
}

// Config holds the bridge's collaborators.
type Config struct {
	ConversationID string

	Engine       engine.Engine
	Executor     engine.Executor // engine context; defaults to engine.GoExecutor
	Presentation dispatch.Poster
	Store        *eventlog.Store

	// OnDelivery runs on the presentation context after each append.
	OnDelivery func(Delivery)
	// OnError runs on the presentation context when subscribing fails.
	OnError func(error)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Bridge connects one conversation's engine notifications to its store.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	// generation is written on the presentation context and read on the
	// engine context.
	generation atomic.Uint64
	attached   bool // presentation context only

	mu  sync.Mutex
	sub engine.Subscription
}

// New creates a detached bridge.
func New(cfg Config) *Bridge {
	if cfg.Executor == nil {
		cfg.Executor = engine.GoExecutor{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:    cfg,
		logger: logger.With("component", "bridge", "conversation_id", cfg.ConversationID),
	}
}

// Attached reports whether the bridge is attached.
func (b *Bridge) Attached() bool {
	return b.attached
}

// Attach subscribes to the conversation on the engine context. Must be
// called on the presentation context.
func (b *Bridge) Attach() error {
	if b.attached {
		return ErrAlreadyAttached
	}
	b.attached = true
	gen := b.generation.Add(1)

	b.logger.Debug("attaching", "generation", gen)

	subscribe := func() {
		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		defer cancel()

		sub, err := b.cfg.Engine.Subscribe(ctx, b.cfg.ConversationID, b.onSent(gen), b.onReceived(gen))
		if err != nil {
			b.cfg.Presentation.Post(func() {
				if b.generation.Load() != gen {
					return
				}
				b.logger.Error("subscribe failed", "error", err)
				if b.cfg.OnError != nil {
					b.cfg.OnError(fmt.Errorf("%w: %w", ErrSubscribeFailed, err))
				}
			})
			return
		}

		b.mu.Lock()
		if b.generation.Load() != gen {
			// Detached before the subscription was established.
			b.mu.Unlock()
			sub.Cancel()
			return
		}
		b.sub = sub
		b.mu.Unlock()
	}

	if !b.cfg.Executor.Post(subscribe) {
		b.attached = false
		b.generation.Add(1)
		return fmt.Errorf("%w: engine context unavailable", ErrSubscribeFailed)
	}
	return nil
}

// Detach cancels the subscription. Notifications already in flight are
// dropped. Safe to call when not attached.
func (b *Bridge) Detach() {
	if !b.attached {
		return
	}
	b.attached = false
	b.generation.Add(1)

	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		if !b.cfg.Executor.Post(sub.Cancel) {
			sub.Cancel()
		}
	}
	b.logger.Debug("detached")
}

func (b *Bridge) onSent(gen uint64) engine.SentFunc {
	return func(evt event.EngineEvent) {
		b.forward(gen, SourceSent, []event.EngineEvent{evt})
	}
}

func (b *Bridge) onReceived(gen uint64) engine.ReceivedFunc {
	return func(evts []event.EngineEvent) {
		b.forward(gen, SourceReceived, evts)
	}
}

// forward runs on the engine context.
func (b *Bridge) forward(gen uint64, source Source, evts []event.EngineEvent) {
	if b.generation.Load() != gen {
		b.dropStale(source, len(evts))
		return
	}
	if len(evts) == 0 {
		return
	}

	records := event.NewRecords(evts)
	b.cfg.Presentation.Post(func() {
		b.deliver(gen, source, records)
	})
}

// deliver runs on the presentation context.
func (b *Bridge) deliver(gen uint64, source Source, records []event.Record) {
	if !b.attached || b.generation.Load() != gen {
		b.dropStale(source, len(records))
		return
	}

	added := b.cfg.Store.InsertBatch(records, false)
	inserted := len(added)
	b.cfg.Metrics.RecordsAppended(inserted)
	b.cfg.Metrics.DuplicatesDropped(len(records) - inserted)

	b.logger.Debug("delivered",
		"source", source,
		"records", len(records),
		"inserted", inserted)

	if b.cfg.OnDelivery != nil {
		b.cfg.OnDelivery(Delivery{Source: source, Records: added, Inserted: inserted})
	}
}

func (b *Bridge) dropStale(source Source, n int) {
	b.cfg.Metrics.StaleDelivery()
	b.logger.Debug("dropping notification",
		"error", ErrStaleDelivery,
		"source", source,
		"events", n)
}
