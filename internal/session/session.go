// ABOUTME: ConversationSession façade owning one event log, pagination controller and bridge
// ABOUTME: Activate/deactivate lifecycle, read access and older-page requests for the presentation layer

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-chatsync/internal/bridge"
	"github.com/2389/coven-chatsync/internal/dispatch"
	"github.com/2389/coven-chatsync/internal/engine"
	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/eventlog"
	"github.com/2389/coven-chatsync/internal/metrics"
	"github.com/2389/coven-chatsync/internal/pagination"
)

// DefaultSendTimeout bounds a single SendText call to the engine.
const DefaultSendTimeout = 30 * time.Second

var (
	// ErrNoConversation is returned by Activate with an empty id.
	ErrNoConversation = errors.New("conversation id required")

	// ErrNotActive is returned by operations that need an active conversation.
	ErrNotActive = errors.New("no active conversation")
)

// Config holds the session's collaborators.
type Config struct {
	Engine       engine.Engine
	Executor     engine.Executor // engine context; defaults to engine.GoExecutor
	Presentation dispatch.Poster

	PageSize     int
	FetchTimeout time.Duration
	SendTimeout  time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session presents one conversation at a time.
type Session struct {
	cfg    Config
	logger *slog.Logger

	conversationID string
	active         bool
	// epoch changes on every activate and deactivate; async completions
	// from an older epoch are ignored.
	epoch uint64

	store  *eventlog.Store
	pager  *pagination.Controller
	bridge *bridge.Bridge

	historySize  int
	sizePending  int // history size requests not yet answered
	sends        sendTracker
	draft        string
	draftSeq     uint64
	pendingDraft pendingDraft

	observers []observerEntry
}

// New creates an inactive session.
func New(cfg Config) *Session {
	if cfg.Executor == nil {
		cfg.Executor = engine.GoExecutor{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = pagination.DefaultPageSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = pagination.DefaultFetchTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		logger: logger.With("component", "session"),
		store:  eventlog.New(),
	}
}

// Activate displays conversationID, replacing any active conversation.
// It attaches the engine bridge, then requests the newest page and the
// history size.
func (s *Session) Activate(conversationID string) error {
	if conversationID == "" {
		return ErrNoConversation
	}
	if s.active {
		s.Deactivate()
	}

	s.epoch++
	s.conversationID = conversationID
	s.store = eventlog.New()
	s.historySize = 0
	s.pendingDraft = pendingDraft{}
	s.sends.reset()

	s.bridge = bridge.New(bridge.Config{
		ConversationID: conversationID,
		Engine:         s.cfg.Engine,
		Executor:       s.cfg.Executor,
		Presentation:   s.cfg.Presentation,
		Store:          s.store,
		OnDelivery:     s.onDelivery,
		OnError:        s.onError,
		Metrics:        s.cfg.Metrics,
		Logger:         s.cfg.Logger,
	})
	s.pager = pagination.New(pagination.Config{
		ConversationID: conversationID,
		PageSize:       s.cfg.PageSize,
		FetchTimeout:   s.cfg.FetchTimeout,
		Engine:         s.cfg.Engine,
		Executor:       s.cfg.Executor,
		Presentation:   s.cfg.Presentation,
		Store:          s.store,
		OnPage:         s.onPage,
		Metrics:        s.cfg.Metrics,
		Logger:         s.cfg.Logger,
	})

	if err := s.bridge.Attach(); err != nil {
		s.pager.Close()
		s.logger.Error("activate failed", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("attaching bridge: %w", err)
	}
	s.active = true
	s.cfg.Metrics.SessionActivated()

	if err := s.pager.LoadInitial(); err != nil {
		return fmt.Errorf("loading initial page: %w", err)
	}
	s.RefreshHistorySize()

	s.logger.Info("conversation activated", "conversation_id", conversationID)
	return nil
}

// Deactivate detaches from the engine and clears the log. Safe to call
// when never activated.
func (s *Session) Deactivate() {
	if !s.active {
		return
	}
	s.active = false
	s.epoch++

	s.bridge.Detach()
	s.pager.Close()
	s.store.Clear()
	s.historySize = 0
	s.pendingDraft = pendingDraft{}
	s.sends.reset()
	s.cfg.Metrics.SessionDeactivated()

	s.logger.Info("conversation deactivated", "conversation_id", s.conversationID)
	s.notify(Change{Kind: ChangeCleared})
}

// Active reports whether a conversation is displayed.
func (s *Session) Active() bool {
	return s.active
}

// ConversationID returns the displayed (or last displayed) conversation.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// RecordCount returns the number of loaded records.
func (s *Session) RecordCount() int {
	return s.store.Count()
}

// RecordAt returns the record at index i, oldest first. An out of range
// index is a programming error: it panics in chatsyncdebug builds and
// returns a zero Record with the error otherwise.
func (s *Session) RecordAt(i int) (event.Record, error) {
	r, err := s.store.RecordAt(i)
	if err != nil {
		if assertions {
			panic(err)
		}
		s.logger.Error("record index out of range", "index", i, "error", err)
		return event.Record{}, err
	}
	return r, nil
}

// Records returns a copy of all loaded records, oldest first.
func (s *Session) Records() []event.Record {
	return s.store.Records()
}

// RequestOlder asks for the next older page. It returns false when no
// fetch was started.
func (s *Session) RequestOlder() bool {
	if !s.active {
		return false
	}
	return s.pager.LoadOlder()
}

// Pagination returns the current pagination state.
func (s *Session) Pagination() pagination.Snapshot {
	if s.pager == nil {
		return pagination.Snapshot{State: pagination.StateIdle}
	}
	return s.pager.Snapshot()
}

// HistorySize returns the engine's last reported history size.
func (s *Session) HistorySize() int {
	return s.historySize
}

// RefreshHistorySize asks the engine for the history size.
func (s *Session) RefreshHistorySize() {
	if !s.active {
		return
	}
	epoch := s.epoch
	conversationID := s.conversationID
	fetchTimeout := s.cfg.FetchTimeout

	s.sizePending++
	posted := s.cfg.Executor.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		size, err := s.cfg.Engine.HistorySize(ctx, conversationID)
		s.cfg.Presentation.Post(func() {
			s.sizePending--
			if epoch != s.epoch {
				return
			}
			if err != nil {
				s.logger.Warn("history size unavailable", "conversation_id", conversationID, "error", err)
				return
			}
			if size == s.historySize {
				return
			}
			s.historySize = size
			s.notify(Change{Kind: ChangeHistorySize})
		})
	})
	if !posted {
		s.sizePending--
	}
}

// Busy reports whether work started by this session has not yet been
// reported to observers: a page fetch, a history size request, or a send
// that is unanswered or still awaiting its sent confirmation.
func (s *Session) Busy() bool {
	if s.sizePending > 0 || s.sends.busy() {
		return true
	}
	return s.pager != nil && s.active && s.pager.Snapshot().InFlight
}

func (s *Session) onPage(p pagination.Page) {
	if p.Err != nil {
		s.notify(Change{Kind: ChangeError, Err: p.Err})
		return
	}

	kind := ChangeAppended
	if p.Kind == pagination.PageOlder {
		kind = ChangePrepended
	}
	s.notify(Change{Kind: kind, Inserted: p.Inserted, Records: p.Records, Exhausted: p.Exhausted})
}

func (s *Session) onDelivery(d bridge.Delivery) {
	if d.Source == bridge.SourceSent {
		s.sends.confirmed()
		s.confirmDraft()
	}
	if d.Inserted == 0 {
		return
	}
	s.notify(Change{
		Kind:      ChangeAppended,
		Inserted:  d.Inserted,
		Records:   d.Records,
		Exhausted: s.pager.State() == pagination.StateExhausted,
	})
}

func (s *Session) onError(err error) {
	s.notify(Change{Kind: ChangeError, Err: err})
}
