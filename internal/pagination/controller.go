// ABOUTME: Pagination controller feeding engine history pages into the event log
// ABOUTME: Guards against overlapping fetches and tracks the exhausted boundary

package pagination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-chatsync/internal/dispatch"
	"github.com/2389/coven-chatsync/internal/engine"
	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/eventlog"
	"github.com/2389/coven-chatsync/internal/metrics"
)

const (
	// DefaultPageSize is the number of events requested per page.
	DefaultPageSize = 30

	// DefaultFetchTimeout bounds a single history fetch.
	DefaultFetchTimeout = 30 * time.Second
)

var (
	// ErrFetchFailed wraps engine errors from a history fetch.
	ErrFetchFailed = errors.New("history fetch failed")

	// ErrAlreadyLoaded is returned by a second LoadInitial.
	ErrAlreadyLoaded = errors.New("initial page already requested")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pagination controller closed")
)

// State is the controller's position in its state machine.
type State string

const (
	StateIdle           State = "idle"
	StateLoadingInitial State = "loading_initial"
	StateLoadingOlder   State = "loading_older"
	StateExhausted      State = "exhausted"
)

// PageKind tells which load produced a Page.
type PageKind string

const (
	PageInitial PageKind = "initial"
	PageOlder   PageKind = "older"
)

// Page reports the outcome of one fetch, on the presentation context.
type Page struct {
	Kind      PageKind
	Fetched   int            // events returned by the engine
	Inserted  int            // records actually added to the store
	Records   []event.Record // the inserted records
	Exhausted bool
	Err       error // wraps ErrFetchFailed
}

// Snapshot is the observable pagination state.
type Snapshot struct {
	State        State
	LoadedCount  int
	OldestCursor string
	NewestCursor string
	InFlight     bool
}

// Config holds the controller's collaborators.
type Config struct {
	ConversationID string
	PageSize       int
	FetchTimeout   time.Duration

	Engine       engine.Engine
	Executor     engine.Executor // engine context; defaults to engine.GoExecutor
	Presentation dispatch.Poster // presentation context
	Store        *eventlog.Store

	// OnPage is called on the presentation context after every completed
	// or failed fetch.
	OnPage func(Page)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Controller drives history loading for one conversation.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	state          State
	inFlight       bool
	initialDone    bool
	closed         bool
	generation     uint64
	cancelInFlight context.CancelFunc
}

// New creates a controller in the Idle state.
func New(cfg Config) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Executor == nil {
		cfg.Executor = engine.GoExecutor{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		logger: logger.With("component", "pagination", "conversation_id", cfg.ConversationID),
		state:  StateIdle,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Snapshot returns the current pagination state.
func (c *Controller) Snapshot() Snapshot {
	oldest, okOld := c.cfg.Store.Oldest()
	newest, okNew := c.cfg.Store.Newest()
	return Snapshot{
		State:        c.state,
		LoadedCount:  c.cfg.Store.Count(),
		OldestCursor: cursorFor(oldest, okOld),
		NewestCursor: cursorFor(newest, okNew),
		InFlight:     c.inFlight,
	}
}

// LoadInitial requests the newest page. It may be called once; a failed
// initial fetch can be retried.
func (c *Controller) LoadInitial() error {
	if c.closed {
		return ErrClosed
	}
	if c.initialDone || c.state == StateLoadingInitial {
		return ErrAlreadyLoaded
	}

	c.start(PageInitial, StateLoadingInitial, 0)
	return nil
}

// LoadOlder requests the page just older than what is loaded. It returns
// false without fetching when a fetch is in flight, the initial page has
// not completed, or history is exhausted.
func (c *Controller) LoadOlder() bool {
	if c.closed || c.inFlight || !c.initialDone || c.state == StateExhausted {
		return false
	}

	c.start(PageOlder, StateLoadingOlder, c.cfg.Store.Count())
	return true
}

// Close drops any in-flight fetch result and refuses further loads.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.generation++
	c.inFlight = false
	if c.cancelInFlight != nil {
		c.cancelInFlight()
		c.cancelInFlight = nil
	}
}

func (c *Controller) start(kind PageKind, loading State, begin int) {
	prev := c.state
	c.state = loading
	c.inFlight = true
	gen := c.generation
	end := begin + c.cfg.PageSize

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	c.cancelInFlight = cancel

	c.logger.Debug("fetching history page",
		"kind", kind,
		"begin", begin,
		"end", end)

	fetch := func() {
		defer cancel()
		evts, err := c.cfg.Engine.FetchHistoryRange(ctx, c.cfg.ConversationID, begin, end)
		c.cfg.Presentation.Post(func() {
			c.complete(gen, kind, prev, evts, err)
		})
	}
	if !c.cfg.Executor.Post(fetch) {
		cancel()
		c.cfg.Presentation.Post(func() {
			c.complete(gen, kind, prev, nil, errors.New("engine context unavailable"))
		})
	}
}

func (c *Controller) complete(gen uint64, kind PageKind, prev State, evts []event.EngineEvent, err error) {
	if gen != c.generation {
		c.logger.Debug("dropping stale history page", "kind", kind)
		return
	}
	c.inFlight = false
	c.cancelInFlight = nil
	c.cfg.Metrics.HistoryFetch(err)

	if err != nil {
		c.state = prev
		wrapped := fmt.Errorf("%w: %w", ErrFetchFailed, err)
		c.logger.Warn("history fetch failed", "kind", kind, "error", err)
		c.report(Page{Kind: kind, Err: wrapped})
		return
	}

	records := event.NewRecords(evts)
	added := c.cfg.Store.InsertBatch(records, kind == PageOlder)
	inserted := len(added)
	c.cfg.Metrics.RecordsAppended(inserted)
	c.cfg.Metrics.DuplicatesDropped(len(records) - inserted)

	if kind == PageInitial {
		c.initialDone = true
	}
	exhausted := len(evts) < c.cfg.PageSize
	if exhausted {
		c.state = StateExhausted
	} else {
		c.state = StateIdle
	}

	c.logger.Debug("history page loaded",
		"kind", kind,
		"fetched", len(evts),
		"inserted", inserted,
		"exhausted", exhausted)

	c.report(Page{
		Kind:      kind,
		Fetched:   len(evts),
		Inserted:  inserted,
		Records:   added,
		Exhausted: exhausted,
	})
}

func (c *Controller) report(p Page) {
	if c.cfg.OnPage != nil {
		c.cfg.OnPage(p)
	}
}
