// ABOUTME: Tests for the pagination controller state machine
// ABOUTME: Covers initial/older loads, in-flight guard, exhaustion, failures and close

package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chatsync/internal/dispatch"
	"github.com/2389/coven-chatsync/internal/engine"
	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/eventlog"
)

const testConversation = "room-1"

type harness struct {
	t     *testing.T
	q     *dispatch.Queue
	eng   *engine.MockEngine
	store *eventlog.Store
	ctrl  *Controller
	pages chan Page
}

func newHarness(t *testing.T, history int) *harness {
	t.Helper()

	q := dispatch.New("presentation", nil)
	go func() { _ = q.Run(t.Context()) }()
	t.Cleanup(q.Close)

	eng := engine.NewMockEngine()
	eng.SeedHistory(testConversation, history)

	h := &harness{
		t:     t,
		q:     q,
		eng:   eng,
		store: eventlog.New(),
		pages: make(chan Page, 16),
	}
	h.ctrl = New(Config{
		ConversationID: testConversation,
		Engine:         eng,
		Presentation:   q,
		Store:          h.store,
		OnPage:         func(p Page) { h.pages <- p },
	})
	return h
}

// do runs fn on the presentation context.
func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.q.Do(h.t.Context(), fn))
}

func (h *harness) waitPage() Page {
	h.t.Helper()
	select {
	case p := <-h.pages:
		return p
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for page")
		return Page{}
	}
}

func (h *harness) count() int {
	var n int
	h.do(func() { n = h.store.Count() })
	return n
}

func (h *harness) snapshot() Snapshot {
	var s Snapshot
	h.do(func() { s = h.ctrl.Snapshot() })
	return s
}

func TestController_PagesThroughHistory(t *testing.T) {
	h := newHarness(t, 45)

	h.do(func() { require.NoError(t, h.ctrl.LoadInitial()) })
	p := h.waitPage()
	assert.Equal(t, PageInitial, p.Kind)
	assert.Equal(t, 30, p.Inserted)
	assert.False(t, p.Exhausted)
	assert.Equal(t, 30, h.count())

	var started bool
	h.do(func() { started = h.ctrl.LoadOlder() })
	require.True(t, started)
	p = h.waitPage()
	assert.Equal(t, PageOlder, p.Kind)
	assert.Equal(t, 15, p.Inserted)
	assert.True(t, p.Exhausted)
	assert.Equal(t, 45, h.count())

	h.do(func() { started = h.ctrl.LoadOlder() })
	assert.False(t, started, "exhausted controller must not fetch")
	assert.Equal(t, 45, h.count())
	assert.Equal(t, 2, h.eng.FetchCalls())

	// Store order is oldest first across both pages.
	h.do(func() {
		for i := 0; i < h.store.Count(); i++ {
			r, err := h.store.RecordAt(i)
			require.NoError(t, err)
			assert.Equal(t, int64(i+1), r.Sequence())
		}
	})
	assert.Equal(t, StateExhausted, h.snapshot().State)
}

func TestController_LoadOlderTwiceIssuesOneFetch(t *testing.T) {
	h := newHarness(t, 100)

	h.do(func() { require.NoError(t, h.ctrl.LoadInitial()) })
	h.waitPage()

	release := h.eng.HoldFetches()
	var first, second bool
	h.do(func() {
		first = h.ctrl.LoadOlder()
		second = h.ctrl.LoadOlder()
	})
	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, h.snapshot().InFlight)

	release()
	p := h.waitPage()
	assert.Equal(t, 30, p.Inserted)
	assert.Equal(t, 2, h.eng.FetchCalls(), "one initial fetch plus exactly one older fetch")
	assert.False(t, h.snapshot().InFlight)
	assert.Equal(t, 60, h.count())
}

func TestController_LoadOlderBeforeInitialIsNoop(t *testing.T) {
	h := newHarness(t, 10)

	var started bool
	h.do(func() { started = h.ctrl.LoadOlder() })
	assert.False(t, started)
	assert.Equal(t, 0, h.eng.FetchCalls())
}

func TestController_LoadInitialTwice(t *testing.T) {
	h := newHarness(t, 10)

	h.do(func() {
		require.NoError(t, h.ctrl.LoadInitial())
		assert.ErrorIs(t, h.ctrl.LoadInitial(), ErrAlreadyLoaded)
	})
	h.waitPage()
	h.do(func() { assert.ErrorIs(t, h.ctrl.LoadInitial(), ErrAlreadyLoaded) })
}

func TestController_EmptyHistoryIsExhausted(t *testing.T) {
	h := newHarness(t, 0)

	h.do(func() { require.NoError(t, h.ctrl.LoadInitial()) })
	p := h.waitPage()
	assert.True(t, p.Exhausted)
	assert.Equal(t, 0, h.count())
	assert.Equal(t, StateExhausted, h.snapshot().State)
}

func TestController_OlderFetchFailureRollsBack(t *testing.T) {
	h := newHarness(t, 90)

	h.do(func() { require.NoError(t, h.ctrl.LoadInitial()) })
	h.waitPage()

	boom := errors.New("engine unavailable")
	h.eng.FailNextFetch(boom)
	h.do(func() { require.True(t, h.ctrl.LoadOlder()) })

	p := h.waitPage()
	require.Error(t, p.Err)
	assert.ErrorIs(t, p.Err, ErrFetchFailed)
	assert.ErrorIs(t, p.Err, boom)
	assert.Equal(t, 30, h.count(), "nothing committed on failure")

	snap := h.snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.InFlight)

	// Retry succeeds.
	h.do(func() { require.True(t, h.ctrl.LoadOlder()) })
	p = h.waitPage()
	require.NoError(t, p.Err)
	assert.Equal(t, 60, h.count())
}

func TestController_InitialFetchFailureCanRetry(t *testing.T) {
	h := newHarness(t, 5)
	h.eng.FailNextFetch(errors.New("timeout"))

	h.do(func() { require.NoError(t, h.ctrl.LoadInitial()) })
	p := h.waitPage()
	assert.ErrorIs(t, p.Err, ErrFetchFailed)
	assert.Equal(t, StateIdle, h.snapshot().State)

	var started bool
	h.do(func() { started = h.ctrl.LoadOlder() })
	assert.False(t, started, "older pages need a completed initial page")

	h.do(func() { require.NoError(t, h.ctrl.LoadInitial()) })
	p = h.waitPage()
	require.NoError(t, p.Err)
	assert.Equal(t, 5, h.count())
}

func TestController_ExhaustedStillAcceptsLiveEvents(t *testing.T) {
	h := newHarness(t, 3)

	h.do(func() { require.NoError(t, h.ctrl.LoadInitial()) })
	require.True(t, h.waitPage().Exhausted)

	live := h.eng.AddEvent(testConversation, event.KindMessageReceived, "remote", "new")
	h.do(func() {
		n := h.store.AppendBatch([]event.Record{event.NewRecord(live)}, false)
		assert.Equal(t, 1, n)
	})
	assert.Equal(t, 4, h.count())
	assert.Equal(t, StateExhausted, h.snapshot().State)
}

func TestController_CloseDropsInFlightPage(t *testing.T) {
	h := newHarness(t, 100)

	h.do(func() { require.NoError(t, h.ctrl.LoadInitial()) })
	h.waitPage()

	release := h.eng.HoldFetches()
	h.do(func() {
		require.True(t, h.ctrl.LoadOlder())
		h.ctrl.Close()
	})
	release()

	select {
	case p := <-h.pages:
		t.Fatalf("unexpected page after close: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 30, h.count())

	h.do(func() {
		assert.False(t, h.ctrl.LoadOlder())
		assert.ErrorIs(t, h.ctrl.LoadInitial(), ErrClosed)
	})
}

func TestController_SnapshotCursors(t *testing.T) {
	h := newHarness(t, 40)

	assert.Empty(t, h.snapshot().OldestCursor)

	h.do(func() { require.NoError(t, h.ctrl.LoadInitial()) })
	h.waitPage()

	snap := h.snapshot()
	assert.Equal(t, 30, snap.LoadedCount)

	seq, ref, err := DecodeCursor(snap.OldestCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(11), seq)
	assert.Equal(t, "room-1-evt-11", ref)

	seq, ref, err = DecodeCursor(snap.NewestCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(40), seq)
	assert.Equal(t, "room-1-evt-40", ref)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	_, _, err := DecodeCursor("not base64!!")
	assert.Error(t, err)

	_, _, err = DecodeCursor(EncodeCursor(1, "a")[:2])
	assert.Error(t, err)

	seq, ref, err := DecodeCursor(EncodeCursor(-3, "ref|with|pipes"))
	require.NoError(t, err)
	assert.Equal(t, int64(-3), seq)
	assert.Equal(t, "ref|with|pipes", ref)
}
