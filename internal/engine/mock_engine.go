// ABOUTME: Mock Engine implementation for testing
// ABOUTME: In-memory history with fetch counters, gated fetches and manual notification delivery

package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/2389/coven-chatsync/internal/event"
)

// MockPayload is the payload carried by MockEngine events.
type MockPayload struct {
	Author string
	Body   string
}

// MockEngine is an in-memory Engine for tests. Notifications are delivered
// on a goroutine of their own to stand in for the engine context.
type MockEngine struct {
	mu      sync.Mutex
	history map[string][]event.EngineEvent // keyed by conversation, oldest first
	nextSeq map[string]int64
	subs    map[string][]*MockSubscription

	fetchCalls int
	fetchGate  chan struct{}
	fetchErr   error
	sendErr    error
	sizeErr    error
	subErr     error
	sent       []string

	// AutoConfirm delivers a sent notification for every successful SendText.
	AutoConfirm bool
}

// NewMockEngine creates a MockEngine with AutoConfirm enabled.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		history:     make(map[string][]event.EngineEvent),
		nextSeq:     make(map[string]int64),
		subs:        make(map[string][]*MockSubscription),
		AutoConfirm: true,
	}
}

// MockSubscription is the handle returned by MockEngine.Subscribe.
type MockSubscription struct {
	ConversationID string

	onSent     SentFunc
	onReceived ReceivedFunc
	cancelled  atomic.Bool
}

// Cancel stops delivery through MockEngine. Idempotent.
func (s *MockSubscription) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (s *MockSubscription) Cancelled() bool {
	return s.cancelled.Load()
}

// DeliverSent invokes the sent callback on the engine goroutine even if the
// subscription was cancelled, simulating a notification that raced Cancel.
func (s *MockSubscription) DeliverSent(evt event.EngineEvent) {
	onEngineContext(func() { s.onSent(evt) })
}

// DeliverReceived invokes the received callback, ignoring cancellation.
func (s *MockSubscription) DeliverReceived(evts []event.EngineEvent) {
	onEngineContext(func() { s.onReceived(evts) })
}

// onEngineContext runs fn on a fresh goroutine and waits for it.
func onEngineContext(fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	<-done
}

// SeedHistory appends n received messages to a conversation.
func (m *MockEngine) SeedHistory(conversationID string, n int) []event.EngineEvent {
	out := make([]event.EngineEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, m.AddEvent(conversationID, event.KindMessageReceived, "remote", fmt.Sprintf("message %d", i+1)))
	}
	return out
}

// AddEvent appends one event to history without notifying subscribers.
func (m *MockEngine) AddEvent(conversationID string, kind event.Kind, author, body string) event.EngineEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addEventLocked(conversationID, kind, author, body)
}

func (m *MockEngine) addEventLocked(conversationID string, kind event.Kind, author, body string) event.EngineEvent {
	m.nextSeq[conversationID]++
	seq := m.nextSeq[conversationID]
	evt := event.EngineEvent{
		Ref:      fmt.Sprintf("%s-evt-%d", conversationID, seq),
		Sequence: seq,
		Kind:     kind,
		Payload:  &MockPayload{Author: author, Body: body},
	}
	m.history[conversationID] = append(m.history[conversationID], evt)
	return evt
}

// EmitReceived appends remote messages to history and notifies active
// subscribers with one batch.
func (m *MockEngine) EmitReceived(conversationID string, bodies ...string) []event.EngineEvent {
	m.mu.Lock()
	evts := make([]event.EngineEvent, 0, len(bodies))
	for _, body := range bodies {
		evts = append(evts, m.addEventLocked(conversationID, event.KindMessageReceived, "remote", body))
	}
	subs := m.activeLocked(conversationID)
	m.mu.Unlock()

	for _, s := range subs {
		s.DeliverReceived(evts)
	}
	return evts
}

// EmitSent notifies active subscribers of an already-existing event.
func (m *MockEngine) EmitSent(conversationID string, evt event.EngineEvent) {
	m.mu.Lock()
	subs := m.activeLocked(conversationID)
	m.mu.Unlock()

	for _, s := range subs {
		s.DeliverSent(evt)
	}
}

// Subscribe registers callbacks.
func (m *MockEngine) Subscribe(ctx context.Context, conversationID string, onSent SentFunc, onReceived ReceivedFunc) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	subErr := m.subErr
	m.mu.Unlock()
	if subErr != nil {
		return nil, subErr
	}

	sub := &MockSubscription{
		ConversationID: conversationID,
		onSent:         onSent,
		onReceived:     onReceived,
	}

	m.mu.Lock()
	m.subs[conversationID] = append(m.subs[conversationID], sub)
	m.mu.Unlock()
	return sub, nil
}

// Subscriptions returns every subscription ever made for a conversation,
// including cancelled ones.
func (m *MockEngine) Subscriptions(conversationID string) []*MockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockSubscription(nil), m.subs[conversationID]...)
}

// ActiveSubscriptions counts subscriptions that are not cancelled.
func (m *MockEngine) ActiveSubscriptions(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeLocked(conversationID))
}

func (m *MockEngine) activeLocked(conversationID string) []*MockSubscription {
	var out []*MockSubscription
	for _, s := range m.subs[conversationID] {
		if !s.Cancelled() {
			out = append(out, s)
		}
	}
	return out
}

// FetchHistoryRange serves from the in-memory history.
func (m *MockEngine) FetchHistoryRange(ctx context.Context, conversationID string, begin, end int) ([]event.EngineEvent, error) {
	if err := ValidateRange(begin, end); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.fetchCalls++
	gate := m.fetchGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fetchErr != nil {
		err := m.fetchErr
		m.fetchErr = nil
		return nil, err
	}
	return RangeFromNewest(m.history[conversationID], begin, end), nil
}

// FetchCalls returns how many times FetchHistoryRange was called.
func (m *MockEngine) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

// HoldFetches makes fetches block until the returned release is called.
func (m *MockEngine) HoldFetches() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.fetchGate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.fetchGate == gate {
				m.fetchGate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// FailNextFetch makes the next fetch return err.
func (m *MockEngine) FailNextFetch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// FailSends makes SendText return err until called again with nil.
func (m *MockEngine) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// FailSubscribe makes Subscribe return err until called again with nil.
func (m *MockEngine) FailSubscribe(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subErr = err
}

// FailHistorySize makes HistorySize return err until called again with nil.
func (m *MockEngine) FailHistorySize(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizeErr = err
}

// SendText records the body and, with AutoConfirm, appends it to history
// and delivers a sent notification.
func (m *MockEngine) SendText(ctx context.Context, conversationID, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, body)
	if !m.AutoConfirm {
		m.mu.Unlock()
		return nil
	}
	evt := m.addEventLocked(conversationID, event.KindMessageSent, "me", body)
	subs := m.activeLocked(conversationID)
	m.mu.Unlock()

	for _, s := range subs {
		s.DeliverSent(evt)
	}
	return nil
}

// SentTexts returns every body passed to a successful SendText.
func (m *MockEngine) SentTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// HistorySize returns the number of events in a conversation.
func (m *MockEngine) HistorySize(ctx context.Context, conversationID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sizeErr != nil {
		return 0, m.sizeErr
	}
	return len(m.history[conversationID]), nil
}
