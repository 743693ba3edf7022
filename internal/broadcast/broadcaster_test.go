// ABOUTME: Tests for the ledger event broadcaster
// ABOUTME: Covers fan-out, isolation, slow subscribers, cancellation and close

package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chatsync/internal/store"
)

func makeEvent(id, convKey string) *store.LedgerEvent {
	text := "hello from " + id
	return &store.LedgerEvent{
		ID:              id,
		ConversationKey: convKey,
		Direction:       store.EventDirectionInbound,
		Author:          "remote",
		Timestamp:       time.Now(),
		Type:            store.EventTypeMessage,
		Text:            &text,
	}
}

func receive(t *testing.T, ch <-chan *store.LedgerEvent) *store.LedgerEvent {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitClosed(t *testing.T, ch <-chan *store.LedgerEvent) {
	t.Helper()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected closed channel")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "general")
	ch2, _ := b.Subscribe(t.Context(), "general")

	n := b.Publish("general", makeEvent("evt-1", "general"))
	assert.Equal(t, 2, n)

	assert.Equal(t, "evt-1", receive(t, ch1).ID)
	assert.Equal(t, "evt-1", receive(t, ch2).ID)
}

func TestBroadcaster_ConversationsAreIsolated(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	general, _ := b.Subscribe(t.Context(), "general")
	random, _ := b.Subscribe(t.Context(), "random")

	b.Publish("random", makeEvent("evt-r", "random"))

	assert.Equal(t, "evt-r", receive(t, random).ID)
	assert.Empty(t, general)
}

func TestBroadcaster_PublishWithoutSubscribers(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	assert.Equal(t, 0, b.Publish("nobody", makeEvent("evt", "nobody")))
}

func TestBroadcaster_SlowSubscriberDropsEvents(t *testing.T) {
	b := New(nil, 2)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "general")

	assert.Equal(t, 1, b.Publish("general", makeEvent("1", "general")))
	assert.Equal(t, 1, b.Publish("general", makeEvent("2", "general")))
	assert.Equal(t, 0, b.Publish("general", makeEvent("3", "general")))

	assert.Equal(t, "1", receive(t, ch).ID)
	assert.Equal(t, "2", receive(t, ch).ID)
	assert.Empty(t, ch)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	ch, id := b.Subscribe(t.Context(), "general")
	require.Equal(t, 1, b.Subscribers("general"))

	b.Unsubscribe("general", id)
	waitClosed(t, ch)
	assert.Equal(t, 0, b.Subscribers("general"))

	// Second unsubscribe is a no-op.
	b.Unsubscribe("general", id)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch, _ := b.Subscribe(ctx, "general")

	cancel()
	waitClosed(t, ch)
	assert.Eventually(t, func() bool {
		return b.Subscribers("general") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcaster_Close(t *testing.T) {
	b := New(nil, 0)

	ch, _ := b.Subscribe(t.Context(), "general")
	b.Close()
	waitClosed(t, ch)

	late, _ := b.Subscribe(t.Context(), "general")
	waitClosed(t, late)

	// Close twice is safe.
	b.Close()
}

func TestBroadcaster_ConcurrentPublish(t *testing.T) {
	b := New(nil, 1000)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "general")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish("general", makeEvent("e", "general"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ch, 500)
}
