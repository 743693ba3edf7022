// ABOUTME: Tests for the terminal console over the mock engine
// ABOUTME: Drives scripted input and checks printed output and engine calls

package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chatsync/internal/dispatch"
	"github.com/2389/coven-chatsync/internal/engine"
	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/session"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func mockFormat(r event.Record) string {
	p := r.Payload().(*engine.MockPayload)
	return fmt.Sprintf("<%s> %s", p.Author, p.Body)
}

type fixture struct {
	eng *engine.MockEngine
	q   *dispatch.Queue
	s   *session.Session
	out *syncBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	q := dispatch.New("presentation", nil)
	go func() { _ = q.Run(t.Context()) }()
	t.Cleanup(q.Close)
	eng := engine.NewMockEngine()
	return &fixture{
		eng: eng,
		q:   q,
		s:   session.New(session.Config{Engine: eng, Presentation: q}),
		out: &syncBuffer{},
	}
}

// run feeds input to a console over the fixture's session. The /ready
// command blocks until the engine subscription is live and no page is
// loading.
func (f *fixture) run(t *testing.T, input string, commands map[string]Command) {
	t.Helper()
	all := map[string]Command{
		"ready": {
			Usage: "/ready",
			Run: func(ctx context.Context, _ string) error {
				require.Eventually(t, func() bool {
					var (
						idle           bool
						conversationID string
					)
					require.NoError(t, f.q.Do(ctx, func() {
						idle = !f.s.Pagination().InFlight
						conversationID = f.s.ConversationID()
					}))
					return idle && f.eng.ActiveSubscriptions(conversationID) == 1
				}, 2*time.Second, 5*time.Millisecond)
				return nil
			},
		},
	}
	for name, cmd := range commands {
		all[name] = cmd
	}

	c := New(Config{
		Session:      f.s,
		Presentation: f.q,
		In:           strings.NewReader(input),
		Out:          f.out,
		Conversation: "room",
		Format:       mockFormat,
		Commands:     all,
	})
	require.NoError(t, c.Run(t.Context()))
}

func (f *fixture) eventually(t *testing.T, substr string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return strings.Contains(f.out.String(), substr)
	}, 2*time.Second, 5*time.Millisecond, "output missing %q:\n%s", substr, f.out.String())
}

func TestConsole_PrintsInitialPageAndSends(t *testing.T) {
	f := newFixture(t)
	f.eng.SeedHistory("room", 3)

	f.run(t, "/ready\nhello there\n", nil)

	f.eventually(t, "<remote> message 1")
	f.eventually(t, "<remote> message 3")
	f.eventually(t, "<me> hello there")
	assert.Equal(t, []string{"hello there"}, f.eng.SentTexts())
}

func TestConsole_OlderPages(t *testing.T) {
	f := newFixture(t)
	f.eng.SeedHistory("room", 35)

	f.run(t, "/ready\n/history\n/older\n", nil)

	f.eventually(t, "loaded:       30 of")
	f.eventually(t, "35 events in history")
	f.eventually(t, "── 5 older ──")
	f.eventually(t, "<remote> message 1")
	f.eventually(t, "beginning of conversation")
}

func TestConsole_DraftCommands(t *testing.T) {
	f := newFixture(t)

	f.run(t, "/ready\n/draft  queued text\n/send\n", nil)

	f.eventually(t, "<me> queued text")
	assert.Equal(t, []string{"queued text"}, f.eng.SentTexts())
}

func TestConsole_EmptyDraftReportedOnce(t *testing.T) {
	f := newFixture(t)

	f.run(t, "/send\n", nil)

	f.eventually(t, "error: message is empty")
	assert.Equal(t, 1, strings.Count(f.out.String(), "error:"))
}

func TestConsole_SendFailure(t *testing.T) {
	f := newFixture(t)
	f.eng.FailSends(errors.New("link down"))

	f.run(t, "/ready\nhi\n", nil)

	f.eventually(t, "link down")
}

func TestConsole_SwitchAndUnknown(t *testing.T) {
	f := newFixture(t)
	f.eng.AddEvent("other", event.KindMessageReceived, "bob", "over here")

	f.run(t, "/ready\n/switch other\n/bogus\n/switch\n", nil)

	f.eventually(t, "── other ──")
	f.eventually(t, "<bob> over here")
	f.eventually(t, "unknown command /bogus")
	f.eventually(t, "usage: /switch <conversation>")
}

func TestConsole_EndOfInputWaitsForOutstandingWork(t *testing.T) {
	f := newFixture(t)
	f.eng.SeedHistory("room", 40)
	release := f.eng.HoldFetches()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.run(t, "", nil)
	}()

	select {
	case <-done:
		t.Fatal("console returned while the first page was loading")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	<-done

	// Printed before Run returned, not eventually.
	out := f.out.String()
	assert.Contains(t, out, "<remote> message 11")
	assert.Contains(t, out, "<remote> message 40")
	assert.Contains(t, out, "40 events in history")
}

func TestConsole_LiveBatchPrintsOnlyInserted(t *testing.T) {
	f := newFixture(t)
	seeded := f.eng.SeedHistory("room", 3)

	commands := map[string]Command{
		"late": {
			Run: func(ctx context.Context, _ string) error {
				late := event.EngineEvent{
					Ref:      "late",
					Sequence: seeded[1].Sequence,
					Kind:     event.KindMessageReceived,
					Payload:  &engine.MockPayload{Author: "carol", Body: "late arrival"},
				}
				for _, sub := range f.eng.Subscriptions("room") {
					if !sub.Cancelled() {
						sub.DeliverReceived([]event.EngineEvent{seeded[0], late})
					}
				}
				return nil
			},
		},
	}

	f.run(t, "/ready\n/late\n", commands)

	f.eventually(t, "<carol> late arrival")
	out := f.out.String()
	assert.Equal(t, 1, strings.Count(out, "<remote> message 1"))
	assert.Equal(t, 1, strings.Count(out, "<remote> message 3"))
}

func TestConsole_QuitStopsReading(t *testing.T) {
	f := newFixture(t)

	f.run(t, "/quit\nnever sent\n", nil)

	assert.Empty(t, f.eng.SentTexts())
}

func TestConsole_ExtraCommands(t *testing.T) {
	f := newFixture(t)
	var got string
	commands := map[string]Command{
		"recv": {
			Usage: "/recv <text>",
			Help:  "inject a message",
			Run: func(ctx context.Context, args string) error {
				got = args
				f.eng.EmitReceived("room", args)
				return nil
			},
		},
	}

	f.run(t, "/ready\n/recv  from afar\n/help\n", commands)

	assert.Equal(t, "from afar", got)
	f.eventually(t, "<remote> from afar")
	f.eventually(t, "inject a message")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"error": "ERROR",
		"info":  "INFO",
		"":      "INFO",
		"loud":  "INFO",
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in).String(), in)
	}
}

func TestNewLogger(t *testing.T) {
	var buf syncBuffer
	logger := NewLogger(&buf, "warn", "text").With("component", "test")
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "key=")

	var jsonBuf syncBuffer
	NewLogger(&jsonBuf, "info", "json").Info("structured", "n", 1)
	assert.Contains(t, jsonBuf.String(), `"msg":"structured"`)
}
