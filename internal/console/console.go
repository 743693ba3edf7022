// ABOUTME: Line-oriented terminal loop over a conversation session
// ABOUTME: Parses slash commands, sends plain lines, prints change notifications

package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chatsync/internal/dispatch"
	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/session"
)

// ErrQuit is returned by a command to end the loop.
var ErrQuit = errors.New("quit")

// Command is an extra slash command. Run is called outside the
// presentation queue; use Console.Do to touch the session.
type Command struct {
	Usage string
	Help  string
	Run   func(ctx context.Context, args string) error
}

// Config wires a Console.
type Config struct {
	Session      *session.Session
	Presentation *dispatch.Queue
	In           io.Reader
	Out          io.Writer

	// Conversation is activated before the first line is read, if set.
	Conversation string

	// Format renders one record; DefaultFormat when nil.
	Format func(event.Record) string

	Commands map[string]Command

	// DrainTimeout bounds the wait for outstanding fetches and sends once
	// input ends; DefaultDrainTimeout when zero.
	DrainTimeout time.Duration

	Logger *slog.Logger
}

// DefaultDrainTimeout is used when Config.DrainTimeout is zero.
const DefaultDrainTimeout = 10 * time.Second

const drainPoll = 10 * time.Millisecond

// Console reads lines from In and prints session changes to Out.
type Console struct {
	cfg    Config
	format func(event.Record) string
	logger *slog.Logger

	mu  sync.Mutex // guards out
	out io.Writer
}

// New creates a Console.
func New(cfg Config) *Console {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	format := cfg.Format
	if format == nil {
		format = DefaultFormat
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Console{
		cfg:    cfg,
		format: format,
		logger: logger.With("component", "console"),
		out:    cfg.Out,
	}
}

// DefaultFormat prints the record kind and payload.
func DefaultFormat(r event.Record) string {
	return fmt.Sprintf("[%s] %v", r.Kind(), r.Payload())
}

// Do runs fn on the presentation queue and waits for it.
func (c *Console) Do(ctx context.Context, fn func()) error {
	return c.cfg.Presentation.Do(ctx, fn)
}

// Printf writes a line to the console output.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) colorf(attr color.Attribute, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	color.New(attr).Fprintf(c.out, format+"\n", args...)
}

// Run installs the change printer, activates the configured conversation
// and processes input until /quit or ctx is done. At end of input it first
// waits for the session to report the work the input started.
func (c *Console) Run(ctx context.Context) error {
	var stopObserving func()
	if err := c.Do(ctx, func() {
		stopObserving = c.cfg.Session.Observe(c.printChange)
	}); err != nil {
		return fmt.Errorf("installing observer: %w", err)
	}
	defer func() {
		_ = c.Do(context.Background(), stopObserving)
	}()

	if c.cfg.Conversation != "" {
		if err := c.activate(ctx, c.cfg.Conversation); err != nil {
			return err
		}
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.cfg.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			c.drain(ctx)
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			return nil
		case line := <-lines:
			err := c.handle(ctx, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				c.colorf(color.FgRed, "error: %v", err)
			}
		}
	}
}

// drain waits, up to the drain timeout, until the session has reported
// everything the input started, so the last lines still get their output.
func (c *Console) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		var busy bool
		if err := c.Do(ctx, func() { busy = c.cfg.Session.Busy() }); err != nil {
			return
		}
		if !busy {
			return
		}
		select {
		case <-ctx.Done():
			c.logger.Warn("input ended with work outstanding", "timeout", c.cfg.DrainTimeout)
			return
		case <-ticker.C:
		}
	}
}

func (c *Console) activate(ctx context.Context, conversationID string) error {
	var err error
	if doErr := c.Do(ctx, func() {
		err = c.cfg.Session.Activate(conversationID)
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", conversationID, err)
	}
	c.colorf(color.FgCyan, "── %s ──", conversationID)
	return nil
}

// handle processes one input line.
func (c *Console) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.send(ctx, line)
	}

	name, args, _ := strings.Cut(line[1:], " ")
	args = strings.TrimSpace(args)

	switch name {
	case "quit", "q":
		return ErrQuit
	case "help":
		c.printHelp()
		return nil
	case "older":
		return c.older(ctx)
	case "history":
		return c.history(ctx)
	case "switch":
		if args == "" {
			return errors.New("usage: /switch <conversation>")
		}
		return c.activate(ctx, args)
	case "leave":
		return c.Do(ctx, c.cfg.Session.Deactivate)
	case "draft":
		return c.Do(ctx, func() { c.cfg.Session.SetDraft(args) })
	case "send":
		var err error
		if doErr := c.Do(ctx, func() { err = c.cfg.Session.SendDraft() }); doErr != nil {
			return doErr
		}
		return c.quietSendError(err)
	}

	if cmd, ok := c.cfg.Commands[name]; ok {
		return cmd.Run(ctx, args)
	}
	return fmt.Errorf("unknown command /%s (try /help)", name)
}

func (c *Console) send(ctx context.Context, body string) error {
	var err error
	if doErr := c.Do(ctx, func() { err = c.cfg.Session.SendText(body) }); doErr != nil {
		return doErr
	}
	return c.quietSendError(err)
}

// quietSendError drops errors the observer already printed.
func (c *Console) quietSendError(err error) error {
	if errors.Is(err, session.ErrEmptyMessage) {
		return nil
	}
	return err
}

func (c *Console) older(ctx context.Context) error {
	var (
		started bool
		state   string
	)
	if err := c.Do(ctx, func() {
		started = c.cfg.Session.RequestOlder()
		state = string(c.cfg.Session.Pagination().State)
	}); err != nil {
		return err
	}
	if !started {
		c.colorf(color.FgHiBlack, "nothing to load (%s)", state)
	}
	return nil
}

func (c *Console) history(ctx context.Context) error {
	return c.Do(ctx, func() {
		s := c.cfg.Session
		snap := s.Pagination()
		c.Printf("conversation: %s", s.ConversationID())
		c.Printf("loaded:       %d of %d", s.RecordCount(), s.HistorySize())
		c.Printf("state:        %s (in flight: %t)", snap.State, snap.InFlight)
		if d := s.Draft(); d != "" {
			c.Printf("draft:        %q", d)
		}
	})
}

func (c *Console) printHelp() {
	c.Printf("  <text>               send a message")
	c.Printf("  /older               load an older page")
	c.Printf("  /history             show paging state")
	c.Printf("  /switch <conv>       open another conversation")
	c.Printf("  /leave               close the conversation")
	c.Printf("  /draft <text>        set the compose buffer")
	c.Printf("  /send                send the compose buffer")
	names := make([]string, 0, len(c.cfg.Commands))
	for name := range c.cfg.Commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		cmd := c.cfg.Commands[name]
		c.Printf("  %-20s %s", cmd.Usage, cmd.Help)
	}
	c.Printf("  /quit                exit")
}

// printChange runs on the presentation queue.
func (c *Console) printChange(ch session.Change) {
	switch ch.Kind {
	case session.ChangeAppended:
		for _, r := range ch.Records {
			c.printRecord(r)
		}
	case session.ChangePrepended:
		c.colorf(color.FgHiBlack, "── %d older ──", ch.Inserted)
		for _, r := range ch.Records {
			c.printRecord(r)
		}
		if ch.Exhausted {
			c.colorf(color.FgHiBlack, "── beginning of conversation ──")
		}
	case session.ChangeCleared:
		c.colorf(color.FgHiBlack, "── closed ──")
	case session.ChangeHistorySize:
		c.colorf(color.FgHiBlack, "%d events in history", c.cfg.Session.HistorySize())
	case session.ChangeError:
		c.colorf(color.FgRed, "error: %v", ch.Err)
	case session.ChangeDraft:
	}
}

func (c *Console) printRecord(r event.Record) {
	line := c.format(r)
	switch r.Kind() {
	case event.KindMessageSent:
		c.colorf(color.FgGreen, "%s", line)
	case event.KindParticipantChange, event.KindOther:
		c.colorf(color.FgYellow, "%s", line)
	default:
		c.Printf("%s", line)
	}
}
