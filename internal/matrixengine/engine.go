// ABOUTME: Matrix chat engine over mautrix with per-room timelines
// ABOUTME: Sync handlers feed live events, /messages backfills history, sends render markdown

package matrixengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-chatsync/internal/dedupe"
	"github.com/2389/coven-chatsync/internal/dispatch"
	"github.com/2389/coven-chatsync/internal/engine"
	chatevent "github.com/2389/coven-chatsync/internal/event"
)

const (
	// DefaultBackfillLimit is the page size of each /messages request.
	DefaultBackfillLimit = 50

	dedupeTTL  = 10 * time.Minute
	dedupeSize = 4096
)

// ErrNoRoom is returned for an empty room ID.
var ErrNoRoom = errors.New("room id required")

// Client is the part of *mautrix.Client the engine uses.
type Client interface {
	Messages(ctx context.Context, roomID id.RoomID, from, to string, dir mautrix.Direction, filter *mautrix.FilterPart, limit int) (*mautrix.RespMessages, error)
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Message is the payload of message events.
type Message struct {
	Sender        string
	MsgType       string
	Body          string
	FormattedBody string
	Timestamp     time.Time
}

// Membership is the payload of room member events.
type Membership struct {
	UserID     string
	Membership string
	Timestamp  time.Time
}

// DecryptFunc decrypts an m.room.encrypted event, as
// (*cryptohelper.CryptoHelper).Decrypt does.
type DecryptFunc func(ctx context.Context, evt *event.Event) (*event.Event, error)

// Config holds the engine's collaborators.
type Config struct {
	Client        Client
	UserID        id.UserID
	Dedupe        *dedupe.Cache // created when nil
	BackfillLimit int

	// Decrypt is used for encrypted events returned by /messages. Live
	// encrypted events are decrypted by the client's crypto helper before
	// they reach the sync handlers. Encrypted history is skipped when nil.
	Decrypt DecryptFunc

	Logger *slog.Logger
}

// Engine is an engine.Engine over Matrix rooms.
type Engine struct {
	client        Client
	self          id.UserID
	seen          *dedupe.Cache
	ownsSeen      bool
	md            goldmark.Markdown
	backfillLimit int
	decrypt       DecryptFunc
	queue         *dispatch.Queue
	logger        *slog.Logger

	mu    sync.Mutex
	rooms map[id.RoomID]*room
}

var _ engine.Engine = (*Engine)(nil)

// room is the locally known timeline of one room, oldest first.
type room struct {
	events    []chatevent.EngineEvent
	refs      map[string]struct{}
	nextLive  int64
	nextBack  int64
	from      string // backward pagination token; "" starts at the newest event
	exhausted bool
	subs      map[*subscription]struct{}

	// backfill serializes /messages requests for the room.
	backfill sync.Mutex
}

// New creates an engine. Call Register with the client's syncer and Run
// before syncing.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seen := cfg.Dedupe
	owns := false
	if seen == nil {
		seen = dedupe.New(dedupeTTL, dedupeSize)
		owns = true
	}
	limit := cfg.BackfillLimit
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	return &Engine{
		client:        cfg.Client,
		self:          cfg.UserID,
		seen:          seen,
		ownsSeen:      owns,
		md:            newMarkdown(),
		backfillLimit: limit,
		decrypt:       cfg.Decrypt,
		queue:         dispatch.New("matrix-engine", logger),
		logger:        logger.With("component", "matrixengine"),
		rooms:         make(map[id.RoomID]*room),
	}
}

// Register installs the sync handlers on syncer.
func (e *Engine) Register(syncer *mautrix.DefaultSyncer) {
	syncer.OnEventType(event.EventMessage, e.handleEvent)
	syncer.OnEventType(event.StateMember, e.handleEvent)
}

// Queue returns the engine context. Pass it as the session's executor.
func (e *Engine) Queue() *dispatch.Queue {
	return e.queue
}

// Run processes the engine context until ctx is done or Close is called.
func (e *Engine) Run(ctx context.Context) error {
	return e.queue.Run(ctx)
}

// Close stops the engine context.
func (e *Engine) Close() {
	e.queue.Close()
	if e.ownsSeen {
		e.seen.Close()
	}
}

// roomLocked returns the timeline for roomID, creating it. e.mu must be held.
func (e *Engine) roomLocked(roomID id.RoomID) *room {
	r, ok := e.rooms[roomID]
	if !ok {
		r = &room{
			refs:     make(map[string]struct{}),
			nextBack: -1,
			subs:     make(map[*subscription]struct{}),
		}
		e.rooms[roomID] = r
	}
	return r
}

func (e *Engine) room(roomID id.RoomID) *room {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roomLocked(roomID)
}

// Subscribe delivers live events of the room conversationID.
func (e *Engine) Subscribe(ctx context.Context, conversationID string, onSent engine.SentFunc, onReceived engine.ReceivedFunc) (engine.Subscription, error) {
	if conversationID == "" {
		return nil, ErrNoRoom
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscription{
		engine:     e,
		roomID:     id.RoomID(conversationID),
		onSent:     onSent,
		onReceived: onReceived,
	}

	e.mu.Lock()
	e.roomLocked(sub.roomID).subs[sub] = struct{}{}
	e.mu.Unlock()

	e.logger.Debug("subscribed", "conversation_id", conversationID)
	return sub, nil
}

// handleEvent receives events from the syncer.
func (e *Engine) handleEvent(ctx context.Context, evt *event.Event) {
	if e.seen.CheckAndMark(evt.ID.String()) {
		e.logger.Debug("ignoring duplicate event", "event_ref", evt.ID)
		return
	}

	ce, ok := e.convert(evt)
	if !ok {
		return
	}
	e.ingestLive(evt.RoomID, ce, ce.Kind == chatevent.KindMessageSent)
}

// ingestLive appends a live event and notifies subscribers.
func (e *Engine) ingestLive(roomID id.RoomID, ce chatevent.EngineEvent, own bool) {
	e.mu.Lock()
	r := e.roomLocked(roomID)
	if _, dup := r.refs[ce.Ref]; dup {
		e.mu.Unlock()
		return
	}
	ce.Sequence = r.nextLive
	r.nextLive++
	r.refs[ce.Ref] = struct{}{}
	r.events = append(r.events, ce)

	subs := make([]*subscription, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	e.logger.Debug("live event",
		"conversation_id", roomID,
		"event_ref", ce.Ref,
		"sequence", ce.Sequence,
		"own", own)

	for _, s := range subs {
		s.deliver(ce, own)
	}
}

// convert maps a Matrix event to an engine event without a sequence.
func (e *Engine) convert(evt *event.Event) (chatevent.EngineEvent, bool) {
	switch evt.Type.Type {
	case event.EventMessage.Type:
		evt.Type.Class = event.MessageEventType
	case event.StateMember.Type:
		evt.Type.Class = event.StateEventType
	default:
		return chatevent.EngineEvent{}, false
	}
	if evt.Content.Parsed == nil {
		// /messages results are not parsed by the client.
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			e.logger.Debug("unparseable event", "event_ref", evt.ID, "type", evt.Type.Type, "error", err)
			return chatevent.EngineEvent{}, false
		}
	}
	ts := time.UnixMilli(evt.Timestamp)

	if evt.Type.Class == event.StateEventType {
		content := evt.Content.AsMember()
		target := evt.Sender.String()
		if evt.StateKey != nil {
			target = *evt.StateKey
		}
		return chatevent.EngineEvent{
			Ref:  evt.ID.String(),
			Kind: chatevent.KindParticipantChange,
			Payload: &Membership{
				UserID:     target,
				Membership: string(content.Membership),
				Timestamp:  ts,
			},
		}, true
	}

	content := evt.Content.AsMessage()
	kind := chatevent.KindMessageReceived
	if evt.Sender == e.self {
		kind = chatevent.KindMessageSent
	}
	return chatevent.EngineEvent{
		Ref:  evt.ID.String(),
		Kind: kind,
		Payload: &Message{
			Sender:        evt.Sender.String(),
			MsgType:       string(content.MsgType),
			Body:          content.Body,
			FormattedBody: content.FormattedBody,
			Timestamp:     ts,
		},
	}, true
}

// FetchHistoryRange serves [begin, end) counted from the newest event,
// backfilling with /messages until enough events are known or the room's
// history is exhausted.
func (e *Engine) FetchHistoryRange(ctx context.Context, conversationID string, begin, end int) ([]chatevent.EngineEvent, error) {
	if err := engine.ValidateRange(begin, end); err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, ErrNoRoom
	}

	roomID := id.RoomID(conversationID)
	r := e.room(roomID)

	if err := e.backfill(ctx, roomID, r, end); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return engine.RangeFromNewest(r.events, begin, end), nil
}

func (e *Engine) backfill(ctx context.Context, roomID id.RoomID, r *room, want int) error {
	r.backfill.Lock()
	defer r.backfill.Unlock()

	for {
		e.mu.Lock()
		done := r.exhausted || len(r.events) >= want
		from := r.from
		e.mu.Unlock()
		if done {
			return nil
		}

		resp, err := e.client.Messages(ctx, roomID, from, "", mautrix.DirectionBackward, nil, e.backfillLimit)
		if err != nil {
			return fmt.Errorf("fetching room messages: %w", err)
		}
		chunk := make([]*event.Event, 0, len(resp.Chunk))
		for _, evt := range resp.Chunk {
			if evt.RoomID == "" {
				evt.RoomID = roomID
			}
			if evt.Type.Type == event.EventEncrypted.Type {
				if evt = e.decryptHistory(ctx, evt); evt == nil {
					continue
				}
			}
			chunk = append(chunk, evt)
		}

		added := 0
		e.mu.Lock()
		// Chunk is newest first.
		for _, evt := range chunk {
			ce, ok := e.convert(evt)
			if !ok {
				continue
			}
			if _, dup := r.refs[ce.Ref]; dup {
				continue
			}
			e.seen.Mark(ce.Ref)
			ce.Sequence = r.nextBack
			r.nextBack--
			r.refs[ce.Ref] = struct{}{}
			r.events = slices.Insert(r.events, 0, ce)
			added++
		}
		r.from = resp.End
		if resp.End == "" || len(resp.Chunk) == 0 {
			r.exhausted = true
		}
		total := len(r.events)
		e.mu.Unlock()

		e.logger.Debug("backfilled room history",
			"conversation_id", roomID,
			"fetched", len(resp.Chunk),
			"added", added,
			"total", total)
	}
}

// decryptHistory returns the decrypted form of a backfilled event, or nil
// when it cannot be decrypted.
func (e *Engine) decryptHistory(ctx context.Context, evt *event.Event) *event.Event {
	if e.decrypt == nil {
		return nil
	}
	evt.Type.Class = event.MessageEventType
	if evt.Content.Parsed == nil {
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			e.logger.Debug("unparseable encrypted event", "event_ref", evt.ID, "error", err)
			return nil
		}
	}
	decrypted, err := e.decrypt(ctx, evt)
	if err != nil {
		e.logger.Debug("skipping undecryptable history", "event_ref", evt.ID, "error", err)
		return nil
	}
	return decrypted
}

// HistorySize returns the number of events known for the room.
func (e *Engine) HistorySize(ctx context.Context, conversationID string) (int, error) {
	if conversationID == "" {
		return 0, ErrNoRoom
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.roomLocked(id.RoomID(conversationID)).events), nil
}

// SendText sends body as a text message, with markdown rendered into
// formatted_body. The sent callback fires once the server accepts it.
func (e *Engine) SendText(ctx context.Context, conversationID, body string) error {
	if conversationID == "" {
		return ErrNoRoom
	}
	roomID := id.RoomID(conversationID)
	content := messageContent(e.md, body)

	resp, err := e.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	if e.seen.CheckAndMark(resp.EventID.String()) {
		// The /sync echo won the race and was already delivered.
		return nil
	}

	e.ingestLive(roomID, chatevent.EngineEvent{
		Ref:  resp.EventID.String(),
		Kind: chatevent.KindMessageSent,
		Payload: &Message{
			Sender:        e.self.String(),
			MsgType:       string(content.MsgType),
			Body:          content.Body,
			FormattedBody: content.FormattedBody,
			Timestamp:     time.Now(),
		},
	}, true)
	return nil
}

type subscription struct {
	engine     *Engine
	roomID     id.RoomID
	onSent     engine.SentFunc
	onReceived engine.ReceivedFunc
	cancelled  atomic.Bool
}

// deliver posts a callback to the engine context.
func (s *subscription) deliver(ce chatevent.EngineEvent, own bool) {
	s.engine.queue.Post(func() {
		if s.cancelled.Load() {
			return
		}
		if own {
			s.onSent(ce)
			return
		}
		s.onReceived([]chatevent.EngineEvent{ce})
	})
}

// Cancel stops delivery. Idempotent.
func (s *subscription) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.engine.mu.Lock()
	if r, ok := s.engine.rooms[s.roomID]; ok {
		delete(r.subs, s)
	}
	s.engine.mu.Unlock()
}
