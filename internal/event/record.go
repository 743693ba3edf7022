// ABOUTME: Immutable conversation event records and the engine event they wrap
// ABOUTME: Records carry a process-local UUID identity assigned at ingestion

package event

import (
	"github.com/google/uuid"
)

// Kind categorizes a conversation event.
type Kind string

const (
	KindMessageSent       Kind = "message_sent"
	KindMessageReceived   Kind = "message_received"
	KindParticipantChange Kind = "participant_change"
	KindOther             Kind = "other"
)

// EngineEvent is a single event as delivered by the engine.
type EngineEvent struct {
	Ref      string // stable engine reference, unique within a conversation
	Sequence int64  // engine ordering token
	Kind     Kind
	Payload  any // engine-owned, never copied or mutated by the core
}

// Record is one ingested event. The zero Record is invalid.
type Record struct {
	id       string
	ref      string
	sequence int64
	kind     Kind
	payload  any
}

// NewRecord wraps an engine event with a fresh identity.
func NewRecord(evt EngineEvent) Record {
	kind := evt.Kind
	if kind == "" {
		kind = KindOther
	}
	return Record{
		id:       uuid.New().String(),
		ref:      evt.Ref,
		sequence: evt.Sequence,
		kind:     kind,
		payload:  evt.Payload,
	}
}

// NewRecords wraps a batch, preserving order.
func NewRecords(evts []EngineEvent) []Record {
	records := make([]Record, len(evts))
	for i, evt := range evts {
		records[i] = NewRecord(evt)
	}
	return records
}

func (r Record) ID() string      { return r.id }
func (r Record) Ref() string     { return r.ref }
func (r Record) Sequence() int64 { return r.sequence }
func (r Record) Kind() Kind      { return r.kind }
func (r Record) Payload() any    { return r.payload }

// IsZero reports whether r was never constructed by NewRecord.
func (r Record) IsZero() bool { return r.id == "" }

// Equal reports whether r and o are the same record. Content is ignored.
func (r Record) Equal(o Record) bool { return r.id == o.id }

// IsMessage reports whether the record is a sent or received message.
func (r Record) IsMessage() bool {
	return r.kind == KindMessageSent || r.kind == KindMessageReceived
}
