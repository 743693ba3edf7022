// ABOUTME: Tests for conversation event records
// ABOUTME: Covers identity assignment, equality and kind defaults

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord_AssignsUniqueIdentity(t *testing.T) {
	evt := EngineEvent{Ref: "evt-1", Sequence: 1, Kind: KindMessageReceived, Payload: "hello"}

	a := NewRecord(evt)
	b := NewRecord(evt)

	require.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.False(t, a.Equal(b), "same content must not make records equal")
	assert.True(t, a.Equal(a))
}

func TestNewRecord_CopiesEngineFields(t *testing.T) {
	payload := &struct{ Body string }{Body: "hi"}
	r := NewRecord(EngineEvent{Ref: "evt-7", Sequence: 7, Kind: KindMessageSent, Payload: payload})

	assert.Equal(t, "evt-7", r.Ref())
	assert.Equal(t, int64(7), r.Sequence())
	assert.Equal(t, KindMessageSent, r.Kind())
	assert.Same(t, payload, r.Payload())
	assert.True(t, r.IsMessage())
}

func TestNewRecord_DefaultsKindToOther(t *testing.T) {
	r := NewRecord(EngineEvent{Ref: "evt-1"})
	assert.Equal(t, KindOther, r.Kind())
	assert.False(t, r.IsMessage())
}

func TestRecord_ZeroValue(t *testing.T) {
	var r Record
	assert.True(t, r.IsZero())
	assert.False(t, NewRecord(EngineEvent{Ref: "x"}).IsZero())
}

func TestNewRecords_PreservesOrder(t *testing.T) {
	records := NewRecords([]EngineEvent{
		{Ref: "a", Sequence: 3},
		{Ref: "b", Sequence: 1},
		{Ref: "c", Sequence: 2},
	})

	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].Ref())
	assert.Equal(t, "b", records[1].Ref())
	assert.Equal(t, "c", records[2].Ref())
}
