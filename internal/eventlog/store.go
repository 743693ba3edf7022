// ABOUTME: Ordered, deduplicated in-memory event log for one conversation
// ABOUTME: Supports amortized O(batch) prepends of older pages and appends of live events

package eventlog

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/2389/coven-chatsync/internal/event"
)

// ErrIndexOutOfRange is returned by RecordAt for an index >= Count().
var ErrIndexOutOfRange = errors.New("index out of range")

// Store is the ordered event log. The zero value is not usable; call New.
type Store struct {
	// buf[head:] holds the live records; buf[:head] is headroom for
	// front inserts.
	buf  []event.Record
	head int

	ids  map[string]struct{}
	refs map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		ids:  make(map[string]struct{}),
		refs: make(map[string]struct{}),
	}
}

// Count returns the number of records.
func (s *Store) Count() int {
	return len(s.buf) - s.head
}

// RecordAt returns the record at index i, oldest first.
func (s *Store) RecordAt(i int) (event.Record, error) {
	if i < 0 || i >= s.Count() {
		return event.Record{}, fmt.Errorf("%w: index %d, count %d", ErrIndexOutOfRange, i, s.Count())
	}
	return s.buf[s.head+i], nil
}

// Records returns a copy of all records, oldest first.
func (s *Store) Records() []event.Record {
	return slices.Clone(s.live())
}

// Oldest returns the first record, if any.
func (s *Store) Oldest() (event.Record, bool) {
	if s.Count() == 0 {
		return event.Record{}, false
	}
	return s.buf[s.head], true
}

// Newest returns the last record, if any.
func (s *Store) Newest() (event.Record, bool) {
	if s.Count() == 0 {
		return event.Record{}, false
	}
	return s.buf[len(s.buf)-1], true
}

// Contains reports whether a record with the given engine reference exists.
func (s *Store) Contains(ref string) bool {
	_, ok := s.refs[ref]
	return ok
}

// Append inserts r at its ordered position. It returns false, leaving the
// store unchanged, when r is a duplicate.
func (s *Store) Append(r event.Record) bool {
	if s.isDuplicate(r) {
		return false
	}
	s.mark(r)
	s.insertOrdered(r)
	return true
}

// AppendBatch inserts records as an older page (atFront) or as newer live
// events. Duplicates, including duplicates within the batch, are skipped.
// It returns the number of records inserted.
func (s *Store) AppendBatch(records []event.Record, atFront bool) int {
	return len(s.InsertBatch(records, atFront))
}

// InsertBatch is AppendBatch returning the records that were inserted, in
// batch order.
func (s *Store) InsertBatch(records []event.Record, atFront bool) []event.Record {
	fresh := make([]event.Record, 0, len(records))
	for _, r := range records {
		if s.isDuplicate(r) {
			continue
		}
		s.mark(r)
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return nil
	}

	sorted := slices.IsSortedFunc(fresh, func(a, b event.Record) int {
		return cmp.Compare(a.Sequence(), b.Sequence())
	})

	switch {
	case sorted && atFront && s.fitsFront(fresh):
		s.prepend(fresh)
	case sorted && !atFront && s.fitsBack(fresh):
		s.buf = append(s.buf, fresh...)
	default:
		// Batch overlaps existing records or is itself unordered.
		for _, r := range fresh {
			s.insertOrdered(r)
		}
	}
	return fresh
}

// Clear removes every record.
func (s *Store) Clear() {
	clear(s.buf)
	s.buf = nil
	s.head = 0
	clear(s.ids)
	clear(s.refs)
}

func (s *Store) live() []event.Record {
	return s.buf[s.head:]
}

func (s *Store) isDuplicate(r event.Record) bool {
	if _, ok := s.ids[r.ID()]; ok {
		return true
	}
	if r.Ref() == "" {
		return false
	}
	_, ok := s.refs[r.Ref()]
	return ok
}

func (s *Store) mark(r event.Record) {
	s.ids[r.ID()] = struct{}{}
	if r.Ref() != "" {
		s.refs[r.Ref()] = struct{}{}
	}
}

// Equal sequences keep arrival order wherever they land, so a front batch
// tying with the oldest record takes the ordered path and lands after it.
func (s *Store) fitsFront(batch []event.Record) bool {
	oldest, ok := s.Oldest()
	return !ok || batch[len(batch)-1].Sequence() < oldest.Sequence()
}

func (s *Store) fitsBack(batch []event.Record) bool {
	newest, ok := s.Newest()
	return !ok || batch[0].Sequence() >= newest.Sequence()
}

// prepend copies batch into the headroom, growing it geometrically.
func (s *Store) prepend(batch []event.Record) {
	k := len(batch)
	if s.head < k {
		n := s.Count()
		room := k + n
		grown := make([]event.Record, room+n, room+n+max(n, k))
		copy(grown[room:], s.live())
		clear(s.buf)
		s.buf = grown
		s.head = room
	}
	s.head -= k
	copy(s.buf[s.head:], batch)
}

// insertOrdered places r after every record whose sequence is <= its own.
func (s *Store) insertOrdered(r event.Record) {
	live := s.live()
	pos := sort.Search(len(live), func(i int) bool {
		return live[i].Sequence() > r.Sequence()
	})

	switch {
	case pos == len(live):
		s.buf = append(s.buf, r)
	case pos == 0:
		s.prepend([]event.Record{r})
	default:
		s.buf = slices.Insert(s.buf, s.head+pos, r)
	}
}
