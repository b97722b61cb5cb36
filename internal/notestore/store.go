// Package notestore keeps the logical note records: one ordered list per key
// plus an id index. It knows nothing about slots or rendering.
package notestore

import (
	"sort"
	"strconv"
)

// Note is one key-press span. End is meaningful only once Active is false.
type Note struct {
	ID     string
	Key    string
	Start  float64
	End    float64
	Active bool
}

// Store is not safe for concurrent use.
type Store struct {
	byKey  map[string][]*Note
	lookup map[string]*Note
	pool   []*Note
	seq    uint64
}

func New() *Store {
	return &Store{
		byKey:  make(map[string][]*Note),
		lookup: make(map[string]*Note),
	}
}

// NoteID derives the id of a note created on key at start.
func NoteID(key string, start float64) string {
	return key + "_" + strconv.FormatFloat(start, 'f', -1, 64)
}

// Create appends an active note to key's list. Records are recycled from
// notes removed earlier.
func (s *Store) Create(key string, start float64) *Note {
	id := NoteID(key, start)
	if _, taken := s.lookup[id]; taken {
		s.seq++
		id += "#" + strconv.FormatUint(s.seq, 10)
	}

	n := s.acquire()
	n.ID = id
	n.Key = key
	n.Start = start
	n.End = 0
	n.Active = true

	s.byKey[key] = append(s.byKey[key], n)
	s.lookup[id] = n
	return n
}

// Finalize fixes the end of an active note. It reports false, changing
// nothing, when the id is unknown, belongs to another key, or the note is
// already finalized.
func (s *Store) Finalize(key, id string, end float64) bool {
	n, ok := s.lookup[id]
	if !ok || n.Key != key || !n.Active {
		return false
	}
	n.End = end
	n.Active = false
	return true
}

// Expired reports whether a finalized note has travelled past the track.
// The comparison uses the same sum as NextExpiry so a sweep fired at the
// reported instant always removes the note.
func Expired(n *Note, now, travelMs float64) bool {
	return !n.Active && n.End+travelMs <= now
}

// RemoveExpired compacts every key list in place, dropping finalized notes
// that have travelled travelMs since they ended. Survivors keep their
// order. It returns the removed ids.
func (s *Store) RemoveExpired(now, travelMs float64) []string {
	var removed []string
	for key, notes := range s.byKey {
		w := 0
		for _, n := range notes {
			if Expired(n, now, travelMs) {
				removed = append(removed, n.ID)
				delete(s.lookup, n.ID)
				s.release(n)
				continue
			}
			notes[w] = n
			w++
		}
		for i := w; i < len(notes); i++ {
			notes[i] = nil
		}
		if w == 0 {
			delete(s.byKey, key)
			continue
		}
		s.byKey[key] = notes[:w]
	}
	sort.Strings(removed)
	return removed
}

// NextExpiry returns the earliest instant at which a finalized note will
// have travelled travelMs.
func (s *Store) NextExpiry(travelMs float64) (float64, bool) {
	var (
		best  float64
		found bool
	)
	for _, notes := range s.byKey {
		for _, n := range notes {
			if n.Active {
				continue
			}
			at := n.End + travelMs
			if !found || at < best {
				best, found = at, true
			}
		}
	}
	return best, found
}

// Reset drops every note and returns their ids.
func (s *Store) Reset() []string {
	ids := make([]string, 0, len(s.lookup))
	for key, notes := range s.byKey {
		for _, n := range notes {
			ids = append(ids, n.ID)
			s.release(n)
		}
		delete(s.byKey, key)
	}
	clear(s.lookup)
	sort.Strings(ids)
	return ids
}

// Get returns a copy of the note with the given id.
func (s *Store) Get(id string) (Note, bool) {
	n, ok := s.lookup[id]
	if !ok {
		return Note{}, false
	}
	return *n, true
}

// Notes returns copies of key's notes in creation order.
func (s *Store) Notes(key string) []Note {
	notes := s.byKey[key]
	out := make([]Note, len(notes))
	for i, n := range notes {
		out[i] = *n
	}
	return out
}

// Keys lists keys that currently hold notes, sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of live notes.
func (s *Store) Len() int { return len(s.lookup) }

// ActiveCount is the number of still-growing notes on key.
func (s *Store) ActiveCount(key string) int {
	c := 0
	for _, n := range s.byKey[key] {
		if n.Active {
			c++
		}
	}
	return c
}

func (s *Store) acquire() *Note {
	if n := len(s.pool); n > 0 {
		note := s.pool[n-1]
		s.pool = s.pool[:n-1]
		return note
	}
	return &Note{}
}

func (s *Store) release(n *Note) {
	*n = Note{}
	s.pool = append(s.pool, n)
}
