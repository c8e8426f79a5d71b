// Package matchset implements the compressed sorted line-number sets used
// by the search engine: the current search's match set and the user's
// marks. Both are backed by a roaring bitmap so cardinalities from zero to
// tens of millions stay compact while supporting ordered iteration, union,
// and O(log n)-or-better containment.
package matchset

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/arlojansen/logcraft/internal/linetypes"
)

// Kind classifies a line relative to the current match set and marks, per
// spec's line_type(n).
type Kind int

const (
	Plain Kind = iota
	Match
	Mark
	Both
)

func (k Kind) String() string {
	switch k {
	case Match:
		return "Match"
	case Mark:
		return "Mark"
	case Both:
		return "Both"
	default:
		return "Plain"
	}
}

// Set is a mutex-guarded sorted set of line numbers. The zero value is not
// usable; use New.
type Set struct {
	mu sync.Mutex
	bm *roaring64.Bitmap
}

// New returns an empty Set.
func New() *Set {
	return &Set{bm: roaring64.New()}
}

// Add inserts line, deduplicating against an existing entry. Returns true
// if line was newly added.
func (s *Set) Add(line linetypes.LineNumber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bm.CheckedAdd(uint64(line))
}

// Remove deletes a single line from the set. Returns true if it was present.
func (s *Set) Remove(line linetypes.LineNumber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bm.CheckedRemove(uint64(line))
}

// Toggle adds line if absent, removes it if present. Returns the new
// membership state (true if now present).
func (s *Set) Toggle(line linetypes.LineNumber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bm.Contains(uint64(line)) {
		s.bm.Remove(uint64(line))
		return false
	}
	s.bm.Add(uint64(line))
	return true
}

// Contains reports whether line is a member.
func (s *Set) Contains(line linetypes.LineNumber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bm.Contains(uint64(line))
}

// Cardinality returns the number of members.
func (s *Set) Cardinality() linetypes.LinesCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return linetypes.LinesCount(s.bm.GetCardinality())
}

// Nth returns the k-th smallest member (0-indexed), matching spec's
// matched_line(k). ok is false if k is out of range.
func (s *Set) Nth(k uint64) (line linetypes.LineNumber, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k >= s.bm.GetCardinality() {
		return 0, false
	}
	v, err := s.bm.Select(k)
	if err != nil {
		return 0, false
	}
	return linetypes.LineNumber(v), true
}

// Clear empties the set.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bm.Clear()
}

// RemoveGreaterOrEqual drops every member >= line, used when a truncation
// shrinks the file out from under a live match set or mark set.
func (s *Set) RemoveGreaterOrEqual(line linetypes.LineNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bm.RemoveRange(uint64(line), ^uint64(0))
}

// Each calls fn for every member in ascending order. fn must not call back
// into the Set while iterating.
func (s *Set) Each(fn func(linetypes.LineNumber)) {
	s.mu.Lock()
	snapshot := s.bm.Clone()
	s.mu.Unlock()

	it := snapshot.Iterator()
	for it.HasNext() {
		fn(linetypes.LineNumber(it.Next()))
	}
}

// Snapshot returns an independent copy of the underlying bitmap, safe to
// hand to a caller for a diff-delivery protocol (spec's
// results_since_last_call).
func (s *Set) Snapshot() *roaring64.Bitmap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bm.Clone()
}

// Diff computes the members present in s but absent from prev, for
// incremental "new matches since last call" delivery.
func (s *Set) Diff(prev *roaring64.Bitmap) *roaring64.Bitmap {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev == nil {
		return s.bm.Clone()
	}
	return roaring64.AndNot(s.bm, prev)
}

// LineType classifies line against a match set and a mark set, per spec's
// line_type(n) -> {Match, Mark, Both, Plain}.
func LineType(matches, marks *Set, line linetypes.LineNumber) Kind {
	m := matches != nil && matches.Contains(line)
	k := marks != nil && marks.Contains(line)
	switch {
	case m && k:
		return Both
	case m:
		return Match
	case k:
		return Mark
	default:
		return Plain
	}
}
