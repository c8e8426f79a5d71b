package matchset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlojansen/logcraft/internal/linetypes"
)

func TestAddDedupAndCardinality(t *testing.T) {
	s := New()
	require.True(t, s.Add(5))
	require.False(t, s.Add(5))
	require.True(t, s.Add(2))
	require.EqualValues(t, 2, s.Cardinality())
}

func TestAscendingIteration(t *testing.T) {
	s := New()
	for _, n := range []linetypes.LineNumber{9, 0, 4, 4, 2} {
		s.Add(n)
	}
	var seen []linetypes.LineNumber
	s.Each(func(n linetypes.LineNumber) { seen = append(seen, n) })
	require.Equal(t, []linetypes.LineNumber{0, 2, 4, 9}, seen)
}

func TestNth(t *testing.T) {
	s := New()
	for _, n := range []linetypes.LineNumber{0, 2, 4, 7, 9} {
		s.Add(n)
	}
	v, ok := s.Nth(0)
	require.True(t, ok)
	require.EqualValues(t, 0, v)
	v, ok = s.Nth(4)
	require.True(t, ok)
	require.EqualValues(t, 9, v)
	_, ok = s.Nth(5)
	require.False(t, ok)
}

func TestRemoveAndContains(t *testing.T) {
	s := New()
	s.Add(3)
	require.True(t, s.Contains(3))
	require.True(t, s.Remove(3))
	require.False(t, s.Contains(3))
	require.False(t, s.Remove(3))
}

func TestToggle(t *testing.T) {
	s := New()
	require.True(t, s.Toggle(6))
	require.True(t, s.Contains(6))
	require.False(t, s.Toggle(6))
	require.False(t, s.Contains(6))
}

func TestRemoveGreaterOrEqual(t *testing.T) {
	s := New()
	for _, n := range []linetypes.LineNumber{1, 2, 3, 4, 5} {
		s.Add(n)
	}
	s.RemoveGreaterOrEqual(3)
	require.EqualValues(t, 2, s.Cardinality())
	require.True(t, s.Contains(2))
	require.False(t, s.Contains(3))
}

func TestDiffSinceLastCall(t *testing.T) {
	s := New()
	s.Add(1)
	s.Add(2)
	prev := s.Snapshot()

	s.Add(3)
	diff := s.Diff(prev)
	require.EqualValues(t, 1, diff.GetCardinality())
	require.True(t, diff.Contains(3))
}

func TestLineType(t *testing.T) {
	matches := New()
	marks := New()
	matches.Add(1)
	marks.Add(2)
	matches.Add(3)
	marks.Add(3)

	require.Equal(t, Match, LineType(matches, marks, 1))
	require.Equal(t, Mark, LineType(matches, marks, 2))
	require.Equal(t, Both, LineType(matches, marks, 3))
	require.Equal(t, Plain, LineType(matches, marks, 4))
}

func TestClear(t *testing.T) {
	s := New()
	s.Add(1)
	s.Add(2)
	s.Clear()
	require.EqualValues(t, 0, s.Cardinality())
}
