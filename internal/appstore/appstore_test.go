package appstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "appstore.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCloseReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "appstore.db")

	s1, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Migrate())
	require.NoError(t, s1.SaveMarks("/var/log/app.log", []uint64{3, 1, 2}))
	require.NoError(t, s1.Close())

	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Migrate())

	marks, err := s2.LoadMarks("/var/log/app.log")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, marks)
}

func TestSaveMarksReplacesPreviousSet(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveMarks("a.log", []uint64{1, 2, 3}))
	require.NoError(t, s.SaveMarks("a.log", []uint64{5}))

	marks, err := s.LoadMarks("a.log")
	require.NoError(t, err)
	require.Equal(t, []uint64{5}, marks)
}

func TestMarksAreScopedPerFile(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveMarks("a.log", []uint64{1}))
	require.NoError(t, s.SaveMarks("b.log", []uint64{2}))

	a, err := s.LoadMarks("a.log")
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, a)

	b, err := s.LoadMarks("b.log")
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, b)
}

func TestClearMarks(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveMarks("a.log", []uint64{1, 2}))
	require.NoError(t, s.ClearMarks("a.log"))

	marks, err := s.LoadMarks("a.log")
	require.NoError(t, err)
	require.Empty(t, marks)
}

func TestRecordPatternBumpsUseCount(t *testing.T) {
	s := newTestStore(t)

	entry := PatternEntry{Pattern: "ERROR", CaseSensitive: true}
	require.NoError(t, s.RecordPattern(entry))
	require.NoError(t, s.RecordPattern(entry))
	require.NoError(t, s.RecordPattern(entry))

	history, err := s.RecentPatterns(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "ERROR", history[0].Pattern)
	require.True(t, history[0].CaseSensitive)
	require.Equal(t, 3, history[0].UseCount)
}

func TestRecordPatternDistinguishesFlagCombinations(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordPattern(PatternEntry{Pattern: "x", CaseSensitive: true}))
	require.NoError(t, s.RecordPattern(PatternEntry{Pattern: "x", CaseSensitive: false}))

	history, err := s.RecentPatterns(10)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestRecentPatternsOrderedByMostRecentlyUsed(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordPattern(PatternEntry{Pattern: "first"}))
	require.NoError(t, s.RecordPattern(PatternEntry{Pattern: "second"}))
	require.NoError(t, s.RecordPattern(PatternEntry{Pattern: "first"}))

	history, err := s.RecentPatterns(10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "first", history[0].Pattern)
	require.Equal(t, "second", history[1].Pattern)
}

func TestRecentPatternsRespectsLimit(t *testing.T) {
	s := newTestStore(t)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordPattern(PatternEntry{Pattern: p}))
	}

	history, err := s.RecentPatterns(2)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestMeta(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMeta("missing")
	require.NoError(t, err)
	require.Equal(t, "", v)

	require.NoError(t, s.SetMeta("last_file", "/var/log/app.log"))
	v, err = s.GetMeta("last_file")
	require.NoError(t, err)
	require.Equal(t, "/var/log/app.log", v)
}
