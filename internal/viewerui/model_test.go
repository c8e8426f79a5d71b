package viewerui

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/arlojansen/logcraft/internal/appstore"
	"github.com/arlojansen/logcraft/internal/config"
	"github.com/arlojansen/logcraft/internal/engine"
	"github.com/arlojansen/logcraft/internal/logdata"
	"github.com/arlojansen/logcraft/internal/matchset"
	"github.com/arlojansen/logcraft/internal/search"
)

func writeLogFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newLoadedModel(t *testing.T, content string, store *appstore.Store) (*Model, *engine.Engine) {
	t.Helper()
	path := writeLogFile(t, content)
	eng := engine.New(config.Default())
	t.Cleanup(func() { eng.Close() })

	done := make(chan logdata.LoadResult, 1)
	eng.OnFinished(func(r logdata.LoadResult) { done <- r })

	m := New(eng, store, nil, nil, path)
	eng.Load(path)

	select {
	case r := <-done:
		_, _ = m.Update(LoadFinishedMsg{Result: r})
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for load")
	}
	_, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return m, eng
}

func TestNewModelStartsInLoadingState(t *testing.T) {
	eng := engine.New(config.Default())
	defer eng.Close()
	m := New(eng, nil, nil, nil, "/nonexistent")
	require.True(t, m.loading)
	require.Equal(t, modeBrowse, m.mode)
}

func TestModelLoadFinishedClearsLoading(t *testing.T) {
	m, _ := newLoadedModel(t, "one\ntwo\nthree\n", nil)
	require.False(t, m.loading)
	require.Empty(t, m.loadErr)
}

func TestModelBrowseKeysMoveCursor(t *testing.T) {
	m, _ := newLoadedModel(t, "one\ntwo\nthree\n", nil)

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	require.EqualValues(t, 1, m.cursor)

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	require.EqualValues(t, 2, m.cursor)

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	require.EqualValues(t, 1, m.cursor)
}

func TestModelToggleMarkPersistsWithStore(t *testing.T) {
	store, err := appstore.Open(filepath.Join(t.TempDir(), "marks.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	defer store.Close()

	m, eng := newLoadedModel(t, "one\ntwo\nthree\n", store)

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("m")})
	require.Equal(t, matchset.Mark, eng.LineType(0))

	marks, err := store.LoadMarks(m.path)
	require.NoError(t, err)
	require.Equal(t, []uint64{0}, marks)
}

func TestModelRestoresMarksOnLoad(t *testing.T) {
	store, err := appstore.Open(filepath.Join(t.TempDir(), "marks.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	defer store.Close()

	path := writeLogFile(t, "one\ntwo\nthree\n")
	require.NoError(t, store.SaveMarks(path, []uint64{2}))

	eng := engine.New(config.Default())
	defer eng.Close()
	done := make(chan logdata.LoadResult, 1)
	eng.OnFinished(func(r logdata.LoadResult) { done <- r })

	m := New(eng, store, nil, nil, path)
	eng.Load(path)
	r := <-done
	_, _ = m.Update(LoadFinishedMsg{Result: r})

	require.Equal(t, matchset.Mark, eng.LineType(2))
}

func TestModelSearchInputRunsSearch(t *testing.T) {
	m, eng := newLoadedModel(t, "alpha\nbeta\nalpha two\n", nil)

	finished := make(chan search.Status, 1)
	eng.OnSearchFinished(func(s search.Status) { finished <- s })

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	require.Equal(t, modeSearchInput, m.mode)

	for _, r := range "alpha" {
		_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, modeBrowse, m.mode)

	select {
	case status := <-finished:
		_, _ = m.Update(SearchFinishedMsg{Status: status})
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for search")
	}

	require.Equal(t, search.Completed, m.searchStatus)
	require.EqualValues(t, 2, eng.MatchCount())
}

func TestModelPatternPickerSelectsMostRecentPattern(t *testing.T) {
	store, err := appstore.Open(filepath.Join(t.TempDir(), "marks.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	defer store.Close()
	require.NoError(t, store.RecordPattern(appstore.PatternEntry{Pattern: "beta"}))
	require.NoError(t, store.RecordPattern(appstore.PatternEntry{Pattern: "alpha"}))

	m, eng := newLoadedModel(t, "alpha\nbeta\n", store)

	finished := make(chan search.Status, 1)
	eng.OnSearchFinished(func(s search.Status) { finished <- s })

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlP})
	require.Equal(t, modePatternPicker, m.mode)
	require.NotNil(t, m.picker)

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, modeBrowse, m.mode)
	require.Equal(t, "alpha", m.searchPattern)

	select {
	case status := <-finished:
		_, _ = m.Update(SearchFinishedMsg{Status: status})
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for search")
	}
	require.EqualValues(t, 1, eng.MatchCount())
}
