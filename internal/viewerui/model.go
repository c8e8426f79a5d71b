package viewerui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/arlojansen/logcraft/internal/appstore"
	"github.com/arlojansen/logcraft/internal/engine"
	"github.com/arlojansen/logcraft/internal/linetypes"
	"github.com/arlojansen/logcraft/internal/logdata"
	"github.com/arlojansen/logcraft/internal/matchset"
	"github.com/arlojansen/logcraft/internal/notify"
	"github.com/arlojansen/logcraft/internal/search"
)

// mode is which of the model's input surfaces currently owns the keyboard.
type mode int

const (
	modeBrowse mode = iota
	modeSearchInput
	modePatternPicker
)

// Model is the logviewer demo's top-level tea.Model: one engine session,
// a status bar, a scrolling view of lines colored by matchset.Kind, a
// search input, and a fuzzy pattern-history picker. It never talks to the
// engine from a goroutine of its own — every engine callback is forwarded
// into Update as a message by main.go's p.Send wiring, the same pattern
// the teacher uses for its maintenance worker.
type Model struct {
	eng      *engine.Engine
	store    *appstore.Store // nil disables mark/history persistence
	notifier *notify.Notifier
	tw       *ThemeWatcher

	path string

	width, height int

	loading     bool
	loadPercent int
	loadErr     string

	top    linetypes.LineNumber // first visible line
	cursor linetypes.LineNumber // selected line, for marks/jumps

	searchInput   textinput.Model
	searchStatus  search.Status
	searchPattern string
	matchCount    int
	searchPercent int
	matchCursor   uint64 // Nth match currently selected via n/N

	mode   mode
	picker *patternPicker

	status string
}

// New builds a Model. path is loaded immediately once Init runs.
func New(eng *engine.Engine, store *appstore.Store, notifier *notify.Notifier, tw *ThemeWatcher, path string) *Model {
	ti := textinput.New()
	ti.Placeholder = "/pattern/"
	ti.CharLimit = 500

	return &Model{
		eng:         eng,
		store:       store,
		notifier:    notifier,
		tw:          tw,
		path:        path,
		searchInput: ti,
		loading:     true,
	}
}

func (m *Model) Init() tea.Cmd {
	m.eng.Load(m.path)
	if m.tw != nil {
		return waitForTheme(m.tw)
	}
	return nil
}

func waitForTheme(tw *ThemeWatcher) tea.Cmd {
	return func() tea.Msg {
		isDark, ok := <-tw.ChangeChannel()
		if !ok {
			return nil
		}
		return ThemeChangedMsg{Dark: isDark}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if m.picker != nil {
			m.picker.input.Width = m.width - 8
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case LoadProgressMsg:
		m.loading = true
		m.loadPercent = msg.Percent
		return m, nil

	case LoadFinishedMsg:
		m.loading = false
		if msg.Result.Status != logdata.Successful {
			m.loadErr = msg.Result.Status.String()
			if msg.Result.Err != nil {
				m.loadErr = msg.Result.Err.Error()
			}
		} else {
			m.loadErr = ""
			m.restoreMarks()
		}
		return m, nil

	case FileChangedMsg:
		m.status = fmt.Sprintf("file %s", strings.ToLower(msg.Kind.String()))
		return m, nil

	case SearchProgressMsg:
		m.matchCount = msg.MatchCount
		m.searchPercent = msg.Percent
		m.searchStatus = search.Running
		return m, nil

	case SearchFinishedMsg:
		m.searchStatus = msg.Status
		m.matchCount = int(m.eng.MatchCount())
		if m.notifier != nil {
			m.notifier.NotifySearchFinished(m.searchPattern, m.matchCount, msg.Status)
		}
		return m, nil

	case ThemeChangedMsg:
		if msg.Dark {
			InitTheme(ThemeDark)
		} else {
			InitTheme(ThemeLight)
		}
		return m, waitForTheme(m.tw)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case modeSearchInput:
		return m.handleSearchInputKey(msg)
	case modePatternPicker:
		return m.handlePatternPickerKey(msg)
	default:
		return m.handleBrowseKey(msg)
	}
}

func (m *Model) handleBrowseKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "/":
		m.mode = modeSearchInput
		m.searchInput.SetValue(m.searchPattern)
		m.searchInput.Focus()
		return m, nil
	case "ctrl+p":
		if m.store == nil {
			m.status = "pattern history unavailable (no db configured)"
			return m, nil
		}
		entries, err := m.store.RecentPatterns(200)
		if err != nil {
			m.status = "pattern history: " + err.Error()
			return m, nil
		}
		m.picker = newPatternPicker(entries, m.width)
		m.mode = modePatternPicker
		return m, nil
	case "j", "down":
		m.moveCursor(1)
	case "k", "up":
		m.moveCursor(-1)
	case "pgdown":
		m.moveCursor(int64(m.linesPerPage()))
	case "pgup":
		m.moveCursor(-int64(m.linesPerPage()))
	case "g":
		m.cursor, m.top = 0, 0
	case "G":
		m.cursor = linetypes.LineNumber(m.eng.LineCount()).Sub(1)
		m.scrollToCursor()
	case "m":
		m.eng.ToggleMark(m.cursor)
		m.persistMarks()
	case "c":
		m.eng.ClearMarks()
		m.persistMarks()
	case "n":
		m.jumpToMatch(1)
	case "N":
		m.jumpToMatch(-1)
	case "r":
		m.loading = true
		m.eng.Reload()
	case "x":
		m.eng.ClearSearch(true)
		m.searchStatus = search.Idle
		m.matchCount = 0
		m.searchPattern = ""
	}
	return m, nil
}

func (m *Model) handleSearchInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeBrowse
		m.searchInput.Blur()
		return m, nil
	case "enter":
		pattern := strings.TrimSpace(m.searchInput.Value())
		m.mode = modeBrowse
		m.searchInput.Blur()
		if pattern == "" {
			return m, nil
		}
		m.runSearch(pattern)
		return m, nil
	}
	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

func (m *Model) handlePatternPickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	closed, chosen, ok := m.picker.Update(msg)
	if !closed {
		return m, nil
	}
	m.mode = modeBrowse
	m.picker = nil
	if ok {
		req := search.Request{
			Pattern:        chosen.Pattern,
			CaseSensitive:  chosen.CaseSensitive,
			Inverse:        chosen.Inverse,
			BooleanCombine: chosen.BooleanCombine,
			PlainText:      chosen.PlainText,
		}
		m.searchPattern = chosen.Pattern
		m.searchStatus = search.Running
		if err := m.eng.RunSearch(req); err != nil {
			m.status = "search: " + err.Error()
			m.searchStatus = search.Errored
		}
		if m.store != nil {
			_ = m.store.RecordPattern(appstore.PatternEntry{
				Pattern: chosen.Pattern, CaseSensitive: chosen.CaseSensitive,
				Inverse: chosen.Inverse, BooleanCombine: chosen.BooleanCombine,
				PlainText: chosen.PlainText,
			})
		}
	}
	return m, nil
}

func (m *Model) runSearch(pattern string) {
	req := search.Request{Pattern: pattern}
	m.searchPattern = pattern
	m.searchStatus = search.Running
	if err := m.eng.RunSearch(req); err != nil {
		m.status = "search: " + err.Error()
		m.searchStatus = search.Errored
		return
	}
	if m.store != nil {
		_ = m.store.RecordPattern(appstore.PatternEntry{Pattern: pattern})
	}
}

func (m *Model) jumpToMatch(dir int) {
	if m.matchCount == 0 {
		return
	}
	if dir > 0 {
		m.matchCursor++
	} else if m.matchCursor > 0 {
		m.matchCursor--
	}
	if line, ok := m.eng.MatchedLine(m.matchCursor); ok {
		m.cursor = line
		m.scrollToCursor()
	}
}

func (m *Model) moveCursor(delta int64) {
	count := int64(m.eng.LineCount())
	next := int64(m.cursor) + delta
	if next < 0 {
		next = 0
	}
	if count > 0 && next >= count {
		next = count - 1
	}
	m.cursor = linetypes.LineNumber(uint64(next))
	m.scrollToCursor()
}

func (m *Model) linesPerPage() int {
	h := m.height - 4
	if h < 1 {
		h = 1
	}
	return h
}

func (m *Model) scrollToCursor() {
	page := linetypes.LinesCount(m.linesPerPage())
	if m.cursor.Before(m.top) {
		m.top = m.cursor
	} else if m.cursor.Diff(m.top) >= page {
		m.top = m.cursor.Sub(page - 1)
	}
}

func (m *Model) persistMarks() {
	if m.store == nil {
		return
	}
	var marks []uint64
	count := linetypes.LineNumber(m.eng.LineCount())
	for n := linetypes.LineNumber(0); n.Before(count); n = n.Add(1) {
		switch m.eng.LineType(n) {
		case matchset.Mark, matchset.Both:
			marks = append(marks, uint64(n))
		}
	}
	_ = m.store.SaveMarks(m.path, marks)
}

func (m *Model) restoreMarks() {
	if m.store == nil {
		return
	}
	marks, err := m.store.LoadMarks(m.path)
	if err != nil {
		return
	}
	for _, n := range marks {
		m.eng.AddMark(linetypes.LineNumber(n))
	}
}

// Close releases the resources Model owns but didn't create, letting
// main retain ownership of shutdown ordering.
func (m *Model) Close(ctx context.Context) {
	if m.tw != nil {
		m.tw.Close()
	}
}
