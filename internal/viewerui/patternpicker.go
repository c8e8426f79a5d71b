package viewerui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"github.com/arlojansen/logcraft/internal/appstore"
)

// patternPicker is a fuzzy-filtered overlay over the pattern_history table,
// the same shape as the teacher's GlobalSearch: a textinput plus a ranked
// result list, except here the corpus is past search patterns rather than
// session transcripts.
type patternPicker struct {
	input    textinput.Model
	all      []appstore.PatternEntry
	filtered []appstore.PatternEntry
	cursor   int
	width    int
}

func newPatternPicker(entries []appstore.PatternEntry, width int) *patternPicker {
	ti := textinput.New()
	ti.Placeholder = "filter pattern history..."
	ti.Focus()
	ti.CharLimit = 200
	ti.Width = width - 4

	p := &patternPicker{input: ti, all: entries, width: width}
	p.refilter()
	return p
}

type patternSource []appstore.PatternEntry

func (s patternSource) String(i int) string { return s[i].Pattern }
func (s patternSource) Len() int            { return len(s) }

func (p *patternPicker) refilter() {
	query := strings.TrimSpace(p.input.Value())
	if query == "" {
		p.filtered = p.all
		p.cursor = 0
		return
	}
	matches := fuzzy.FindFrom(query, patternSource(p.all))
	filtered := make([]appstore.PatternEntry, len(matches))
	for i, m := range matches {
		filtered[i] = p.all[m.Index]
	}
	p.filtered = filtered
	p.cursor = 0
}

// Update handles one key/message and reports whether the picker wants to
// close, and with what pattern (empty + ok=false means "cancelled").
func (p *patternPicker) Update(msg tea.Msg) (closed bool, chosen appstore.PatternEntry, ok bool) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		switch m.String() {
		case "esc":
			return true, appstore.PatternEntry{}, false
		case "enter":
			if len(p.filtered) == 0 {
				return true, appstore.PatternEntry{}, false
			}
			return true, p.filtered[p.cursor], true
		case "up", "ctrl+k":
			if p.cursor > 0 {
				p.cursor--
			}
			return false, appstore.PatternEntry{}, false
		case "down", "ctrl+j":
			if p.cursor < len(p.filtered)-1 {
				p.cursor++
			}
			return false, appstore.PatternEntry{}, false
		}
	}
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	_ = cmd // the picker is synchronous; textinput never produces a Cmd we need here
	p.refilter()
	return false, appstore.PatternEntry{}, false
}

func (p *patternPicker) View() string {
	var b strings.Builder
	b.WriteString(p.input.View())
	b.WriteString("\n\n")
	if len(p.filtered) == 0 {
		b.WriteString(PickerDimStyle.Render("no matching patterns"))
	}
	for i, entry := range p.filtered {
		if i > 8 {
			b.WriteString(PickerDimStyle.Render(fmt.Sprintf("… %d more", len(p.filtered)-i)))
			break
		}
		line := fmt.Sprintf("%-40s used %dx", entry.Pattern, entry.UseCount)
		if i == p.cursor {
			b.WriteString(PickerSelectedStyle.Render(line))
		} else {
			b.WriteString(PickerDimStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return PickerBoxStyle.Width(p.width).Render(b.String())
}
