package viewerui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/arlojansen/logcraft/internal/linetypes"
	"github.com/arlojansen/logcraft/internal/matchset"
	"github.com/arlojansen/logcraft/internal/search"
)

func (m *Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")

	if m.mode == modePatternPicker {
		b.WriteString(m.picker.View())
		return b.String()
	}

	b.WriteString(m.renderLines())

	if m.mode == modeSearchInput {
		b.WriteString("\n")
		b.WriteString(SearchBoxStyle.Width(m.width - 2).Render(m.searchInput.View()))
	} else if m.status != "" {
		b.WriteString("\n")
		b.WriteString(DimStyle.Render(m.status))
	}
	return b.String()
}

func (m *Model) renderStatusBar() string {
	left := fmt.Sprintf(" %s ", m.path)
	switch {
	case m.loading:
		left += fmt.Sprintf("loading %d%%", m.loadPercent)
	case m.loadErr != "":
		left += StatusErrStyle.Render("error: " + m.loadErr)
	default:
		left += fmt.Sprintf("%d lines", uint64(m.eng.LineCount()))
	}

	right := ""
	if m.searchPattern != "" {
		right = fmt.Sprintf("/%s/ %s matches=%d", m.searchPattern, m.searchStatus.String(), m.matchCount)
		if m.searchStatus == search.Running {
			right += fmt.Sprintf(" (%d%%)", m.searchPercent)
		}
	}

	gap := m.width - len(left) - len(right) - 2
	if gap < 1 {
		gap = 1
	}
	return StatusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m *Model) renderLines() string {
	page := m.linesPerPage()
	count := m.eng.LineCount()
	if count == 0 {
		return DimStyle.Render("(empty file)")
	}

	n := page
	if remaining := int(count) - int(m.top); remaining < n {
		n = remaining
	}
	if n <= 0 {
		return ""
	}

	lines, err := m.eng.Lines(m.top, linetypes.LinesCount(n))
	if err != nil {
		return StatusErrStyle.Render(err.Error())
	}

	digits := len(fmt.Sprintf("%d", uint64(count)))
	var b strings.Builder
	for i, text := range lines {
		ln := m.top.Add(linetypes.LinesCount(i))
		prefix := LineNumberStyle.Render(fmt.Sprintf("%*d  ", digits, uint64(ln)+1))
		styled := styleForLine(m.eng.LineType(ln)).Render(text)
		row := prefix + styled
		if ln == m.cursor {
			row = CursorLineStyle.Render(row)
		}
		b.WriteString(row)
		if i < len(lines)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func styleForLine(kind matchset.Kind) lipgloss.Style {
	switch kind {
	case matchset.Match:
		return MatchLineStyle
	case matchset.Mark:
		return MarkLineStyle
	case matchset.Both:
		return BothLineStyle
	default:
		return BaseStyle
	}
}
