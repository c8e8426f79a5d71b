// Package viewerui is the bubbletea front end for cmd/logviewer: a status
// bar, a scrolling line view colored by matchset.Kind, a search input, and
// a fuzzy pattern-history picker, all driven by engine callbacks the main
// package forwards into the running tea.Program via p.Send.
package viewerui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Theme is the active color scheme name.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme Theme = ThemeDark

// Tokyo Night, the same palette the teacher's dark theme uses.
var darkColors = struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Red, Purple lipgloss.Color
	Comment                            lipgloss.Color
}{
	Bg:      lipgloss.Color("#1a1b26"),
	Surface: lipgloss.Color("#24283b"),
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Red:     lipgloss.Color("#f7768e"),
	Purple:  lipgloss.Color("#bb9af7"),
	Comment: lipgloss.Color("#787fa0"),
}

var lightColors = struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Red, Purple lipgloss.Color
	Comment                            lipgloss.Color
}{
	Bg:      lipgloss.Color("#d5d6db"),
	Surface: lipgloss.Color("#e9e9ec"),
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Red:     lipgloss.Color("#8c4351"),
	Purple:  lipgloss.Color("#7847bd"),
	Comment: lipgloss.Color("#6a6d7c"),
}

var (
	ColorBg      lipgloss.Color
	ColorSurface lipgloss.Color
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorRed     lipgloss.Color
	ColorPurple  lipgloss.Color
	ColorComment lipgloss.Color
)

var themeMu sync.RWMutex

// InitTheme sets the active palette and re-derives every style from it.
// Safe to call again at any time (e.g. when the OS dark-mode setting
// changes underneath a running program).
func InitTheme(theme Theme) {
	themeMu.Lock()
	defer themeMu.Unlock()
	currentTheme = theme
	c := darkColors
	if theme == ThemeLight {
		c = lightColors
	}
	ColorBg, ColorSurface, ColorBorder = c.Bg, c.Surface, c.Border
	ColorText, ColorTextDim, ColorAccent = c.Text, c.TextDim, c.Accent
	ColorGreen, ColorYellow, ColorRed = c.Green, c.Yellow, c.Red
	ColorPurple, ColorComment = c.Purple, c.Comment
	initStyles()
}

// CurrentTheme returns the active theme name.
func CurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

func init() {
	InitTheme(ThemeDark)
}

var (
	BaseStyle      lipgloss.Style
	StatusBarStyle lipgloss.Style
	StatusOKStyle  lipgloss.Style
	StatusErrStyle lipgloss.Style
	PanelStyle     lipgloss.Style
	DimStyle       lipgloss.Style
	SearchBoxStyle lipgloss.Style

	LineNumberStyle lipgloss.Style
	MatchLineStyle  lipgloss.Style
	MarkLineStyle   lipgloss.Style
	BothLineStyle   lipgloss.Style
	CursorLineStyle lipgloss.Style

	PickerBoxStyle      lipgloss.Style
	PickerSelectedStyle lipgloss.Style
	PickerDimStyle      lipgloss.Style
)

func initStyles() {
	BaseStyle = lipgloss.NewStyle().Foreground(ColorText).Background(ColorBg)

	StatusBarStyle = lipgloss.NewStyle().
		Foreground(ColorText).
		Background(ColorSurface).
		Padding(0, 1)

	StatusOKStyle = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
	StatusErrStyle = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)

	PanelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	DimStyle = lipgloss.NewStyle().Foreground(ColorComment)

	SearchBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1)

	LineNumberStyle = lipgloss.NewStyle().Foreground(ColorComment)
	MatchLineStyle = lipgloss.NewStyle().Foreground(ColorYellow)
	MarkLineStyle = lipgloss.NewStyle().Foreground(ColorPurple)
	BothLineStyle = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
	CursorLineStyle = lipgloss.NewStyle().Background(ColorSurface).Bold(true)

	PickerBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(1, 2)
	PickerSelectedStyle = lipgloss.NewStyle().
		Background(ColorAccent).
		Foreground(ColorBg).
		Padding(0, 1)
	PickerDimStyle = lipgloss.NewStyle().Foreground(ColorComment).Padding(0, 1)
}
