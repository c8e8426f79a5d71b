package viewerui

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlojansen/logcraft/internal/matchset"
)

func TestInitThemeSwitchesPalette(t *testing.T) {
	InitTheme(ThemeDark)
	darkAccent := ColorAccent
	require.Equal(t, ThemeDark, CurrentTheme())

	InitTheme(ThemeLight)
	require.Equal(t, ThemeLight, CurrentTheme())
	require.NotEqual(t, darkAccent, ColorAccent)

	InitTheme(ThemeDark)
	require.Equal(t, darkAccent, ColorAccent)
}

func TestStyleForLineCoversEveryKind(t *testing.T) {
	require.Equal(t, BaseStyle, styleForLine(matchset.Plain))
	require.Equal(t, MatchLineStyle, styleForLine(matchset.Match))
	require.Equal(t, MarkLineStyle, styleForLine(matchset.Mark))
	require.Equal(t, BothLineStyle, styleForLine(matchset.Both))
}
