package viewerui

import (
	"github.com/arlojansen/logcraft/internal/filesource"
	"github.com/arlojansen/logcraft/internal/linetypes"
	"github.com/arlojansen/logcraft/internal/logdata"
	"github.com/arlojansen/logcraft/internal/search"
)

// LoadProgressMsg mirrors engine.OnProgress; the caller forwards it via
// tea.Program.Send the same way the teacher's main.go forwards
// session.StartMaintenanceWorker's callback as a MaintenanceCompleteMsg.
type LoadProgressMsg struct{ Percent int }

// LoadFinishedMsg mirrors engine.OnFinished.
type LoadFinishedMsg struct{ Result logdata.LoadResult }

// FileChangedMsg mirrors engine.OnFileChanged.
type FileChangedMsg struct{ Kind filesource.ChangeKind }

// SearchProgressMsg mirrors engine.OnSearchProgress.
type SearchProgressMsg struct {
	MatchCount  int
	Percent     int
	InitialLine linetypes.LineNumber
}

// SearchFinishedMsg mirrors engine.OnSearchFinished.
type SearchFinishedMsg struct{ Status search.Status }

// ThemeChangedMsg is produced by waitForTheme when the OS dark-mode
// setting flips while the program is running.
type ThemeChangedMsg struct{ Dark bool }
