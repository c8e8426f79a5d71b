package viewerui

import (
	"context"
	"sync"

	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/arlojansen/logcraft/internal/logging"
)

var uiLog = logging.ForComponent(logging.CompUI)

// ThemeWatcher forwards OS dark-mode toggles onto a buffered channel so the
// tea.Program can fold them into its normal Update loop instead of racing
// InitTheme from a background goroutine.
type ThemeWatcher struct {
	changeCh  chan bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewThemeWatcher starts watching the OS dark-mode setting. Returns nil if
// the platform doesn't support it; callers should fall back to whatever
// theme was requested on the command line.
func NewThemeWatcher(parentCtx context.Context) *ThemeWatcher {
	ctx, cancel := context.WithCancel(parentCtx)

	events, errs, err := dark.WatchDarkMode(ctx)
	if err != nil {
		cancel()
		uiLog.Warn("theme_watcher_init_failed", "error", err.Error())
		return nil
	}

	tw := &ThemeWatcher{
		changeCh: make(chan bool, 1),
		closeCh:  make(chan struct{}),
	}
	go tw.watchLoop(ctx, cancel, events, errs)
	return tw
}

func (tw *ThemeWatcher) watchLoop(ctx context.Context, cancel context.CancelFunc, events <-chan bool, errs <-chan error) {
	defer cancel()
	for {
		select {
		case <-tw.closeCh:
			return
		case isDark, ok := <-events:
			if !ok {
				return
			}
			select {
			case tw.changeCh <- isDark:
			default:
			}
		case err, ok := <-errs:
			if ok && err != nil {
				uiLog.Warn("theme_watcher_error", "error", err.Error())
			}
		}
	}
}

// ChangeChannel receives true for dark, false for light.
func (tw *ThemeWatcher) ChangeChannel() <-chan bool {
	return tw.changeCh
}

// Close stops the watcher goroutine. Safe to call more than once.
func (tw *ThemeWatcher) Close() {
	tw.closeOnce.Do(func() { close(tw.closeCh) })
}
