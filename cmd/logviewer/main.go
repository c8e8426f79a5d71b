// Command logviewer is a terminal demo of the engine: it loads one file,
// renders it with live tailing, lets you run a regex search, mark lines,
// and replay a pattern from history, optionally persisting marks and
// pattern history to a local SQLite database, pushing a notification when
// a search finishes, and mirroring the same session's progress/search
// events over a websocket for a remote caller.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/arlojansen/logcraft/internal/appstore"
	"github.com/arlojansen/logcraft/internal/config"
	"github.com/arlojansen/logcraft/internal/engine"
	"github.com/arlojansen/logcraft/internal/filesource"
	"github.com/arlojansen/logcraft/internal/linetypes"
	"github.com/arlojansen/logcraft/internal/logdata"
	"github.com/arlojansen/logcraft/internal/logging"
	"github.com/arlojansen/logcraft/internal/notify"
	"github.com/arlojansen/logcraft/internal/search"
	"github.com/arlojansen/logcraft/internal/viewerui"
	"github.com/arlojansen/logcraft/internal/webstream"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a logcraft.toml config file")
		dbPath     = flag.String("db", defaultStatePath("marks.db"), "sqlite path for marks/pattern history (empty disables persistence)")
		themeFlag  = flag.String("theme", "auto", "dark, light, or auto (follow the OS)")
		debugLog   = flag.String("log-dir", "", "write JSON logs under this directory (empty discards them)")
		notifyFlag = flag.Bool("notify", false, "push a web-notification when a search finishes")
		vapidPath  = flag.String("vapid", defaultStatePath("vapid.json"), "VAPID keypair path, used only with -notify")
		subject    = flag.String("notify-subject", "mailto:logviewer@example.invalid", "VAPID subject, used only with -notify")
		webAddr    = flag.String("web", "", "also serve this engine session's progress/search events over websocket at ws://<addr>/ws (empty disables)")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: logviewer [flags] <file>")
		os.Exit(1)
	}
	path, err := filepath.Abs(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "error: logviewer requires an interactive terminal")
		os.Exit(1)
	}

	initColorProfile()

	logging.Init(logging.Config{
		Debug:      *debugLog != "",
		LogDir:     *debugLog,
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  10,
		MaxBackups: 3,
	})
	defer logging.Shutdown()

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	var store *appstore.Store
	if *dbPath != "" {
		store, err = appstore.Open(*dbPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "warning: appstore disabled:", err)
			store = nil
		} else {
			if err := store.Migrate(); err != nil {
				fmt.Fprintln(os.Stderr, "warning: appstore disabled:", err)
				_ = store.Close()
				store = nil
			}
		}
	}
	if store != nil {
		defer store.Close()
	}

	var notifier *notify.Notifier
	if *notifyFlag {
		pub, priv, _, err := notify.EnsureVAPIDKeys(*vapidPath, *subject)
		if err != nil {
			fmt.Fprintln(os.Stderr, "warning: notifications disabled:", err)
		} else {
			subStore := notify.NewStore(defaultStatePath("push-subscriptions.json"))
			sender := notify.NewVAPIDSender(*subject, pub, priv)
			notifier = notify.New(subStore, sender)
		}
	}

	eng := engine.New(cfg)
	defer eng.Close()

	var webSrv *http.Server
	if *webAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", webstream.Handler(eng))
		webSrv = &http.Server{Addr: *webAddr, Handler: mux}
		go func() {
			if err := webSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintln(os.Stderr, "warning: web listener stopped:", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			_ = webSrv.Shutdown(shutdownCtx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var tw *viewerui.ThemeWatcher
	switch *themeFlag {
	case "dark":
		viewerui.InitTheme(viewerui.ThemeDark)
	case "light":
		viewerui.InitTheme(viewerui.ThemeLight)
	default:
		tw = viewerui.NewThemeWatcher(ctx)
	}

	model := viewerui.New(eng, store, notifier, tw, path)
	p := tea.NewProgram(model, tea.WithAltScreen())

	eng.OnProgress(func(percent int) { p.Send(viewerui.LoadProgressMsg{Percent: percent}) })
	eng.OnFinished(func(r logdata.LoadResult) { p.Send(viewerui.LoadFinishedMsg{Result: r}) })
	eng.OnFileChanged(func(kind filesource.ChangeKind) { p.Send(viewerui.FileChangedMsg{Kind: kind}) })
	eng.OnSearchProgress(func(matchCount, percent int, initialLine linetypes.LineNumber) {
		p.Send(viewerui.SearchProgressMsg{MatchCount: matchCount, Percent: percent, InitialLine: initialLine})
	})
	eng.OnSearchFinished(func(status search.Status) { p.Send(viewerui.SearchFinishedMsg{Status: status}) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		p.Quit()
	}()

	// SIGUSR1 dumps the ring buffer for post-mortem debugging.
	usr1Ch := make(chan os.Signal, 1)
	signal.Notify(usr1Ch, syscall.SIGUSR1)
	go func() {
		for range usr1Ch {
			dumpPath := defaultStatePath(fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				logging.ForComponent(logging.CompUI).Error("crash_dump_failed", "error", err.Error())
			} else {
				logging.ForComponent(logging.CompUI).Info("crash_dump_written", "path", dumpPath)
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	model.Close(ctx)
}

// initColorProfile applies a LOGVIEWER_COLOR override of the color
// profile; with no recognised value it leaves lipgloss's own detection.
func initColorProfile() {
	switch os.Getenv("LOGVIEWER_COLOR") {
	case "truecolor", "true", "24bit":
		lipgloss.SetColorProfile(termenv.TrueColor)
	case "256", "ansi256":
		lipgloss.SetColorProfile(termenv.ANSI256)
	case "16", "ansi", "basic":
		lipgloss.SetColorProfile(termenv.ANSI)
	case "none", "off", "ascii":
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// defaultStatePath returns ~/.logcraft/<name>, creating the directory.
func defaultStatePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	dir := filepath.Join(home, ".logcraft")
	_ = os.MkdirAll(dir, 0o700)
	return filepath.Join(dir, name)
}
