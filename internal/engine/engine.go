// Package engine is the single public entry point an enclosing application
// imports: it wires the file source, indexer, log data facade, search
// engine, and file-watch state machine together and exposes spec.md §9's
// observer registration API (OnProgress, OnFinished, OnFileChanged) instead
// of letting any core component hold a pointer back into caller state.
package engine

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/arlojansen/logcraft/internal/config"
	"github.com/arlojansen/logcraft/internal/filesource"
	"github.com/arlojansen/logcraft/internal/filewatch"
	"github.com/arlojansen/logcraft/internal/linetypes"
	"github.com/arlojansen/logcraft/internal/logdata"
	"github.com/arlojansen/logcraft/internal/logging"
	"github.com/arlojansen/logcraft/internal/matchset"
	"github.com/arlojansen/logcraft/internal/search"
)

var log = logging.ForComponent(logging.CompEngine)

// Engine is one file session: a facade, a search engine, and the watcher
// that keeps them in sync with the file on disk.
type Engine struct {
	cfg config.Config

	facade  *logdata.Facade
	search  *search.Engine
	watcher *filewatch.Watcher

	mu            sync.Mutex
	loadProgress  []func(percent int)
	loadFinished  []func(logdata.LoadResult)
	onFileChanged []func(filesource.ChangeKind)
	lastSearchReq search.Request
	hasSearchReq  bool
	lastErr       *Error
}

// New creates an engine with the given configuration. No file is loaded
// yet; call Load.
func New(cfg config.Config) *Engine {
	facade := logdata.New(cfg.Index.BlockBytes, cfg.PollInterval())
	if cfg.DefaultEncoding != "" {
		_ = facade.SetDisplayEncoding(cfg.DefaultEncoding)
	}
	if cfg.PrefilterRegex != "" {
		_ = facade.SetPrefilter(cfg.PrefilterRegex)
	}

	e := &Engine{
		cfg:    cfg,
		facade: facade,
		search: search.New(facade, search.Config{
			ParallelSearch: cfg.Search.ParallelSearch,
			PoolSize:       cfg.Search.PoolSize,
			ChunkLines:     cfg.Search.ChunkLines,
			TimeoutSeconds: cfg.Search.TimeoutSeconds,
		}),
	}
	e.watcher = filewatch.New(facade)
	e.watcher.OnFileChanged(e.handleFileChanged)
	e.watcher.OnTruncate(e.handleTruncate)
	e.watcher.OnVanished(e.handleVanished)
	return e
}

// OnProgress registers a callback invoked during Load/Reload with a
// percentage in [0,100] (spec's loading_progress). Multiple callbacks may
// be registered — e.g. a TUI and a websocket listener sharing one
// session — and all of them fire on every event.
func (e *Engine) OnProgress(fn func(percent int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadProgress = append(e.loadProgress, fn)
}

// OnFinished registers a callback invoked once Load/Reload completes
// (spec's loading_finished). Multiple callbacks may be registered.
func (e *Engine) OnFinished(fn func(logdata.LoadResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadFinished = append(e.loadFinished, fn)
}

// OnFileChanged registers a callback invoked for every file-watch
// notification (spec's file_changed). Multiple callbacks may be registered.
func (e *Engine) OnFileChanged(fn func(filesource.ChangeKind)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFileChanged = append(e.onFileChanged, fn)
}

// OnSearchProgress registers the callback invoked during a search (spec's
// search_progressed).
func (e *Engine) OnSearchProgress(fn func(matchCount, percent int, initialLine linetypes.LineNumber)) {
	e.search.OnProgress(fn)
}

// OnSearchFinished registers the callback invoked once a search reaches a
// terminal state (spec's search_finished).
func (e *Engine) OnSearchFinished(fn func(status search.Status)) {
	e.search.OnFinished(func(s search.Status) { fn(s) })
}

func (e *Engine) handleFileChanged(kind filesource.ChangeKind) {
	e.mu.Lock()
	fns := e.onFileChanged
	e.mu.Unlock()
	for _, fn := range fns {
		fn(kind)
	}

	if kind == filesource.Grown {
		e.mu.Lock()
		req, ok := e.lastSearchReq, e.hasSearchReq
		e.mu.Unlock()
		if ok && e.search.Status() == search.Completed {
			// The previous search's EndLine is exactly where it left off;
			// the indexer has already advanced past it by the time this
			// fires, so facade.LineCount() is the new boundary, not the
			// resume point.
			resumeFrom := req.EndLine
			req.EndLine = linetypes.LineNumber(e.facade.LineCount())
			e.mu.Lock()
			e.lastSearchReq = req
			e.mu.Unlock()
			if err := e.search.UpdateSearch(req, resumeFrom); err != nil {
				e.setLastErr(newError(RegexInvalid, err))
				log.Error("auto_update_search_failed", "error", err.Error())
			}
		}
	}
}

func (e *Engine) handleTruncate(newOffset linetypes.LineOffset) {
	snap := e.facade.Snapshot()
	n := snap.LineCount()
	// Stop any in-flight search before pruning: otherwise the combiner can
	// still be folding matches from beyond the new boundary into the set
	// we're about to prune. Interrupt leaves the partial match set intact
	// (search finalizes Interrupted, not Errored), so DropMatchesFrom is
	// what then prunes it down to the retained lines < n.
	e.search.Interrupt()
	e.search.DropMatchesFrom(linetypes.LineNumber(n))
	e.setLastErr(newError(TruncatedDuringRead, fmt.Errorf("file truncated to offset %d", newOffset)))
	log.Info("truncated_during_read", "line_count", uint64(n))
}

func (e *Engine) handleVanished() {
	log.Warn("file_vanished")
}

// Load opens path, indexes it, and starts the file watcher once indexing
// finishes.
func (e *Engine) Load(path string) {
	e.facade.Load(path, e.progress, e.finished)
}

func (e *Engine) progress(pct int) {
	e.mu.Lock()
	fns := e.loadProgress
	e.mu.Unlock()
	for _, fn := range fns {
		fn(pct)
	}
}

func (e *Engine) finished(r logdata.LoadResult) {
	if r.Status == logdata.Successful {
		e.watcher.Start()
		e.setLastErr(nil)
	} else {
		e.setLastErr(newError(classifyLoadStatus(r.Status), r.Err))
	}
	e.mu.Lock()
	fns := e.loadFinished
	e.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}

// classifyLoadStatus maps logdata's Load/Reload terminal status onto
// spec.md §7's error taxonomy.
func classifyLoadStatus(s logdata.Status) Kind {
	switch s {
	case logdata.Interrupted:
		return Interrupted
	case logdata.NoMemory:
		return OutOfMemory
	case logdata.ErrorReading:
		return ReadFailed
	case logdata.ErrorEncoding:
		return EncodingDecodeError
	case logdata.FileNotFound:
		return FileNotFound
	default:
		return Internal
	}
}

func (e *Engine) setLastErr(err *Error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

// LastError returns the most recently classified failure, or nil if the
// engine's last operation succeeded.
func (e *Engine) LastError() *Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Reload re-opens the current path from scratch.
func (e *Engine) Reload() {
	e.facade.Reload(e.progress, e.finished)
}

// Interrupt cancels an in-progress Load/Reload.
func (e *Engine) Interrupt() { e.facade.Interrupt() }

// LineCount returns the current indexed line count.
func (e *Engine) LineCount() linetypes.LinesCount { return e.facade.LineCount() }

// LineString returns line n, decoded and tab-expanded.
func (e *Engine) LineString(n linetypes.LineNumber) (string, error) { return e.facade.LineString(n) }

// Lines returns count decoded lines starting at first.
func (e *Engine) Lines(first linetypes.LineNumber, count linetypes.LinesCount) ([]string, error) {
	return e.facade.Lines(first, count)
}

// SetDisplayEncoding selects the codec by name.
func (e *Engine) SetDisplayEncoding(name string) error { return e.facade.SetDisplayEncoding(name) }

// SetPrefilter compiles and installs the display/search prefilter.
func (e *Engine) SetPrefilter(pattern string) error { return e.facade.SetPrefilter(pattern) }

// RunSearch starts a fresh search. req.EndLine of 0 means "current end of
// file".
func (e *Engine) RunSearch(req search.Request) error {
	if req.EndLine == 0 {
		req.EndLine = linetypes.LineNumber(e.facade.LineCount())
	}
	e.mu.Lock()
	e.lastSearchReq, e.hasSearchReq = req, true
	e.mu.Unlock()
	if err := e.search.RunSearch(req); err != nil {
		wrapped := newError(RegexInvalid, err)
		e.setLastErr(wrapped)
		return wrapped
	}
	e.setLastErr(nil)
	return nil
}

// UpdateSearch continues a search after file growth.
func (e *Engine) UpdateSearch(req search.Request, resumeFrom linetypes.LineNumber) error {
	e.mu.Lock()
	e.lastSearchReq, e.hasSearchReq = req, true
	e.mu.Unlock()
	if err := e.search.UpdateSearch(req, resumeFrom); err != nil {
		wrapped := newError(RegexInvalid, err)
		e.setLastErr(wrapped)
		return wrapped
	}
	e.setLastErr(nil)
	return nil
}

// ClearSearch discards matches.
func (e *Engine) ClearSearch(dropCache bool) {
	e.mu.Lock()
	if dropCache {
		e.hasSearchReq = false
	}
	e.mu.Unlock()
	e.search.ClearSearch(dropCache)
}

// InterruptSearch cooperatively cancels an in-flight search.
func (e *Engine) InterruptSearch() { e.search.Interrupt() }

// AddMark pins line n.
func (e *Engine) AddMark(n linetypes.LineNumber) { e.search.AddMark(n) }

// ToggleMark flips line n's pinned state.
func (e *Engine) ToggleMark(n linetypes.LineNumber) bool { return e.search.ToggleMark(n) }

// ClearMarks unpins every line.
func (e *Engine) ClearMarks() { e.search.ClearMarks() }

// MatchedLine returns the k-th match's absolute line number.
func (e *Engine) MatchedLine(k uint64) (linetypes.LineNumber, bool) { return e.search.MatchedLine(k) }

// MatchCount returns the current match set's cardinality.
func (e *Engine) MatchCount() linetypes.LinesCount { return e.search.MatchCount() }

// LineType classifies a line against matches and marks.
func (e *Engine) LineType(n linetypes.LineNumber) matchset.Kind { return e.search.LineType(n) }

// ResultsSinceLastCall returns the incremental search-results delta.
func (e *Engine) ResultsSinceLastCall() (newMatches *roaring64.Bitmap, maxLength linetypes.LineLength, linesProcessed linetypes.LinesCount) {
	return e.search.ResultsSinceLastCall()
}

// Close releases the underlying file and stops the watcher.
func (e *Engine) Close() error {
	if err := e.watcher.Close(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return e.facade.Close()
}
