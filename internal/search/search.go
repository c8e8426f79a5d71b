// Package search implements the filtered-data / search engine: a
// pipelined, multi-threaded regular-expression matcher that reads line
// chunks from a log data facade, farms them out to worker matchers,
// aggregates matches into a sorted result set, reports progress, and
// supports interruption, incremental update on file growth, and a
// persistent set of user-marked lines interleaved with matches.
package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/arlojansen/logcraft/internal/boolexpr"
	"github.com/arlojansen/logcraft/internal/lineindex"
	"github.com/arlojansen/logcraft/internal/linetypes"
	"github.com/arlojansen/logcraft/internal/logdata"
	"github.com/arlojansen/logcraft/internal/logging"
	"github.com/arlojansen/logcraft/internal/matchset"
)

var log = logging.ForComponent(logging.CompSearch)

// ErrSearchTimeout is the lastErr value when the global search timeout
// fires before a search completes.
var ErrSearchTimeout = errors.New("search: timed out")

// Status is the engine's resting or in-progress state.
type Status int

const (
	Idle Status = iota
	Running
	Completed
	Interrupted
	Errored
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Interrupted:
		return "Interrupted"
	case Errored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// Request is a search request, per spec's
// (pattern, case_sensitive, inverse, boolean_combine, plain_text, start_line, end_line).
type Request struct {
	Pattern        string
	CaseSensitive  bool
	Inverse        bool
	BooleanCombine bool
	PlainText      bool
	StartLine      linetypes.LineNumber
	EndLine        linetypes.LineNumber
}

// Config holds the tunables spec.md §6 exposes for the search pipeline.
type Config struct {
	ParallelSearch bool
	PoolSize       int // 0 = derive from hardware
	ChunkLines     int // 0 = DefaultChunkLines
	TimeoutSeconds int // 0 = DefaultTimeoutSeconds
}

const (
	DefaultChunkLines     = 5000
	DefaultTimeoutSeconds = 60
)

func (c Config) chunkLines() int {
	if c.ChunkLines > 0 {
		return c.ChunkLines
	}
	return DefaultChunkLines
}

func (c Config) timeoutSeconds() int {
	if c.TimeoutSeconds > 0 {
		return c.TimeoutSeconds
	}
	return DefaultTimeoutSeconds
}

func (c Config) matcherCount() int {
	if !c.ParallelSearch {
		return 1
	}
	if c.PoolSize > 0 {
		return c.PoolSize
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Engine is the filtered-data / search engine for one file session. It is
// created once per session and destroyed with it.
type Engine struct {
	facade *logdata.Facade
	cfg    Config

	matches *matchset.Set
	marks   *matchset.Set

	generation atomic.Int64

	mu                 sync.Mutex
	startLine, endLine linetypes.LineNumber
	processedWatermark linetypes.LineNumber
	linesProcessed     linetypes.LinesCount
	maxLength          linetypes.LineLength
	status             Status
	lastErr            error
	pattern            string
	cancel             context.CancelFunc
	lastDelivered      *roaring64.Bitmap

	progressLimiter *rate.Limiter
	onProgress      []func(matchCount int, percent int, initialLine linetypes.LineNumber)
	onFinished      []func(status Status)
}

// New creates an Engine bound to facade.
func New(facade *logdata.Facade, cfg Config) *Engine {
	return &Engine{
		facade:          facade,
		cfg:             cfg,
		matches:         matchset.New(),
		marks:           matchset.New(),
		progressLimiter: rate.NewLimiter(rate.Limit(20), 1),
		status:          Idle,
	}
}

// OnProgress registers a callback invoked when the percentage or match
// count increases during a search, at most 20 times a second: an increase
// that arrives while the rate limiter has no token is skipped and is not
// reported later. A completed search always ends with one call at 100%.
// Multiple callbacks may be registered.
func (e *Engine) OnProgress(fn func(matchCount int, percent int, initialLine linetypes.LineNumber)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = append(e.onProgress, fn)
}

// OnFinished registers a callback invoked once per search with its
// terminal status. Multiple callbacks may be registered.
func (e *Engine) OnFinished(fn func(status Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFinished = append(e.onFinished, fn)
}

// Status returns the engine's current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastError returns the error from the most recent Errored search, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// RunSearch cancels any in-flight search, clears the match set, and starts
// a fresh search over [req.StartLine, req.EndLine). Regex/boolean-
// expression compile errors are returned synchronously, per spec.
func (e *Engine) RunSearch(req Request) error {
	factory, err := newMatcherFactory(req)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	gen := e.generation.Add(1)
	e.pattern = req.Pattern
	e.startLine, e.endLine = req.StartLine, req.EndLine
	e.processedWatermark = req.StartLine
	e.linesProcessed = 0
	e.maxLength = 0
	e.status = Running
	e.lastErr = nil
	e.lastDelivered = nil
	e.mu.Unlock()

	e.matches.Clear()

	go e.run(gen, req, factory, req.StartLine, req.EndLine)
	return nil
}

// UpdateSearch continues an existing search from resumeFrom when the file
// has grown, preserving existing matches below resumeFrom. The line at
// resumeFrom-1 is always re-matched (it may have been rewritten when its
// trailing newline arrived) — see DESIGN.md's resolution of spec.md's
// open question (a).
func (e *Engine) UpdateSearch(req Request, resumeFrom linetypes.LineNumber) error {
	factory, err := newMatcherFactory(req)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	actualStart := resumeFrom
	if resumeFrom > 0 {
		actualStart = resumeFrom - 1
		e.matches.Remove(actualStart)
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	gen := e.generation.Add(1)
	e.pattern = req.Pattern
	e.startLine, e.endLine = actualStart, req.EndLine
	e.processedWatermark = actualStart
	e.linesProcessed = 0
	e.status = Running
	e.lastErr = nil
	e.mu.Unlock()

	go e.run(gen, req, factory, actualStart, req.EndLine)
	return nil
}

// ClearSearch discards matches. dropCache also forgets the pattern.
func (e *Engine) ClearSearch(dropCache bool) {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.generation.Add(1)
	e.status = Idle
	if dropCache {
		e.pattern = ""
	}
	e.mu.Unlock()
	e.matches.Clear()
}

// Interrupt cooperatively cancels any in-flight search. Idempotent.
func (e *Engine) Interrupt() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AddMark pins line.
func (e *Engine) AddMark(line linetypes.LineNumber) { e.marks.Add(line) }

// ToggleMark flips line's pinned state and returns the new state.
func (e *Engine) ToggleMark(line linetypes.LineNumber) bool { return e.marks.Toggle(line) }

// ClearMarks unpins every line.
func (e *Engine) ClearMarks() { e.marks.Clear() }

// MatchedLine returns the absolute line number of the k-th match.
func (e *Engine) MatchedLine(k uint64) (linetypes.LineNumber, bool) { return e.matches.Nth(k) }

// MatchCount returns the current match set's cardinality.
func (e *Engine) MatchCount() linetypes.LinesCount { return e.matches.Cardinality() }

// LineType classifies n against the match set and marks.
func (e *Engine) LineType(n linetypes.LineNumber) matchset.Kind {
	return matchset.LineType(e.matches, e.marks, n)
}

// ResultsSinceLastCall returns the matches added since the previous call
// (or since the search started, on the first call), the max length
// observed so far, and the number of lines processed so far — an
// incremental diff-delivery protocol for a UI that polls.
func (e *Engine) ResultsSinceLastCall() (newMatches *roaring64.Bitmap, maxLength linetypes.LineLength, linesProcessed linetypes.LinesCount) {
	e.mu.Lock()
	prev := e.lastDelivered
	maxLength = e.maxLength
	linesProcessed = e.linesProcessed
	e.mu.Unlock()

	diff := e.matches.Diff(prev)

	e.mu.Lock()
	e.lastDelivered = e.matches.Snapshot()
	e.mu.Unlock()

	return diff, maxLength, linesProcessed
}

// DropMatchesFrom removes matches and marks at or above line offset when
// the underlying file shrinks out from under a live search, per spec.md
// §8's truncation boundary behaviour. Wired by the engine package to
// filewatch's OnTruncate hook.
func (e *Engine) DropMatchesFrom(offset linetypes.LineNumber) {
	e.matches.RemoveGreaterOrEqual(offset)
	e.marks.RemoveGreaterOrEqual(offset)
}

// --- pipeline ---

type chunkToken struct {
	start linetypes.LineNumber
	lines []string
}

type partialResult struct {
	start     linetypes.LineNumber
	matches   []linetypes.LineNumber
	maxLen    linetypes.LineLength
	processed linetypes.LinesCount
}

func (e *Engine) run(gen int64, req Request, factory matcherFactory, start, end linetypes.LineNumber) {
	parent := context.Background()
	ctx, cancel := contextWithOptionalTimeout(parent, e.cfg.timeoutSeconds())

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	matcherCount := e.cfg.matcherCount()
	prefetch := 3 * matcherCount
	chunkCh := make(chan chunkToken, prefetch)
	resultCh := make(chan partialResult, prefetch)

	var bytesRead atomic.Int64
	startedAt := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.produce(gctx, chunkCh, req, start, end, &bytesRead) })

	var matcherWG sync.WaitGroup
	for i := 0; i < matcherCount; i++ {
		matcherWG.Add(1)
		g.Go(func() error {
			defer matcherWG.Done()
			return e.matchLoop(gctx, chunkCh, resultCh, factory, req)
		})
	}
	go func() {
		matcherWG.Wait()
		close(resultCh)
	}()

	e.combine(gen, resultCh, start, end)

	err := g.Wait()
	e.finalize(gen, err, searchPerf{
		duration:     time.Since(startedAt),
		matcherCount: matcherCount,
		bytesRead:    bytesRead.Load(),
	})
}

// searchPerf carries the lines/s, MiB/s, and matcher-pool size the original
// klogg core logged on doSearch completion (LOG_INFO << "Searching perf...").
type searchPerf struct {
	duration     time.Duration
	matcherCount int
	bytesRead    int64
}

func contextWithOptionalTimeout(parent context.Context, seconds int) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, time.Duration(seconds)*time.Second)
}

func (e *Engine) produce(ctx context.Context, out chan<- chunkToken, req Request, start, end linetypes.LineNumber, bytesRead *atomic.Int64) error {
	defer close(out)
	chunkLines := e.cfg.chunkLines()
	for cur := start; cur < end; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		remaining := uint64(end - cur)
		n := chunkLines
		if uint64(n) > remaining {
			n = int(remaining)
		}
		lines, err := e.facade.LinesRaw(cur, linetypes.LinesCount(n))
		if err != nil {
			if errors.Is(err, logdata.ErrLineOutOfRange) {
				// The file shrank under us mid-read (spec §8 truncation
				// during search): whatever lines were read before hitting
				// the new end-of-file are still valid, so drain them and
				// stop cleanly instead of failing the whole pipeline.
				if len(lines) == 0 {
					return nil
				}
			} else {
				return fmt.Errorf("search: block producer: %w", err)
			}
		}
		if len(lines) == 0 {
			return nil
		}

		var chunkBytes int64
		for _, l := range lines {
			chunkBytes += int64(len(l)) + 1
		}
		bytesRead.Add(chunkBytes)

		select {
		case out <- chunkToken{start: cur, lines: lines}:
		case <-ctx.Done():
			return ctx.Err()
		}

		cur = cur.Add(linetypes.LinesCount(len(lines)))
		if len(lines) < n {
			return nil
		}
	}
	return nil
}

func (e *Engine) matchLoop(ctx context.Context, in <-chan chunkToken, out chan<- partialResult, factory matcherFactory, req Request) error {
	m, err := factory()
	if err != nil {
		return fmt.Errorf("search: matcher init: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tok, ok := <-in:
			if !ok {
				return nil
			}
			var matches []linetypes.LineNumber
			var maxLen linetypes.LineLength
			for i, line := range tok.lines {
				matched := m.Eval(line)
				if req.Inverse {
					matched = !matched
				}
				if !matched {
					continue
				}
				ln := tok.start.Add(linetypes.LinesCount(i))
				matches = append(matches, ln)
				maxLen = maxLen.Max(lineindex.DisplayLength([]byte(line)))
			}
			select {
			case out <- partialResult{start: tok.start, matches: matches, maxLen: maxLen, processed: linetypes.LinesCount(len(tok.lines))}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// combine is the single-threaded match combiner + progress reporter
// (stages 3-5): it reorders partial results by chunk start so matches are
// folded into the match set in ascending line-number order regardless of
// matcher completion order.
func (e *Engine) combine(gen int64, in <-chan partialResult, start, end linetypes.LineNumber) {
	pending := make(map[linetypes.LineNumber]partialResult)
	nextExpected := start
	total := uint64(end - start)
	lastPercent, lastMatchCount := -1, -1

	for r := range in {
		if e.generation.Load() != gen {
			// A newer RunSearch/UpdateSearch has already started and
			// Clear()ed the match set; this combiner's generation is dead,
			// so drain the channel without touching shared state instead
			// of racing the new generation's own combiner into e.matches.
			continue
		}
		pending[r.start] = r
		for {
			pr, ok := pending[nextExpected]
			if !ok {
				break
			}
			delete(pending, nextExpected)

			for _, ln := range pr.matches {
				e.matches.Add(ln)
				logging.Aggregate(logging.CompSearch, "match_found")
			}
			nextExpected = nextExpected.Add(pr.processed)

			e.mu.Lock()
			e.processedWatermark = nextExpected
			e.linesProcessed += pr.processed
			e.maxLength = e.maxLength.Max(pr.maxLen)
			e.mu.Unlock()

			if e.generation.Load() != gen {
				break
			}

			pct := 0
			if total > 0 {
				pct = int(uint64(nextExpected-start) * 100 / total)
				if pct > 99 {
					pct = 99
				}
			}
			mc := int(e.matches.Cardinality())
			if pct > lastPercent || mc > lastMatchCount {
				lastPercent, lastMatchCount = pct, mc
				if e.progressLimiter.Allow() {
					e.reportProgress(gen, mc, pct, start)
				}
			}
		}
	}
}

func (e *Engine) reportProgress(gen int64, matchCount, percent int, initialLine linetypes.LineNumber) {
	e.mu.Lock()
	fns := e.onProgress
	e.mu.Unlock()
	if e.generation.Load() != gen {
		return
	}
	for _, fn := range fns {
		fn(matchCount, percent, initialLine)
	}
}

func (e *Engine) finalize(gen int64, pipelineErr error, perf searchPerf) {
	if e.generation.Load() != gen {
		return
	}

	e.mu.Lock()
	var finalStatus Status
	switch {
	case errors.Is(pipelineErr, context.Canceled):
		finalStatus = Interrupted
	case errors.Is(pipelineErr, context.DeadlineExceeded):
		finalStatus = Errored
		e.lastErr = ErrSearchTimeout
	case pipelineErr != nil:
		finalStatus = Errored
		e.lastErr = pipelineErr
	default:
		finalStatus = Completed
	}
	e.status = finalStatus
	onFinished := e.onFinished
	onProgress := e.onProgress
	startLine := e.startLine
	e.mu.Unlock()

	// Generic pipeline-stage failures clear the match set (spec's failure
	// semantics); timeouts and interrupts retain the partial match set.
	if finalStatus == Errored && !errors.Is(pipelineErr, context.DeadlineExceeded) {
		e.matches.Clear()
		log.Error("search_failed", "error", pipelineErr.Error())
	}

	if finalStatus == Completed {
		for _, fn := range onProgress {
			fn(int(e.matches.Cardinality()), 100, startLine)
		}
	}

	secs := perf.duration.Seconds()
	var linesPerSec, mibPerSec float64
	if secs > 0 {
		e.mu.Lock()
		processed := e.linesProcessed
		e.mu.Unlock()
		linesPerSec = float64(processed) / secs
		mibPerSec = float64(perf.bytesRead) / (1024 * 1024) / secs
	}
	log.Info("search_finished",
		"status", finalStatus.String(),
		"duration_ms", perf.duration.Milliseconds(),
		"matcher_count", perf.matcherCount,
		"lines_per_sec", linesPerSec,
		"mib_per_sec", mibPerSec,
	)
	for _, fn := range onFinished {
		fn(finalStatus)
	}
}

// --- matcher construction ---

type matcherFactory func() (boolexpr.Matcher, error)

func newMatcherFactory(req Request) (matcherFactory, error) {
	pattern := req.Pattern
	if req.PlainText {
		pattern = regexp.QuoteMeta(pattern)
	}

	var factory matcherFactory
	if req.BooleanCombine {
		factory = func() (boolexpr.Matcher, error) { return boolexpr.Parse(pattern, req.CaseSensitive) }
	} else {
		final := pattern
		if !req.CaseSensitive {
			final = "(?i)" + final
		}
		factory = func() (boolexpr.Matcher, error) {
			re, err := regexp.Compile(final)
			if err != nil {
				return nil, err
			}
			return regexMatcher{re}, nil
		}
	}

	// Validate synchronously: regex-invalid errors must be reported to the
	// caller of RunSearch/UpdateSearch directly, not discovered later on a
	// background goroutine.
	if _, err := factory(); err != nil {
		return nil, err
	}
	return factory, nil
}

type regexMatcher struct{ re *regexp.Regexp }

func (r regexMatcher) Eval(line string) bool { return r.re.MatchString(line) }
