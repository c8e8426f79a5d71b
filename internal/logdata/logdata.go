// Package logdata implements the log data facade: it owns a file source
// and a line indexer for one file session, decodes line bytes through a
// caller-selected codec and an optional prefilter regex, and serves
// random-access line queries to the search engine and to views.
package logdata

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/arlojansen/logcraft/internal/codec"
	"github.com/arlojansen/logcraft/internal/filesource"
	"github.com/arlojansen/logcraft/internal/lineindex"
	"github.com/arlojansen/logcraft/internal/linetypes"
	"github.com/arlojansen/logcraft/internal/logging"
)

var log = logging.ForComponent(logging.CompLogData)

// ErrLineOutOfRange is returned by rawBytes/LineString/LineRaw when n is
// beyond the indexer's current line count, e.g. because the file was
// truncated out from under an in-flight reader.
var ErrLineOutOfRange = errors.New("logdata: line out of range")

// Status is the terminal state of a Load/Reload pass.
type Status int

const (
	Successful Status = iota
	Interrupted
	NoMemory
	ErrorReading
	ErrorEncoding
	FileNotFound
)

func (s Status) String() string {
	switch s {
	case Successful:
		return "Successful"
	case Interrupted:
		return "Interrupted"
	case NoMemory:
		return "NoMemory"
	case ErrorReading:
		return "ErrorReading"
	case ErrorEncoding:
		return "ErrorEncoding"
	case FileNotFound:
		return "FileNotFound"
	default:
		return "Unknown"
	}
}

// LoadResult is delivered to the onFinished callback passed to Load/Reload.
type LoadResult struct {
	Status Status
	Err    error
}

// Facade owns one file session's source and indexer, and serves decoded
// line queries.
type Facade struct {
	path         string
	blockBytes   int
	pollInterval time.Duration

	mu     sync.RWMutex // guards source/indexer swap during Load/Reload
	source *filesource.Source
	index  *lineindex.Indexer

	codec     *codec.Atomic
	prefilter atomic.Pointer[regexp.Regexp]

	generation atomic.Int64 // bumped on each Load/Reload, stale goroutines self-cancel
	loading    atomic.Bool
}

// New creates an unloaded facade. blockBytes is the indexer's I/O block
// size; 0 selects lineindex.DefaultBlockBytes. pollInterval is how often
// the file watcher checks file metadata for changes; 0 selects
// filesource.PollInterval.
func New(blockBytes int, pollInterval time.Duration) *Facade {
	defaultCodec, _ := codec.ByName("utf-8")
	if pollInterval <= 0 {
		pollInterval = filesource.PollInterval
	}
	return &Facade{
		blockBytes:   blockBytes,
		pollInterval: pollInterval,
		index:        lineindex.New(blockBytes),
		codec:        codec.NewAtomic(defaultCodec),
	}
}

// Load opens path and indexes it from scratch, asynchronously. onProgress
// (may be nil) receives percentages in [0,100]; onFinished (may be nil) is
// called once with the terminal result, unless a later Load/Reload
// supersedes this one first, in which case it is not called at all.
func (f *Facade) Load(path string, onProgress func(int), onFinished func(LoadResult)) {
	f.mu.Lock()
	f.path = path
	gen := f.generation.Add(1)
	f.mu.Unlock()

	f.loading.Store(true)
	go f.runLoad(gen, path, onProgress, onFinished)
}

// Reload re-opens the current path and re-indexes from scratch.
func (f *Facade) Reload(onProgress func(int), onFinished func(LoadResult)) {
	f.mu.RLock()
	path := f.path
	f.mu.RUnlock()
	if path == "" {
		if onFinished != nil {
			onFinished(LoadResult{Status: FileNotFound, Err: errors.New("logdata: no path loaded yet")})
		}
		return
	}
	f.Load(path, onProgress, onFinished)
}

func (f *Facade) runLoad(gen int64, path string, onProgress func(int), onFinished func(LoadResult)) {
	defer f.loading.Store(false)

	src, err := filesource.Open(path, f.pollInterval)
	if err != nil {
		status := ErrorReading
		if errors.Is(err, os.ErrNotExist) {
			status = FileNotFound
		}
		log.Error("load_failed", "path", path, "error", err.Error())
		if onFinished != nil {
			onFinished(LoadResult{Status: status, Err: err})
		}
		return
	}

	idx := lineindex.New(f.blockBytes)
	idx.Attach(src, f.codec.Load().Newline)

	f.mu.Lock()
	if f.generation.Load() != gen {
		f.mu.Unlock()
		src.Close()
		return
	}
	oldSource := f.source
	f.source = src
	f.index = idx
	f.mu.Unlock()
	if oldSource != nil {
		oldSource.Close()
	}

	err = idx.IndexAll(onProgress)

	f.mu.RLock()
	stale := f.generation.Load() != gen
	f.mu.RUnlock()
	if stale {
		return
	}

	result := LoadResult{Status: Successful}
	switch {
	case err != nil:
		result.Status = ErrorReading
		result.Err = err
	case idx.Status() == lineindex.Errored:
		result.Status = ErrorReading
		result.Err = idx.LastError()
	}
	log.Info("load_finished", "path", path, "status", result.Status.String())
	if onFinished != nil {
		onFinished(result)
	}
}

// Interrupt cooperatively cancels an in-progress Load/Reload.
func (f *Facade) Interrupt() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index != nil {
		f.index.Interrupt()
	}
}

// IsLoading reports whether a Load/Reload is in progress.
func (f *Facade) IsLoading() bool { return f.loading.Load() }

// LineCount returns the current fully-indexed line count.
func (f *Facade) LineCount() linetypes.LinesCount {
	f.mu.RLock()
	idx := f.index
	f.mu.RUnlock()
	return idx.Snapshot().LineCount()
}

// MaxLength returns the longest line's display length so far.
func (f *Facade) MaxLength() linetypes.LineLength {
	f.mu.RLock()
	idx := f.index
	f.mu.RUnlock()
	return idx.Snapshot().MaxLength()
}

// LineLength returns the display length of line n.
func (f *Facade) LineLength(n linetypes.LineNumber) (linetypes.LineLength, error) {
	s, err := f.LineString(n)
	if err != nil {
		return 0, err
	}
	return lineindex.DisplayLength([]byte(s)), nil
}

// rawBytes fetches line n's raw, un-decoded bytes (terminator stripped).
func (f *Facade) rawBytes(n linetypes.LineNumber) ([]byte, error) {
	f.mu.RLock()
	src, idx := f.source, f.index
	f.mu.RUnlock()
	if src == nil || idx == nil {
		return nil, fmt.Errorf("logdata: no file loaded")
	}
	start, end, ok := idx.Snapshot().LineRange(n)
	if !ok {
		return nil, fmt.Errorf("logdata: line %d: %w", n, ErrLineOutOfRange)
	}
	return src.ReadAt(int64(start), int(end-start))
}

// decode runs the full display pipeline: codec -> prefilter -> (optional)
// tab expansion.
func (f *Facade) decode(raw []byte, expandTabs bool) string {
	c := f.codec.Load()
	s := c.Decode(stripTerminator(raw, c.Newline))
	if pf := f.prefilter.Load(); pf != nil {
		s = pf.ReplaceAllString(s, "")
	}
	if expandTabs {
		s = expandTabsTo8(s)
	}
	return s
}

// stripTerminator removes the newline sequence from a line's raw bytes.
// LineRange's end offset is the start of the next line, so raw includes
// before_cr bytes + '\n' + after_cr bytes as its trailing terminator.
func stripTerminator(raw []byte, nl lineindex.NewlineOffsets) []byte {
	n := len(raw)
	strip := nl.BeforeCR + 1 + nl.AfterCR
	if n < strip {
		return raw
	}
	return raw[:n-strip]
}

// LineString returns line n decoded and tab-expanded for display.
func (f *Facade) LineString(n linetypes.LineNumber) (string, error) {
	raw, err := f.rawBytes(n)
	if err != nil {
		return "", err
	}
	return f.decode(raw, true), nil
}

// LineRaw returns line n decoded (prefilter applied) but without tab
// expansion, for matcher input.
func (f *Facade) LineRaw(n linetypes.LineNumber) (string, error) {
	raw, err := f.rawBytes(n)
	if err != nil {
		return "", err
	}
	return f.decode(raw, false), nil
}

// Lines returns count display strings starting at first.
func (f *Facade) Lines(first linetypes.LineNumber, count linetypes.LinesCount) ([]string, error) {
	out := make([]string, 0, count)
	for i := linetypes.LinesCount(0); i < count; i++ {
		s, err := f.LineString(first.Add(i))
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

// LinesRaw returns count matcher-input strings starting at first.
func (f *Facade) LinesRaw(first linetypes.LineNumber, count linetypes.LinesCount) ([]string, error) {
	out := make([]string, 0, count)
	for i := linetypes.LinesCount(0); i < count; i++ {
		s, err := f.LineRaw(first.Add(i))
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

// SetDisplayEncoding selects the codec by name. Invalidates nothing about
// the offset table; only future decode calls see the new codec.
func (f *Facade) SetDisplayEncoding(name string) error {
	c, err := codec.ByName(name)
	if err != nil {
		return fmt.Errorf("logdata: %w", err)
	}
	f.codec.Store(c)
	return nil
}

// DisplayEncoding returns the active codec's name.
func (f *Facade) DisplayEncoding() string { return f.codec.Load().Name }

// SetPrefilter compiles pattern and installs it as the prefilter; an empty
// pattern disables prefiltering.
func (f *Facade) SetPrefilter(pattern string) error {
	if pattern == "" {
		f.prefilter.Store(nil)
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("logdata: invalid prefilter: %w", err)
	}
	f.prefilter.Store(re)
	return nil
}

// Snapshot exposes the underlying indexer snapshot, for the search engine's
// block producer to compute chunk ranges without a facade round-trip per
// line.
func (f *Facade) Snapshot() *lineindex.Snapshot {
	f.mu.RLock()
	idx := f.index
	f.mu.RUnlock()
	return idx.Snapshot()
}

// Indexer exposes the underlying indexer so the file-watch state machine
// can drive IndexAdditional/TruncateTo directly.
func (f *Facade) Indexer() *lineindex.Indexer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.index
}

// Source exposes the underlying file source so the file-watch state
// machine can subscribe to Changes().
func (f *Facade) Source() *filesource.Source {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.source
}

// AttachReader declares reader interest in the current file by taking one
// reservation on its file source (see filesource.Source.Reserve).
func (f *Facade) AttachReader() {
	f.mu.RLock()
	src := f.source
	f.mu.RUnlock()
	if src != nil {
		src.Reserve()
	}
}

// DetachReader releases a reservation taken by AttachReader.
func (f *Facade) DetachReader() {
	f.mu.RLock()
	src := f.source
	f.mu.RUnlock()
	if src != nil {
		src.Release()
	}
}

// Close releases the underlying file source.
func (f *Facade) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.source == nil {
		return nil
	}
	return f.source.Close()
}

// expandTabsTo8 expands tabs to the next TabStop-column boundary, using
// go-runewidth for wide runes so the resulting string's column width
// matches lineindex.DisplayLength's measurement of the same bytes.
func expandTabsTo8(s string) string {
	const tabStop = lineindex.TabStop
	var b strings.Builder
	col := 0
	for _, r := range s {
		if r == '\t' {
			n := tabStop - (col % tabStop)
			for j := 0; j < n; j++ {
				b.WriteByte(' ')
			}
			col += n
			continue
		}
		b.WriteRune(r)
		col += runewidth.RuneWidth(r)
	}
	return b.String()
}
