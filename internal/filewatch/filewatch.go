// Package filewatch drives the indexer and file source off the change
// notifications the file source emits: Grown triggers an incremental
// re-index, Truncated rolls the offset table back and reports the new
// size to any interested match-set owner, Vanished parks the watcher in a
// resting state until the file reappears.
package filewatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/arlojansen/logcraft/internal/filesource"
	"github.com/arlojansen/logcraft/internal/linetypes"
	"github.com/arlojansen/logcraft/internal/logdata"
	"github.com/arlojansen/logcraft/internal/logging"
)

var log = logging.ForComponent(logging.CompFileWatch)

// DefaultReindexRate caps how many Grown-triggered incremental re-index
// passes run per second, so a write storm (many small appends) doesn't
// turn into one IndexAdditional call per write.
const DefaultReindexRate = 20

// Watcher listens to one logdata.Facade's underlying file source and
// drives its indexer in response to structural changes.
type Watcher struct {
	facade  *logdata.Facade
	limiter *rate.Limiter

	mu         sync.Mutex
	onChanged  func(filesource.ChangeKind)
	onTruncate func(newOffset linetypes.LineOffset)
	onVanished func()

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Watcher for facade. It does not start listening until
// Start is called.
func New(facade *logdata.Facade) *Watcher {
	return &Watcher{
		facade:  facade,
		limiter: rate.NewLimiter(rate.Limit(DefaultReindexRate), DefaultReindexRate),
		done:    make(chan struct{}),
	}
}

// OnFileChanged registers a callback invoked for every change notification
// (fired after the state machine has already reacted to it).
func (w *Watcher) OnFileChanged(fn func(filesource.ChangeKind)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChanged = fn
}

// OnTruncate registers a callback invoked with the new end offset whenever
// the file shrinks, so a search engine can drop matches at or above it.
func (w *Watcher) OnTruncate(fn func(newOffset linetypes.LineOffset)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onTruncate = fn
}

// OnVanished registers a callback invoked whenever the file disappears.
func (w *Watcher) OnVanished(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onVanished = fn
}

// Start begins listening for change notifications from the facade's
// current file source on a background goroutine. Each call starts another
// such goroutine; there is no guard against repeated calls.
func (w *Watcher) Start() {
	src := w.facade.Source()
	if src == nil {
		log.Warn("start_with_no_source")
		return
	}
	w.wg.Add(1)
	go w.loop(src)
}

func (w *Watcher) loop(src *filesource.Source) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case change, ok := <-src.Changes():
			if !ok {
				return
			}
			w.handle(change)
		}
	}
}

func (w *Watcher) handle(c filesource.Change) {
	switch c.Kind {
	case filesource.Grown:
		w.handleGrown()
	case filesource.Truncated:
		w.handleTruncated(c.NewSize)
	case filesource.Vanished:
		w.handleVanished()
	}

	w.mu.Lock()
	onChanged := w.onChanged
	w.mu.Unlock()
	if onChanged != nil {
		onChanged(c.Kind)
	}
}

func (w *Watcher) handleGrown() {
	idx := w.facade.Indexer()
	if idx == nil {
		return
	}
	// Throttle bursts of small appends into a bounded re-index rate; a
	// short-lived burst still gets serviced, it just won't re-index on
	// every single write.
	_ = w.limiter.Wait(context.Background())

	from := idx.Snapshot().EndOffset()
	if err := idx.IndexAdditional(from, nil); err != nil {
		log.Error("reindex_additional_failed", "from", int64(from), "error", err.Error())
	}
}

func (w *Watcher) handleTruncated(newSize int64) {
	idx := w.facade.Indexer()
	if idx == nil {
		return
	}
	newOffset := linetypes.LineOffset(newSize)
	idx.TruncateTo(newOffset)

	w.mu.Lock()
	onTruncate := w.onTruncate
	w.mu.Unlock()
	if onTruncate != nil {
		onTruncate(newOffset)
	}
	log.Info("truncated", "new_size", newSize)
}

func (w *Watcher) handleVanished() {
	w.mu.Lock()
	onVanished := w.onVanished
	w.mu.Unlock()
	if onVanished != nil {
		onVanished()
	}
	log.Info("vanished")
}

// Close stops the watch loop. Idempotent.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
	return nil
}
