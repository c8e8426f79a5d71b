// Package filesource opens the backing file for a log-viewer session,
// exposes its length and byte ranges, and watches it for growth,
// truncation, or disappearance while it is open.
package filesource

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/arlojansen/logcraft/internal/logging"
)

var log = logging.ForComponent(logging.CompFileSource)

// ChangeKind classifies a detected change to the underlying file.
type ChangeKind int

const (
	// Grown means the file got bigger without changing identity.
	Grown ChangeKind = iota
	// Truncated means the file got smaller, or was atomically replaced
	// (reported as Truncated(0) immediately followed by Grown).
	Truncated
	// Vanished means the file no longer exists.
	Vanished
)

func (k ChangeKind) String() string {
	switch k {
	case Grown:
		return "Grown"
	case Truncated:
		return "Truncated"
	case Vanished:
		return "Vanished"
	default:
		return "Unknown"
	}
}

// Change is one notification emitted by a Source.
type Change struct {
	Kind    ChangeKind
	NewSize int64
}

// PollInterval is the default interval at which file metadata is polled,
// in addition to any fsnotify events. Overridable per Source.
const PollInterval = 1 * time.Second

// sameIdentity reports whether a and b refer to the same underlying file
// (device+inode on POSIX), abstracted by os.SameFile.
func sameIdentity(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return false
	}
	return os.SameFile(a, b)
}

// Source owns the open file handle, its poll/watch goroutine, and the
// reader-reservation refcount that keeps cached state alive while a
// consumer (typically the indexer or the search engine) is in the middle of
// using it.
type Source struct {
	path string

	mu       sync.RWMutex
	file     *os.File
	info     os.FileInfo
	size     int64
	vanished bool

	reservations atomic.Int64

	changes chan Change
	done    chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup

	pollInterval time.Duration
	watcher      *fsnotify.Watcher

	readGroup singleflight.Group
}

// Open opens path and starts its background watch loop. The caller must
// call Close when done.
func Open(path string, pollInterval time.Duration) (*Source, error) {
	if pollInterval <= 0 {
		pollInterval = PollInterval
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file source: %w", err)
	}

	s := &Source{
		path:         path,
		file:         f,
		info:         info,
		size:         info.Size(),
		changes:      make(chan Change, 16),
		done:         make(chan struct{}),
		pollInterval: pollInterval,
	}

	// fsnotify is best-effort: some filesystems (network mounts, certain
	// container overlays) don't deliver events reliably, so the poll loop
	// below is the source of truth and fsnotify only makes it react faster.
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(path); err == nil {
			s.watcher = w
		} else {
			w.Close()
			log.Debug("fsnotify_add_failed", "path", path, "error", err.Error())
		}
	} else {
		log.Debug("fsnotify_new_failed", "error", err.Error())
	}

	s.wg.Add(1)
	go s.watchLoop()

	return s, nil
}

// Path returns the path this source was opened with.
func (s *Source) Path() string { return s.path }

// Size returns the last-observed size of the file.
func (s *Source) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Vanished reports whether the file was missing on the last check.
func (s *Source) Vanished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vanished
}

// ReadAt reads length bytes starting at offset. Concurrent reads for the
// exact same (offset, length) pair are coalesced via singleflight, since the
// indexer and the search engine's block producer frequently race to read
// the same freshly-grown tail of the file.
func (s *Source) ReadAt(offset int64, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	key := fmt.Sprintf("%d:%d", offset, length)
	v, err, _ := s.readGroup.Do(key, func() (interface{}, error) {
		s.mu.RLock()
		f := s.file
		vanished := s.vanished
		s.mu.RUnlock()
		if vanished || f == nil {
			return nil, ErrVanished
		}
		buf := make([]byte, length)
		n, err := f.ReadAt(buf, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read file source: %w", err)
		}
		return buf[:n], nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// ErrVanished is returned by ReadAt once the file has been observed to
// disappear.
var ErrVanished = errors.New("filesource: file vanished")

// Reserve declares interest in the file's current contents by incrementing
// a reservation count. Release must be called exactly once per Reserve.
// The count is only reported through Reserved: it does not stop a reopen
// after an identity change from closing the old handle.
func (s *Source) Reserve() { s.reservations.Add(1) }

// Release undoes one Reserve call.
func (s *Source) Release() { s.reservations.Add(-1) }

// Reserved reports whether any reservation is currently outstanding.
func (s *Source) Reserved() bool { return s.reservations.Load() > 0 }

// Changes returns the channel on which change notifications are delivered.
// Consumers should drain it promptly; it is buffered but not unbounded.
func (s *Source) Changes() <-chan Change { return s.changes }

// Close stops the watch loop and closes the file handle.
func (s *Source) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

func (s *Source) watchLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	if s.watcher != nil {
		fsEvents = s.watcher.Events
	}

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkAndNotify()
		case _, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			s.checkAndNotify()
		}
	}
}

// checkAndNotify classifies the current on-disk state against the last
// observed (identity, size) pair, per spec: size grew with unchanged
// identity -> Grown; size shrank with unchanged identity -> Truncated;
// identity changed -> Truncated(0) then Grown(new_size); file absent ->
// Vanished.
func (s *Source) checkAndNotify() {
	newInfo, err := os.Stat(s.path)
	if err != nil {
		s.mu.Lock()
		wasVanished := s.vanished
		s.vanished = true
		s.mu.Unlock()
		if !wasVanished {
			log.Info("file_vanished", "path", s.path)
			s.emit(Change{Kind: Vanished})
		}
		return
	}

	s.mu.Lock()
	prevInfo := s.info
	prevSize := s.size
	wasVanished := s.vanished
	s.mu.Unlock()

	if wasVanished || !sameIdentity(prevInfo, newInfo) {
		// Atomic replace (or a first sighting after Vanished): treat as a
		// truncate-to-zero followed by a grow, and reopen the handle so
		// ReadAt sees the new inode's data.
		s.reopen(newInfo)
		s.emit(Change{Kind: Truncated, NewSize: 0})
		if newInfo.Size() > 0 {
			s.emit(Change{Kind: Grown, NewSize: newInfo.Size()})
		}
		return
	}

	newSize := newInfo.Size()
	if newSize == prevSize {
		return
	}

	s.mu.Lock()
	s.size = newSize
	s.info = newInfo
	s.mu.Unlock()

	if newSize > prevSize {
		log.Debug("file_grown", "path", s.path, "from", prevSize, "to", newSize)
		s.emit(Change{Kind: Grown, NewSize: newSize})
	} else {
		log.Info("file_truncated", "path", s.path, "from", prevSize, "to", newSize)
		s.emit(Change{Kind: Truncated, NewSize: newSize})
	}
}

func (s *Source) reopen(newInfo os.FileInfo) {
	f, err := os.Open(s.path)
	if err != nil {
		log.Warn("reopen_failed", "path", s.path, "error", err.Error())
		return
	}
	s.mu.Lock()
	old := s.file
	s.file = f
	s.info = newInfo
	s.size = newInfo.Size()
	s.vanished = false
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (s *Source) emit(c Change) {
	select {
	case s.changes <- c:
	case <-s.done:
	default:
		// Buffer full: drop the oldest assumption is wrong here (we'd lose
		// an edge), so block briefly instead of silently dropping a
		// structural event like Truncated/Vanished.
		select {
		case s.changes <- c:
		case <-s.done:
		case <-time.After(100 * time.Millisecond):
			log.Warn("change_dropped", "path", s.path, "kind", c.Kind.String())
		}
	}
}
