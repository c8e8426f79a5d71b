// Package lineindex streams a file's bytes block by block and maintains
// the ordered table of line-start offsets, publishing a lock-free immutable
// snapshot after every block so concurrent readers never see a torn table.
package lineindex

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-runewidth"

	"github.com/arlojansen/logcraft/internal/linetypes"
	"github.com/arlojansen/logcraft/internal/logging"
)

var log = logging.ForComponent(logging.CompIndex)

// TabStop matches the original klogg core's fixed 8-column tab stop.
const TabStop = 8

// DefaultBlockBytes is the default I/O block size used while scanning
// (spec's index_block_bytes).
const DefaultBlockBytes = 1 << 20 // 1 MiB

// Reader is the minimal interface the indexer needs from a file source:
// current size and the ability to read an arbitrary byte range. It is
// satisfied by *filesource.Source without this package importing it, to
// keep the dependency direction one-way (facade -> filesource, indexer ->
// this narrow interface).
type Reader interface {
	Size() int64
	ReadAt(offset int64, length int) ([]byte, error)
}

// Status describes the indexer's resting state.
type Status int

const (
	// Idle means no scan has run yet, or the last scan completed cleanly.
	Idle Status = iota
	// Running means a scan is in progress.
	Running
	// Errored means the last scan aborted with an I/O error; the
	// already-indexed prefix (visible via Snapshot) remains valid.
	Errored
)

// Snapshot is an immutable view of the offset table at one instant. Never
// mutated after publication: Indexer always swaps in a brand-new Snapshot
// rather than editing one in place, so a reader holding a Snapshot sees a
// internally consistent table for as long as it holds the reference.
type Snapshot struct {
	// starts holds line-start offsets; starts[i] is the start of line i.
	// The final element is the sentinel end-offset of the last fully
	// indexed line, so len(starts) == lineCount+1.
	starts    []linetypes.LineOffset
	maxLength linetypes.LineLength
}

// LineCount returns the number of fully-terminated lines in the snapshot.
func (s *Snapshot) LineCount() linetypes.LinesCount {
	if s == nil || len(s.starts) == 0 {
		return 0
	}
	return linetypes.LinesCount(len(s.starts) - 1)
}

// MaxLength returns the longest untabified line length seen so far.
func (s *Snapshot) MaxLength() linetypes.LineLength {
	if s == nil {
		return 0
	}
	return s.maxLength
}

// LineRange returns the [start, end) byte range of line n. ok is false if n
// is out of range for this snapshot.
func (s *Snapshot) LineRange(n linetypes.LineNumber) (start, end linetypes.LineOffset, ok bool) {
	if s == nil {
		return 0, 0, false
	}
	i := uint64(n)
	if i+1 >= uint64(len(s.starts)) {
		return 0, 0, false
	}
	return s.starts[i], s.starts[i+1], true
}

// EndOffset returns the byte offset immediately after the last fully
// indexed line, i.e. where the next scan should resume.
func (s *Snapshot) EndOffset() linetypes.LineOffset {
	if s == nil || len(s.starts) == 0 {
		return 0
	}
	return s.starts[len(s.starts)-1]
}

// NewlineOffsets describes how many bytes precede/follow the '\n' byte for
// the active encoding family (spec's before_cr/after_cr): 0/0 for
// single-byte encodings, 0/1 for UTF-16LE, 1/0 for UTF-16BE.
type NewlineOffsets struct {
	BeforeCR int
	AfterCR  int
}

// Indexer owns the offset table for one file session.
type Indexer struct {
	mu sync.Mutex // serializes IndexAll/IndexAdditional/TruncateTo/Attach

	source Reader
	nl     NewlineOffsets

	snapshot atomic.Pointer[Snapshot]

	status     atomic.Int32
	lastErr    atomic.Pointer[error]
	interrupt  atomic.Bool
	tailOffset linetypes.LineOffset // start of the not-yet-terminated tail
	blockBytes int
}

// New creates an Indexer with an empty table. Call Attach before indexing.
func New(blockBytes int) *Indexer {
	if blockBytes <= 0 {
		blockBytes = DefaultBlockBytes
	}
	idx := &Indexer{blockBytes: blockBytes}
	idx.snapshot.Store(&Snapshot{starts: []linetypes.LineOffset{0}})
	return idx
}

// Attach replaces the source and newline offsets and discards the existing
// index, per spec.
func (idx *Indexer) Attach(source Reader, nl NewlineOffsets) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.source = source
	idx.nl = nl
	idx.tailOffset = 0
	idx.status.Store(int32(Idle))
	idx.lastErr.Store(nil)
	idx.snapshot.Store(&Snapshot{starts: []linetypes.LineOffset{0}})
}

// Snapshot returns the current immutable view. Safe to call from any
// goroutine concurrently with indexing.
func (idx *Indexer) Snapshot() *Snapshot { return idx.snapshot.Load() }

// Status reports the indexer's resting state.
func (idx *Indexer) Status() Status { return Status(idx.status.Load()) }

// LastError returns the error from the most recent failed scan, if any.
func (idx *Indexer) LastError() error {
	p := idx.lastErr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Interrupt requests cooperative cancellation of any in-progress scan.
// Idempotent; safe to call even with no scan running.
func (idx *Indexer) Interrupt() { idx.interrupt.Store(true) }

func (idx *Indexer) clearInterrupt() { idx.interrupt.Store(false) }
func (idx *Indexer) interrupted() bool { return idx.interrupt.Load() }

// ProgressFunc receives a percentage in [0, 100] during a scan.
type ProgressFunc func(percent int)

// IndexAll performs a full scan from offset 0. Progress is periodic and
// may be nil.
func (idx *Indexer) IndexAll(onProgress ProgressFunc) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.clearInterrupt()
	idx.tailOffset = 0
	idx.snapshot.Store(&Snapshot{starts: []linetypes.LineOffset{0}})
	idx.status.Store(int32(Running))

	err := idx.scanLocked(0, onProgress)
	if err != nil {
		idx.status.Store(int32(Errored))
		idx.lastErr.Store(&err)
		log.Error("index_all_failed", "error", err.Error())
		return err
	}
	idx.status.Store(int32(Idle))
	return nil
}

// IndexAdditional scans from fromOffset to the current end of file,
// appending newly discovered lines to the table. fromOffset should be the
// previous EndOffset (the caller — typically the file-watch state machine
// — is responsible for supplying the correct resume point after a Grown
// notification).
func (idx *Indexer) IndexAdditional(fromOffset linetypes.LineOffset, onProgress ProgressFunc) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.clearInterrupt()
	idx.tailOffset = fromOffset
	idx.status.Store(int32(Running))

	err := idx.scanLocked(fromOffset, onProgress)
	if err != nil {
		idx.status.Store(int32(Errored))
		idx.lastErr.Store(&err)
		log.Error("index_additional_failed", "error", err.Error())
		return err
	}
	idx.status.Store(int32(Idle))
	return nil
}

// TruncateTo discards all offsets > newSize, retaining only fully
// preserved lines (an offset equal to newSize stays as the end sentinel),
// and resumes the tail at the last retained offset.
func (idx *Indexer) TruncateTo(newSize linetypes.LineOffset) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	old := idx.snapshot.Load()
	kept := make([]linetypes.LineOffset, 0, len(old.starts))
	for _, off := range old.starts {
		if off > newSize {
			break
		}
		kept = append(kept, off)
	}
	if len(kept) == 0 {
		kept = append(kept, 0)
	}
	// Recompute max length over the retained lines is not tractable without
	// re-reading them; conservatively reset it to 0 and let the next scan
	// (which will re-derive lines past kept[-1]) grow it back as needed.
	idx.snapshot.Store(&Snapshot{starts: kept})
	idx.tailOffset = kept[len(kept)-1]
	idx.status.Store(int32(Idle))
	log.Info("truncated", "new_size", int64(newSize), "kept_lines", len(kept)-1)
}

// scanLocked does the actual block-by-block scan. Caller holds idx.mu.
func (idx *Indexer) scanLocked(from linetypes.LineOffset, onProgress ProgressFunc) error {
	if idx.source == nil {
		return errors.New("lineindex: no source attached")
	}

	total := idx.source.Size()
	cur := int64(from)
	starts := append([]linetypes.LineOffset(nil), idx.snapshot.Load().starts...)
	maxLen := idx.snapshot.Load().maxLength

	lastReported := -1
	carry := make([]byte, 0, 256) // bytes of a line spanning a block boundary

	for cur < total {
		if idx.interrupted() {
			idx.publish(starts, maxLen)
			log.Info("index_interrupted", "at_offset", cur)
			return nil
		}

		readLen := idx.blockBytes
		if remaining := total - cur; remaining < int64(readLen) {
			readLen = int(remaining)
		}
		block, err := idx.source.ReadAt(cur, readLen)
		if err != nil {
			idx.publish(starts, maxLen)
			return fmt.Errorf("lineindex: read block at %d: %w", cur, err)
		}
		if len(block) == 0 {
			break
		}

		data := block
		baseOffset := cur
		if len(carry) > 0 {
			data = append(carry, block...)
			baseOffset = cur - int64(len(carry))
			carry = carry[:0]
		}

		lineStart := 0
		for {
			nlIdx := indexByteFrom(data, lineStart, '\n')
			if nlIdx < 0 {
				break
			}
			lineEnd := nlIdx - idx.nl.BeforeCR
			if lineEnd < lineStart {
				lineEnd = lineStart
			}
			maxLen = maxLen.Max(untabifiedLength(data[lineStart:lineEnd]))
			nextStart := nlIdx + 1 + idx.nl.AfterCR
			starts = append(starts, linetypes.LineOffset(baseOffset+int64(nextStart)))
			lineStart = nextStart
			logging.Aggregate(logging.CompIndex, "line_indexed")
		}

		if lineStart < len(data) {
			carry = append(carry[:0], data[lineStart:]...)
		}

		cur += int64(len(block))

		idx.publish(starts, maxLen)

		if onProgress != nil && total > 0 {
			pct := int(float64(cur) / float64(total) * 100)
			if pct > 99 {
				pct = 99
			}
			if pct > lastReported {
				lastReported = pct
				onProgress(pct)
			}
		}
	}

	idx.tailOffset = linetypes.LineOffset(cur - int64(len(carry)))
	idx.publish(starts, maxLen)
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

func (idx *Indexer) publish(starts []linetypes.LineOffset, maxLen linetypes.LineLength) {
	snap := &Snapshot{
		starts:    append([]linetypes.LineOffset(nil), starts...),
		maxLength: maxLen,
	}
	idx.snapshot.Store(snap)
}

// indexByteFrom is bytes.IndexByte restricted to data[from:], returning an
// absolute index. Go's bytes.IndexByte already has a hand-vectorised
// per-architecture assembly implementation, which is the "vectorised byte
// scan" this indexer relies on.
func indexByteFrom(data []byte, from int, b byte) int {
	if from >= len(data) {
		return -1
	}
	rel := bytes.IndexByte(data[from:], b)
	if rel < 0 {
		return -1
	}
	return from + rel
}

// DisplayLength returns the display-column width line would occupy after
// tab expansion, for callers outside this package (e.g. logdata.Facade)
// that need the same measurement the indexer uses for max_length.
func DisplayLength(line []byte) linetypes.LineLength { return untabifiedLength(line) }

// untabifiedLength returns the display-column width of line after
// expanding tabs to the next multiple of TabStop, using go-runewidth for
// the width of any multi-column runes so the number matches what a
// terminal or GUI view will actually render.
func untabifiedLength(line []byte) linetypes.LineLength {
	col := 0
	s := string(line)
	for _, r := range s {
		if r == '\t' {
			col += TabStop - (col % TabStop)
			continue
		}
		col += runewidth.RuneWidth(r)
	}
	return linetypes.LineLength(col)
}
