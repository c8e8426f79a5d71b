// Package linetypes defines the strong numeric types used everywhere a line
// position, a line count, or a byte offset crosses a package boundary.
// Mixing them accidentally (adding two LineNumbers, say) is a compile error;
// the few cross-type operations the engine actually needs are exposed as
// methods instead of arithmetic operators, which Go doesn't have.
package linetypes

import "fmt"

// LineOffset is a byte offset into a file. Signed so that "before start of
// file" sentinels and subtraction stay well defined.
type LineOffset int64

// LineNumber is a zero-based line index.
type LineNumber uint64

// LinesCount is a count of lines.
type LinesCount uint64

// LineLength is a display-column count after tab expansion.
type LineLength int32

// MaxLineNumber is the largest representable LineNumber.
const MaxLineNumber = LineNumber(^uint64(0))

// Add returns n+c, saturating at MaxLineNumber on overflow.
func (n LineNumber) Add(c LinesCount) LineNumber {
	if uint64(n) > uint64(MaxLineNumber)-uint64(c) {
		return MaxLineNumber
	}
	return LineNumber(uint64(n) + uint64(c))
}

// Sub returns n-c, saturating at 0 on underflow.
func (n LineNumber) Sub(c LinesCount) LineNumber {
	if uint64(n) < uint64(c) {
		return 0
	}
	return LineNumber(uint64(n) - uint64(c))
}

// Diff returns n-other as a LinesCount, saturating at 0 if other > n.
func (n LineNumber) Diff(other LineNumber) LinesCount {
	if n < other {
		return 0
	}
	return LinesCount(uint64(n) - uint64(other))
}

// Before reports whether n comes strictly before other.
func (n LineNumber) Before(other LineNumber) bool { return n < other }

// AsCount reinterprets a LineNumber as a LinesCount (e.g. "line number N is
// also the count of lines [0, N)").
func (n LineNumber) AsCount() LinesCount { return LinesCount(n) }

// Add returns the sum of two LinesCount values.
func (c LinesCount) Add(other LinesCount) LinesCount { return c + other }

// Sub returns c-other, saturating at 0 on underflow.
func (c LinesCount) Sub(other LinesCount) LinesCount {
	if c < other {
		return 0
	}
	return c - other
}

// Min returns the smaller of two LinesCount values.
func (c LinesCount) Min(other LinesCount) LinesCount {
	if c < other {
		return c
	}
	return other
}

// Max returns the greater of two LineLength values.
func (l LineLength) Max(other LineLength) LineLength {
	if l > other {
		return l
	}
	return other
}

func (n LineNumber) String() string { return fmt.Sprintf("%d", uint64(n)) }
func (c LinesCount) String() string { return fmt.Sprintf("%d", uint64(c)) }
func (o LineOffset) String() string { return fmt.Sprintf("%d", int64(o)) }
func (l LineLength) String() string { return fmt.Sprintf("%d", int32(l)) }

// Position pairs a line number with a display column, mirroring the
// original klogg core's FilePosition. Not used by any core operation today,
// but kept for a future caret/selection feature built on top of the engine.
type Position struct {
	Line   LineNumber
	Column int
}
