// Package codec resolves a caller-selected (or auto-detected) character
// encoding into an immutable Codec: a decoder plus the before_cr/after_cr
// byte counts the line-scanner needs to find '\n' correctly in multi-byte
// newline encodings.
package codec

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/arlojansen/logcraft/internal/lineindex"
)

// Codec is an immutable reference to one character encoding plus the
// newline-byte-offset metadata the line scanner needs for it. Replacing the
// active codec is always a matter of swapping the pointer held by a
// consumer (see logdata.Facade.SetDisplayEncoding) — in-flight reads either
// see the old Codec or the new one, never a torn mix of the two.
type Codec struct {
	Name    string
	enc     encoding.Encoding
	Newline lineindex.NewlineOffsets
}

// Decode converts raw bytes (one line's worth, without its terminator) to a
// UTF-8 string. Decode errors never abort the operation: undecodable bytes
// become U+FFFD, per spec.
func (c *Codec) Decode(raw []byte) string {
	if c == nil || c.enc == nil {
		return toValidUTF8(string(raw))
	}
	t := transform.Chain(c.enc.NewDecoder(), runes.ReplaceIllFormed())
	out, _, err := transform.Bytes(t, raw)
	if err != nil {
		return toValidUTF8(string(raw))
	}
	return string(out)
}

// toValidUTF8 handles the utf-8 codec (no transform) and is the last-resort
// fallback when the transform chain itself errors (rather than just
// substituting ill-formed runes): replace any byte that doesn't start a
// valid UTF-8 sequence with U+FFFD.
func toValidUTF8(s string) string {
	var b bytes.Buffer
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

var registry = map[string]func() encoding.Encoding{
	"utf-8":        func() encoding.Encoding { return encoding.Nop },
	"utf-16le":     func() encoding.Encoding { return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM) },
	"utf-16be":     func() encoding.Encoding { return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM) },
	"iso-8859-1":   func() encoding.Encoding { return charmap.ISO8859_1 },
	"iso-8859-2":   func() encoding.Encoding { return charmap.ISO8859_2 },
	"iso-8859-5":   func() encoding.Encoding { return charmap.ISO8859_5 },
	"iso-8859-7":   func() encoding.Encoding { return charmap.ISO8859_7 },
	"iso-8859-9":   func() encoding.Encoding { return charmap.ISO8859_9 },
	"iso-8859-15":  func() encoding.Encoding { return charmap.ISO8859_15 },
	"windows-1250": func() encoding.Encoding { return charmap.Windows1250 },
	"windows-1251": func() encoding.Encoding { return charmap.Windows1251 },
	"windows-1252": func() encoding.Encoding { return charmap.Windows1252 },
	"windows-1253": func() encoding.Encoding { return charmap.Windows1253 },
	"windows-1254": func() encoding.Encoding { return charmap.Windows1254 },
	"windows-1258": func() encoding.Encoding { return charmap.Windows1258 },
	"koi8-r":       func() encoding.Encoding { return charmap.KOI8R },
	"shift_jis":    func() encoding.Encoding { return japanese.ShiftJIS },
	"gb18030":      func() encoding.Encoding { return simplifiedchinese.GB18030 },
	"big5":         func() encoding.Encoding { return traditionalchinese.Big5 },
	"euc-kr":       func() encoding.Encoding { return korean.EUCKR },
}

// ByName resolves an encoding name (case-sensitive, matching the keys
// above) to a Codec. Returns an error wrapping ErrUnknownEncoding if name
// isn't recognised.
func ByName(name string) (*Codec, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("codec: %w: %q", ErrUnknownEncoding, name)
	}
	var enc encoding.Encoding
	if name != "utf-8" {
		enc = ctor()
	}
	return &Codec{Name: name, enc: enc, Newline: newlineOffsetsFor(name)}, nil
}

func newlineOffsetsFor(name string) lineindex.NewlineOffsets {
	switch name {
	case "utf-16le":
		// '\n' is encoded [0x0A,0x00]: the scanner's indexByteFrom finds the
		// 0x0A byte, which has 0 bytes before it and 1 (the 0x00) after it.
		return lineindex.NewlineOffsets{BeforeCR: 0, AfterCR: 1}
	case "utf-16be":
		// '\n' is encoded [0x00,0x0A]: the 0x0A byte has 1 byte before it
		// and 0 after it.
		return lineindex.NewlineOffsets{BeforeCR: 1, AfterCR: 0}
	default:
		return lineindex.NewlineOffsets{}
	}
}

// ErrUnknownEncoding is wrapped by ByName when the requested codec name
// isn't registered.
var ErrUnknownEncoding = fmt.Errorf("unknown encoding")

// Names returns the registered encoding names, for listing/validation.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

// Detect inspects the first ~4KiB of a file (sample) and returns the best
// guess encoding name: a BOM takes priority, then a byte-distribution
// heuristic for UTF-16, falling back to defaultName.
func Detect(sample []byte, defaultName string) string {
	switch {
	case bytes.HasPrefix(sample, []byte{0xFF, 0xFE}):
		return "utf-16le"
	case bytes.HasPrefix(sample, []byte{0xFE, 0xFF}):
		return "utf-16be"
	case bytes.HasPrefix(sample, []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8"
	}

	if looksLikeUTF16(sample, false) {
		return "utf-16le"
	}
	if looksLikeUTF16(sample, true) {
		return "utf-16be"
	}
	if defaultName == "" {
		return "utf-8"
	}
	return defaultName
}

// looksLikeUTF16 checks whether a sample is dominated by an alternating
// zero-byte pattern consistent with ASCII text encoded as UTF-16.
func looksLikeUTF16(sample []byte, big bool) bool {
	if len(sample) < 4 {
		return false
	}
	zeroIdx := 1
	if big {
		zeroIdx = 0
	}
	zeros, total := 0, 0
	for i := zeroIdx; i+1 < len(sample); i += 2 {
		total++
		if sample[i] == 0 {
			zeros++
		}
	}
	return total > 0 && float64(zeros)/float64(total) > 0.7
}

// Atomic is an atomically-swappable pointer to the active Codec, used by
// the facade so a SetDisplayEncoding call is visible to all readers
// instantly and without tearing.
type Atomic struct {
	p atomic.Pointer[Codec]
}

// NewAtomic creates an Atomic holding the given initial codec.
func NewAtomic(c *Codec) *Atomic {
	a := &Atomic{}
	a.p.Store(c)
	return a
}

// Load returns the currently active codec.
func (a *Atomic) Load() *Codec { return a.p.Load() }

// Store atomically replaces the active codec.
func (a *Atomic) Store(c *Codec) { a.p.Store(c) }
