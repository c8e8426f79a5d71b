package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByNameUTF8Passthrough(t *testing.T) {
	c, err := ByName("utf-8")
	require.NoError(t, err)
	require.Equal(t, "hello", c.Decode([]byte("hello")))
}

func TestByNameUnknown(t *testing.T) {
	_, err := ByName("nonsense-9000")
	require.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestUTF16LENewlineOffsets(t *testing.T) {
	c, err := ByName("utf-16le")
	require.NoError(t, err)
	// '\n' is [0x0A,0x00]: 0 bytes before the 0x0A, 1 (the 0x00) after it.
	require.Equal(t, 0, c.Newline.BeforeCR)
	require.Equal(t, 1, c.Newline.AfterCR)
}

func TestUTF16BENewlineOffsets(t *testing.T) {
	c, err := ByName("utf-16be")
	require.NoError(t, err)
	// '\n' is [0x00,0x0A]: 1 byte (the 0x00) before the 0x0A, 0 after it.
	require.Equal(t, 1, c.Newline.BeforeCR)
	require.Equal(t, 0, c.Newline.AfterCR)
}

func TestDecodeISO8859_1(t *testing.T) {
	c, err := ByName("iso-8859-1")
	require.NoError(t, err)
	// 0xE9 in ISO-8859-1 is é
	require.Equal(t, "café", c.Decode([]byte{'c', 'a', 'f', 0xE9}))
}

func TestDetectBOM(t *testing.T) {
	require.Equal(t, "utf-16le", Detect([]byte{0xFF, 0xFE, 'a', 0}, "utf-8"))
	require.Equal(t, "utf-16be", Detect([]byte{0xFE, 0xFF, 0, 'a'}, "utf-8"))
	require.Equal(t, "utf-8", Detect([]byte{0xEF, 0xBB, 0xBF, 'a'}, "iso-8859-1"))
}

func TestDetectFallsBackToDefault(t *testing.T) {
	require.Equal(t, "iso-8859-1", Detect([]byte("plain ascii text"), "iso-8859-1"))
}

func TestDetectUTF16Heuristic(t *testing.T) {
	sample := []byte{'h', 0, 'i', 0, '!', 0}
	require.Equal(t, "utf-16le", Detect(sample, "utf-8"))
}

func TestAtomicSwap(t *testing.T) {
	a := NewAtomic(mustCodec(t, "utf-8"))
	require.Equal(t, "utf-8", a.Load().Name)
	a.Store(mustCodec(t, "iso-8859-1"))
	require.Equal(t, "iso-8859-1", a.Load().Name)
}

func mustCodec(t *testing.T, name string) *Codec {
	t.Helper()
	c, err := ByName(name)
	require.NoError(t, err)
	return c
}
