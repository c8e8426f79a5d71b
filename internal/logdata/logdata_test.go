package logdata

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arlojansen/logcraft/internal/linetypes"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func loadSync(t *testing.T, f *Facade, path string) LoadResult {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	var result LoadResult
	f.Load(path, nil, func(r LoadResult) {
		result = r
		wg.Done()
	})
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for load to finish")
	}
	return result
}

func TestLoadAndReadLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "one\ntwo\nthree\n")

	f := New(0, 0)
	defer f.Close()
	res := loadSync(t, f, path)
	require.Equal(t, Successful, res.Status)
	require.EqualValues(t, 3, f.LineCount())

	s, err := f.LineString(1)
	require.NoError(t, err)
	require.Equal(t, "two", s)
}

func TestLoadMissingFile(t *testing.T) {
	f := New(0, 0)
	defer f.Close()
	res := loadSync(t, f, "/nonexistent/path/does-not-exist.log")
	require.Equal(t, FileNotFound, res.Status)
}

func TestTabExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "a\tb\n")

	f := New(0, 0)
	defer f.Close()
	loadSync(t, f, path)

	s, err := f.LineString(0)
	require.NoError(t, err)
	require.Equal(t, "a       b", s)
}

func TestPrefilterStripsAnsiEscapes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "\x1b[31merror\x1b[0m\n")

	f := New(0, 0)
	defer f.Close()
	require.NoError(t, f.SetPrefilter(`\x1b\[[0-9;]*m`))
	loadSync(t, f, path)

	s, err := f.LineString(0)
	require.NoError(t, err)
	require.Equal(t, "error", s)
}

func TestBatchLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "l0\nl1\nl2\nl3\n")

	f := New(0, 0)
	defer f.Close()
	loadSync(t, f, path)

	lines, err := f.Lines(linetypes.LineNumber(1), 2)
	require.NoError(t, err)
	require.Equal(t, []string{"l1", "l2"}, lines)
}

func TestSetDisplayEncodingUTF16LERoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	// "A\nB\n" in UTF-16LE: low byte first, so '\n' is [0x0A,0x00].
	require.NoError(t, os.WriteFile(path, []byte{
		'A', 0x00, 0x0A, 0x00,
		'B', 0x00, 0x0A, 0x00,
	}, 0o644))

	f := New(0, 0)
	defer f.Close()
	require.NoError(t, f.SetDisplayEncoding("utf-16le"))
	res := loadSync(t, f, path)
	require.Equal(t, Successful, res.Status)
	require.EqualValues(t, 2, f.LineCount())

	l0, err := f.LineString(0)
	require.NoError(t, err)
	require.Equal(t, "A", l0)
	l1, err := f.LineString(1)
	require.NoError(t, err)
	require.Equal(t, "B", l1)
}

func TestSetDisplayEncodingUTF16BERoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	// "A\nB\n" in UTF-16BE: high byte first, so '\n' is [0x00,0x0A].
	require.NoError(t, os.WriteFile(path, []byte{
		0x00, 'A', 0x00, 0x0A,
		0x00, 'B', 0x00, 0x0A,
	}, 0o644))

	f := New(0, 0)
	defer f.Close()
	require.NoError(t, f.SetDisplayEncoding("utf-16be"))
	res := loadSync(t, f, path)
	require.Equal(t, Successful, res.Status)
	require.EqualValues(t, 2, f.LineCount())

	l0, err := f.LineString(0)
	require.NoError(t, err)
	require.Equal(t, "A", l0)
	l1, err := f.LineString(1)
	require.NoError(t, err)
	require.Equal(t, "B", l1)
}

func TestSetDisplayEncodingISO8859(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte{'c', 'a', 'f', 0xE9, '\n'}, 0o644))

	f := New(0, 0)
	defer f.Close()
	require.NoError(t, f.SetDisplayEncoding("iso-8859-1"))
	loadSync(t, f, path)

	s, err := f.LineString(0)
	require.NoError(t, err)
	require.Equal(t, "café", s)
}
