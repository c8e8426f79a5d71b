package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.True(t, cfg.Search.ParallelSearch)
	require.Equal(t, 5000, cfg.Search.ChunkLines)
	require.Equal(t, "utf-8", cfg.DefaultEncoding)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_encoding = "iso-8859-1"

[search]
pool_size = 4
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "iso-8859-1", cfg.DefaultEncoding)
	require.Equal(t, 4, cfg.Search.PoolSize)
	require.Equal(t, 5000, cfg.Search.ChunkLines) // unset, defaulted
	require.Equal(t, 1<<20, cfg.Index.BlockBytes)  // unset, defaulted
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not valid = = toml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestPollInterval(t *testing.T) {
	cfg := Default()
	cfg.FileWatch.PollMillis = 250
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval())
}
