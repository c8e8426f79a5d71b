// Package config loads the TOML configuration file that tunes the engine's
// search pool, indexer block size, file-watch polling, and default codec —
// exactly spec.md §6's external option table, plus the logging settings an
// enclosing application needs to configure alongside it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the engine's full set of externally tunable options.
type Config struct {
	// Search controls the filtered-data/search engine's pipeline.
	Search SearchSettings `toml:"search"`

	// Index controls the line indexer.
	Index IndexSettings `toml:"index"`

	// FileWatch controls change-detection polling.
	FileWatch FileWatchSettings `toml:"file_watch"`

	// DefaultEncoding names the codec used when auto-detection fails.
	DefaultEncoding string `toml:"default_encoding"`

	// PrefilterRegex is the display/search prefilter applied to every
	// line before it reaches a matcher or a view. Empty disables it.
	PrefilterRegex string `toml:"prefilter_regex"`

	// Logging controls the engine's structured log output.
	Logging LoggingSettings `toml:"logging"`
}

// SearchSettings is spec.md §6's search-pipeline option group.
type SearchSettings struct {
	// ParallelSearch enables the matcher pool; false forces a single
	// matcher goroutine.
	ParallelSearch bool `toml:"parallel_search"`

	// PoolSize is the explicit matcher_count; 0 derives it from
	// runtime.NumCPU()-1.
	PoolSize int `toml:"pool_size"`

	// ChunkLines is the block producer's chunk size.
	ChunkLines int `toml:"chunk_lines"`

	// TimeoutSeconds is the global search timeout.
	TimeoutSeconds int `toml:"timeout_s"`
}

// IndexSettings is spec.md §6's indexer option group.
type IndexSettings struct {
	// BlockBytes is the indexer's I/O block size.
	BlockBytes int `toml:"block_bytes"`
}

// FileWatchSettings is spec.md §6's change-detection option group.
type FileWatchSettings struct {
	// PollMillis is the change-detection polling interval.
	PollMillis int `toml:"poll_ms"`
}

// LoggingSettings controls internal/logging's output and rotation.
type LoggingSettings struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`

	// FilePath is the log file path; empty logs to stderr only.
	FilePath string `toml:"file_path"`

	// MaxSizeMB is the rotation threshold in megabytes.
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `toml:"max_backups"`
}

// Default returns the configuration spec.md §6 documents as defaults.
func Default() Config {
	return Config{
		Search: SearchSettings{
			ParallelSearch: true,
			PoolSize:       0,
			ChunkLines:     5000,
			TimeoutSeconds: 60,
		},
		Index: IndexSettings{
			BlockBytes: 1 << 20,
		},
		FileWatch: FileWatchSettings{
			PollMillis: 1000,
		},
		DefaultEncoding: "utf-8",
		Logging: LoggingSettings{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
	}
}

// Load reads and decodes a TOML file at path, filling any field absent from
// the file with Default's value.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Default(), fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero-valued fields a TOML file may have omitted with
// spec.md §6's documented defaults, so a minimal config file only needs to
// name what it overrides.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Search.ChunkLines == 0 {
		c.Search.ChunkLines = d.Search.ChunkLines
	}
	if c.Search.TimeoutSeconds == 0 {
		c.Search.TimeoutSeconds = d.Search.TimeoutSeconds
	}
	if c.Index.BlockBytes == 0 {
		c.Index.BlockBytes = d.Index.BlockBytes
	}
	if c.FileWatch.PollMillis == 0 {
		c.FileWatch.PollMillis = d.FileWatch.PollMillis
	}
	if c.DefaultEncoding == "" {
		c.DefaultEncoding = d.DefaultEncoding
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = d.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = d.Logging.MaxBackups
	}
}

// PollInterval converts FileWatch.PollMillis to a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.FileWatch.PollMillis) * time.Millisecond
}
