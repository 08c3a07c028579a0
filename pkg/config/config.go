// Package config holds the application configuration loaded from YAML
package config

import (
	"github.com/sdejongh/patchnorris/pkg/models"
)

// Config represents the application configuration
type Config struct {
	Diff        DiffConfig        `yaml:"diff"`
	Apply       ApplyConfig       `yaml:"apply"`
	Backup      BackupConfig      `yaml:"backup"`
	Performance PerformanceConfig `yaml:"performance"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
	Exclude     []string          `yaml:"exclude"`
}

// DiffConfig holds diff generation settings
type DiffConfig struct {
	// ContextLines is the number of unchanged lines around each hunk
	ContextLines int `yaml:"context_lines"`
	// SampleWindow is the byte window inspected for binary detection
	SampleWindow int `yaml:"sample_window"`
	// NonTextRatio is the non-text byte fraction above which content is
	// treated as binary
	NonTextRatio float64 `yaml:"non_text_ratio"`
	// MaxLineLength is the longest line still considered text
	MaxLineLength int `yaml:"max_line_length"`
	// MaxFileSize is the largest file considered for text diffing
	MaxFileSize int64 `yaml:"max_file_size"`
}

// ApplyConfig holds patch application settings
type ApplyConfig struct {
	Mode models.ApplyMode `yaml:"mode"`
	// MaxOffset bounds the fuzzy search window in lines
	MaxOffset int `yaml:"max_offset"`
	// KeepBackups retains snapshots after successful operations
	KeepBackups bool `yaml:"keep_backups"`
}

// BackupConfig holds backup store settings
type BackupConfig struct {
	// Dir is the backup store directory (empty = per-user default)
	Dir string `yaml:"dir"`
}

// PerformanceConfig holds performance-related settings
type PerformanceConfig struct {
	MaxWorkers     int   `yaml:"max_workers"`
	BufferSize     int   `yaml:"buffer_size"`
	BandwidthLimit int64 `yaml:"bandwidth_limit"`
}

// OutputConfig holds output-related settings
type OutputConfig struct {
	Format   string `yaml:"format"`   // "human", "json", or "progress"
	Progress bool   `yaml:"progress"` // Show progress bars on TTYs
	Quiet    bool   `yaml:"quiet"`    // Suppress non-error output
}

// LoggingConfig holds logging-related settings
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "json" or "text"
	Level   string `yaml:"level"`  // "debug", "info", "warn", "error"
	File    string `yaml:"file"`   // Log file path (empty = stderr)
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Diff: DiffConfig{
			ContextLines:  3,
			SampleWindow:  8192,
			NonTextRatio:  30.0 / 255.0,
			MaxLineLength: 4096,
			MaxFileSize:   64 * 1024 * 1024,
		},
		Apply: ApplyConfig{
			Mode:      models.ModeStrict,
			MaxOffset: 32,
		},
		Performance: PerformanceConfig{
			MaxWorkers:     5,
			BufferSize:     65536,
			BandwidthLimit: 0,
		},
		Output: OutputConfig{
			Format:   "human",
			Progress: true,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Format:  "json",
			Level:   "info",
		},
		Exclude: []string{
			"*.tmp",
			".git/",
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Diff.ContextLines < 0 {
		return &models.ValidationError{
			Field:   "diff.context_lines",
			Message: "must not be negative",
		}
	}
	if c.Diff.NonTextRatio < 0 || c.Diff.NonTextRatio > 1 {
		return &models.ValidationError{
			Field:   "diff.non_text_ratio",
			Message: "must be between 0 and 1",
		}
	}

	if c.Apply.Mode != models.ModeStrict && c.Apply.Mode != models.ModeFuzzy {
		return &models.ValidationError{
			Field:   "apply.mode",
			Message: "must be 'strict' or 'fuzzy'",
		}
	}
	if c.Apply.MaxOffset < 0 {
		return &models.ValidationError{
			Field:   "apply.max_offset",
			Message: "must not be negative",
		}
	}

	if c.Performance.MaxWorkers < 1 {
		return &models.ValidationError{
			Field:   "performance.max_workers",
			Message: "must be at least 1",
		}
	}
	if c.Performance.BufferSize < 1024 {
		return &models.ValidationError{
			Field:   "performance.buffer_size",
			Message: "must be at least 1024 bytes",
		}
	}

	validFormats := map[string]bool{"human": true, "json": true, "progress": true}
	if !validFormats[c.Output.Format] {
		return &models.ValidationError{
			Field:   "output.format",
			Message: "must be 'human', 'json', or 'progress'",
		}
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return &models.ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'text'",
		}
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return &models.ValidationError{
			Field:   "logging.level",
			Message: "must be 'debug', 'info', 'warn', or 'error'",
		}
	}

	return nil
}

// Options translates the configuration into the operation options
// consumed by the engine packages
func (c *Config) Options() models.Options {
	return models.Options{
		ContextLines: c.Diff.ContextLines,
		Mode:         c.Apply.Mode,
		MaxOffset:    c.Apply.MaxOffset,
		Concurrency:  c.Performance.MaxWorkers,
		MaxFileSize:  c.Diff.MaxFileSize,
		Exclude:      c.Exclude,
		KeepBackups:  c.Apply.KeepBackups,
	}
}
