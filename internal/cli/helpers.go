package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sdejongh/patchnorris/internal/platform"
	"github.com/sdejongh/patchnorris/pkg/config"
	"github.com/sdejongh/patchnorris/pkg/logging"
	"github.com/sdejongh/patchnorris/pkg/output"
)

// loadConfig loads configuration from --config or the default location
func loadConfig() (*config.Config, error) {
	if globalFlags.ConfigFile != "" {
		return config.LoadFromFile(platform.ExpandUser(globalFlags.ConfigFile))
	}
	return config.LoadDefault()
}

// createLogger opens the log sink for one invocation. The caller owns the
// returned logger and must Close it when the invocation ends.
func createLogger(cfg *config.Config) (logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NewNullLogger(), nil
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if globalFlags.Verbose {
		level = logging.DebugLevel
	}

	if cfg.Logging.File == "" {
		if globalFlags.Quiet {
			return logging.NewNullLogger(), nil
		}
		return logging.NewWriterLogger(os.Stderr, level), nil
	}

	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}
	return logging.NewFileLogger(logging.FileLoggerConfig{
		Path:       platform.ExpandUser(cfg.Logging.File),
		Format:     format,
		Level:      level,
		MaxSize:    10 * 1024 * 1024,
		MaxBackups: 5,
	})
}

// makeFormatter picks the output formatter and its writer from config
// and flags. Quiet mode silences everything except JSON, which scripts
// depend on; the progress formatter degrades to plain human output
// off-TTY.
func makeFormatter(cfg *config.Config) (output.Formatter, io.Writer, error) {
	format := cfg.Output.Format
	writer := io.Writer(os.Stdout)

	if globalFlags.Quiet && format != "json" {
		writer = io.Discard
		formatter, err := output.New("human")
		return formatter, writer, err
	}

	if format == "progress" && !output.IsTerminal(writer) {
		format = "human"
	}
	if format == "human" && cfg.Output.Progress && output.IsTerminal(writer) {
		format = "progress"
	}
	formatter, err := output.New(format)
	return formatter, writer, err
}

// backupDir resolves the backup store location
func backupDir(cfg *config.Config) (string, error) {
	if cfg.Backup.Dir != "" {
		return platform.ExpandUser(cfg.Backup.Dir), nil
	}
	return platform.DefaultBackupDir()
}

// parseBandwidth parses limits like "500K", "10M" or "1G" into bytes per
// second. An empty string means unlimited.
func parseBandwidth(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	s = strings.ToUpper(strings.TrimSpace(s))

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier, s = 1024, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier, s = 1024*1024, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier, s = 1024*1024*1024, strings.TrimSuffix(s, "G")
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid bandwidth limit %q (examples: 500K, 10M, 1G)", s)
	}
	return value * multiplier, nil
}
