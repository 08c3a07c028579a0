package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Format represents the log output format
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// FileLoggerConfig holds configuration for file logging
type FileLoggerConfig struct {
	// Path is the log file path
	Path string
	// Format is the output format (json or text)
	Format Format
	// Level is the minimum log level
	Level Level
	// MaxSize is the maximum size in bytes before rotation (0 = no rotation)
	MaxSize int64
	// MaxBackups is the maximum number of rotated files to keep
	MaxBackups int
}

// FileLogger is a file-backed sink with size-based rotation. Loggers
// derived via WithFields share the underlying file and its lock.
type FileLogger struct {
	core   *fileCore
	fields Fields
}

// fileCore owns the file handle; all derived loggers write through it
type fileCore struct {
	config FileLoggerConfig

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileLogger opens (or creates) the log file in append mode
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	return &FileLogger{
		core: &fileCore{
			config: config,
			file:   file,
			size:   info.Size(),
		},
	}, nil
}

// Debug logs a debug message
func (l *FileLogger) Debug(ctx context.Context, msg string, fields Fields) {
	if l.core.config.Level <= DebugLevel {
		l.core.write(DebugLevel, msg, nil, mergeFields(l.fields, fields))
	}
}

// Info logs an info message
func (l *FileLogger) Info(ctx context.Context, msg string, fields Fields) {
	if l.core.config.Level <= InfoLevel {
		l.core.write(InfoLevel, msg, nil, mergeFields(l.fields, fields))
	}
}

// Warn logs a warning message
func (l *FileLogger) Warn(ctx context.Context, msg string, fields Fields) {
	if l.core.config.Level <= WarnLevel {
		l.core.write(WarnLevel, msg, nil, mergeFields(l.fields, fields))
	}
}

// Error logs an error message
func (l *FileLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	if l.core.config.Level <= ErrorLevel {
		l.core.write(ErrorLevel, msg, err, mergeFields(l.fields, fields))
	}
}

// WithFields returns a logger carrying additional fields. The returned
// logger writes through the same file.
func (l *FileLogger) WithFields(fields Fields) Logger {
	return &FileLogger{
		core:   l.core,
		fields: mergeFields(l.fields, fields),
	}
}

// Close closes the underlying file
func (l *FileLogger) Close() error {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	if l.core.file == nil {
		return nil
	}
	err := l.core.file.Close()
	l.core.file = nil
	return err
}

// write serializes one entry and appends it, rotating first if the file
// has grown past the configured ceiling
func (c *fileCore) write(level Level, msg string, err error, fields Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return
	}
	if c.config.MaxSize > 0 && c.size >= c.config.MaxSize {
		c.rotate()
	}

	var line []byte
	if c.config.Format == FormatJSON {
		line = formatJSON(level, msg, err, fields)
	} else {
		line = formatText(level, msg, err, fields)
	}
	if line == nil {
		return
	}

	n, _ := c.file.Write(line)
	c.size += int64(n)
}

// rotate shifts path -> path.1 -> path.2 ... and reopens a fresh file
func (c *fileCore) rotate() {
	c.file.Close()
	c.file = nil

	for i := c.config.MaxBackups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", c.config.Path, i), fmt.Sprintf("%s.%d", c.config.Path, i+1))
	}
	os.Rename(c.config.Path, c.config.Path+".1")
	if c.config.MaxBackups > 0 {
		os.Remove(fmt.Sprintf("%s.%d", c.config.Path, c.config.MaxBackups+1))
	}

	file, err := os.OpenFile(c.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	c.file = file
	c.size = 0
}

func formatJSON(level Level, msg string, err error, fields Fields) []byte {
	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"level":     LevelString(level),
		"message":   msg,
	}
	if err != nil {
		entry["error"] = err.Error()
	}
	for k, v := range fields {
		entry[k] = v
	}

	data, jsonErr := json.Marshal(entry)
	if jsonErr != nil {
		return nil
	}
	return append(data, '\n')
}

// formatText renders one line with fields in sorted key order so output
// is deterministic
func formatText(level Level, msg string, err error, fields Fields) []byte {
	line := fmt.Sprintf("%s [%s] %s",
		time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), LevelString(level), msg)
	if err != nil {
		line += fmt.Sprintf(" error=%q", err.Error())
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(" %s=%v", k, fields[k])
	}
	return []byte(line + "\n")
}
