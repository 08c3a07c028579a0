package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"DEBUG":   DebugLevel,
		"info":    InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLevelString(t *testing.T) {
	if LevelString(DebugLevel) != "DEBUG" || LevelString(ErrorLevel) != "ERROR" {
		t.Error("level names mismatch")
	}
	if LevelString(Level(99)) != "UNKNOWN" {
		t.Error("out-of-range level should be UNKNOWN")
	}
}

func TestWriterLogger(t *testing.T) {
	ctx := context.Background()

	t.Run("WritesAtOrAboveLevel", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWriterLogger(&buf, WarnLevel)
		logger.Debug(ctx, "too quiet", nil)
		logger.Info(ctx, "still too quiet", nil)
		logger.Warn(ctx, "heard", nil)
		logger.Error(ctx, "also heard", nil, nil)

		out := buf.String()
		if strings.Contains(out, "too quiet") {
			t.Error("messages below the level should be dropped")
		}
		if !strings.Contains(out, "heard") || !strings.Contains(out, "also heard") {
			t.Error("messages at or above the level should be written")
		}
	})

	t.Run("FieldsRendered", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWriterLogger(&buf, InfoLevel)
		logger.Info(ctx, "with fields", Fields{"path": "/tmp/f", "count": 3})

		out := buf.String()
		if !strings.Contains(out, "path=/tmp/f") || !strings.Contains(out, "count=3") {
			t.Errorf("fields missing from output: %q", out)
		}
	})

	t.Run("WithFieldsSharesWriter", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWriterLogger(&buf, InfoLevel)
		child := logger.WithFields(Fields{"op": "apply"})
		child.Info(ctx, "child message", Fields{"extra": true})

		out := buf.String()
		if !strings.Contains(out, "op=apply") || !strings.Contains(out, "extra=true") {
			t.Errorf("derived logger lost fields: %q", out)
		}
	})

	t.Run("ErrorIncluded", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWriterLogger(&buf, ErrorLevel)
		logger.Error(ctx, "boom", os.ErrNotExist, nil)
		if !strings.Contains(buf.String(), "file does not exist") {
			t.Errorf("error text missing: %q", buf.String())
		}
	})
}

func TestFileLogger(t *testing.T) {
	ctx := context.Background()

	t.Run("TextFormat", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		logger, err := NewFileLogger(FileLoggerConfig{
			Path:   path,
			Format: FormatText,
			Level:  InfoLevel,
		})
		if err != nil {
			t.Fatalf("failed to create logger: %v", err)
		}
		logger.Info(ctx, "hello file", Fields{"k": "v"})
		logger.Close()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read log: %v", err)
		}
		if !strings.Contains(string(data), "hello file") || !strings.Contains(string(data), "k=v") {
			t.Errorf("unexpected log content: %q", data)
		}
	})

	t.Run("JSONFormat", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		logger, err := NewFileLogger(FileLoggerConfig{
			Path:   path,
			Format: FormatJSON,
			Level:  DebugLevel,
		})
		if err != nil {
			t.Fatalf("failed to create logger: %v", err)
		}
		logger.Debug(ctx, "structured", Fields{"n": 7})
		logger.Close()

		data, _ := os.ReadFile(path)
		var entry map[string]interface{}
		if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
			t.Fatalf("log line is not valid JSON: %v (%q)", err, data)
		}
		if entry["message"] != "structured" || entry["level"] != "DEBUG" {
			t.Errorf("unexpected entry: %v", entry)
		}
		if entry["n"] != float64(7) {
			t.Errorf("field not carried: %v", entry["n"])
		}
	})

	t.Run("CreatesParentDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "deep", "nested", "app.log")
		logger, err := NewFileLogger(FileLoggerConfig{Path: path, Format: FormatText, Level: InfoLevel})
		if err != nil {
			t.Fatalf("failed to create logger: %v", err)
		}
		logger.Close()
		if _, err := os.Stat(path); err != nil {
			t.Errorf("log file not created: %v", err)
		}
	})

	t.Run("Rotation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		logger, err := NewFileLogger(FileLoggerConfig{
			Path:       path,
			Format:     FormatText,
			Level:      InfoLevel,
			MaxSize:    128,
			MaxBackups: 2,
		})
		if err != nil {
			t.Fatalf("failed to create logger: %v", err)
		}
		for i := 0; i < 20; i++ {
			logger.Info(ctx, "a reasonably sized log message to trigger rotation", nil)
		}
		logger.Close()

		if _, err := os.Stat(path + ".1"); err != nil {
			t.Error("rotation should have produced app.log.1")
		}
	})

	t.Run("WithFieldsSharesFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		logger, err := NewFileLogger(FileLoggerConfig{Path: path, Format: FormatText, Level: InfoLevel})
		if err != nil {
			t.Fatalf("failed to create logger: %v", err)
		}
		child := logger.WithFields(Fields{"component": "applier"})
		child.Info(ctx, "from child", nil)
		logger.Close()

		// The derived logger writes through the now-closed parent file
		child.Info(ctx, "after close", nil)

		data, _ := os.ReadFile(path)
		if !strings.Contains(string(data), "component=applier") {
			t.Errorf("derived fields missing: %q", data)
		}
		if strings.Contains(string(data), "after close") {
			t.Error("writes after close should be dropped")
		}
	})
}

func TestNullLogger(t *testing.T) {
	ctx := context.Background()
	logger := NewNullLogger()
	logger.Debug(ctx, "x", nil)
	logger.Info(ctx, "x", nil)
	logger.Warn(ctx, "x", nil)
	logger.Error(ctx, "x", nil, nil)
	if logger.WithFields(Fields{"k": "v"}) == nil {
		t.Error("WithFields should return a usable logger")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func TestMergeFields(t *testing.T) {
	if mergeFields(nil, nil) != nil {
		t.Error("merging nothing should stay nil")
	}

	base := Fields{"a": 1, "b": 2}
	merged := mergeFields(base, Fields{"b": 20, "c": 3})
	if merged["a"] != 1 || merged["b"] != 20 || merged["c"] != 3 {
		t.Errorf("unexpected merge result: %v", merged)
	}
	if base["b"] != 2 {
		t.Error("merge must not mutate the base fields")
	}
}
