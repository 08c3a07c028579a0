package logging

import (
	"context"
	"io"
	"sync"
)

// WriterLogger is a sink writing text lines to an io.Writer, typically
// stderr. Closing it does not close the writer.
type WriterLogger struct {
	core   *writerCore
	fields Fields
}

type writerCore struct {
	level Level

	mu sync.Mutex
	w  io.Writer
}

// NewWriterLogger creates a writer-backed sink filtering below level
func NewWriterLogger(w io.Writer, level Level) *WriterLogger {
	return &WriterLogger{core: &writerCore{level: level, w: w}}
}

// Debug logs a debug message
func (l *WriterLogger) Debug(ctx context.Context, msg string, fields Fields) {
	l.core.write(DebugLevel, msg, nil, mergeFields(l.fields, fields))
}

// Info logs an info message
func (l *WriterLogger) Info(ctx context.Context, msg string, fields Fields) {
	l.core.write(InfoLevel, msg, nil, mergeFields(l.fields, fields))
}

// Warn logs a warning message
func (l *WriterLogger) Warn(ctx context.Context, msg string, fields Fields) {
	l.core.write(WarnLevel, msg, nil, mergeFields(l.fields, fields))
}

// Error logs an error message
func (l *WriterLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	l.core.write(ErrorLevel, msg, err, mergeFields(l.fields, fields))
}

// WithFields returns a logger carrying additional fields
func (l *WriterLogger) WithFields(fields Fields) Logger {
	return &WriterLogger{
		core:   l.core,
		fields: mergeFields(l.fields, fields),
	}
}

// Close does nothing; the writer is owned by the caller
func (l *WriterLogger) Close() error {
	return nil
}

func (c *writerCore) write(level Level, msg string, err error, fields Fields) {
	if level < c.level {
		return
	}
	line := formatText(level, msg, err, fields)

	c.mu.Lock()
	c.w.Write(line)
	c.mu.Unlock()
}
