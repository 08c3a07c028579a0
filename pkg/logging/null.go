package logging

import "context"

// NullLogger discards all output. It stands in wherever a caller does not
// provide a sink.
type NullLogger struct{}

// NewNullLogger creates a new null logger
func NewNullLogger() *NullLogger { return &NullLogger{} }

func (l *NullLogger) Debug(ctx context.Context, msg string, fields Fields)            {}
func (l *NullLogger) Info(ctx context.Context, msg string, fields Fields)             {}
func (l *NullLogger) Warn(ctx context.Context, msg string, fields Fields)             {}
func (l *NullLogger) Error(ctx context.Context, msg string, err error, fields Fields) {}
func (l *NullLogger) WithFields(fields Fields) Logger                                 { return l }
func (l *NullLogger) Close() error                                                    { return nil }
