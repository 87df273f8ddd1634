// Package logger provides the structured, context-aware logging used across
// the service.
package logger

import "context"

// Fields are the structured key/value pairs attached to a log entry.
type Fields = map[string]interface{}

// Logger is implemented by LogrusLogger in production and TestLogger in tests.
type Logger interface {
	Debug(ctx context.Context, msg string, fields Fields)
	Info(ctx context.Context, msg string, fields Fields)
	Warn(ctx context.Context, msg string, fields Fields)
	Error(ctx context.Context, msg string, fields Fields)

	// WithField returns a logger that adds key to every entry.
	WithField(key string, value interface{}) Logger
	// WithFields returns a logger that adds fields to every entry.
	WithFields(fields Fields) Logger
}
