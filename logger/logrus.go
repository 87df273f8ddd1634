package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogrusLogger implements Logger on top of logrus with a JSON formatter.
type LogrusLogger struct {
	logger *logrus.Logger
	entry  *logrus.Entry
}

// NewLogrusLogger creates a JSON logger writing to stdout. Unknown levels fall back to info.
func NewLogrusLogger(level string) *LogrusLogger {
	return NewLogrusLoggerWithOutput(level, os.Stdout)
}

// NewLogrusLoggerWithOutput creates a JSON logger writing to w.
func NewLogrusLoggerWithOutput(level string, w io.Writer) *LogrusLogger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(w)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &LogrusLogger{
		logger: l,
		entry:  logrus.NewEntry(l),
	}
}

func (l *LogrusLogger) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	l.with(ctx, fields).Debug(msg)
}

func (l *LogrusLogger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.with(ctx, fields).Info(msg)
}

func (l *LogrusLogger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.with(ctx, fields).Warn(msg)
}

func (l *LogrusLogger) Error(ctx context.Context, msg string, fields map[string]interface{}) {
	l.with(ctx, fields).Error(msg)
}

// WithField returns a new logger with the given field added.
func (l *LogrusLogger) WithField(key string, value interface{}) Logger {
	return &LogrusLogger{logger: l.logger, entry: l.entry.WithField(key, value)}
}

// WithFields returns a new logger with the given fields added.
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{logger: l.logger, entry: l.entry.WithFields(fields)}
}

func (l *LogrusLogger) with(ctx context.Context, fields map[string]interface{}) *logrus.Entry {
	e := l.entry
	if ctx != nil {
		e = e.WithContext(ctx)
	}
	if fields != nil {
		e = e.WithFields(fields)
	}
	return e
}
