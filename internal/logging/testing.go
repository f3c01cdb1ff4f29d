package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

// NewTestLogger returns a logger writing to an in-memory sink, plus the
// observed logs for assertions.
func NewTestLogger() (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(zapcore.DebugLevel)
	return &Logger{
		zap:    zap.New(core),
		config: NewDefaultConfig(),
	}, observed
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
