// Package logger provides structured logging for the API server.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// New creates a JSON logger writing to stdout at the given level.
func New(level string) (*Logger, error) {
	cfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(ParseLevel(level)),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: zl}, nil
}

// Wrap adapts an existing zap logger, typically one built by zaptest.
func Wrap(zl *zap.Logger) *Logger {
	return &Logger{Logger: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// ForRequest creates a child logger carrying request identity.
func (l *Logger) ForRequest(correlationID, userID string) *Logger {
	return l.With(
		zap.String("correlation_id", correlationID),
		zap.String("user_id", userID),
	)
}

// ParseLevel maps a level name onto a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
