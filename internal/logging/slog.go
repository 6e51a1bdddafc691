package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const loggerKey contextKey = "logger"

const (
	LogOperation = "operation"
	LogComponent = "component"
	LogRunID     = "run_id"
	LogRequestID = "request_id"
)

// SetupTextLogger writes human-readable logs to w.
func SetupTextLogger(w io.Writer, logLevel slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Custom timestamp format
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   "time",
					Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05.000")),
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewTestLogger is a test logger that is used for testing
func NewTestLogger(logLevel slog.Level, discard bool) *slog.Logger {
	if discard {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return SetupTextLogger(os.Stderr, logLevel)
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
}

// InitLogger builds the process logger at the given level, falling back
// to the LOG_LEVEL environment variable when level is empty, and installs
// it as the default logger.
func InitLogger(level string) (*slog.Logger, error) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	logLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := SetupTextLogger(os.Stderr, logLevel)
	slog.SetDefault(logger)
	return logger, nil
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func FromContextWith(ctx context.Context, kvs ...any) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(kvs...)
	return WithLogger(ctx, logger), logger
}

func FromContextWithOperation(ctx context.Context, operation string, kvs ...any) (context.Context, *slog.Logger) {
	attrs := append(kvs, slog.String(LogOperation, operation))
	return FromContextWith(ctx, attrs...)
}

// ComponentLogger tags a logger with the component emitting its records.
func ComponentLogger(logger *slog.Logger, component string, kvs ...any) *slog.Logger {
	attrs := append(kvs, slog.String(LogComponent, component))
	return logger.With(attrs...)
}
