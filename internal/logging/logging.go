package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

// New builds a JSON logger tagged with component. When filePath is set the
// output is teed into a rotated file next to stdout. If the file's directory
// cannot be created the logger writes to stdout only and the error is
// returned alongside it.
func New(component, filePath, level string) (*slog.Logger, error) {
	return newLogger(os.Stdout, component, filePath, level)
}

func newLogger(out io.Writer, component, filePath, level string) (*slog.Logger, error) {
	w := out
	var err error
	if filePath != "" {
		if err = os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			err = fmt.Errorf("log file %s: %w", filePath, err)
		} else {
			rot := &lumberjack.Logger{
				Filename:   filePath,
				MaxSize:    20, // MB
				MaxBackups: 3,
				MaxAge:     7, // days
			}
			w = io.MultiWriter(out, rot)
		}
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With("component", component), err
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCtx stores a logger in ctx.
func WithCtx(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromCtx fetches a logger from ctx or falls back to fallback.
func FromCtx(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	if fallback == nil {
		return slog.Default()
	}
	return fallback
}
