// Package logger provides leveled structured logging.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

var defaultLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	InitWithWriter(os.Stderr, level, format)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(w io.Writer, level string, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level), AddSource: true}
	var h slog.Handler
	if strings.ToLower(format) == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	defaultLogger = slog.New(h)
}

// Slog exposes the underlying logger for structured call sites.
func Slog() *slog.Logger {
	return defaultLogger
}

func Debug(format string, args ...interface{}) {
	logf(slog.LevelDebug, format, args...)
}

func Info(format string, args ...interface{}) {
	logf(slog.LevelInfo, format, args...)
}

func Warn(format string, args ...interface{}) {
	logf(slog.LevelWarn, format, args...)
}

func Error(format string, args ...interface{}) {
	logf(slog.LevelError, format, args...)
}

func Fatal(format string, args ...interface{}) {
	logf(slog.LevelError+4, format, args...)
	os.Exit(1)
}

// logf records the caller of the exported function as the source.
func logf(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = defaultLogger.Handler().Handle(ctx, r)
}
