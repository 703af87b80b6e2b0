// Package logging configures the application's structured logger.
//
// The console and file outputs are independent: each gets its own level
// (console_log_level / file_log_level in the configuration surface) and the
// file output, when enabled, rotates through lumberjack instead of growing
// unbounded.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	LoggerName string // printed as the bracketed "logger" field, e.g. "rulerd"
	Console    OutputConfig
	File       FileOutputConfig
}

// OutputConfig controls the always-on console writer.
type OutputConfig struct {
	Level      string
	Structured bool // JSON instead of the bracketed text format
}

// FileOutputConfig controls the optional rotating file writer.
type FileOutputConfig struct {
	Enabled    bool
	Path       string
	Level      string
	MaxSizeMB  int // lumberjack MaxSize, default 100
	MaxBackups int
	MaxAgeDays int
}

// Configure builds the process-wide slog.Logger and installs it as the default.
func Configure(cfg Config) *slog.Logger {
	handlers := []slog.Handler{newConsoleHandler(cfg)}
	if cfg.File.Enabled && cfg.File.Path != "" {
		handlers = append(handlers, newFileHandler(cfg))
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = fanout(handlers)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func newConsoleHandler(cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Console.Level)}
	if cfg.Console.Structured {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	opts.ReplaceAttr = bracketReplacer
	return &bracketHandler{inner: slog.NewTextHandler(os.Stderr, opts), logger: cfg.LoggerName}
}

func newFileHandler(cfg Config) slog.Handler {
	writer := &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    fallback(cfg.File.MaxSizeMB, 100),
		MaxBackups: fallback(cfg.File.MaxBackups, 5),
		MaxAge:     fallback(cfg.File.MaxAgeDays, 28),
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.File.Level)}
	return slog.NewJSONHandler(writer, opts)
}

func fallback(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// bracketHandler prefixes each message with "[timestamp][level][logger] ".
// The prefixed message is then written by slog's text handler, so a line
// reads msg="[timestamp][level][logger] message" attr=value ...; the
// "msg=" key and the quoting around the message are not removed.
type bracketHandler struct {
	inner  slog.Handler
	logger string
}

func (h *bracketHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *bracketHandler) Handle(ctx context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	prefix := "[" + ts.Format(time.RFC3339) + "][" + r.Level.String() + "][" + h.logger + "] "
	r.Message = prefix + r.Message
	return h.inner.Handle(ctx, r)
}

func (h *bracketHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bracketHandler{inner: h.inner.WithAttrs(attrs), logger: h.logger}
}

func (h *bracketHandler) WithGroup(name string) slog.Handler {
	return &bracketHandler{inner: h.inner.WithGroup(name), logger: h.logger}
}

// bracketReplacer drops slog's own time/level attrs since bracketHandler
// renders them into the message prefix instead.
func bracketReplacer(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
		return slog.Attr{}
	}
	return a
}

// fanoutHandler dispatches every record to each of its sub-handlers,
// skipping the ones that don't care about that record's level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func fanout(handlers []slog.Handler) slog.Handler {
	return &fanoutHandler{handlers: handlers}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

func parseLevel(s string) slog.Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
