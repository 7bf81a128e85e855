// Package logging sets up process logging: a console handler plus a
// rotating log file.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFile is where the log file goes when none is configured.
const DefaultFile = "logs/review_pc.log"

// Options configures Setup.
type Options struct {
	// File is the rotating log file. Empty disables file logging.
	File string
	// Level applies to the file handler: debug, info, warn or error.
	Level string
	// MaxSizeMB, MaxBackups and MaxAgeDays control rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Console receives human-readable output. Nil means os.Stderr.
	Console io.Writer
	// Verbose lowers the console level to debug.
	Verbose bool
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// New builds a logger from opts. The returned closer flushes and closes the
// log file.
func New(opts Options) (*slog.Logger, func() error, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleLevel := slog.LevelInfo
	if opts.Verbose {
		consoleLevel = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: consoleLevel}),
	}
	closer := func() error { return nil }

	if opts.File != "" {
		level, err := ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, err
		}
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		handlers = append(handlers, slog.NewTextHandler(rotator, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.String(slog.TimeKey, a.Value.Time().Format("2006-01-02 15:04:05.000"))
				}
				return a
			},
		}))
		closer = rotator.Close
	}

	return slog.New(&MultiHandler{handlers: handlers}), closer, nil
}

// Setup builds a logger from opts and installs it as the slog default.
func Setup(opts Options) (func() error, error) {
	logger, closer, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

// MultiHandler fans records out to several handlers, each filtering by its
// own level.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler combines handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: next}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &MultiHandler{handlers: next}
}
