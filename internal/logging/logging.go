// Package logging builds the slog loggers used across taskgraph.
//
// Console output is slog text. A configured log file receives JSON records
// through a size-rotated writer. Every logger built by Open also feeds a
// MemoryHandler so recent records can be dumped after a run.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joeycumines/taskgraph/internal/config"
)

// New returns a text logger writing to w at level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to a
// slog.Level. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// Options overrides configured values. Zero fields defer to the config.
type Options struct {
	// Level overrides log-level when non-empty.
	Level string
	// File overrides log-file when non-empty.
	File string
	// Console receives text output. Nil disables console output.
	Console io.Writer
}

// Setup is the result of Open.
type Setup struct {
	Logger *slog.Logger
	Memory *MemoryHandler
	closer io.Closer
}

// Close releases the log file, if any.
func (s *Setup) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Open resolves log settings in the order option, config (or its env var
// override), schema default, and builds the logger. The caller must Close
// the returned Setup.
func Open(cfg *config.Config, opts Options) (*Setup, error) {
	schema := config.DefaultSchema()
	if cfg == nil {
		cfg = config.NewConfig()
	}

	levelStr := opts.Level
	if levelStr == "" {
		levelStr = schema.Resolve(cfg, config.KeyLogLevel)
	}
	level, err := ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	memory := NewMemoryHandler(schema.ResolveInt(cfg, config.KeyLogBufferSize), level)
	handlers := []slog.Handler{memory}
	if opts.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Console, &slog.HandlerOptions{Level: level}))
	}

	setup := &Setup{Memory: memory}
	path := opts.File
	if path == "" {
		path = schema.Resolve(cfg, config.KeyLogFile)
	}
	if path != "" {
		f, err := OpenRotatingFile(path,
			schema.ResolveInt(cfg, config.KeyLogMaxSizeMB),
			schema.ResolveInt(cfg, config.KeyLogMaxFiles))
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		setup.closer = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}

	setup.Logger = slog.New(fanout(handlers))
	return setup, nil
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
