// Package logging builds the service logger on top of log/slog.
//
// Local runs get human-readable text on stderr at debug level. Production
// runs get JSON at info level. When a log directory is configured, output
// additionally goes to a dated JSON file named {service}_{date}.log.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	EnvLocal = "local"
	EnvProd  = "prod"
)

// Config controls logger construction.
type Config struct {
	// Env selects the output format and default level. Unknown values
	// are treated as prod.
	Env string

	// LogDir, when set, enables file logging. The directory is created
	// if missing.
	LogDir string

	// Service names the log file: {service}_{date}.log.
	Service string
}

// New builds the logger. The returned closer flushes and closes the log
// file; it is a no-op when file logging is disabled.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var console slog.Handler
	if cfg.Env == EnvLocal {
		console = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		console = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}

	if cfg.LogDir == "" {
		return slog.New(console), nopCloser{}, nil
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("logging: create log dir: %w", err)
	}

	service := cfg.Service
	if service == "" {
		service = "coreapi"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().UTC().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(cfg.LogDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(&fanoutHandler{handlers: []slog.Handler{console, fileHandler}}), file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanoutHandler forwards each record to every destination. A destination
// failure does not stop delivery to the others.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
