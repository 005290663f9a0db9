// Package logging provides the slog handler used by the connector.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects the log output format
type Format string

const (
	// FormatText renders colorized human-readable output
	FormatText Format = "text"

	// FormatJSON renders structured JSON output
	FormatJSON Format = "json"
)

type handlerConfig struct {
	level  slog.Level
	format Format
	writer io.Writer
}

// Option configures the handler
type Option func(*handlerConfig)

// WithLevel sets the minimum log level
func WithLevel(level slog.Level) Option {
	return func(cfg *handlerConfig) {
		cfg.level = level
	}
}

// WithFormat sets the output format
func WithFormat(format Format) Option {
	return func(cfg *handlerConfig) {
		cfg.format = format
	}
}

// WithWriter sets the output writer, used by tests
func WithWriter(w io.Writer) Option {
	return func(cfg *handlerConfig) {
		cfg.writer = w
	}
}

// NewHandler creates the slog handler. Output goes to stderr so stdout stays
// clean for commands that print data.
func NewHandler(opts ...Option) slog.Handler {
	cfg := &handlerConfig{
		level:  slog.LevelInfo,
		format: FormatText,
		writer: os.Stderr,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.format == FormatJSON {
		return slog.NewJSONHandler(cfg.writer, &slog.HandlerOptions{Level: cfg.level})
	}
	return tint.NewHandler(cfg.writer, &tint.Options{
		Level:      cfg.level,
		TimeFormat: time.Kitchen,
	})
}
