// Package logger builds the process-wide slog.Logger: JSON output for
// production log aggregation, text for local development.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Format selects the handler encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Option configures logger creation.
type Option func(*config)

type config struct {
	level   slog.Level
	format  Format
	output  io.Writer
	service string
	env     string
}

// WithLevel sets the minimum level.
func WithLevel(l slog.Level) Option {
	return func(c *config) { c.level = l }
}

// WithFormat sets the output encoding.
func WithFormat(f Format) Option {
	return func(c *config) { c.format = f }
}

// WithOutput redirects output; nil writers are ignored.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithService attaches a static service attribute to every record.
func WithService(name string) Option {
	return func(c *config) { c.service = name }
}

// WithEnvironment applies per-environment defaults: debug text logs in
// development, info JSON logs everywhere else.
func WithEnvironment(env string) Option {
	return func(c *config) {
		c.env = env
		switch env {
		case "development", "dev", "local":
			c.level = slog.LevelDebug
			c.format = FormatText
		default:
			c.level = slog.LevelInfo
			c.format = FormatJSON
		}
	}
}

// New creates a configured slog.Logger.
func New(opts ...Option) *slog.Logger {
	cfg := &config{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}

	var handler slog.Handler
	if cfg.format == FormatText {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	}

	var attrs []slog.Attr
	if cfg.service != "" {
		attrs = append(attrs, slog.String("service", cfg.service))
	}
	if cfg.env != "" {
		attrs = append(attrs, slog.String("env", cfg.env))
	}
	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}

	return slog.New(handler)
}
