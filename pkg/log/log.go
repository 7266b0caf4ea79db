// Package log provides structured logging utilities and configuration for the service.
package log

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	slogotel "github.com/remychantenay/slog-otel"
)

type ctxKey string

const (
	slogFields      ctxKey = "slog_fields"
	logLevelDefault        = slog.LevelDebug

	debug = "debug"
	warn  = "warn"
	info  = "info"
	erro  = "error"

	priorityCritical = "critical"
)

// Options selects the handler behaviour. Empty fields fall back to the
// LOG_LEVEL and LOG_ADD_SOURCE environment variables.
type Options struct {
	Level     string
	AddSource *bool
	Output    io.Writer
}

type contextHandler struct {
	slog.Handler
}

// Handle adds contextual attributes to the Record before calling the underlying handler
func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		for _, v := range attrs {
			r.AddAttrs(v)
		}
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the context handler on top of the chain.
func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the context handler on top of the chain.
func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

// AppendCtx adds an slog attribute to the provided context so that it will be
// included in any Record created with such context
func AppendCtx(parent context.Context, attr slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if v, ok := parent.Value(slogFields).([]slog.Attr); ok {
		// copy so sibling contexts never share a backing array
		next := make([]slog.Attr, 0, len(v)+1)
		next = append(next, v...)
		next = append(next, attr)
		return context.WithValue(parent, slogFields, next)
	}

	return context.WithValue(parent, slogFields, []slog.Attr{attr})
}

// ParseLevel maps the configured level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case debug:
		return slog.LevelDebug
	case info:
		return slog.LevelInfo
	case warn:
		return slog.LevelWarn
	case erro:
		return slog.LevelError
	default:
		return logLevelDefault
	}
}

// NewHandler builds the JSON handler chain: context attributes, then trace
// correlation, then JSON encoding.
func NewHandler(opts Options) slog.Handler {
	level := opts.Level
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	addSource := os.Getenv("LOG_ADD_SOURCE") == "true"
	if opts.AddSource != nil {
		addSource = *opts.AddSource
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	h := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: addSource,
	})
	return contextHandler{&slogotel.OtelHandler{Next: h}}
}

// InitStructureLogConfig sets the structured log behavior
func InitStructureLogConfig(opts Options) {
	log.SetFlags(log.Llongfile)
	slog.SetDefault(slog.New(NewHandler(opts)))
	slog.Info("log config",
		"logLevel", ParseLevel(opts.Level).String(),
	)
}

// Priority creates a slog.Attr for error priority classification
func Priority(level string) slog.Attr {
	return slog.String("priority", level)
}

// PriorityCritical marks errors that should be escalated to the team:
// persistence failures and stuck idempotency claims.
func PriorityCritical() slog.Attr {
	return Priority(priorityCritical)
}
