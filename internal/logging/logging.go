// Package logging configures the process-wide slog logger. Component loggers
// may be created at package init; they follow whatever Setup installs later.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Structured field keys shared by every component.
const (
	KeyComponent     = "component"
	KeyCorrelationID = "correlationId"
	KeyRequestID     = "requestId"
	KeyDurationMs    = "durationMs"
	KeyError         = "error"
)

const redacted = "[REDACTED]"

// Attribute keys whose values never reach the log output.
var secretKeys = map[string]bool{
	"password":      true,
	"passwordHash":  true,
	"authorization": true,
}

var (
	level = new(slog.LevelVar)
	root  atomic.Pointer[slog.Handler]
	base  = slog.New(deferred{})
)

func init() {
	h := newHandler("text", os.Stdout)
	root.Store(&h)
	slog.SetDefault(base)
}

// Options selects the output encoding, minimum level and destination.
type Options struct {
	// Format is "json" or "text".
	Format string
	// Level is one of debug, info, warn or error. Unknown values mean info.
	Level  string
	Output io.Writer
}

// Setup installs the configured handler. Safe to call more than once.
func Setup(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	level.Set(parseLevel(opts.Level))
	h := newHandler(opts.Format, out)
	root.Store(&h)
}

func newHandler(format string, out io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[a.Key] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return base.With(slog.String(KeyComponent, component))
}

// WithCorrelation tags logger with a notification correlation id.
func WithCorrelation(logger *slog.Logger, correlationID string) *slog.Logger {
	return logger.With(slog.String(KeyCorrelationID, correlationID))
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored by NewContext, or the root logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return base
}

// deferred resolves the installed root handler on every record and replays
// its With/WithGroup steps on top of it.
type deferred struct {
	steps []step
}

// step is either a group (name set) or a batch of attrs.
type step struct {
	group string
	attrs []slog.Attr
}

func (d deferred) resolve() slog.Handler {
	h := *root.Load()
	for _, s := range d.steps {
		if s.group != "" {
			h = h.WithGroup(s.group)
		} else {
			h = h.WithAttrs(s.attrs)
		}
	}
	return h
}

func (d deferred) Enabled(_ context.Context, l slog.Level) bool {
	return l >= level.Level()
}

func (d deferred) Handle(ctx context.Context, r slog.Record) error {
	return d.resolve().Handle(ctx, r)
}

func (d deferred) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return d
	}
	return deferred{steps: d.with(step{attrs: attrs})}
}

func (d deferred) WithGroup(name string) slog.Handler {
	if name == "" {
		return d
	}
	return deferred{steps: d.with(step{group: name})}
}

func (d deferred) with(s step) []step {
	out := make([]step, len(d.steps), len(d.steps)+1)
	copy(out, d.steps)
	return append(out, s)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
