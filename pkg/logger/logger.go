package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	Format      string // "json" (default) or "console"
	WarnStack   bool
	Output      io.Writer
}

// Logger writes JSON lines through zerolog. Fields added with WithField and
// WithFields ride on the context, so every entry logged further down the call
// chain carries them.
type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(strings.TrimSpace(opts.Format), "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	return &Logger{
		base:      zerolog.New(out).Level(level).With().Timestamp().Str("service", opts.ServiceName).Logger(),
		warnStack: opts.WarnStack,
	}
}

// Nop discards everything.
func Nop() *Logger {
	return New(Options{Output: io.Discard, Level: zerolog.Disabled})
}

// ParseLevel maps COOP_LOG_LEVEL onto zerolog. Blank or unknown values mean info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// current returns the entry logger stored on ctx, or the base logger.
func (l *Logger) current(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if z := zerolog.Ctx(ctx); z.GetLevel() != zerolog.Disabled {
			return z
		}
	}
	return &l.base
}

func (l *Logger) store(ctx context.Context, z zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return z.WithContext(ctx)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.store(ctx, l.current(ctx).With().Interface(key, value).Logger())
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.store(ctx, l.current(ctx).With().Fields(fields).Logger())
}

func (l *Logger) WithRequestID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "request_id", id)
}

func (l *Logger) WithMemberID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "member_id", id)
}

func (l *Logger) WithSubscriptionID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "subscription_id", id)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	withSpan(ctx, l.current(ctx).Debug()).Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	withSpan(ctx, l.current(ctx).Info()).Msg(msg)
}

// Warn attaches a stack only when COOP_LOG_WARN_STACK is on.
func (l *Logger) Warn(ctx context.Context, msg string) {
	e := withSpan(ctx, l.current(ctx).Warn())
	if l.warnStack {
		e = e.Str("stack", stack())
	}
	e.Msg(msg)
}

// Error always attaches a stack.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	withSpan(ctx, l.current(ctx).Error()).Err(err).Str("stack", stack()).Msg(msg)
}

// withSpan stamps trace_id and span_id when ctx carries a live span. zerolog
// treats a nil event (level disabled) as a no-op.
func withSpan(ctx context.Context, e *zerolog.Event) *zerolog.Event {
	if e == nil || ctx == nil {
		return e
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		e = e.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	return e
}

func stack() string {
	return strings.TrimSpace(string(debug.Stack()))
}
