package observability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// WithTraceID attaches a request-scoped trace identifier to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the trace identifier carried by ctx, if any.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// LoggerWithTrace returns a zerolog.Logger enriched with trace_id from the
// context, if one was attached with WithTraceID.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if id := TraceID(ctx); id != "" {
		l = l.With().Str("trace_id", id).Logger()
	}
	return &l
}
