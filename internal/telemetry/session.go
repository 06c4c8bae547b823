package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func sessionTracer() trace.Tracer {
	return otel.Tracer("feedpilot/session")
}

// SessionAttributes describes a session.run span.
type SessionAttributes struct {
	SessionID string
	Mode      string
	Strategy  string
	Budget    int
}

// StartSession opens the session.run root span.
func StartSession(ctx context.Context, attrs SessionAttributes) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return sessionTracer().Start(ctx, "session.run", trace.WithAttributes(
		attribute.String("session.id", strings.TrimSpace(attrs.SessionID)),
		attribute.String("session.mode", orUnknown(attrs.Mode)),
		attribute.String("session.strategy", orUnknown(attrs.Strategy)),
		attribute.Int("session.budget", attrs.Budget),
	))
}

// EndSession stamps the terminal reason and processed count, then ends span.
func EndSession(span trace.Span, reason string, processed int, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("session.terminal_reason", orUnknown(reason)),
		attribute.Int("session.processed", processed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Redact(err.Error()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartCycle opens a session.cycle span under the session span in ctx.
func StartCycle(ctx context.Context, cycle int) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return sessionTracer().Start(ctx, "session.cycle", trace.WithAttributes(attribute.Int("cycle.number", cycle)))
}

func EndCycle(span trace.Span, intent, outcome string, stuck int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("cycle.intent", orUnknown(intent)),
		attribute.String("cycle.outcome", orUnknown(outcome)),
		attribute.Int("cycle.stuck_count", stuck),
	)
	span.End()
}
