// Package invariants records broken session invariants as invariant.violation
// span events.
package invariants

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// BudgetNotExceeded requires processed subjects to stay within the budget.
	BudgetNotExceeded = "budget_not_exceeded"
	// IrreversibleActionGated requires irreversible intents to reach the
	// executor only in normal mode.
	IrreversibleActionGated = "irreversible_action_gated"
	// MaxRetriesNotExceeded requires executor retries to stay within the cap.
	MaxRetriesNotExceeded = "max_retries_not_exceeded"
	// StateTransitionLegal requires session transitions to follow the table.
	StateTransitionLegal = "state_transition_legal"
)

const (
	// SeverityWarn marks a violation the session survives.
	SeverityWarn = "warn"
	// SeverityError marks a violation that indicates a defect.
	SeverityError = "error"
)

const (
	eventName  = "invariant.violation"
	modeNormal = "normal"
)

var disabled atomic.Bool

// SetEnabled turns reporting on or off process-wide.
func SetEnabled(enabled bool) {
	disabled.Store(!enabled)
}

// Enabled reports whether violations are recorded.
func Enabled() bool {
	return !disabled.Load()
}

// Violation describes one broken invariant.
type Violation struct {
	Invariant string
	Severity  string
	// Where names the code path that detected the violation, e.g.
	// "session.execute".
	Where string
	Why   string
	Attrs []attribute.KeyValue
}

func (v Violation) attributes() []attribute.KeyValue {
	name := strings.TrimSpace(v.Invariant)
	if name == "" {
		name = "unknown"
	}
	severity := SeverityError
	if strings.EqualFold(strings.TrimSpace(v.Severity), SeverityWarn) {
		severity = SeverityWarn
	}
	attrs := []attribute.KeyValue{
		attribute.String("invariant.name", name),
		attribute.String("invariant.severity", severity),
		attribute.String("invariant.where", strings.TrimSpace(v.Where)),
		attribute.String("invariant.why", strings.TrimSpace(v.Why)),
	}
	return append(attrs, v.Attrs...)
}

// Report records v on the span carried by ctx. Without a recording span a
// short-lived one is started so the event is not lost.
func Report(ctx context.Context, v Violation) {
	if !Enabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := v.attributes()

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		span.AddEvent(eventName, trace.WithAttributes(attrs...))
		return
	}
	_, span := otel.Tracer("feedpilot/invariants").Start(ctx, eventName)
	span.AddEvent(eventName, trace.WithAttributes(attrs...))
	span.End()
}

// Budget reports whether processed is within budget.
func Budget(ctx context.Context, where string, processed, budget int) bool {
	if processed <= budget {
		return true
	}
	Report(ctx, Violation{
		Invariant: BudgetNotExceeded,
		Where:     where,
		Why:       fmt.Sprintf("processed %d of a %d budget", processed, budget),
		Attrs: []attribute.KeyValue{
			attribute.Int("session.processed", processed),
			attribute.Int("session.budget", budget),
		},
	})
	return false
}

// IrreversibleGated reports whether an irreversible intent of kind may reach
// the executor in mode.
func IrreversibleGated(ctx context.Context, where, kind, mode string) bool {
	if strings.EqualFold(strings.TrimSpace(mode), modeNormal) {
		return true
	}
	Report(ctx, Violation{
		Invariant: IrreversibleActionGated,
		Where:     where,
		Why:       fmt.Sprintf("%s reached the executor in %s mode", kind, mode),
		Attrs: []attribute.KeyValue{
			attribute.String("intent.kind", kind),
			attribute.String("session.mode", mode),
		},
	})
	return false
}

// Retries reports whether retries stays within limit. A limit below zero
// disables the check.
func Retries(ctx context.Context, where string, retries, limit int) bool {
	if limit < 0 || retries <= limit {
		return true
	}
	Report(ctx, Violation{
		Invariant: MaxRetriesNotExceeded,
		Severity:  SeverityWarn,
		Where:     where,
		Why:       fmt.Sprintf("%d retries against a limit of %d", retries, limit),
		Attrs: []attribute.KeyValue{
			attribute.Int("executor.retries", retries),
			attribute.Int("executor.retry_limit", limit),
		},
	})
	return false
}

// Transition records an illegal from->to transition. It returns legal.
func Transition(ctx context.Context, where, from, to string, legal bool) bool {
	if legal {
		return true
	}
	Report(ctx, Violation{
		Invariant: StateTransitionLegal,
		Where:     where,
		Why:       fmt.Sprintf("%s -> %s is not in the transition table", from, to),
		Attrs: []attribute.KeyValue{
			attribute.String("state.from", from),
			attribute.String("state.to", to),
		},
	})
	return false
}
