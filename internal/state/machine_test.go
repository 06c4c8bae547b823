package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/feedpilot/feedpilot/internal/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTransitionFollowsSessionLifecycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sequence []string
		final    string
	}{
		{
			name:     "verified cycle then budget reached",
			sequence: []string{ReadyForCycle, Perceived, DecisionMade, Acted, Verified, ReadyForCycle, Completed},
			final:    Completed,
		},
		{
			name:     "confirmation declined",
			sequence: []string{ReadyForCycle, Perceived, DecisionMade, Declined, ReadyForCycle},
			final:    ReadyForCycle,
		},
		{
			name:     "confirmed then action failure then recovery",
			sequence: []string{ReadyForCycle, Perceived, DecisionMade, Confirmed, ActionFailed, Recovering, ReadyForCycle},
			final:    ReadyForCycle,
		},
		{
			name:     "recovery exhausted",
			sequence: []string{ReadyForCycle, Perceived, DecisionMade, Acted, Verified, Recovering, Failed},
			final:    Failed,
		},
		{
			name:     "precheck failed",
			sequence: []string{Failed},
			final:    Failed,
		},
		{
			name:     "end of feed",
			sequence: []string{ReadyForCycle, Perceived, Completed},
			final:    Completed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			machine, err := NewMachine("session-1")
			if err != nil {
				t.Fatalf("new machine: %v", err)
			}
			if machine.Current() != Init {
				t.Fatalf("initial state = %q, want %q", machine.Current(), Init)
			}
			for _, next := range tt.sequence {
				if err := machine.Transition(context.Background(), next, "step"); err != nil {
					t.Fatalf("transition to %s: %v", next, err)
				}
			}
			if machine.Current() != tt.final {
				t.Fatalf("final state = %q, want %q", machine.Current(), tt.final)
			}
			if got := len(machine.History()); got != len(tt.sequence) {
				t.Fatalf("history length = %d, want %d", got, len(tt.sequence))
			}
		})
	}
}

func TestTransitionRejectsIllegalTransitionWithTypedError(t *testing.T) {
	t.Parallel()

	machine, err := NewMachine("session-42")
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	err = machine.Transition(context.Background(), Acted, "skip ahead")
	if err == nil {
		t.Fatal("expected illegal transition error")
	}
	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("error type = %T, want *IllegalTransitionError", err)
	}
	if !errors.Is(err, &IllegalTransitionError{}) {
		t.Fatal("errors.Is should match IllegalTransitionError")
	}
	if illegal.FromState != Init || illegal.ToState != Acted {
		t.Fatalf("illegal transition = %s -> %s", illegal.FromState, illegal.ToState)
	}
	if machine.Current() != Init {
		t.Fatalf("state changed after illegal transition: %q", machine.Current())
	}
	if len(machine.History()) != 0 {
		t.Fatal("illegal transition must not be recorded")
	}
}

func TestTerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	t.Parallel()

	states := []string{
		Init, ReadyForCycle, Perceived, DecisionMade, Confirmed, Declined,
		Acted, ActionFailed, Verified, Recovering, Completed, Failed, Cancelled,
	}
	for _, from := range []string{Completed, Failed, Cancelled} {
		if !IsTerminal(from) {
			t.Fatalf("%s should be terminal", from)
		}
		for _, to := range states {
			if Allowed(from, to) {
				t.Fatalf("terminal state %s allows transition to %s", from, to)
			}
		}
	}
	for _, s := range states {
		if Allowed(s, s) {
			t.Fatalf("self transition allowed for %s", s)
		}
	}
	if IsTerminal(Recovering) {
		t.Fatal("recovering must not be terminal")
	}
}

func TestEveryActiveStateCanBeCancelled(t *testing.T) {
	t.Parallel()

	for from := range allowedTransitions {
		if !Allowed(from, Cancelled) {
			t.Fatalf("state %s cannot transition to cancelled", from)
		}
	}
}

func TestTransitionRecordsTimestampAndReason(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	machine, err := NewMachine("session-7", WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	if err := machine.Transition(context.Background(), ReadyForCycle, "  precheck passed  "); err != nil {
		t.Fatalf("transition: %v", err)
	}

	history := machine.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	record := history[0]
	if !record.Timestamp.Equal(fixed) || record.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp = %v, want %v in UTC", record.Timestamp, fixed)
	}
	if record.Reason != "precheck passed" {
		t.Fatalf("reason = %q, want trimmed reason", record.Reason)
	}
	if record.SessionID != "session-7" || record.FromState != Init || record.ToState != ReadyForCycle {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestTransitionPublishesStateTransitionEvents(t *testing.T) {
	t.Parallel()

	bus := &recordingBus{}
	machine, err := NewMachine("session-9", WithPublisher(bus))
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	if err := machine.Transition(context.Background(), Failed, "precheck failed"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	_ = machine.Transition(context.Background(), ReadyForCycle, "illegal")

	published := bus.all()
	if len(published) != 1 {
		t.Fatalf("published = %d events, want 1", len(published))
	}
	event := published[0]
	if event.Type != events.EventTypeStateTransition || event.EntityID != "session-9" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Severity != events.SeverityError {
		t.Fatalf("severity = %q, want %q", event.Severity, events.SeverityError)
	}
	payload, ok := event.Payload.(events.StateTransitionPayload)
	if !ok || payload.From != Init || payload.To != Failed || payload.Reason != "precheck failed" {
		t.Fatalf("payload = %#v", event.Payload)
	}
}

func TestNewMachineRequiresSessionID(t *testing.T) {
	t.Parallel()

	if _, err := NewMachine("  "); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestTransitionCreatesSpanWithRequiredAttributes(t *testing.T) {
	t.Parallel()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown tracer provider: %v", err)
		}
	})

	machine, err := NewMachine("session-11", WithTracer(provider.Tracer("state-test")))
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	if err := machine.Transition(context.Background(), ReadyForCycle, "precheck passed"); err != nil {
		t.Fatalf("transition: %v", err)
	}

	span := findTransitionSpan(t, spanRecorder.Ended())
	attrs := attributesToMap(span.Attributes())

	if got := attrs["entity_type"]; got != EntitySession {
		t.Fatalf("entity_type = %q, want %q", got, EntitySession)
	}
	if got := attrs["entity_id"]; got != "session-11" {
		t.Fatalf("entity_id = %q, want %q", got, "session-11")
	}
	if got := attrs["from_state"]; got != Init {
		t.Fatalf("from_state = %q, want %q", got, Init)
	}
	if got := attrs["to_state"]; got != ReadyForCycle {
		t.Fatalf("to_state = %q, want %q", got, ReadyForCycle)
	}
	if got := attrs["reason"]; got != "precheck passed" {
		t.Fatalf("reason = %q, want %q", got, "precheck passed")
	}
	if _, ok := attrs["duration_ms"]; !ok {
		t.Fatal("duration_ms attribute missing")
	}
}

func TestIllegalTransitionRecordsErrorAndUsesParentContext(t *testing.T) {
	t.Parallel()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown tracer provider: %v", err)
		}
	})

	tracer := provider.Tracer("state-test")
	machine, err := NewMachine("session-13", WithTracer(tracer))
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	parentCtx, parentSpan := tracer.Start(context.Background(), "parent")
	err = machine.Transition(parentCtx, Verified, "no action taken")
	parentSpan.End()
	if err == nil {
		t.Fatal("expected transition error, got nil")
	}

	transitionSpan := findTransitionSpan(t, spanRecorder.Ended())
	if transitionSpan.Parent().SpanID() != parentSpan.SpanContext().SpanID() {
		t.Fatalf("transition span parent = %s, want %s", transitionSpan.Parent().SpanID(), parentSpan.SpanContext().SpanID())
	}
	if transitionSpan.Status().Code != codes.Error {
		t.Fatalf("status code = %v, want %v", transitionSpan.Status().Code, codes.Error)
	}
	if len(transitionSpan.Events()) == 0 {
		t.Fatal("expected at least one event recorded on error span")
	}
}

func findTransitionSpan(t *testing.T, spans []sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range spans {
		if span.Name() == "state.transition" {
			return span
		}
	}
	t.Fatalf("state.transition span not found in %d spans", len(spans))
	return nil
}

func attributesToMap(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		out[string(attr.Key)] = attr.Value.Emit()
	}
	return out
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) SubscribeAll(events.Handler) {}

func (b *recordingBus) Publish(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) all() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Event, len(b.events))
	copy(out, b.events)
	return out
}
