// Package state holds the session lifecycle state machine.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/feedpilot/feedpilot/internal/telemetry/invariants"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EntitySession is the entity type reported on spans and events.
const EntitySession = "session"

// Session lifecycle states.
const (
	Init          = "init"
	ReadyForCycle = "ready_for_cycle"
	Perceived     = "perceived"
	DecisionMade  = "decision_made"
	Confirmed     = "confirmed"
	Declined      = "declined"
	Acted         = "acted"
	ActionFailed  = "action_failed"
	Verified      = "verified"
	Recovering    = "recovering"
	Completed     = "completed"
	Failed        = "failed"
	Cancelled     = "cancelled"
)

var allowedTransitions = map[string]map[string]struct{}{
	Init: {
		ReadyForCycle: {},
		Failed:        {},
		Cancelled:     {},
	},
	ReadyForCycle: {
		Perceived:  {},
		Recovering: {},
		Completed:  {},
		Failed:     {},
		Cancelled:  {},
	},
	Perceived: {
		DecisionMade:  {},
		ReadyForCycle: {},
		Recovering:    {},
		Completed:     {},
		Cancelled:     {},
	},
	DecisionMade: {
		Confirmed:    {},
		Declined:     {},
		Acted:        {},
		ActionFailed: {},
		Failed:       {},
		Cancelled:    {},
	},
	Confirmed: {
		Acted:        {},
		ActionFailed: {},
		Cancelled:    {},
	},
	Declined: {
		ReadyForCycle: {},
		Cancelled:     {},
	},
	Acted: {
		Verified:  {},
		Cancelled: {},
	},
	ActionFailed: {
		ReadyForCycle: {},
		Recovering:    {},
		Cancelled:     {},
	},
	Verified: {
		ReadyForCycle: {},
		Recovering:    {},
		Completed:     {},
		Cancelled:     {},
	},
	Recovering: {
		ReadyForCycle: {},
		Failed:        {},
		Cancelled:     {},
	},
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s string) bool {
	switch s {
	case Completed, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// Allowed reports whether from -> to is a legal transition.
func Allowed(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Option configures Machine construction.
type Option func(*Machine)

// WithTracer configures the tracer used for state transition spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(machine *Machine) {
		if tracer == nil {
			return
		}
		machine.tracer = tracer
	}
}

// WithPublisher publishes every accepted transition on bus.
func WithPublisher(bus events.Bus) Option {
	return func(machine *Machine) {
		machine.bus = bus
	}
}

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(machine *Machine) {
		if now != nil {
			machine.now = now
		}
	}
}

// TransitionRecord stores transition metadata for local history.
type TransitionRecord struct {
	SessionID string
	FromState string
	ToState   string
	Reason    string
	Timestamp time.Time
}

// IllegalTransitionError is returned for a disallowed transition.
type IllegalTransitionError struct {
	SessionID string
	FromState string
	ToState   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot transition session %q from %q to %q", e.SessionID, e.FromState, e.ToState)
}

// Is enables errors.Is checks for illegal transition failures.
func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}

// Machine tracks the current state of one session and validates every
// transition against the lifecycle table.
type Machine struct {
	sessionID string
	tracer    trace.Tracer
	bus       events.Bus
	now       func() time.Time

	mu      sync.Mutex
	current string
	history []TransitionRecord
}

// NewMachine builds a machine for sessionID starting in Init.
func NewMachine(sessionID string, options ...Option) (*Machine, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id must not be empty")
	}

	machine := &Machine{
		sessionID: sessionID,
		tracer:    otel.Tracer("feedpilot/state"),
		now:       time.Now,
		current:   Init,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(machine)
	}
	return machine, nil
}

// Current returns the current state.
func (m *Machine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves the machine to toState. Illegal transitions leave the state
// unchanged and return *IllegalTransitionError.
func (m *Machine) Transition(ctx context.Context, toState, reason string) error {
	if m == nil {
		return errors.New("machine is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	toState = strings.TrimSpace(toState)
	reason = strings.TrimSpace(reason)

	m.mu.Lock()
	fromState := m.current

	ctx, span := m.tracer.Start(ctx, "state.transition")
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()
	span.SetAttributes(
		attribute.String("entity_type", EntitySession),
		attribute.String("entity_id", m.sessionID),
		attribute.String("from_state", fromState),
		attribute.String("to_state", toState),
		attribute.String("reason", reason),
	)

	if !Allowed(fromState, toState) {
		m.mu.Unlock()
		invariants.Transition(ctx, "state.transition", fromState, toState, false)
		err := &IllegalTransitionError{SessionID: m.sessionID, FromState: fromState, ToState: toState}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	record := TransitionRecord{
		SessionID: m.sessionID,
		FromState: fromState,
		ToState:   toState,
		Reason:    reason,
		Timestamp: m.now().UTC(),
	}
	m.current = toState
	m.history = append(m.history, record)
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:       events.EventTypeStateTransition,
			Timestamp:  record.Timestamp,
			EntityType: EntitySession,
			EntityID:   m.sessionID,
			Payload: events.StateTransitionPayload{
				From:   fromState,
				To:     toState,
				Reason: reason,
			},
			Severity: severityFor(toState),
		})
	}
	span.SetStatus(codes.Ok, "state transition applied")
	return nil
}

// History returns transition records captured by this machine.
func (m *Machine) History() []TransitionRecord {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

func severityFor(toState string) string {
	switch toState {
	case Failed:
		return events.SeverityError
	case Recovering, ActionFailed:
		return events.SeverityWarn
	default:
		return events.SeverityInfo
	}
}
