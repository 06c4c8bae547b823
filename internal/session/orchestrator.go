// Package session owns the per-session state machine that sequences capture,
// decision, action, verification and recovery against a single device.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/state"
	"github.com/feedpilot/feedpilot/internal/telemetry"
	"github.com/feedpilot/feedpilot/internal/telemetry/invariants"
	"github.com/google/uuid"
)

// Dependencies are the collaborators an Orchestrator sequences.
type Dependencies struct {
	Executor   action.Executor
	Perception perception.Provider
	Policy     Policy
	Verifier   Verifier
	Recovery   Recoverer
	// Confirmer is required only when confirmation is enabled.
	Confirmer Confirmer
	Sink      Sink
	Bus       events.Bus
	Logger    *log.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(o *Orchestrator) {
		if id = strings.TrimSpace(id); id != "" {
			o.sessionID = id
		}
	}
}

// WithClock overrides the time source used for records and the summary.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSleep overrides the settle pause taken after physical actions.
func WithSleep(sleep func(time.Duration)) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// runState is the mutable session state. Only the Orchestrator writes it.
type runState struct {
	cycle       int
	processed   int
	stuck       int
	current     perception.Fingerprint
	previous    perception.Fingerprint
	declined    perception.Fingerprint
	lastAction  action.Intent
	priority    int
	lastFailure error
	unreachable bool
}

type termination struct {
	reason     Reason
	diagnostic string
}

// Orchestrator runs one session. It is single use.
type Orchestrator struct {
	cfg        Config
	executor   action.Executor
	perception perception.Provider
	policy     Policy
	verifier   Verifier
	recovery   Recoverer
	confirmer  Confirmer
	sink       Sink
	bus        events.Bus
	logger     *log.Logger
	machine    *state.Machine
	sessionID  string
	now        func() time.Time
	sleep      func(time.Duration)

	ran     bool
	state   runState
	summary Summary
}

// New creates an Orchestrator with required dependencies.
func New(cfg Config, deps Dependencies, options ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if deps.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if deps.Perception == nil {
		return nil, errors.New("perception provider is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("decision policy is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if deps.Recovery == nil {
		return nil, errors.New("recovery controller is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("record sink is required")
	}
	if cfg.ConfirmationRequired && deps.Confirmer == nil {
		return nil, errors.New("confirmer is required when confirmation is enabled")
	}

	o := &Orchestrator{
		cfg:        cfg,
		executor:   deps.Executor,
		perception: deps.Perception,
		policy:     deps.Policy,
		verifier:   deps.Verifier,
		recovery:   deps.Recovery,
		confirmer:  deps.Confirmer,
		sink:       deps.Sink,
		bus:        deps.Bus,
		logger:     deps.Logger,
		sessionID:  uuid.NewString(),
		now:        time.Now,
		sleep:      time.Sleep,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	o.logger = o.logger.With("session_id", o.sessionID)

	machineOptions := []state.Option{state.WithClock(o.now)}
	if o.bus != nil {
		machineOptions = append(machineOptions, state.WithPublisher(o.bus))
	}
	machine, err := state.NewMachine(o.sessionID, machineOptions...)
	if err != nil {
		return nil, err
	}
	o.machine = machine
	return o, nil
}

// SessionID returns the id stamped on every record and event.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() string {
	return o.machine.Current()
}

// Run drives the session to a terminal state. Domain terminations are
// reported through Summary.Reason; the error is non-nil only when the state
// machine rejects a transition or the orchestrator is reused.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if o == nil {
		return Summary{}, errors.New("orchestrator is nil")
	}
	if o.ran {
		return Summary{}, errors.New("session already ran; create a new orchestrator")
	}
	o.ran = true
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := telemetry.StartSession(ctx, telemetry.SessionAttributes{
		SessionID: o.sessionID,
		Mode:      string(o.cfg.Mode),
		Strategy:  string(o.cfg.Strategy),
		Budget:    o.cfg.Budget,
	})
	o.summary = Summary{SessionID: o.sessionID, StartedAt: o.now().UTC()}
	o.logger.Info("session started",
		"mode", o.cfg.Mode,
		"strategy", o.cfg.Strategy,
		"budget", o.cfg.Budget,
		"confirm", o.cfg.ConfirmationRequired,
	)

	term, err := o.loop(ctx)
	if err != nil {
		o.logger.Error("session aborted by state machine fault", "state", o.machine.Current(), "error", err)
		o.finish(termination{diagnostic: err.Error()})
		telemetry.EndSession(span, "fault", o.state.processed, err)
		return o.summary, fmt.Errorf("session %s: %w", o.sessionID, err)
	}
	o.finish(*term)
	telemetry.EndSession(span, string(o.summary.Reason), o.summary.Processed, o.summary.Err())
	return o.summary, nil
}

func (o *Orchestrator) loop(ctx context.Context) (*termination, error) {
	if ctx.Err() != nil {
		return o.terminate(ctx, state.Cancelled, ReasonCancelled, "cancelled before start")
	}
	if term, err := o.start(ctx); term != nil || err != nil {
		return term, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return o.terminate(ctx, state.Cancelled, ReasonCancelled, fmt.Sprintf("cancelled after cycle %d", o.state.cycle))
		}
		term, err := o.runCycle(ctx)
		if term != nil || err != nil {
			return term, err
		}
	}
}

func (o *Orchestrator) start(ctx context.Context) (*termination, error) {
	if o.cfg.SkipPrecheck {
		o.logger.Warn("entry precheck skipped")
		return nil, o.move(ctx, state.ReadyForCycle, "entry precheck skipped")
	}
	if diagnostic, ok := o.precheck(ctx); !ok {
		o.logger.Error("entry precondition unmet", "diagnostic", diagnostic)
		return o.terminate(ctx, state.Failed, ReasonPreconditionUnmet, diagnostic)
	}
	return nil, o.move(ctx, state.ReadyForCycle, "entry precondition met")
}

// precheck verifies that a like target is visible on the entry screen.
func (o *Orchestrator) precheck(ctx context.Context) (string, bool) {
	snapshot, err := o.perceive(ctx)
	if err != nil {
		return fmt.Sprintf("entry screen could not be perceived: %v", err), false
	}
	threshold := o.cfg.ConfidenceThreshold
	if snapshot.Located(perception.ElementLikePriority, threshold) || snapshot.Located(perception.ElementLike, threshold) {
		o.state.current = snapshot.Fingerprint
		return "", true
	}
	return fmt.Sprintf("entry marker not visible: no like target at confidence >= %.2f", threshold), false
}

// perceive captures and analyzes one frame with bounded retries.
func (o *Orchestrator) perceive(ctx context.Context) (perception.Snapshot, error) {
	var snapshot perception.Snapshot
	operation := func() error {
		callCtx, cancel := o.callContext(ctx)
		defer cancel()
		frame, err := o.executor.Capture(callCtx)
		if err != nil {
			o.state.unreachable = true
			return fmt.Errorf("%w: capture: %v", ErrExecutorTransient, err)
		}
		o.state.unreachable = false
		analyzed, err := o.perception.Analyze(callCtx, frame)
		if err != nil {
			return fmt.Errorf("analyze frame: %w", err)
		}
		snapshot = analyzed
		return nil
	}
	if err := backoff.Retry(operation, o.retryPolicy()); err != nil {
		o.state.lastFailure = err
		return perception.Snapshot{}, err
	}
	return snapshot, nil
}

// attempt runs one executor call for intent, retrying the same intent.
func (o *Orchestrator) attempt(ctx context.Context, intent action.Intent) action.Result {
	var (
		result   action.Result
		attempts int
	)
	operation := func() error {
		attempts++
		callCtx, cancel := o.callContext(ctx)
		defer cancel()
		if intent.Kind == action.KindReset {
			result = o.executor.Reset(callCtx)
		} else {
			result = o.executor.Execute(callCtx, intent)
		}
		if result.Success {
			return nil
		}
		if result.Diagnostic == "" && callCtx.Err() != nil {
			result.Diagnostic = callCtx.Err().Error()
		}
		return fmt.Errorf("%w: %s: %s", ErrExecutorTransient, intent.Kind, result.Diagnostic)
	}
	err := backoff.Retry(operation, o.retryPolicy())
	invariants.Retries(ctx, "session.attempt", attempts-1, o.cfg.MaxActionRetries)
	if err != nil {
		o.state.lastFailure = err
		o.logger.Warn("executor call failed", "intent", intent.String(), "attempts", attempts, "diagnostic", result.Diagnostic)
	}
	return result
}

func (o *Orchestrator) retryPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(o.cfg.RetryInterval), uint64(o.cfg.MaxActionRetries))
}

// callContext bounds one external call. Device calls are not interrupted by
// session cancellation; cancellation is honoured between cycles.
func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
}

func (o *Orchestrator) settle() {
	if o.cfg.ActionDelay > 0 {
		o.sleep(o.cfg.ActionDelay)
	}
}

func (o *Orchestrator) move(ctx context.Context, to, reason string) error {
	return o.machine.Transition(ctx, to, reason)
}

func (o *Orchestrator) terminate(ctx context.Context, to string, reason Reason, diagnostic string) (*termination, error) {
	if err := o.move(ctx, to, string(reason)); err != nil {
		return nil, err
	}
	return &termination{reason: reason, diagnostic: diagnostic}, nil
}

func (o *Orchestrator) view() View {
	return View{
		SessionID:            o.sessionID,
		Cycle:                o.state.cycle,
		ProcessedCount:       o.state.processed,
		Budget:               o.cfg.Budget,
		Mode:                 o.cfg.Mode,
		ConfirmationRequired: o.cfg.ConfirmationRequired,
		LikeVariant:          o.cfg.LikeVariant,
		ConfidenceThreshold:  o.cfg.ConfidenceThreshold,
		ConsecutiveStuck:     o.state.stuck,
		StuckThreshold:       o.cfg.StuckThreshold,
		CurrentFingerprint:   o.state.current,
		PreviousFingerprint:  o.state.previous,
		LastAction:           o.state.lastAction,
		PriorityLikes:        o.state.priority,
	}
}

func (o *Orchestrator) publish(eventType string, payload any, severity string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type:       eventType,
		Timestamp:  o.now().UTC(),
		EntityType: state.EntitySession,
		EntityID:   o.sessionID,
		Payload:    payload,
		Severity:   severity,
	})
}

// emit hands a finished cycle record to the sink. Sink failures are counted,
// never fatal.
func (o *Orchestrator) emit(ctx context.Context, record Record) {
	record.SessionID = o.sessionID
	record.Timestamp = o.now().UTC()
	record.StuckCount = o.state.stuck
	o.summary.Records++

	o.publish(events.EventTypeCycleCompleted, events.CycleCompletedPayload{
		Cycle:       record.Cycle,
		Intent:      string(record.Intent.Kind),
		Outcome:     string(record.Outcome),
		Basis:       string(record.Basis),
		SentLike:    record.SentLike,
		SentComment: record.SentComment,
		Simulated:   record.Simulated,
		StuckCount:  record.StuckCount,
	}, events.SeverityInfo)

	if err := o.sink.Record(context.WithoutCancel(ctx), record); err != nil {
		o.summary.SinkErrors++
		o.logger.Error("record sink failed", "cycle", record.Cycle, "error", err)
	}
}

func (o *Orchestrator) finish(term termination) {
	o.summary.Reason = term.reason
	o.summary.Diagnostic = term.diagnostic
	o.summary.Processed = o.state.processed
	o.summary.Cycles = o.state.cycle

	if flusher, ok := o.sink.(Flusher); ok {
		if err := flusher.Flush(); err != nil {
			o.summary.SinkErrors++
			o.logger.Error("record sink flush failed", "error", err)
		}
	}
	o.summary.FinishedAt = o.now().UTC()

	severity := events.SeverityInfo
	if term.reason.Failed() || term.reason == "" {
		severity = events.SeverityError
	}
	o.publish(events.EventTypeSessionFinished, events.SessionFinishedPayload{
		Reason:    string(term.reason),
		Processed: o.summary.Processed,
		Likes:     o.summary.Likes,
		Comments:  o.summary.Comments,
		Failed:    severity == events.SeverityError,
	}, severity)

	keyvals := []any{
		"reason", term.reason,
		"processed", o.summary.Processed,
		"budget", o.cfg.Budget,
		"cycles", o.summary.Cycles,
		"likes", o.summary.Likes,
		"comments", o.summary.Comments,
		"declined", o.summary.Declined,
		"simulated", o.summary.Simulated,
	}
	if term.diagnostic != "" {
		keyvals = append(keyvals, "diagnostic", term.diagnostic)
	}
	if severity == events.SeverityError {
		o.logger.Error("session failed", keyvals...)
		return
	}
	o.logger.Info("session finished", keyvals...)
}
