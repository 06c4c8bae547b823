package session

import (
	"context"
	"fmt"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/state"
)

// recover climbs the recovery ladder until a rung restores progress or the
// controller reports exhaustion. The machine is in Recovering on entry.
func (o *Orchestrator) recover(ctx context.Context) (*termination, error) {
	// Bounded even if a Recoverer never reports exhaustion.
	maxSteps := o.cfg.RelaunchAttempts + 2
	for step := 0; step < maxSteps; step++ {
		if ctx.Err() != nil {
			return o.terminate(ctx, state.Cancelled, ReasonCancelled, "cancelled during recovery")
		}
		next := o.recovery.Recover(ctx, o.view())
		o.logger.Warn("recovery step", "rung", next.Rung, "attempt", next.Attempt, "stuck", o.state.stuck, "reason", next.Reason)

		switch next.Rung {
		case RungNavigate:
			if o.navigate(ctx, next.Gestures) {
				o.state.stuck = 0
				o.recovery.Progressed()
				o.publishRecovery(next, true, "navigation produced a new subject")
				return nil, o.move(ctx, state.ReadyForCycle, "navigation recovered")
			}
			o.publishRecovery(next, false, "navigation produced no change")
		case RungRelaunch:
			if diagnostic, ok := o.relaunch(ctx, next); !ok {
				o.publishRecovery(next, false, diagnostic)
				continue
			}
			o.state.stuck = 0
			o.publishRecovery(next, true, "entry precondition restored")
			return nil, o.move(ctx, state.ReadyForCycle, "relaunched to entry screen")
		default:
			return o.exhausted(ctx, next)
		}
	}
	return o.exhausted(ctx, RecoveryStep{Rung: RungExhausted, Reason: "recovery step limit reached"})
}

func (o *Orchestrator) exhausted(ctx context.Context, step RecoveryStep) (*termination, error) {
	reason := ReasonRecoveryExhausted
	if o.state.unreachable {
		reason = ReasonExecutorUnreachable
	}
	diagnostic := step.Reason
	if o.state.lastFailure != nil {
		diagnostic = fmt.Sprintf("%s: last failure: %v", step.Reason, o.state.lastFailure)
	}
	o.publishRecovery(step, false, diagnostic)
	o.logger.Error("recovery exhausted", "reason", reason, "stuck", o.state.stuck, "diagnostic", diagnostic)
	return o.terminate(ctx, state.Failed, reason, diagnostic)
}

// navigate tries each neutral gesture and re-verifies against the stuck
// screen.
func (o *Orchestrator) navigate(ctx context.Context, gestures []action.Intent) bool {
	baseline, err := o.perceive(ctx)
	if err != nil {
		baseline = perception.Snapshot{Fingerprint: o.state.current}
	}
	for _, gesture := range gestures {
		result := o.attempt(ctx, gesture)
		if !result.Success {
			continue
		}
		o.settle()
		post, err := o.perceive(ctx)
		if err != nil {
			continue
		}
		verdict := o.verifier.Verify(baseline, post)
		o.logger.Debug("navigation re-verified", "pattern", gesture.Pattern, "outcome", verdict.Outcome, "basis", verdict.Basis)
		if verdict.Progressed() {
			o.state.previous = baseline.Fingerprint
			o.state.current = post.Fingerprint
			return true
		}
	}
	return false
}

// relaunch resets the target application and re-runs the entry precheck.
func (o *Orchestrator) relaunch(ctx context.Context, step RecoveryStep) (string, bool) {
	result := o.attempt(ctx, action.Reset(step.Reason))
	if !result.Success {
		o.state.unreachable = true
		return fmt.Sprintf("relaunch %d failed: %s", step.Attempt, result.Diagnostic), false
	}
	o.state.unreachable = false
	o.settle()
	if o.cfg.SkipPrecheck {
		return "", true
	}
	diagnostic, ok := o.precheck(ctx)
	if !ok {
		return fmt.Sprintf("relaunch %d: %s", step.Attempt, diagnostic), false
	}
	return "", true
}

func (o *Orchestrator) publishRecovery(step RecoveryStep, progressed bool, detail string) {
	severity := events.SeverityWarn
	if step.Rung == RungExhausted {
		severity = events.SeverityError
	}
	o.publish(events.EventTypeRecoveryStep, events.RecoveryStepPayload{
		Step:       string(step.Rung),
		Attempt:    step.Attempt,
		Progressed: progressed,
		Detail:     detail,
	}, severity)
}
