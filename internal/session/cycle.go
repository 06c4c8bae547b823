package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/confirm"
	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/state"
	"github.com/feedpilot/feedpilot/internal/telemetry"
	"github.com/feedpilot/feedpilot/internal/telemetry/invariants"
	"github.com/feedpilot/feedpilot/internal/verify"
)

func (o *Orchestrator) runCycle(ctx context.Context) (*termination, error) {
	o.state.cycle++
	ctx, span := telemetry.StartCycle(ctx, o.state.cycle)
	record := Record{Cycle: o.state.cycle, ProfileIndex: o.state.processed}

	term, err := o.cycle(ctx, &record)
	telemetry.EndCycle(span, string(record.Intent.Kind), string(record.Outcome), o.state.stuck)
	return term, err
}

func (o *Orchestrator) cycle(ctx context.Context, record *Record) (*termination, error) {
	pre, err := o.perceive(ctx)
	if err != nil {
		o.logger.Warn("perception failed", "cycle", record.Cycle, "error", err)
		o.state.stuck++
		record.Intent = action.RetryCapture("perception failed")
		record.Outcome = OutcomeAmbiguous
		record.Verification = verify.Ambiguous
		record.Basis = verify.BasisNone
		record.Errors++
		record.Diagnostic = err.Error()
		o.emit(ctx, *record)
		return o.afterStall(ctx, "perception failed")
	}
	o.state.current = pre.Fingerprint
	record.Subject = pre.Content
	record.Fingerprint = pre.Fingerprint.String()
	record.Errors += o.lowConfidence(pre, record.Cycle)

	if err := o.move(ctx, state.Perceived, "snapshot analyzed"); err != nil {
		return nil, err
	}

	intent := o.decide(ctx, pre)
	record.Intent = intent
	o.state.lastAction = intent
	o.publish(events.EventTypeIntentDecided, events.IntentDecidedPayload{
		Cycle:     record.Cycle,
		Intent:    string(intent.Kind),
		Reason:    intent.Reason,
		Strategy:  string(o.cfg.Strategy),
		Simulated: intent.Simulated,
	}, events.SeverityInfo)
	o.logger.Debug("intent decided", "cycle", record.Cycle, "intent", intent.String(), "reason", intent.Reason)

	switch intent.Kind {
	case action.KindTerminate:
		record.Outcome = OutcomeTerminated
		record.Diagnostic = intent.Reason
		o.emit(ctx, *record)
		return o.terminate(ctx, state.Completed, ReasonEndOfFeed, intent.Reason)
	case action.KindRetryCapture:
		o.state.stuck++
		record.Outcome = OutcomeRetryCapture
		record.Verification = verify.Ambiguous
		record.Basis = verify.BasisNone
		record.Diagnostic = intent.Reason
		o.emit(ctx, *record)
		return o.afterStall(ctx, "retry capture")
	}

	if err := o.move(ctx, state.DecisionMade, intent.String()); err != nil {
		return nil, err
	}

	if o.cfg.ConfirmationRequired && intent.Irreversible() {
		term, proceed, err := o.confirm(ctx, intent, pre, record)
		if term != nil || err != nil || !proceed {
			return term, err
		}
	}

	executed, result := o.execute(ctx, intent)
	record.Intent = executed
	o.state.lastAction = executed
	if !result.Success {
		if err := o.move(ctx, state.ActionFailed, result.Diagnostic); err != nil {
			return nil, err
		}
		o.state.stuck++
		record.Outcome = OutcomeActionFailed
		record.Errors++
		record.Diagnostic = result.Diagnostic
		o.emit(ctx, *record)
		return o.afterStall(ctx, "action failed")
	}

	if err := o.move(ctx, state.Acted, executed.String()); err != nil {
		return nil, err
	}
	o.tally(executed, result, record)
	if !result.Synthetic {
		o.settle()
	}

	verdict, post := o.verifyCycle(ctx, executed, pre)
	record.Verification = verdict.Outcome
	record.Basis = verdict.Basis
	if err := o.move(ctx, state.Verified, string(verdict.Outcome)); err != nil {
		return nil, err
	}

	if verdict.Progressed() {
		return o.progressed(ctx, pre, post, record)
	}

	o.state.stuck++
	record.Outcome = OutcomeNoChange
	if verdict.Outcome == verify.Ambiguous {
		record.Outcome = OutcomeAmbiguous
		o.state.lastFailure = fmt.Errorf("%w: %s", ErrVerificationAmbiguous, verdict.Detail)
		o.logger.Warn("verification ambiguous", "cycle", record.Cycle, "detail", verdict.Detail)
	}
	record.Diagnostic = verdict.Detail
	o.emit(ctx, *record)
	return o.afterStall(ctx, string(verdict.Outcome))
}

// decide asks the policy for an intent and applies the mode constraints.
func (o *Orchestrator) decide(ctx context.Context, pre perception.Snapshot) action.Intent {
	callCtx, cancel := o.callContext(ctx)
	intent := o.policy.Decide(callCtx, pre, o.view())
	cancel()

	if err := intent.Validate(); err != nil {
		o.logger.Error("policy produced an invalid intent", "intent", intent.String(), "error", err)
		intent = action.Scroll(fmt.Sprintf("invalid intent replaced: %v", err))
	}
	if intent.Irreversible() && o.sameSubject(pre.Fingerprint, o.state.declined) {
		intent = action.Scroll("operator declined this subject")
	}
	if !intent.Irreversible() {
		return intent
	}
	switch o.cfg.Mode {
	case ModeScrapeOnly:
		return action.Scroll(fmt.Sprintf("scrape-only mode suppressed %s", intent.Kind))
	case ModeDryRun:
		if !intent.Simulated {
			return intent.AsSimulated()
		}
	}
	return intent
}

// confirm blocks on the operator. It reports whether the cycle may proceed.
func (o *Orchestrator) confirm(ctx context.Context, intent action.Intent, pre perception.Snapshot, record *Record) (*termination, bool, error) {
	request := confirm.Request{
		SessionID: o.sessionID,
		Cycle:     record.Cycle,
		Intent:    intent,
		Subject:   subjectLabel(pre.Content),
	}
	decision, err := o.confirmer.Confirm(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			record.Outcome = OutcomeAborted
			record.Diagnostic = "cancelled while awaiting confirmation"
			o.emit(ctx, *record)
			term, err := o.terminate(ctx, state.Cancelled, ReasonCancelled, record.Diagnostic)
			return term, false, err
		}
		o.logger.Error("confirmation failed; declining", "cycle", record.Cycle, "error", err)
		decision = confirm.Decline
	}
	o.publish(events.EventTypeConfirmationRequested, events.ConfirmationPayload{
		Cycle:    record.Cycle,
		Intent:   string(intent.Kind),
		Decision: string(decision),
	}, events.SeverityInfo)

	switch decision {
	case confirm.Accept:
		return nil, true, o.move(ctx, state.Confirmed, "operator accepted")
	case confirm.Abort:
		record.Outcome = OutcomeAborted
		record.Diagnostic = "operator aborted"
		o.emit(ctx, *record)
		term, err := o.terminate(ctx, state.Failed, ReasonUserAbort, fmt.Sprintf("operator aborted at cycle %d", record.Cycle))
		return term, false, err
	default:
		if err := o.move(ctx, state.Declined, "operator declined"); err != nil {
			return nil, false, err
		}
		o.summary.Declined++
		o.state.declined = pre.Fingerprint
		record.Outcome = OutcomeDeclined
		record.Diagnostic = "operator declined"
		o.emit(ctx, *record)
		return nil, false, o.move(ctx, state.ReadyForCycle, "declined cycle closed")
	}
}

// execute sends intent, degrading it when the executor keeps failing.
// Simulated intents never reach the executor.
func (o *Orchestrator) execute(ctx context.Context, intent action.Intent) (action.Intent, action.Result) {
	if intent.Irreversible() && !intent.Simulated {
		if !invariants.IrreversibleGated(ctx, "session.execute", string(intent.Kind), string(o.cfg.Mode)) {
			return intent, action.Failed("irreversible intent blocked outside normal mode")
		}
	}
	if intent.Simulated {
		return intent, action.Synthesized(fmt.Sprintf("dry run: %s not sent", intent.Kind))
	}
	for {
		result := o.attempt(ctx, intent)
		if result.Success {
			return intent, result
		}
		fallback, ok := intent.Degrade()
		if !ok {
			return intent, result
		}
		o.logger.Warn("degrading intent", "from", intent.String(), "to", fallback.String(), "diagnostic", result.Diagnostic)
		intent = fallback
	}
}

// verifyCycle classifies the effect of an executed intent.
func (o *Orchestrator) verifyCycle(ctx context.Context, intent action.Intent, pre perception.Snapshot) (verify.Result, perception.Fingerprint) {
	if intent.Simulated {
		advance := o.attempt(ctx, action.Scroll("dry run advance"))
		if advance.Success {
			o.settle()
		}
		if repeated, ok := o.verifier.Repeated(o.state.previous, pre.Fingerprint); ok {
			return repeated, perception.Fingerprint{}
		}
		return o.verifier.Synthetic(pre), perception.Fingerprint{}
	}
	post, err := o.perceive(ctx)
	if err != nil {
		return verify.Result{
			Outcome: verify.Ambiguous,
			Basis:   verify.BasisNone,
			Detail:  fmt.Sprintf("post-action capture failed: %v", err),
		}, perception.Fingerprint{}
	}
	return o.verifier.Verify(pre, post), post.Fingerprint
}

func (o *Orchestrator) progressed(ctx context.Context, pre perception.Snapshot, post perception.Fingerprint, record *Record) (*termination, error) {
	o.state.stuck = 0
	o.recovery.Progressed()
	o.state.processed++
	o.state.previous = pre.Fingerprint
	o.state.current = post
	o.state.declined = perception.Fingerprint{}
	invariants.Budget(ctx, "session.progressed", o.state.processed, o.cfg.Budget)

	record.Outcome = OutcomeProgressed
	o.emit(ctx, *record)

	if o.state.processed >= o.cfg.Budget {
		return o.terminate(ctx, state.Completed, ReasonBudgetReached, fmt.Sprintf("processed %d of %d", o.state.processed, o.cfg.Budget))
	}
	return nil, o.move(ctx, state.ReadyForCycle, "progressed")
}

// afterStall enters recovery once the stuck count reaches the threshold and
// otherwise returns to the cycle boundary.
func (o *Orchestrator) afterStall(ctx context.Context, cause string) (*termination, error) {
	if o.state.stuck >= o.cfg.StuckThreshold {
		if err := o.move(ctx, state.Recovering, fmt.Sprintf("%s; stuck %d", cause, o.state.stuck)); err != nil {
			return nil, err
		}
		return o.recover(ctx)
	}
	if o.machine.Current() == state.ReadyForCycle {
		return nil, nil
	}
	return nil, o.move(ctx, state.ReadyForCycle, cause)
}

func (o *Orchestrator) tally(intent action.Intent, result action.Result, record *Record) {
	record.Simulated = intent.Simulated
	if intent.Simulated {
		o.summary.Simulated++
		return
	}
	if !result.Success {
		return
	}
	sent := result.Variant
	if sent == "" {
		sent = intent.Variant
	}
	if intent.Kind != action.KindReject && sent == action.VariantPriority {
		o.state.priority++
	}
	switch intent.Kind {
	case action.KindLikeWithComment:
		record.SentLike = true
		record.SentComment = true
		o.summary.Likes++
		o.summary.Comments++
	case action.KindLikeOnly:
		record.SentLike = true
		o.summary.Likes++
	case action.KindReject:
		o.summary.Rejects++
	}
}

// lowConfidence counts like affordances that were seen but rejected by the
// threshold, so they were treated as missing.
func (o *Orchestrator) lowConfidence(snapshot perception.Snapshot, cycle int) int {
	threshold := o.cfg.ConfidenceThreshold
	count := 0
	for _, kind := range []perception.ElementKind{perception.ElementLikePriority, perception.ElementLike, perception.ElementCommentEntry} {
		if snapshot.Located(kind, threshold) || !snapshot.Located(kind, 0) {
			continue
		}
		count++
		o.logger.Debug("element ignored", "cycle", cycle, "element", kind, "error", ErrPerceptionLowConfidence)
	}
	return count
}

func (o *Orchestrator) sameSubject(a, b perception.Fingerprint) bool {
	if b.IsZero() {
		return false
	}
	if a.Key != "" && a.Key == b.Key {
		return true
	}
	return a.Content != "" && a.Content == b.Content
}

func subjectLabel(content perception.Content) string {
	name := content.Field("name")
	age := content.Field("age")
	switch {
	case name != "" && age != "":
		return name + ", " + age
	case name != "":
		return name
	default:
		return age
	}
}

// IsFatal reports whether err carries a fatal session sentinel.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPreconditionUnmet) ||
		errors.Is(err, ErrRecoveryExhausted) ||
		errors.Is(err, ErrUserAbort) ||
		errors.Is(err, ErrExecutorUnreachable)
}
