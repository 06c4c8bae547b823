package session

import (
	"context"
	"time"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/confirm"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/verify"
)

// View is a read-only copy of session state handed to the policy and the
// recovery controller.
type View struct {
	SessionID            string
	Cycle                int
	ProcessedCount       int
	Budget               int
	Mode                 Mode
	ConfirmationRequired bool
	LikeVariant          action.LikeVariant
	ConfidenceThreshold  float64
	ConsecutiveStuck     int
	StuckThreshold       int
	CurrentFingerprint   perception.Fingerprint
	PreviousFingerprint  perception.Fingerprint
	LastAction           action.Intent
	// PriorityLikes counts priority likes physically sent this session.
	PriorityLikes int
}

// Remaining returns how many subjects may still be processed.
func (v View) Remaining() int {
	if v.ProcessedCount >= v.Budget {
		return 0
	}
	return v.Budget - v.ProcessedCount
}

// Policy chooses the intent for one perceived snapshot.
type Policy interface {
	Decide(ctx context.Context, snapshot perception.Snapshot, view View) action.Intent
}

// Verifier compares snapshots around an action.
type Verifier interface {
	Verify(pre, post perception.Snapshot) verify.Result
	Synthetic(pre perception.Snapshot) verify.Result
	Repeated(previous, current perception.Fingerprint) (verify.Result, bool)
}

// RecoveryRung is one step of the recovery ladder.
type RecoveryRung string

const (
	// RungNavigate tries neutral navigation gestures.
	RungNavigate RecoveryRung = "navigate"
	// RungRelaunch force-closes and relaunches the target application.
	RungRelaunch RecoveryRung = "relaunch"
	// RungExhausted ends the session.
	RungExhausted RecoveryRung = "exhausted"
)

// RecoveryStep is what the recovery controller asks the orchestrator to do.
type RecoveryStep struct {
	Rung RecoveryRung
	// Gestures are tried in order for RungNavigate.
	Gestures []action.Intent
	// Attempt counts relaunches since the last verified progress.
	Attempt int
	Reason  string
}

// Recoverer drives the recovery ladder.
type Recoverer interface {
	Recover(ctx context.Context, view View) RecoveryStep
	// Progressed resets the ladder after verified progress.
	Progressed()
}

// Confirmer asks an operator to approve an irreversible intent.
type Confirmer interface {
	Confirm(ctx context.Context, request confirm.Request) (confirm.Decision, error)
}

// Sink receives one record per finished cycle.
type Sink interface {
	Record(ctx context.Context, record Record) error
}

// Flusher is implemented by sinks that buffer records.
type Flusher interface {
	Flush() error
}

// Outcome tags how a cycle ended.
type Outcome string

const (
	OutcomeProgressed   Outcome = "progressed"
	OutcomeNoChange     Outcome = "no_change"
	OutcomeAmbiguous    Outcome = "ambiguous"
	OutcomeDeclined     Outcome = "declined"
	OutcomeActionFailed Outcome = "action_failed"
	OutcomeRetryCapture Outcome = "retry_capture"
	OutcomeTerminated   Outcome = "terminated"
	OutcomeAborted      Outcome = "aborted"
)

// Record is the append-only result of one cycle.
type Record struct {
	SessionID    string
	Cycle        int
	ProfileIndex int
	Timestamp    time.Time
	Subject      perception.Content
	Fingerprint  string
	Intent       action.Intent
	Outcome      Outcome
	Verification verify.Outcome
	Basis        verify.Basis
	SentLike     bool
	SentComment  bool
	Simulated    bool
	StuckCount   int
	Errors       int
	Diagnostic   string
}

// Reason is the terminal reason of a session.
type Reason string

const (
	ReasonBudgetReached       Reason = "completed:budget_reached"
	ReasonEndOfFeed           Reason = "completed:end_of_feed"
	ReasonCancelled           Reason = "cancelled"
	ReasonPreconditionUnmet   Reason = "failed:precondition_unmet"
	ReasonRecoveryExhausted   Reason = "failed:recovery_exhausted"
	ReasonUserAbort           Reason = "failed:user_abort"
	ReasonExecutorUnreachable Reason = "failed:executor_unreachable"
)

// Failed reports whether the reason is a fatal termination.
func (r Reason) Failed() bool {
	switch r {
	case ReasonPreconditionUnmet, ReasonRecoveryExhausted, ReasonUserAbort, ReasonExecutorUnreachable:
		return true
	default:
		return false
	}
}

// Summary is what a finished session reports.
type Summary struct {
	SessionID  string
	Reason     Reason
	Diagnostic string
	Processed  int
	Cycles     int
	Likes      int
	Comments   int
	Rejects    int
	Declined   int
	Simulated  int
	Records    int
	SinkErrors int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Err returns the sentinel for a fatal reason and nil otherwise.
func (s Summary) Err() error {
	switch s.Reason {
	case ReasonPreconditionUnmet:
		return ErrPreconditionUnmet
	case ReasonRecoveryExhausted:
		return ErrRecoveryExhausted
	case ReasonUserAbort:
		return ErrUserAbort
	case ReasonExecutorUnreachable:
		return ErrExecutorUnreachable
	default:
		return nil
	}
}
