package events

// StateTransitionPayload accompanies EventTypeStateTransition.
type StateTransitionPayload struct {
	From   string
	To     string
	Reason string
}

// IntentDecidedPayload accompanies EventTypeIntentDecided.
type IntentDecidedPayload struct {
	Cycle     int
	Intent    string
	Reason    string
	Strategy  string
	Simulated bool
}

// ConfirmationPayload accompanies EventTypeConfirmationRequested.
type ConfirmationPayload struct {
	Cycle    int
	Intent   string
	Decision string
}

// CycleCompletedPayload accompanies EventTypeCycleCompleted.
type CycleCompletedPayload struct {
	Cycle       int
	Intent      string
	Outcome     string
	Basis       string
	SentLike    bool
	SentComment bool
	Simulated   bool
	StuckCount  int
}

// RecoveryStepPayload accompanies EventTypeRecoveryStep.
type RecoveryStepPayload struct {
	Step       string
	Attempt    int
	Progressed bool
	Detail     string
}

// SessionFinishedPayload accompanies EventTypeSessionFinished.
type SessionFinishedPayload struct {
	Reason    string
	Processed int
	Likes     int
	Comments  int
	Failed    bool
}
