package session

import "errors"

var (
	// ErrPreconditionUnmet means the entry screen was not reached, so the
	// session never acted.
	ErrPreconditionUnmet = errors.New("entry precondition unmet")
	// ErrExecutorTransient wraps a device call that failed but may succeed
	// on retry.
	ErrExecutorTransient = errors.New("executor call failed")
	// ErrPerceptionLowConfidence marks an element that was seen below the
	// confidence threshold and treated as missing.
	ErrPerceptionLowConfidence = errors.New("element below confidence threshold")
	// ErrVerificationAmbiguous marks a verification that could not decide.
	ErrVerificationAmbiguous = errors.New("verification ambiguous")
	// ErrRecoveryExhausted means every recovery rung failed.
	ErrRecoveryExhausted = errors.New("recovery exhausted")
	// ErrUserAbort means the operator aborted at a confirmation prompt.
	ErrUserAbort = errors.New("aborted by operator")
	// ErrExecutorUnreachable means the device stopped answering captures.
	ErrExecutorUnreachable = errors.New("executor unreachable")
)
