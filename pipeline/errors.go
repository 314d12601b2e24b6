package pipeline

import "errors"

// Intake errors are recovered locally at the submission boundary and never
// affect a batch. Pipeline-integrity errors are fatal for the affected batch,
// surfaced as anomalies, and never retried; they indicate a coordination bug
// or tampering rather than a transient fault.
var (
	// ErrRejectedDuplicate indicates an envelope whose transaction hash was
	// already accepted within the dedup window.
	ErrRejectedDuplicate = errors.New("duplicate transaction within dedup window")

	// ErrInvalidEnvelope indicates a malformed envelope rejected before it
	// entered any batch.
	ErrInvalidEnvelope = errors.New("invalid transaction envelope")

	// ErrDuplicateCommitment indicates an attempt to record a second
	// commitment for the same batch id.
	ErrDuplicateCommitment = errors.New("commitment already recorded for batch")

	// ErrCommitmentMissing indicates a reveal attempted without a prior
	// recorded commitment.
	ErrCommitmentMissing = errors.New("no commitment recorded for batch")

	// ErrCommitmentMismatch indicates revealed contents that do not
	// recompute to the recorded commitment. This is a censorship/tamper
	// signal and must never be silently ignored.
	ErrCommitmentMismatch = errors.New("revealed contents do not match recorded commitment")

	// ErrShutdownInProgress indicates a submission received after shutdown
	// has begun.
	ErrShutdownInProgress = errors.New("shutdown in progress")

	// ErrInvalidTransition indicates a batch lifecycle transition not
	// present in the transition table.
	ErrInvalidTransition = errors.New("invalid batch state transition")
)
