package types

import "errors"

// Sentinel errors shared across packages. Per-transaction validation
// failures surface as Rejection records; these errors are for callers
// that need to branch on the class of failure.
var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNonPositiveAmount   = errors.New("amount must be positive")
	ErrNegativeFee         = errors.New("gas fee must not be negative")
	ErrUnknownAccount      = errors.New("unknown account")

	// ErrForkDetected marks a conflicting block at an already committed
	// height. It is fatal: the node stops processing blocks rather than
	// continue on a forked history.
	ErrForkDetected = errors.New("conflicting block at committed height")

	// ErrHalted is returned for operations refused after a fatal
	// consistency violation.
	ErrHalted = errors.New("node halted after consistency violation")
)
