package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a status change violates the
	// order state machine. The ledger is left untouched.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrCorruptLedger is returned when the persisted ledger exists but
	// cannot be parsed. Callers must treat this as fatal for the affected
	// ledger rather than substituting an empty one.
	ErrCorruptLedger = errors.New("corrupt ledger")

	// ErrAmbiguousRecovery is returned when a missing-order recovery cannot
	// settle on exactly one candidate. Never guessed; a human must decide.
	ErrAmbiguousRecovery = errors.New("ambiguous recovery")

	ErrOrderNotFound = errors.New("order not found")
	ErrGroupNotFound = errors.New("group not found")

	// ErrDuplicateOrder is returned when intake detects a resubmission:
	// same originator and quantity inside the duplicate window, or a
	// source message reference already present in the ledger.
	ErrDuplicateOrder = errors.New("duplicate order")
)

// ValidationError rejects bad input before any mutation. No audit entry is
// written for a rejected create.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}
