package distribution

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every input or precondition failure
	ErrValidation = errors.New("validation failed")
	// ErrActorUnresolved means the caller has no agent-facing identity
	ErrActorUnresolved = errors.New("acting admin could not be resolved")
)

// ValidationError describes a rejected request. No write was attempted.
type ValidationError struct {
	Field  string
	Reason string
	cause  error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrValidation, e.cause}
	}
	return []error{ErrValidation}
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a store failure. Batches committed before the
// failure stay committed.
type PersistenceError struct {
	Op               string
	BatchesCommitted int
	Assigned         int
	Err              error
}

func (e *PersistenceError) Error() string {
	if e.BatchesCommitted > 0 {
		return fmt.Sprintf("%s failed after %d committed batches (%d leads assigned): %v",
			e.Op, e.BatchesCommitted, e.Assigned, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}
