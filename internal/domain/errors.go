package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrTransient  = errors.New("transient io error")
)

// TransientError wraps a collaborator I/O failure (storage, row source) that
// the caller may retry explicitly.
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", ErrTransient, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", ErrTransient, e.Op, e.Cause)
}

func (e *TransientError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{ErrTransient, e.Cause}
}

func NewTransientError(op string, cause error) error {
	return &TransientError{Op: op, Cause: cause}
}

// IsTransient reports whether err came from a retryable collaborator failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
