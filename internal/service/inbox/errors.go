package inbox

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both missing and foreign messages so callers cannot probe ids.
	ErrNotFound       = errors.New("message not found or unauthorized")
	ErrDuplicate      = errors.New("already processed")
	ErrDeliveryFailed = errors.New("delivery failed")
)

// ValidationError is a business-rule rejection with no side effects.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
