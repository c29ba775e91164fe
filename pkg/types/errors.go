package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotJoined     = errors.New("connection has not joined")
	ErrAlreadyJoined = errors.New("connection already joined as another user")
	ErrSessionClosed = errors.New("connection is disconnected")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrRateLimited   = errors.New("rate limit exceeded")
)

// ValidationError reports a missing or malformed payload field.
// It is raised before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid payload: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError reports a failed Message Store call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("message store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is, or wraps, a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
