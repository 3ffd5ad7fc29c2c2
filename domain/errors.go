package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTitle      = errors.New("title must not be empty")
	ErrInvalidStatus   = errors.New("status must be one of Todo, InProgress, Done")
	ErrInvalidPriority = errors.New("priority must be one of low, medium, high")
	ErrUnknownActor    = errors.New("actor is not on the roster")
	ErrInvalidTaskID   = errors.New("task id must be positive")
	ErrEmptyPatch      = errors.New("update carries no fields")
	ErrUnknownKind     = errors.New("unknown kind")
)

// ValidationError marks an intent the hub must reject before touching the
// store. It is never broadcast.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValidation reports whether err came from intent validation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
