package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyMember     = errors.New("user is already a member of the project")
	ErrNotAMember        = errors.New("user is not a member of the project")
	ErrValidation        = errors.New("validation failed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInconsistentState = errors.New("inconsistent state")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports a rejected field value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// InconsistentStateError aborts a multi-row mutation; the surrounding
// transaction is rolled back.
type InconsistentStateError struct {
	Level string
	ID    string
	Err   error
}

func (e InconsistentStateError) Error() string {
	return fmt.Sprintf("inconsistent state at %s %s: %v", e.Level, e.ID, e.Err)
}

func (e InconsistentStateError) Unwrap() error { return e.Err }

func (e InconsistentStateError) Is(target error) bool { return target == ErrInconsistentState }
