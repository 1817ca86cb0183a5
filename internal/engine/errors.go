package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// Stage names the step of an operation that failed.
type Stage string

const (
	StageValidate        Stage = "validate"
	StageReadHistory     Stage = "read_history"
	StageUpdateProfile   Stage = "update_profile"
	StagePersistSnapshot Stage = "persist_snapshot"
)

// Collaborator names used in errors, breaker keys and health checks.
const (
	CollaboratorEventStore   = "event_store"
	CollaboratorProfileStore = "profile_store"
)

// ValidationError reports a malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// CollaboratorError reports that a store kept failing after retries or that
// its circuit is open.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCollaboratorUnavailable) true.
func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorUnavailable
}

// StageError wraps every failure returned by the service with the stage
// and user it happened for.
type StageError struct {
	Stage  Stage
	UserID string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed for user %q: %v", e.Stage, e.UserID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage of a failed operation, or "" for other errors.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
