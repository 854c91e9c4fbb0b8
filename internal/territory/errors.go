package territory

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any state was touched.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientBudget is returned when a move asks for more distance
	// than the actor can still reserve.
	ErrInsufficientBudget = errors.New("insufficient distance budget")
	// ErrConflict is reported by a store whose optimistic write lost a race.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrTransient is surfaced after a conflicting event failed its retry.
	ErrTransient = errors.New("transient failure, retry later")
	// ErrInvariant marks corrupted state. Never shown to players.
	ErrInvariant = errors.New("invariant violation")
	// ErrNotFound is returned by read models for unknown ids.
	ErrNotFound = errors.New("not found")
)

// ValidationError describes which input field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvariantError names the entity whose state is inconsistent.
type InvariantError struct {
	EntityID string
	Detail   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s", e.EntityID, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }
