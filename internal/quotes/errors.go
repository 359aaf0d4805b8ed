package quotes

import (
	"errors"
	"fmt"

	"github.com/quotedesk/quotedesk/internal/quotes/structure"
	"github.com/quotedesk/quotedesk/internal/shared"
)

const (
	CodeConcurrencyConflict = "concurrency_conflict"
	CodeLocked              = "quote_locked"
	CodeIntegrity           = "integrity_violation"
	CodeInvalidTransition   = "invalid_transition"
)

var (
	// ErrNotFound is returned when the quote row does not exist.
	ErrNotFound = fmt.Errorf("quote %w", shared.ErrNotFound)

	ErrConcurrencyConflict = errors.New("quote was modified concurrently")
	ErrLocked              = errors.New("quote is locked")
	ErrIntegrity           = errors.New("quote structure integrity violated")
	ErrInvalidTransition   = errors.New("status transition not allowed")
)

// ConcurrencyConflict reports a save against a stale token. The caller must
// reload and retry.
type ConcurrencyConflict struct {
	QuoteID int64
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("quote %d was modified by another request; reload and retry", e.QuoteID)
}

func (e *ConcurrencyConflict) Code() string { return CodeConcurrencyConflict }

func (e *ConcurrencyConflict) Is(target error) bool { return target == ErrConcurrencyConflict }

// LockedStateError reports an in-place mutation of a locked quote. A revision
// is the only way forward.
type LockedStateError struct {
	QuoteID int64
	Status  structure.Status
}

func (e *LockedStateError) Error() string {
	return fmt.Sprintf("quote %d is %s and cannot be changed in place; create a revision", e.QuoteID, e.Status)
}

func (e *LockedStateError) Code() string { return CodeLocked }

func (e *LockedStateError) Is(target error) bool { return target == ErrLocked }

// IntegrityError means stored rows do not form a tree. It points at a bug in
// the write path, never at user input.
type IntegrityError struct {
	QuoteID int64
	Reason  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("quote %d: %s", e.QuoteID, e.Reason)
}

func (e *IntegrityError) Code() string { return CodeIntegrity }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

type InvalidTransitionError struct {
	From structure.Status
	To   structure.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move quote from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Code() string { return CodeInvalidTransition }

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
