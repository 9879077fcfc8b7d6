/*
errors.go - Centralized error types for the workflow engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every rejection carries a human-readable reason that a UI can show
  verbatim; use Reason(err) to extract it.

ERROR CATEGORIES:
  1. Transition errors - InvalidTransition, TerminalStateViolation, Unauthorized
  2. Validation errors - Eligibility and payload violations, raised before any write
  3. Store errors - ConcurrentModification, not found
  4. Side-effect warnings - DocumentGenerationFailure, never rolls back a commit

USAGE:
  if errors.Is(err, generic.ErrConcurrentModification) {
      // reload the entity and let the user retry
  }
  http.Error(w, generic.Reason(err), status)

SEE ALSO:
  - machine.go: Raises transition errors
  - engine.go: Raises store errors and document warnings
  - loans/limits.go: Raises validation errors
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransition is returned when the requested status is not a
	// direct successor of the current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrTerminalState is returned when the entity is Approved, Rejected or Cancelled.
	ErrTerminalState = errors.New("terminal state violation")

	// ErrUnauthorized is returned when the actor may not act on the entity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConcurrentModification is returned when a compare-and-swap write finds
	// the entity changed underneath it. Callers reload and retry; the engine never does.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDocumentGeneration marks a failed certificate render. Non-fatal.
	ErrDocumentGeneration = errors.New("document generation failed")

	// ErrValidation is returned when a payload or eligibility rule blocks submission.
	ErrValidation = errors.New("validation failed")

	ErrEntityNotFound      = errors.New("entity not found")
	ErrEmployeeNotFound    = errors.New("employee not found")
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrUnknownKind is returned when no Definition is registered for a kind.
	ErrUnknownKind = errors.New("unknown workflow kind")

	// ErrInvariantViolation is returned when a write would break an entity
	// invariant (duplicate pending steps, unentitled assignee).
	ErrInvariantViolation = errors.New("workflow invariant violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ErrorCode string

const (
	CodeInvalidTransition ErrorCode = "invalid_transition"
	CodeTerminalState     ErrorCode = "terminal_state_violation"
	CodeUnauthorized      ErrorCode = "unauthorized"
)

// TransitionError explains why a requested transition was refused.
type TransitionError struct {
	Code     ErrorCode
	Reason   string
	EntityID EntityID
	Kind     Kind
	From     Status
	To       Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s (%s %s: %s -> %s)", e.Code, e.Reason, e.Kind, e.EntityID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	switch e.Code {
	case CodeTerminalState:
		return ErrTerminalState
	case CodeUnauthorized:
		return ErrUnauthorized
	default:
		return ErrInvalidTransition
	}
}

// Violation is one failed rule.
type Violation struct {
	Field  string
	Reason string
}

// ValidationError collects every violation found before submission.
type ValidationError struct {
	Violations []Violation
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Violations: []Violation{{Field: field, Reason: reason}}}
}

func (e *ValidationError) Add(field, reason string) {
	e.Violations = append(e.Violations, Violation{Field: field, Reason: reason})
}

// OrNil returns nil when nothing was collected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.reason()
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func (e *ValidationError) reason() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Reason)
	}
	return strings.Join(parts, "; ")
}

// DocumentWarning is returned alongside a committed approval whose
// certificate could not be produced.
type DocumentWarning struct {
	EntityID EntityID
	Cause    error
}

func (e *DocumentWarning) Error() string {
	return fmt.Sprintf("certificate for %s was not generated: %v", e.EntityID, e.Cause)
}

func (e *DocumentWarning) Unwrap() error {
	return ErrDocumentGeneration
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed after reloading.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrTerminalState) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnknownKind)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrCertificateNotFound)
}

// Reason returns the human-readable explanation for err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Reason
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.reason()
	}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		return strings.Join(hints, "; ")
	}
	return err.Error()
}
