/*
errors.go - Centralized error types for the deposit engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is against the sentinels; the structured
  errors carry the context (account, field, status) and unwrap to them.

ERROR CATEGORIES:
  1. NotFound               - account/installment/product/penalty missing
  2. InvalidStateTransition - operation not legal from the account's status
  3. PolicyViolation        - disallowed by product or account configuration
  4. Validation             - malformed or missing input
  5. AlreadyProcessed       - double waive, completed installment, etc.
  6. Store errors           - conflicts and concurrency

USAGE:
  if errors.Is(err, generic.ErrInvalidStateTransition) {
      // 409 to the caller, account untouched
  }

SEE ALSO:
  - deposit/lifecycle.go: raises StateTransitionError
  - api/handlers.go: maps the taxonomy to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrPolicyViolation        = errors.New("policy violation")
	ErrValidation             = errors.New("validation error")
	ErrAlreadyProcessed       = errors.New("already processed")

	// ErrInsufficientBalance is a policy violation with its own identity so
	// callers can tell "not allowed" from "not enough".
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicate is returned by stores when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")

	// ErrConcurrentModification is returned when an account row changed
	// between load and save inside a unit of work.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrInvalidPeriod = &FieldError{Field: "period", Message: "end before start"}
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "account", "installment", "product", "penalty", ...
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// StateTransitionError reports an action attempted from a status that does
// not allow it.
type StateTransitionError struct {
	AccountID AccountID
	From      string
	Action    string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("account %s: cannot %s from status %s", e.AccountID, e.Action, e.From)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// PolicyViolationError reports an operation the product or account forbids.
type PolicyViolationError struct {
	AccountID AccountID
	Rule      string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("account %s: %s", e.AccountID, e.Rule)
}

func (e *PolicyViolationError) Unwrap() error { return ErrPolicyViolation }

// FieldError reports malformed input for a single field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }
func (e *FieldError) Unwrap() error { return ErrValidation }

// AlreadyProcessedError reports a repeated one-shot operation.
type AlreadyProcessedError struct {
	What string
}

func (e *AlreadyProcessedError) Error() string { return e.What + " already processed" }
func (e *AlreadyProcessedError) Unwrap() error { return ErrAlreadyProcessed }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available string
	Requested string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("account %s: insufficient balance: available %s, requested %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() []error {
	return []error{ErrInsufficientBalance, ErrPolicyViolation}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrAlreadyProcessed)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
