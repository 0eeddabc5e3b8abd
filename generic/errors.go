/*
errors.go - Centralized error taxonomy for the ledger engine

PURPOSE:
  Every rejection the engine produces carries a Kind (what the caller can do
  about it) and a stable Code (which rule fired). Callers map Kind to
  messaging; the engine never collapses failures into one generic error.

ERROR KINDS:
  1. validation     - bad input shape or range, fix the input
  2. business_rule  - input is well formed but the operation is not allowed
  3. concurrency    - lost a race on a locked row, safe to retry once
  4. not_found      - missing contract, entry, installment, movement
  5. internal       - anything else (persistence failures)

USAGE:
  Domain packages return sentinel errors or wrap them:

    if errors.Is(err, generic.ErrExceedsBalance) {
        ...
    }
    switch generic.KindOf(err) {
    case generic.KindValidation:
        ...
    }

SEE ALSO:
  - finance/payment.go: ExceedsBalance, AlreadySettled
  - stock/service.go: InsufficientStock, LinkedMovement
  - api/handlers.go: Kind to HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// Kind classifies an error by what the caller should do next.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindBusinessRule Kind = "business_rule"
	KindConcurrency  Kind = "concurrency"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal"
)

// Error is the structured error returned across package boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two *Error values by code, so a wrapped detail error still
// satisfies errors.Is against its sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Kind == e.Kind
}

func newKind(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation    = newKind(KindValidation, "VALIDATION_ERROR", "invalid input")
	ErrInvalidAmount = newKind(KindValidation, "INVALID_AMOUNT", "amount must be positive")
	ErrInvalidRange  = newKind(KindValidation, "INVALID_RANGE", "date range end is before start")

	ErrScheduleMismatch  = newKind(KindBusinessRule, "SCHEDULE_MISMATCH", "down payment plus installments must equal the total value")
	ErrInstallmentLocked = newKind(KindBusinessRule, "INSTALLMENT_LOCKED", "installments with recorded payments cannot be regenerated")
	ErrAlreadySettled    = newKind(KindBusinessRule, "ALREADY_SETTLED", "installment is already paid or canceled")
	ErrExceedsBalance    = newKind(KindBusinessRule, "EXCEEDS_BALANCE", "payment exceeds the installment balance")
	ErrInsufficientStock = newKind(KindBusinessRule, "INSUFFICIENT_STOCK", "movement would drive the product balance negative")
	ErrLinkedMovement    = newKind(KindBusinessRule, "LINKED_MOVEMENT", "movement is linked to a collection and must be changed through it")
	ErrNoActiveContract  = newKind(KindBusinessRule, "NO_ACTIVE_CONTRACT", "client has no active contract")

	ErrConcurrentModification = newKind(KindConcurrency, "CONCURRENCY_CONFLICT", "row was modified by another operation")

	ErrNotFound = newKind(KindNotFound, "NOT_FOUND", "resource not found")
)

// =============================================================================
// CONSTRUCTORS - Detail errors that still match their sentinel
// =============================================================================

// NewValidationError builds a validation error with a specific code.
func NewValidationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Err: ErrValidation}
}

// Detail returns a copy of a sentinel with a more specific message.
func Detail(sentinel *Error, format string, args ...any) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// NotFound reports a missing resource of the given type.
func NotFound(resource, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %q not found", resource, id),
		Err:     ErrNotFound,
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable reason code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConcurrency
}

// IsClientError returns true if the caller must fix its input.
func IsClientError(err error) bool {
	return KindOf(err) == KindValidation
}

// IsRuleViolation returns true if the operation is not currently allowed.
func IsRuleViolation(err error) bool {
	return KindOf(err) == KindBusinessRule
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
