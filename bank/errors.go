/*
errors.go - Centralized error types for the deposit engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure belongs to one of four kinds, and carries a stable code so
  callers can distinguish "already posted" from "not yet eligible" from
  "configuration broken" without parsing messages.

ERROR KINDS:
  ErrValidation     malformed input (bad quarter key, non-positive amount)
  ErrNotFound       missing party/account/product/batch
  ErrStateConflict  inactive party/account/product, quarter not ended,
                    batch already active or reversed, FD not matured,
                    insufficient funds, minimum-balance breach
  ErrConfiguration  rate table unresolvable even after self-heal

USAGE:
  if errors.Is(err, bank.ErrStateConflict) { ... }        // by kind
  if errors.Is(err, bank.ErrBatchAlreadyActive) { ... }   // by code

SEE ALSO:
  - api/handlers.go: maps kinds to HTTP status codes
*/
package bank

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
	ErrConfiguration = errors.New("configuration error")
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is a classified engine error. Two Errors match under errors.Is when
// their codes are equal, so the predefined values below work as sentinels
// even when a more detailed message was built with Errorf.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind error, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error codes.
const (
	CodeInvalidQuarter       = "invalid_quarter"
	CodeInvalidAmount        = "invalid_amount"
	CodeInvalidInput         = "invalid_input"
	CodeAccountNotFound      = "account_not_found"
	CodeProductNotFound      = "product_not_found"
	CodePartyNotFound        = "party_not_found"
	CodeBatchNotFound        = "batch_not_found"
	CodeDuplicateAccount     = "duplicate_account"
	CodeInactiveParty        = "party_inactive"
	CodeInactiveAccount      = "account_inactive"
	CodeInactiveProduct      = "product_inactive"
	CodeIneligible           = "ineligible"
	CodeQuarterNotEnded      = "quarter_not_ended"
	CodeBatchAlreadyActive   = "batch_already_posted"
	CodeBatchAlreadyReversed = "batch_already_reversed"
	CodeNotMatured           = "fd_not_matured"
	CodeInsufficientFunds    = "insufficient_funds"
	CodeMinimumBalance       = "minimum_balance_breach"
	CodeOperationInProgress  = "operation_in_progress"
	CodeRateUnresolvable     = "rate_unresolvable"
	CodeTotalsCorrupt        = "totals_corrupt"
)

// =============================================================================
// SENTINEL VALUES
// =============================================================================

var (
	ErrAccountNotFound      = &Error{Kind: ErrNotFound, Code: CodeAccountNotFound, Message: "account not found"}
	ErrProductNotFound      = &Error{Kind: ErrNotFound, Code: CodeProductNotFound, Message: "product not found"}
	ErrPartyNotFound        = &Error{Kind: ErrNotFound, Code: CodePartyNotFound, Message: "party not found"}
	ErrBatchNotFound        = &Error{Kind: ErrNotFound, Code: CodeBatchNotFound, Message: "interest batch not found"}
	ErrDuplicateAccount     = &Error{Kind: ErrStateConflict, Code: CodeDuplicateAccount, Message: "party already holds an account for this product"}
	ErrBatchAlreadyActive   = &Error{Kind: ErrStateConflict, Code: CodeBatchAlreadyActive, Message: "interest already posted for this product and quarter; reverse it before re-posting"}
	ErrBatchAlreadyReversed = &Error{Kind: ErrStateConflict, Code: CodeBatchAlreadyReversed, Message: "interest batch already reversed"}
	ErrQuarterNotEnded      = &Error{Kind: ErrStateConflict, Code: CodeQuarterNotEnded, Message: "quarter has not ended"}
	ErrNotMatured           = &Error{Kind: ErrStateConflict, Code: CodeNotMatured, Message: "fixed deposit has not matured; use premature close"}
	ErrInsufficientFunds    = &Error{Kind: ErrStateConflict, Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrMinimumBalance       = &Error{Kind: ErrStateConflict, Code: CodeMinimumBalance, Message: "operation would breach the product minimum balance"}
	ErrOperationInProgress  = &Error{Kind: ErrStateConflict, Code: CodeOperationInProgress, Message: "another operation holds this lock"}
	ErrRateUnresolvable     = &Error{Kind: ErrConfiguration, Code: CodeRateUnresolvable, Message: "no positive rate in product rate table"}

	// ErrTotalsCorrupt is returned by ProductStore when stored running totals
	// cannot be read as decimals (legacy representation).
	ErrTotalsCorrupt = &Error{Kind: ErrConfiguration, Code: CodeTotalsCorrupt, Message: "product totals stored in an incompatible representation"}
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool      { return errors.Is(err, ErrStateConflict) }
func IsValidation(err error) bool    { return errors.Is(err, ErrValidation) }
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }
