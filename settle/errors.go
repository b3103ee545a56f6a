/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All engine error types in one place. Callers match with errors.Is; the API
  layer maps these to HTTP status codes.

ERROR CATEGORIES:
  1. Data errors  - invalid amounts, unknown members
  2. Lookup errors - missing payments
  3. Cache errors - running state disagreeing with the ledger

None of these are transient: the engine never retries internally, and every
failing call leaves prior state untouched (validate before any table write).
*/
package settle

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownMember is returned by strict-mode calls when a pledger or
	// debtor is not part of the state. Default call paths auto-add members
	// instead.
	ErrUnknownMember = errors.New("unknown member")

	// ErrInvalidAmount is returned for a negative or non-finite split amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrPaymentNotFound is returned when deleting or reversing a payment
	// that does not exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrStateDrift is returned by an explicit consistency check when the
	// collapsed running state disagrees with a full recomputation beyond
	// Tolerance. The engine never corrects drift on its own; callers decide
	// whether to rebuild.
	ErrStateDrift = errors.New("running state drifted from ledger")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidAmountError reports which split failed validation.
type InvalidAmountError struct {
	Debtor Member
	Amount decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s for member %s", e.Amount, e.Debtor)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// UnknownMemberError reports which member a strict-mode call rejected.
type UnknownMemberError struct {
	Member Member
}

func (e *UnknownMemberError) Error() string {
	return fmt.Sprintf("member %s is not part of this state", e.Member)
}

func (e *UnknownMemberError) Unwrap() error {
	return ErrUnknownMember
}

// DriftError reports the first member whose cached balance disagrees with
// the ledger.
type DriftError struct {
	Member     Member
	Cached     decimal.Decimal
	Recomputed decimal.Decimal
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("drift for member %s: cached %s, ledger %s",
		e.Member, e.Cached, e.Recomputed)
}

func (e *DriftError) Unwrap() error {
	return ErrStateDrift
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnknownMember)
}
