/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failed operation surfaces as a named error kind plus the account
  identities involved. Nothing is partially applied on failure.

ERROR CATEGORIES:
  1. Authorization errors - Unauthorized, NotVerified
  2. Validation errors - InvalidContributionType, InvalidRatio, InvalidMagnitude
  3. State errors - EmptyPeriod, NotInitialized, not-found / already-exists
  4. Arithmetic errors - ArithmeticOverflow (never wrap silently)

USAGE:
  Engine operations return *OperationError, which unwraps to a sentinel:

    _, err := engine.Distribute(ctx, in)
    if errors.Is(err, generic.ErrNotVerified) {
        // contributor must be verified by the program authority first
    }

SEE ALSO:
  - rewards/engine.go: Wraps failures with the operation name and accounts
  - api/handlers.go: Maps error kinds to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthorized is returned when the caller is not the authority of the
	// account it is acting on.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidContributionType is returned for unrecognized contribution types.
	ErrInvalidContributionType = errors.New("invalid contribution type")

	// ErrInvalidRatio is returned when a reserve ratio is outside [0, 10000] bps.
	ErrInvalidRatio = errors.New("invalid reserve ratio")

	// ErrInvalidMagnitude is returned for negative contribution magnitudes.
	ErrInvalidMagnitude = errors.New("invalid contribution magnitude")

	// ErrNotVerified is returned when an unverified contributor tries to claim.
	ErrNotVerified = errors.New("contributor not verified")

	// ErrEmptyPeriod is returned when claiming against a period with no points.
	ErrEmptyPeriod = errors.New("empty period")

	// ErrArithmeticOverflow is returned when a counter would overflow (or underflow).
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrNotInitialized is returned when the program config does not exist yet.
	ErrNotInitialized = errors.New("program not initialized")

	// ErrAlreadyInitialized is returned when initializing twice.
	ErrAlreadyInitialized = errors.New("program already initialized")

	// ErrContributorNotFound is returned when a referenced contributor doesn't exist.
	ErrContributorNotFound = errors.New("contributor not found")

	// ErrContributorExists is returned when creating a contributor twice.
	ErrContributorExists = errors.New("contributor already exists")

	// ErrDuplicateIdempotencyKey is returned when an event with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrTransferFailed is returned when the state change committed but the
	// transfer collaborator rejected the payout.
	ErrTransferFailed = errors.New("transfer dispatch failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OperationError records which operation failed and on which accounts.
type OperationError struct {
	Op       string
	Err      error
	Accounts []Identity
}

// NewOperationError wraps err. An err that is already an OperationError is
// returned unchanged so the innermost operation name wins.
func NewOperationError(op string, err error, accounts ...Identity) error {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return &OperationError{Op: op, Err: err, Accounts: accounts}
}

func (e *OperationError) Error() string {
	if len(e.Accounts) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	ids := make([]string, 0, len(e.Accounts))
	for _, a := range e.Accounts {
		if !a.IsZero() {
			ids = append(ids, a.String())
		}
	}
	return fmt.Sprintf("%s: %v (accounts: %s)", e.Op, e.Err, strings.Join(ids, ", "))
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidContributionType, "InvalidContributionType"},
	{ErrInvalidRatio, "InvalidRatio"},
	{ErrInvalidMagnitude, "InvalidMagnitude"},
	{ErrNotVerified, "NotVerified"},
	{ErrEmptyPeriod, "EmptyPeriod"},
	{ErrArithmeticOverflow, "ArithmeticOverflow"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrContributorNotFound, "ContributorNotFound"},
	{ErrContributorExists, "ContributorExists"},
	{ErrDuplicateIdempotencyKey, "DuplicateIdempotencyKey"},
	{ErrTransferFailed, "TransferFailed"},
}

// KindOf returns the error kind name, or "Internal" for unknown errors.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// IsAuthError returns true if the caller lacks the right to perform the operation.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotVerified)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidContributionType) ||
		errors.Is(err, ErrInvalidRatio) ||
		errors.Is(err, ErrInvalidMagnitude)
}

// IsConflict returns true if the request conflicts with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrEmptyPeriod) ||
		errors.Is(err, ErrAlreadyInitialized) ||
		errors.Is(err, ErrContributorExists) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContributorNotFound) ||
		errors.Is(err, ErrNotInitialized)
}
