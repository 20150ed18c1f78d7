/*
errors.go - Error taxonomy for the staking engine

PURPOSE:
  Every rejection is synchronous and atomic: the operation leaves the
  registry, ledger and reserve link untouched. Each sentinel carries a
  machine-readable code and the reason string reported to callers.

ERROR CATEGORIES:
  1. Authorization - Unauthorized, ReentrantCall
  2. Registry      - PackageNotFound, PackageOffline, PackageAlreadyOffline,
                     InvalidRate, InvalidMinStake, InvalidLockTime
  3. Staking       - BelowMinimum, InvalidAmount, ReserveNotConfigured,
                     TransferFailed
  4. Configuration - ZeroAddress, ReserveNotLinked, AlreadyInitialized

USAGE:
  if errors.Is(err, staking.ErrPackageOffline) { ... }
  code := staking.CodeOf(err) // "package_offline"

SEE ALSO:
  - api/handlers.go: Maps codes to HTTP status
*/
package staking

import (
	"errors"
	"fmt"
)

// Error is a root error with a stable code.
type Error struct {
	code   string
	reason string
}

func newError(code, reason string) *Error {
	return &Error{code: code, reason: reason}
}

func (e *Error) Error() string { return e.reason }

// Code is the machine-readable reason, e.g. "package_not_found".
func (e *Error) Code() string { return e.code }

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrUnauthorized       = newError("unauthorized", "Ownable: caller is not the owner")
	ErrZeroAddress        = newError("zero_address", "Staking: reserveAddress must be different from address(0)")
	ErrAlreadyInitialized = newError("already_initialized", "Staking: contract is already initialized")
	ErrReentrantCall      = newError("reentrant_call", "ReentrancyGuard: reentrant call")

	ErrPackageNotFound       = newError("package_not_found", "Staking: stakePackage is non-existent")
	ErrPackageOffline        = newError("package_offline", "Staking: stakePackage is offline")
	ErrPackageAlreadyOffline = newError("package_already_offline", "Staking: stakePackage is offline")
	ErrInvalidRate           = newError("invalid_rate", "Staking: rate must be positive")
	ErrInvalidMinStake       = newError("invalid_min_stake", "Staking: minStaking must be positive")
	ErrInvalidLockTime       = newError("invalid_lock_time", "Staking: lockTime must not be negative")

	ErrInvalidAmount        = newError("invalid_amount", "Staking: amount must be positive")
	ErrBelowMinimum         = newError("below_minimum", "Staking: amount is below minStaking")
	ErrReserveNotConfigured = newError("reserve_not_configured", "Staking: reserve is not set")
	ErrReserveNotLinked     = newError("reserve_not_linked", "Staking: reserve is not linked to this contract")
	ErrTransferFailed       = newError("transfer_failed", "Staking: token transfer failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BelowMinimumError reports a stake whose running total misses the package minimum.
type BelowMinimumError struct {
	PackageID PackageID
	Minimum   Amount
	Total     Amount
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("%s: package %d requires %s, position would be %s",
		ErrBelowMinimum.reason, e.PackageID, e.Minimum, e.Total)
}

func (e *BelowMinimumError) Unwrap() error { return ErrBelowMinimum }

// TransferError wraps a rejection from the token collaborator.
type TransferError struct {
	From   Address
	To     Address
	Amount Amount
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %s from %s to %s: %v",
		ErrTransferFailed.reason, e.Amount, e.From.Hex(), e.To.Hex(), e.Err)
}

func (e *TransferError) Unwrap() []error { return []error{ErrTransferFailed, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// CodeInternal is reported for errors outside the taxonomy (storage, I/O).
const CodeInternal = "internal"

// CodeOf returns the machine-readable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeInternal
}

// IsNotFound returns true if the error indicates a missing package.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPackageNotFound)
}

// IsClientError returns true if the error is due to invalid caller input
// or a state the caller can observe before submitting.
func IsClientError(err error) bool {
	return CodeOf(err) != CodeInternal
}
