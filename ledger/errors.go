/*
errors.go - Centralized error types for the points ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Business-rule rejections are typed values the caller can branch on;
  only storage-layer failures are treated as faults.

ERROR CATEGORIES:
  1. Business rejections - expected outcomes (self referral, already paid)
  2. Not-found errors - missing accounts, edges, referral codes
  3. Storage errors - transient database failures, safe to retry

USAGE:
  result, err := coordinator.Submit(ctx, event)
  if errors.Is(err, ledger.ErrInsufficientPoints) {
      // surface as a 422, not a crash
  }

SEE ALSO:
  - ledger.go: Uses these errors
  - accrual/coordinator.go: Maps events to these rejections
  - api/handlers.go: Maps these to HTTP statuses
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned by raw stores when an entry with
	// the same (account, idempotency key) already exists. Callers never see
	// it: Ledger.Append converts it into AppendResult{Created: false}.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrAlreadyPaid is returned when a referral bonus is submitted for an
	// edge that has already transitioned to bonus_paid. Expected under
	// concurrent completion signals; exactly one submission wins.
	ErrAlreadyPaid = errors.New("referral bonus already paid")

	// ErrEdgeNotEligible is returned when a referral bonus is submitted for
	// an edge that has not completed yet.
	ErrEdgeNotEligible = errors.New("referral edge not eligible for bonus")

	// ErrSelfReferral is returned when referrer and referee are the same account.
	ErrSelfReferral = errors.New("self referral")

	// ErrRefereeAlreadyReferred is returned when the referee already has an
	// edge. First referral wins; later code applications are no-ops.
	ErrRefereeAlreadyReferred = errors.New("referee already referred")

	// ErrReferralCycle is returned when creating an edge would close a loop
	// through the referrer's own referral chain.
	ErrReferralCycle = errors.New("referral chain cycle")

	// ErrInsufficientPoints is returned when a debit would take the balance
	// below zero.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrBelowMinRedemption is returned when a redemption is smaller than the
	// configured minimum.
	ErrBelowMinRedemption = errors.New("redemption below minimum")

	// ErrIntegrityDrift indicates a cached balance no longer matches the
	// entry fold. Reported by reconciliation, never auto-corrected.
	ErrIntegrityDrift = errors.New("balance does not match ledger sum")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEdgeNotFound is returned when a referenced referral edge doesn't exist.
	ErrEdgeNotFound = errors.New("referral edge not found")

	// ErrUnknownReferralCode is returned when a referral code resolves to no account.
	ErrUnknownReferralCode = errors.New("unknown referral code")

	// ErrStorageUnavailable wraps transient storage failures. Safe for the
	// caller to retry: idempotency keys make retries harmless.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientPointsError provides details about a balance shortage.
type InsufficientPointsError struct {
	AccountID string
	Available int64
	Requested int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points for %s: available %d, requested %d",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientPointsError) Unwrap() error {
	return ErrInsufficientPoints
}

// RefereeAlreadyReferredError carries the existing edge so callers can show
// who the winning referrer was.
type RefereeAlreadyReferredError struct {
	RefereeID      string
	ExistingEdgeID string
}

func (e *RefereeAlreadyReferredError) Error() string {
	return fmt.Sprintf("referee %s already referred (edge: %s)", e.RefereeID, e.ExistingEdgeID)
}

func (e *RefereeAlreadyReferredError) Unwrap() error {
	return ErrRefereeAlreadyReferred
}

// DriftError describes a single account whose cached balance disagrees with
// the entry fold.
type DriftError struct {
	AccountID string
	Cached    int64
	Computed  int64
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("integrity drift for %s: cached %d, ledger sum %d",
		e.AccountID, e.Cached, e.Computed)
}

func (e *DriftError) Unwrap() error {
	return ErrIntegrityDrift
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is a business-rule rejection the
// caller should surface rather than retry.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrEdgeNotEligible) ||
		errors.Is(err, ErrSelfReferral) ||
		errors.Is(err, ErrRefereeAlreadyReferred) ||
		errors.Is(err, ErrReferralCycle) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrBelowMinRedemption)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrEdgeNotFound) ||
		errors.Is(err, ErrUnknownReferralCode)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
