/*
Package ledger provides the core points ledger engine.

PURPOSE:
  This package contains the types and algorithms for the points & referral
  rewards ledger: accounts, immutable ledger entries, referral edges, and
  the balance-as-a-fold invariant that ties them together.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: balance cache plus referral code, keyed by the external user id
  - Entry: an immutable ledger record (signed point delta + reason)
  - ReferralEdge: one-directional referrer -> referee relationship
  - AppendResult: tagged outcome distinguishing fresh writes from replays

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only offset by new entries
  2. Derivability: Account.Balance is a cache; truth is sum(Entry.Delta)
  3. Idempotency: Duplicate submission is an expected, tagged outcome
  4. Auditability: Every balance change carries reason, source, and key

SEE ALSO:
  - errors.go: Centralized error taxonomy
  - store.go: Persistence interfaces
  - ledger.go: Append/read operations over a Store
  - reconcile.go: Balance-vs-fold drift detection
*/
package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// REASON CODES - Closed set of point-affecting event kinds
// =============================================================================

type Reason string

const (
	ReasonSignupBonus     Reason = "signup_bonus"
	ReasonReferralBonus   Reason = "referral_bonus"
	ReasonOrderAccrual    Reason = "order_accrual"
	ReasonRedemption      Reason = "redemption"
	ReasonAdminAdjustment Reason = "admin_adjustment"
)

// ValidReason reports whether r is one of the known reason codes.
func ValidReason(r Reason) bool {
	switch r {
	case ReasonSignupBonus, ReasonReferralBonus, ReasonOrderAccrual,
		ReasonRedemption, ReasonAdminAdjustment:
		return true
	}
	return false
}

// =============================================================================
// ACCOUNT - Balance cache for one external user
// =============================================================================

// Account holds the cached point balance for one user of the surrounding
// platform. The surrounding application owns the full user record; this
// subsystem owns only the balance/ledger slice, keyed by the same id.
//
// Balance is mutated exclusively inside coordinator transactions and must
// always equal the sum of deltas over the account's entries.
type Account struct {
	ID           string
	Balance      int64
	ReferralCode string
	CreatedAt    time.Time
}

// NewReferralCode generates a public referral code ("ref_" + 12 hex chars).
func NewReferralCode() string {
	return "ref_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// =============================================================================
// ENTRY - Immutable ledger record
// =============================================================================

// Entry is a single immutable ledger record. Positive delta = credit,
// negative delta = debit. Entries are never updated or deleted; corrections
// are new offsetting entries.
type Entry struct {
	ID             string
	AccountID      string
	Delta          int64
	Reason         Reason
	IdempotencyKey string
	SourceRef      string
	CreatedAt      time.Time
}

// AppendResult is the tagged outcome of an append. Created is false when an
// entry with the same (account, idempotency key) already existed; the caller
// uses the flag to fire downstream side effects exactly once.
type AppendResult struct {
	Created bool
	Entry   Entry
}

// Summary aggregates an account's ledger: lifetime earned, lifetime spent,
// and the current balance. All values are derived from the entry fold.
type Summary struct {
	AccountID string
	Balance   int64
	Earned    int64
	Spent     int64
	Entries   int
}

// =============================================================================
// REFERRAL EDGE - One-directional referrer -> referee relationship
// =============================================================================

type EdgeStatus string

const (
	EdgePending   EdgeStatus = "pending"
	EdgeCompleted EdgeStatus = "completed"
	EdgeBonusPaid EdgeStatus = "bonus_paid"
)

// ReferralEdge records that Referee signed up under Referrer's code.
//
// INVARIANTS:
//   - A referee appears in at most one edge (first referral wins).
//   - ReferrerID != RefereeID.
//   - Status transitions only pending -> completed -> bonus_paid, and
//     bonus_paid is reached at most once.
type ReferralEdge struct {
	ID          string
	ReferrerID  string
	RefereeID   string
	Status      EdgeStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// =============================================================================
// AUDIT RUN - One reconciliation sweep over all accounts
// =============================================================================

type AuditRun struct {
	ID              string
	StartedAt       time.Time
	CompletedAt     *time.Time
	AccountsChecked int
	DriftCount      int
	Status          string // running, completed, failed
	Error           string
}
