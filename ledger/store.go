/*
store.go - Persistence interfaces for accounts, entries, and referral edges

PURPOSE:
  Defines the interface between the domain logic and the database.
  The Store keeps entries append-only and exposes the point queries the
  coordinator and tracker need inside their transactions.

KEY INTERFACES:
  Store:      Account/entry/edge persistence (append-only on entries)
  TxStore:    Store plus WithTx for atomic multi-write operations
  AuditStore: Reconciliation run records

APPEND-ONLY CONTRACT:
  Entries have exactly one write path (AppendEntry) and no update or
  delete. The UNIQUE(account_id, idempotency_key) constraint is the
  idempotency record: a second insert with the same pair fails with
  ErrDuplicateIdempotencyKey and the caller re-reads the winner.

ATOMICITY:
  Every balance mutation happens inside WithTx together with the entry
  insert (and the edge transition for referral bonuses). If fn returns an
  error the whole transaction rolls back; no partial state is observable.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level append/read operations using Store
  - accrual/coordinator.go: The only writer of balances
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Persistence for the ledger slice (entries are append-only)
// =============================================================================

type Store interface {
	// --- accounts ---

	// CreateAccount inserts an account. No-op if the id already exists.
	CreateAccount(ctx context.Context, a Account) error

	// Account returns the account, or nil if it doesn't exist.
	Account(ctx context.Context, id string) (*Account, error)

	// AccountByReferralCode resolves a public referral code, or nil.
	AccountByReferralCode(ctx context.Context, code string) (*Account, error)

	// AddToBalance applies a delta to the cached balance. Must only be
	// called together with AppendEntry inside the same transaction.
	AddToBalance(ctx context.Context, accountID string, delta int64) error

	// AccountIDs returns all account ids (for reconciliation sweeps).
	AccountIDs(ctx context.Context) ([]string, error)

	// --- entries ---

	// AppendEntry inserts an entry. Returns ErrDuplicateIdempotencyKey if an
	// entry with the same (account, idempotency key) exists. This is the
	// ONLY write operation on entries.
	AppendEntry(ctx context.Context, e Entry) error

	// EntryByIdempotencyKey returns the entry for (account, key), or nil.
	EntryByIdempotencyKey(ctx context.Context, accountID, key string) (*Entry, error)

	// EntriesFor returns an account's entries ordered by (created_at, id).
	// A non-nil since restricts to entries created at or after it.
	EntriesFor(ctx context.Context, accountID string, since *time.Time) ([]Entry, error)

	// SumDeltas folds all entry deltas for an account. This is the
	// authoritative balance.
	SumDeltas(ctx context.Context, accountID string) (int64, error)

	// --- referral edges ---

	// CreateEdge inserts a pending edge. Returns ErrRefereeAlreadyReferred
	// if the referee already has one (DB-unique on referee closes the race).
	CreateEdge(ctx context.Context, e ReferralEdge) error

	// Edge returns the edge by id, or nil.
	Edge(ctx context.Context, id string) (*ReferralEdge, error)

	// EdgeByReferee returns the edge the referee appears in, or nil.
	EdgeByReferee(ctx context.Context, refereeID string) (*ReferralEdge, error)

	// EdgesByReferrer returns all edges where the account is the referrer.
	EdgesByReferrer(ctx context.Context, referrerID string) ([]ReferralEdge, error)

	// TransitionEdge is a compare-and-set on edge status: the update applies
	// only while the edge is still in from. Returns false when another
	// transaction moved it first. completedAt is recorded on the transition
	// to completed.
	TransitionEdge(ctx context.Context, id string, from, to EdgeStatus, completedAt *time.Time) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. Mutations from concurrent
// WithTx calls are serialized by the implementation; this is what makes
// same-account submissions linearizable.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT STORE - Reconciliation run records
// =============================================================================

type AuditStore interface {
	SaveAuditRun(ctx context.Context, run AuditRun) error
	AuditRuns(ctx context.Context, limit int) ([]AuditRun, error)
}
