/*
ledger.go - Append-only point ledger over a Store

PURPOSE:
  The Ledger is the single source of truth for all balance changes. Every
  signup bonus, referral bonus, order accrual, redemption, and manual
  adjustment is recorded here. Balance is always re-derivable by replaying
  entries; the cached Account.Balance is a performance optimization kept in
  lockstep by writing both inside one transaction.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IDEMPOTENT: Same (account, idempotency key) = same entry, tagged replay
  3. CONSISTENT: Entry insert and balance update share a transaction

DUPLICATE HANDLING:
  Duplicate submission is a first-class, expected outcome, not a fault.
  Append returns AppendResult{Created: false, Entry: existing} so the
  caller can trigger downstream side effects exactly once.

CORRECTIONS:
  If a mistake is made, you don't edit the entry. A new admin_adjustment
  entry with the opposite sign offsets it; history is preserved.

SEE ALSO:
  - store.go: Low-level persistence interface
  - reconcile.go: Verifies cached balance against the entry fold
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger exposes append and read operations over a Store. When used inside
// a TxStore.WithTx closure it participates in the surrounding transaction,
// which is how the coordinator keeps entry and balance atomic.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append inserts the entry and applies its delta to the cached balance.
// A duplicate (account, idempotency key) returns the existing entry with
// Created=false and changes nothing. The caller supplies ID and CreatedAt
// or leaves them zero to have them filled in.
func (l *Ledger) Append(ctx context.Context, e Entry) (AppendResult, error) {
	if e.IdempotencyKey == "" {
		return AppendResult{}, fmt.Errorf("entry requires an idempotency key")
	}
	if !ValidReason(e.Reason) {
		return AppendResult{}, fmt.Errorf("unknown reason code %q", e.Reason)
	}

	existing, err := l.store.EntryByIdempotencyKey(ctx, e.AccountID, e.IdempotencyKey)
	if err != nil {
		return AppendResult{}, err
	}
	if existing != nil {
		return AppendResult{Created: false, Entry: *existing}, nil
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if err := l.store.AppendEntry(ctx, e); err != nil {
		// Lost the insert race: another writer committed the same key
		// between our check and our insert. Return the winner's entry.
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			winner, rerr := l.store.EntryByIdempotencyKey(ctx, e.AccountID, e.IdempotencyKey)
			if rerr != nil {
				return AppendResult{}, rerr
			}
			if winner != nil {
				return AppendResult{Created: false, Entry: *winner}, nil
			}
		}
		return AppendResult{}, err
	}

	if err := l.store.AddToBalance(ctx, e.AccountID, e.Delta); err != nil {
		return AppendResult{}, err
	}

	return AppendResult{Created: true, Entry: e}, nil
}

// BalanceOf returns the cached balance for an account.
func (l *Ledger) BalanceOf(ctx context.Context, accountID string) (int64, error) {
	a, err := l.store.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if a == nil {
		return 0, ErrAccountNotFound
	}
	return a.Balance, nil
}

// EntriesFor returns an account's entries in commit order, optionally
// restricted to entries created at or after since.
func (l *Ledger) EntriesFor(ctx context.Context, accountID string, since *time.Time) ([]Entry, error) {
	return l.store.EntriesFor(ctx, accountID, since)
}

// ForEachEntry streams an account's entries through fn in commit order.
// Statement generation restarts by passing the last seen CreatedAt as since.
// Returning a non-nil error from fn stops the walk.
func (l *Ledger) ForEachEntry(ctx context.Context, accountID string, since *time.Time, fn func(Entry) error) error {
	entries, err := l.store.EntriesFor(ctx, accountID, since)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Summarize folds the account's entries into lifetime earned/spent totals.
// Derived on demand, never stored.
func (l *Ledger) Summarize(ctx context.Context, accountID string) (Summary, error) {
	a, err := l.store.Account(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}
	if a == nil {
		return Summary{}, ErrAccountNotFound
	}

	s := Summary{AccountID: accountID, Balance: a.Balance}
	err = l.ForEachEntry(ctx, accountID, nil, func(e Entry) error {
		s.Entries++
		if e.Delta >= 0 {
			s.Earned += e.Delta
		} else {
			s.Spent += -e.Delta
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return s, nil
}
