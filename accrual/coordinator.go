/*
Package accrual contains the transactional core of the rewards ledger.

PURPOSE:
  Serializes concurrent accrual/redemption requests per account, enforces
  idempotency, and commits ledger entries atomically with balance updates.
  All balance mutation in the whole system goes through Submit.

ALGORITHM (per event):
  1. Acquire the per-account lock. Referral bonuses lock the REFERRER's
     account - the only balance they touch.
  2. Inside one storage transaction: check the idempotency record; if the
     key was seen, return the prior result unchanged. This is what makes
     retried order webhooks and referral completion signals safe to resend.
  3. Compute the delta via the rule engine.
  4. referral_bonus only: re-read the edge inside the transaction and flip
     completed -> bonus_paid via compare-and-set. A lost CAS means a
     concurrent submission already paid; fail with ErrAlreadyPaid and
     commit nothing.
  5. Debits additionally require balance + delta >= 0.
  6. Append the entry and update the cached balance, then commit. Any error
     before commit rolls back everything.
  7. After commit, publish an outbound event for freshly created entries.
     Publish failures are logged, never returned.

CONCURRENCY:
  Same-account submissions are linearizable: the keyed mutex plus the
  store's single-writer transaction prevent two submissions from both
  reading the pre-transaction balance. Different accounts proceed in
  parallel up to the storage layer. The subsystem never retries
  automatically; retry is the caller's job, made safe by idempotency keys.

SEE ALSO:
  - ledger/ledger.go: Append semantics
  - rules/engine.go: Delta computation
  - referral/tracker.go: Edge lifecycle feeding referral bonuses
*/
package accrual

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/corepath/rewards-ledger/events"
	"github.com/corepath/rewards-ledger/ledger"
	"github.com/corepath/rewards-ledger/rules"
)

// =============================================================================
// EVENTS AND RESULTS
// =============================================================================

// Event is one point-affecting business event submitted by the surrounding
// application. Exactly one of the reason-specific payload fields is used:
// OrderTotal for order_accrual, EdgeID for referral_bonus, Points for
// redemption (positive spend amount) and admin_adjustment (signed delta).
type Event struct {
	AccountID      string
	Reason         ledger.Reason
	IdempotencyKey string
	SourceRef      string

	OrderTotal decimal.Decimal
	EdgeID     string
	Points     int64
}

// Result is the outcome of a submission. Created is false for idempotent
// replays; Balance is the account balance after the (possibly prior) commit.
type Result struct {
	Created bool
	Entry   ledger.Entry
	Balance int64
}

// =============================================================================
// COORDINATOR
// =============================================================================

type Coordinator struct {
	store     ledger.TxStore
	rules     *rules.Engine
	publisher events.Publisher
	logger    *slog.Logger
	locks     accountLocks
}

func NewCoordinator(store ledger.TxStore, engine *rules.Engine, publisher events.Publisher, logger *slog.Logger) *Coordinator {
	if publisher == nil {
		publisher = &events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		rules:     engine,
		publisher: publisher,
		logger:    logger.With("component", "accrual"),
	}
}

// Submit processes one event: at most one ledger entry is ever committed
// per (account, idempotency key), no matter how often the event is resent.
func (c *Coordinator) Submit(ctx context.Context, ev Event) (Result, error) {
	if err := validate(ev); err != nil {
		return Result{}, err
	}

	unlock := c.locks.lock(ev.AccountID)
	defer unlock()

	var res Result
	err := c.store.WithTx(ctx, func(s ledger.Store) error {
		existing, err := s.EntryByIdempotencyKey(ctx, ev.AccountID, ev.IdempotencyKey)
		if err != nil {
			return err
		}

		account, err := s.Account(ctx, ev.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return ledger.ErrAccountNotFound
		}

		if existing != nil {
			res = Result{Created: false, Entry: *existing, Balance: account.Balance}
			return nil
		}

		delta, err := c.computeDelta(ctx, s, ev)
		if err != nil {
			return err
		}

		if delta < 0 && account.Balance+delta < 0 {
			return &ledger.InsufficientPointsError{
				AccountID: ev.AccountID,
				Available: account.Balance,
				Requested: -delta,
			}
		}

		ar, err := ledger.New(s).Append(ctx, ledger.Entry{
			ID:             uuid.NewString(),
			AccountID:      ev.AccountID,
			Delta:          delta,
			Reason:         ev.Reason,
			IdempotencyKey: ev.IdempotencyKey,
			SourceRef:      ev.SourceRef,
		})
		if err != nil {
			return err
		}

		res = Result{Created: ar.Created, Entry: ar.Entry, Balance: account.Balance}
		if ar.Created {
			res.Balance += delta
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if res.Created {
		c.publishCommitted(ctx, res)
	}
	return res, nil
}

// computeDelta asks the rule engine for the point amount and, for referral
// bonuses, performs the in-transaction eligibility check and edge flip.
func (c *Coordinator) computeDelta(ctx context.Context, s ledger.Store, ev Event) (int64, error) {
	switch ev.Reason {
	case ledger.ReasonSignupBonus:
		return c.rules.SignupBonus(), nil

	case ledger.ReasonOrderAccrual:
		return c.rules.OrderAccrual(ev.OrderTotal), nil

	case ledger.ReasonReferralBonus:
		edge, err := s.Edge(ctx, ev.EdgeID)
		if err != nil {
			return 0, err
		}
		if edge == nil {
			return 0, ledger.ErrEdgeNotFound
		}
		if edge.Status == ledger.EdgeBonusPaid {
			return 0, ledger.ErrAlreadyPaid
		}
		if !c.rules.IsReferralEligible(*edge) {
			return 0, ledger.ErrEdgeNotEligible
		}
		// The CAS closes the race between two concurrent completion
		// signals: only one transaction flips the edge, the other sees a
		// lost update and rolls back with AlreadyPaid.
		flipped, err := s.TransitionEdge(ctx, edge.ID, ledger.EdgeCompleted, ledger.EdgeBonusPaid, nil)
		if err != nil {
			return 0, err
		}
		if !flipped {
			return 0, ledger.ErrAlreadyPaid
		}
		return c.rules.ReferralBonus(), nil

	case ledger.ReasonRedemption:
		if ev.Points < c.rules.MinRedemption() {
			return 0, fmt.Errorf("%w: %d points (minimum %d)",
				ledger.ErrBelowMinRedemption, ev.Points, c.rules.MinRedemption())
		}
		return -ev.Points, nil

	case ledger.ReasonAdminAdjustment:
		return ev.Points, nil
	}
	return 0, fmt.Errorf("unknown reason code %q", ev.Reason)
}

func (c *Coordinator) publishCommitted(ctx context.Context, res Result) {
	key := events.KeyPointsCredited
	if res.Entry.Delta < 0 {
		key = events.KeyPointsRedeemed
	}
	err := c.publisher.Publish(ctx, key, events.PointsEvent{
		EntryID:   res.Entry.ID,
		AccountID: res.Entry.AccountID,
		Reason:    string(res.Entry.Reason),
		Delta:     res.Entry.Delta,
		Balance:   res.Balance,
		SourceRef: res.Entry.SourceRef,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("failed to publish points event",
			"entry_id", res.Entry.ID, "routing_key", key, "error", err)
	}
}

func validate(ev Event) error {
	if ev.AccountID == "" {
		return fmt.Errorf("event requires an account id")
	}
	if ev.IdempotencyKey == "" {
		return fmt.Errorf("event requires an idempotency key")
	}
	if !ledger.ValidReason(ev.Reason) {
		return fmt.Errorf("unknown reason code %q", ev.Reason)
	}
	switch ev.Reason {
	case ledger.ReasonReferralBonus:
		if ev.EdgeID == "" {
			return fmt.Errorf("referral_bonus requires an edge id")
		}
	case ledger.ReasonRedemption:
		if ev.Points <= 0 {
			return fmt.Errorf("redemption requires a positive point amount")
		}
	case ledger.ReasonAdminAdjustment:
		if ev.Points == 0 {
			return fmt.Errorf("admin_adjustment requires a non-zero delta")
		}
	}
	return nil
}

// =============================================================================
// PER-ACCOUNT LOCKS
// =============================================================================

// accountLocks hands out one mutex per account id. Lock granularity is the
// account, so submissions for different accounts never contend here.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (a *accountLocks) lock(accountID string) (unlock func()) {
	a.mu.Lock()
	if a.locks == nil {
		a.locks = make(map[string]*sync.Mutex)
	}
	l, ok := a.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[accountID] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}
