/*
Package referral maintains the referrer -> referee graph.

PURPOSE:
  Records referral edges, enforces one-time-bonus-per-referee, and guards
  against cycles. The graph is a one-directional edge set: a referee
  appears in at most one edge, so walking "who referred my referrer"
  chains is a simple bounded ancestor walk, never a traversal of mutual
  back-references.

CYCLE GUARD:
  Before creating an edge, the tracker walks the referrer's own referral
  chain up to a configured depth and rejects the edge if the prospective
  referee appears in it. Two users referring each other to mint repeated
  bonuses is the attack this closes; legitimate chains of depth > 1 are
  fine.

COMPLETION:
  MarkCompleted is idempotent: repeated completion signals (explicit
  qualify calls, first-order triggers, webhook retries) all converge on
  the same pending -> completed transition. The referral.completed event
  fires only on the actual transition.

SEE ALSO:
  - accrual/coordinator.go: Pays the bonus and flips completed -> bonus_paid
  - ledger/types.go: ReferralEdge invariants
*/
package referral

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corepath/rewards-ledger/events"
	"github.com/corepath/rewards-ledger/ledger"
	"github.com/corepath/rewards-ledger/rules"
)

type Tracker struct {
	store     ledger.TxStore
	rules     *rules.Engine
	publisher events.Publisher
	logger    *slog.Logger
}

func NewTracker(store ledger.TxStore, engine *rules.Engine, publisher events.Publisher, logger *slog.Logger) *Tracker {
	if publisher == nil {
		publisher = &events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:     store,
		rules:     engine,
		publisher: publisher,
		logger:    logger.With("component", "referral"),
	}
}

// RecordReferral creates a pending edge from referrer to referee.
// Typed rejections: ErrSelfReferral, ErrRefereeAlreadyReferred (first
// referral wins), ErrReferralCycle.
func (t *Tracker) RecordReferral(ctx context.Context, referrerID, refereeID string) (*ledger.ReferralEdge, error) {
	if referrerID == refereeID {
		return nil, ledger.ErrSelfReferral
	}

	var edge ledger.ReferralEdge
	err := t.store.WithTx(ctx, func(s ledger.Store) error {
		referrer, err := s.Account(ctx, referrerID)
		if err != nil {
			return err
		}
		if referrer == nil {
			return ledger.ErrAccountNotFound
		}

		existing, err := s.EdgeByReferee(ctx, refereeID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ledger.RefereeAlreadyReferredError{
				RefereeID:      refereeID,
				ExistingEdgeID: existing.ID,
			}
		}

		if err := t.checkCycle(ctx, s, referrerID, refereeID); err != nil {
			return err
		}

		edge = ledger.ReferralEdge{
			ID:         uuid.NewString(),
			ReferrerID: referrerID,
			RefereeID:  refereeID,
			Status:     ledger.EdgePending,
			CreatedAt:  time.Now().UTC(),
		}
		// The unique constraint on referee closes the record/record race.
		return s.CreateEdge(ctx, edge)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("referral recorded",
		"edge_id", edge.ID, "referrer_id", referrerID, "referee_id", refereeID)
	return &edge, nil
}

// RecordReferralByCode resolves a public referral code to its issuing
// account and records the edge.
func (t *Tracker) RecordReferralByCode(ctx context.Context, referrerCode, refereeID string) (*ledger.ReferralEdge, error) {
	referrer, err := t.store.AccountByReferralCode(ctx, referrerCode)
	if err != nil {
		return nil, err
	}
	if referrer == nil {
		return nil, ledger.ErrUnknownReferralCode
	}
	return t.RecordReferral(ctx, referrer.ID, refereeID)
}

// MarkCompleted transitions pending -> completed. Idempotent: calls on an
// already-completed or bonus_paid edge return the current state unchanged.
func (t *Tracker) MarkCompleted(ctx context.Context, edgeID string) (*ledger.ReferralEdge, error) {
	var (
		edge         *ledger.ReferralEdge
		transitioned bool
	)
	err := t.store.WithTx(ctx, func(s ledger.Store) error {
		current, err := s.Edge(ctx, edgeID)
		if err != nil {
			return err
		}
		if current == nil {
			return ledger.ErrEdgeNotFound
		}
		if current.Status != ledger.EdgePending {
			edge = current
			return nil
		}

		now := time.Now().UTC()
		flipped, err := s.TransitionEdge(ctx, edgeID, ledger.EdgePending, ledger.EdgeCompleted, &now)
		if err != nil {
			return err
		}
		transitioned = flipped

		edge, err = s.Edge(ctx, edgeID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		t.publishCompleted(ctx, *edge)
	}
	return edge, nil
}

// MarkCompletedByReferee is the qualifying-action entry point: it finds the
// referee's edge, if any, and completes it. Returns (nil, nil) when the
// account was never referred - qualifying actions by non-referred users are
// normal, not errors.
func (t *Tracker) MarkCompletedByReferee(ctx context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	edge, err := t.store.EdgeByReferee(ctx, refereeID)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, nil
	}
	return t.MarkCompleted(ctx, edge.ID)
}

// EdgeByReferee returns the edge a referee appears in, or nil.
func (t *Tracker) EdgeByReferee(ctx context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	return t.store.EdgeByReferee(ctx, refereeID)
}

// EdgesByReferrer returns all edges where the account is the referrer.
func (t *Tracker) EdgesByReferrer(ctx context.Context, referrerID string) ([]ledger.ReferralEdge, error) {
	return t.store.EdgesByReferrer(ctx, referrerID)
}

// checkCycle walks the referrer's ancestor chain up to the configured
// depth. If the prospective referee already appears as an ancestor, the
// new edge would close a loop.
func (t *Tracker) checkCycle(ctx context.Context, s ledger.Store, referrerID, refereeID string) error {
	current := referrerID
	for depth := 0; depth < t.rules.CycleDepth(); depth++ {
		edge, err := s.EdgeByReferee(ctx, current)
		if err != nil {
			return err
		}
		if edge == nil {
			return nil
		}
		if edge.ReferrerID == refereeID {
			return ledger.ErrReferralCycle
		}
		current = edge.ReferrerID
	}
	return nil
}

func (t *Tracker) publishCompleted(ctx context.Context, edge ledger.ReferralEdge) {
	err := t.publisher.Publish(ctx, events.KeyReferralCompleted, events.ReferralEvent{
		EdgeID:     edge.ID,
		ReferrerID: edge.ReferrerID,
		RefereeID:  edge.RefereeID,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		t.logger.Warn("failed to publish referral event", "edge_id", edge.ID, "error", err)
	}
}
