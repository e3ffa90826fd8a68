package referral_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corepath/rewards-ledger/ledger"
	memstore "github.com/corepath/rewards-ledger/ledger/store"
	"github.com/corepath/rewards-ledger/referral"
	"github.com/corepath/rewards-ledger/rules"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestTracker(t *testing.T) (*referral.Tracker, *memstore.TxMemory) {
	t.Helper()
	store := memstore.NewTxMemory()
	engine := rules.New(100, 500, decimal.RequireFromString("0.01"), 100, 5)
	return referral.NewTracker(store, engine, nil, nil), store
}

func mkAccount(t *testing.T, store ledger.Store, id string) ledger.Account {
	t.Helper()
	a := ledger.Account{
		ID:           id,
		ReferralCode: ledger.NewReferralCode(),
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.CreateAccount(context.Background(), a))
	return a
}

// =============================================================================
// EDGE CREATION
// =============================================================================

func TestTracker_RecordReferral(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	mkAccount(t, store, "alice")
	mkAccount(t, store, "bob")

	edge, err := tr.RecordReferral(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", edge.ReferrerID)
	assert.Equal(t, "bob", edge.RefereeID)
	assert.Equal(t, ledger.EdgePending, edge.Status)
	assert.Nil(t, edge.CompletedAt)
}

func TestTracker_RecordReferralByCode(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	alice := mkAccount(t, store, "alice")
	mkAccount(t, store, "bob")

	edge, err := tr.RecordReferralByCode(ctx, alice.ReferralCode, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", edge.ReferrerID)

	_, err = tr.RecordReferralByCode(ctx, "ref_000000000000", "carol")
	assert.ErrorIs(t, err, ledger.ErrUnknownReferralCode)
}

func TestTracker_SelfReferralRejected(t *testing.T) {
	tr, store := newTestTracker(t)
	mkAccount(t, store, "alice")

	_, err := tr.RecordReferral(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, ledger.ErrSelfReferral)
}

func TestTracker_RefereeCanOnlyBeReferredOnce(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	mkAccount(t, store, "alice")
	mkAccount(t, store, "bob")
	mkAccount(t, store, "carol")

	first, err := tr.RecordReferral(ctx, "alice", "carol")
	require.NoError(t, err)

	// Second referrer, same referee
	_, err = tr.RecordReferral(ctx, "bob", "carol")
	require.ErrorIs(t, err, ledger.ErrRefereeAlreadyReferred)

	var detail *ledger.RefereeAlreadyReferredError
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, first.ID, detail.ExistingEdgeID)
}

func TestTracker_CycleRejected(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	mkAccount(t, store, "alice")
	mkAccount(t, store, "bob")

	// alice referred bob; bob referring alice would close a loop
	_, err := tr.RecordReferral(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = tr.RecordReferral(ctx, "bob", "alice")
	assert.ErrorIs(t, err, ledger.ErrReferralCycle)
}

func TestTracker_DeepCycleRejected(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()

	// Chain a0 <- a1 <- a2 <- a3: each referred by the previous one
	ids := make([]string, 4)
	for i := range ids {
		ids[i] = fmt.Sprintf("a%d", i)
		mkAccount(t, store, ids[i])
	}
	for i := 1; i < len(ids); i++ {
		_, err := tr.RecordReferral(ctx, ids[i-1], ids[i])
		require.NoError(t, err)
	}

	// The chain's tail referring its head closes a loop three hops up
	_, err := tr.RecordReferral(ctx, ids[3], ids[0])
	assert.ErrorIs(t, err, ledger.ErrReferralCycle)
}

// =============================================================================
// EDGE LIFECYCLE
// =============================================================================

func TestTracker_MarkCompleted(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	mkAccount(t, store, "alice")
	mkAccount(t, store, "bob")

	edge, err := tr.RecordReferral(ctx, "alice", "bob")
	require.NoError(t, err)

	completed, err := tr.MarkCompleted(ctx, edge.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.EdgeCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	// Second signal: no-op, same state back
	again, err := tr.MarkCompleted(ctx, edge.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.EdgeCompleted, again.Status)
	assert.Equal(t, completed.CompletedAt.Unix(), again.CompletedAt.Unix())
}

func TestTracker_MarkCompleted_UnknownEdge(t *testing.T) {
	tr, _ := newTestTracker(t)

	_, err := tr.MarkCompleted(context.Background(), "no-such-edge")
	assert.ErrorIs(t, err, ledger.ErrEdgeNotFound)
}

func TestTracker_MarkCompletedByReferee(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	mkAccount(t, store, "alice")
	mkAccount(t, store, "bob")

	// Never-referred accounts are not an error: nothing to complete
	edge, err := tr.MarkCompletedByReferee(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, edge)

	_, err = tr.RecordReferral(ctx, "alice", "bob")
	require.NoError(t, err)

	edge, err = tr.MarkCompletedByReferee(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, edge)
	assert.Equal(t, ledger.EdgeCompleted, edge.Status)
}

func TestTracker_EdgesByReferrer(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	mkAccount(t, store, "alice")
	mkAccount(t, store, "bob")
	mkAccount(t, store, "carol")

	_, err := tr.RecordReferral(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = tr.RecordReferral(ctx, "alice", "carol")
	require.NoError(t, err)

	edges, err := tr.EdgesByReferrer(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}
