package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corepath/rewards-ledger/ledger"
	"github.com/corepath/rewards-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedAccount(t *testing.T, store *sqlite.Store, id string) ledger.Account {
	t.Helper()
	a := ledger.Account{
		ID:           id,
		ReferralCode: ledger.NewReferralCode(),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.CreateAccount(context.Background(), a))
	return a
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestSQLite_AccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := seedAccount(t, store, "alice")

	got, err := store.Account(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.ReferralCode, got.ReferralCode)
	assert.Equal(t, int64(0), got.Balance)

	byCode, err := store.AccountByReferralCode(ctx, created.ReferralCode)
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, "alice", byCode.ID)

	missing, err := store.Account(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_CreateAccount_DuplicateIsNoOp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := seedAccount(t, store, "alice")
	require.NoError(t, store.AddToBalance(ctx, "alice", 100))

	// A second create with a different code must not clobber anything
	err := store.CreateAccount(ctx, ledger.Account{
		ID:           "alice",
		ReferralCode: ledger.NewReferralCode(),
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := store.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ReferralCode, got.ReferralCode)
	assert.Equal(t, int64(100), got.Balance)
}

func TestSQLite_AddToBalance_UnknownAccount(t *testing.T) {
	store := newTestStore(t)

	err := store.AddToBalance(context.Background(), "ghost", 10)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

// =============================================================================
// ENTRIES
// =============================================================================

func TestSQLite_AppendEntry_UniqueKeyEnforced(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice")

	entry := ledger.Entry{
		ID:             "e1",
		AccountID:      "alice",
		Delta:          100,
		Reason:         ledger.ReasonSignupBonus,
		IdempotencyKey: "k1",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.AppendEntry(ctx, entry))

	dup := entry
	dup.ID = "e2"
	err := store.AppendEntry(ctx, dup)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	// Same key under a different account is a different event
	seedAccount(t, store, "bob")
	other := entry
	other.ID = "e3"
	other.AccountID = "bob"
	assert.NoError(t, store.AppendEntry(ctx, other))

	found, err := store.EntryByIdempotencyKey(ctx, "alice", "k1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "e1", found.ID)
}

func TestSQLite_EntriesFor_OrderedWithSinceFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice")

	base := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Second)
	for i, key := range []string{"k1", "k2", "k3"} {
		require.NoError(t, store.AppendEntry(ctx, ledger.Entry{
			ID:             key,
			AccountID:      "alice",
			Delta:          int64(i + 1),
			Reason:         ledger.ReasonOrderAccrual,
			IdempotencyKey: key,
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := store.EntriesFor(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "k1", all[0].ID)
	assert.Equal(t, "k3", all[2].ID)

	since := base.Add(90 * time.Minute)
	recent, err := store.EntriesFor(ctx, "alice", &since)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "k3", recent[0].ID)

	sum, err := store.SumDeltas(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(6), sum)
}

// =============================================================================
// EDGES
// =============================================================================

func TestSQLite_EdgeTransitionIsCompareAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice")

	edge := ledger.ReferralEdge{
		ID:         "edge-1",
		ReferrerID: "alice",
		RefereeID:  "bob",
		Status:     ledger.EdgePending,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateEdge(ctx, edge))

	now := time.Now().UTC()
	flipped, err := store.TransitionEdge(ctx, "edge-1", ledger.EdgePending, ledger.EdgeCompleted, &now)
	require.NoError(t, err)
	assert.True(t, flipped)

	// Lost CAS: the edge is no longer pending
	flipped, err = store.TransitionEdge(ctx, "edge-1", ledger.EdgePending, ledger.EdgeCompleted, &now)
	require.NoError(t, err)
	assert.False(t, flipped)

	got, err := store.Edge(ctx, "edge-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.EdgeCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Unknown edge is an error, not a lost CAS
	_, err = store.TransitionEdge(ctx, "no-such-edge", ledger.EdgePending, ledger.EdgeCompleted, &now)
	assert.ErrorIs(t, err, ledger.ErrEdgeNotFound)
}

func TestSQLite_CreateEdge_DuplicateRefereeRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice")
	seedAccount(t, store, "carol")

	first := ledger.ReferralEdge{
		ID: "edge-1", ReferrerID: "alice", RefereeID: "bob",
		Status: ledger.EdgePending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateEdge(ctx, first))

	err := store.CreateEdge(ctx, ledger.ReferralEdge{
		ID: "edge-2", ReferrerID: "carol", RefereeID: "bob",
		Status: ledger.EdgePending, CreatedAt: time.Now().UTC(),
	})
	require.ErrorIs(t, err, ledger.ErrRefereeAlreadyReferred)

	var detail *ledger.RefereeAlreadyReferredError
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, "edge-1", detail.ExistingEdgeID)

	byReferee, err := store.EdgeByReferee(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, byReferee)
	assert.Equal(t, "edge-1", byReferee.ID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice")

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.AppendEntry(ctx, ledger.Entry{
			ID: "e1", AccountID: "alice", Delta: 100,
			Reason: ledger.ReasonSignupBonus, IdempotencyKey: "k1",
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := s.AddToBalance(ctx, "alice", 100); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Neither write survived
	acct, err := store.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Balance)

	entries, err := store.EntriesFor(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLite_WithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, store, "alice")

	err := store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.AppendEntry(ctx, ledger.Entry{
			ID: "e1", AccountID: "alice", Delta: 100,
			Reason: ledger.ReasonSignupBonus, IdempotencyKey: "k1",
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return s.AddToBalance(ctx, "alice", 100)
	})
	require.NoError(t, err)

	acct, err := store.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Balance)
}

// =============================================================================
// AUDIT RUNS
// =============================================================================

func TestSQLite_AuditRunUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := ledger.AuditRun{
		ID:        "run-1",
		StartedAt: time.Now().UTC().Truncate(time.Second),
		Status:    "running",
	}
	require.NoError(t, store.SaveAuditRun(ctx, run))

	done := time.Now().UTC().Truncate(time.Second)
	run.CompletedAt = &done
	run.Status = "completed"
	run.AccountsChecked = 3
	require.NoError(t, store.SaveAuditRun(ctx, run))

	runs, err := store.AuditRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 3, runs[0].AccountsChecked)
	require.NotNil(t, runs[0].CompletedAt)
}
