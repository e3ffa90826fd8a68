package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corepath/rewards-ledger/accrual"
	"github.com/corepath/rewards-ledger/api"
	"github.com/corepath/rewards-ledger/ledger"
	memstore "github.com/corepath/rewards-ledger/ledger/store"
	"github.com/corepath/rewards-ledger/referral"
	"github.com/corepath/rewards-ledger/rules"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEnv struct {
	router http.Handler
	store  *memstore.TxMemory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memstore.NewTxMemory()
	engine := rules.New(100, 500, decimal.RequireFromString("0.01"), 100, 5)

	coordinator := accrual.NewCoordinator(store, engine, nil, nil)
	tracker := referral.NewTracker(store, engine, nil, nil)
	reconciler := ledger.NewReconciler(store, nil)

	handler := api.NewHandler(store, coordinator, tracker, reconciler, store, nil)
	return &testEnv{router: api.NewRouter(handler), store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (e *testEnv) signup(t *testing.T, accountID string) api.SignupResultDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/events/signup", api.SignupEventRequest{
		AccountID:      accountID,
		IdempotencyKey: "signup:" + accountID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.SignupResultDTO](t, rec)
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestAPI_ReferralScenario(t *testing.T) {
	env := newTestEnv(t)

	// Alice signs up and gets the signup bonus plus a referral code
	alice := env.signup(t, "alice")
	assert.True(t, alice.Created)
	assert.Equal(t, int64(100), alice.Balance)
	require.NotEmpty(t, alice.ReferralCode)

	// Bob signs up under Alice's code
	rec := env.do(t, http.MethodPost, "/api/events/signup", api.SignupEventRequest{
		AccountID:      "bob",
		IdempotencyKey: "signup:bob",
		ReferrerCode:   alice.ReferralCode,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bob := decode[api.SignupResultDTO](t, rec)
	assert.Equal(t, int64(100), bob.Balance)
	require.NotNil(t, bob.ReferredBy)
	assert.Equal(t, "pending", bob.ReferredBy.Status)

	// Bob's first order: he accrues floor(250.00 * 0.01) = 2 points and the
	// referral qualifies, paying Alice her bonus
	rec = env.do(t, http.MethodPost, "/api/events/order", api.OrderEventRequest{
		AccountID:  "bob",
		OrderID:    "order-1",
		OrderTotal: "250.00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decode[api.OrderResultDTO](t, rec)
	assert.True(t, order.Created)
	assert.Equal(t, int64(2), order.Entry.Delta)
	assert.Equal(t, int64(102), order.Balance)
	require.NotNil(t, order.ReferralCompleted)
	assert.Equal(t, "bonus_paid", order.ReferralCompleted.Status)

	// Alice: 100 signup + 500 referral bonus
	rec = env.do(t, http.MethodGet, "/api/accounts/alice/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode[api.BalanceDTO](t, rec)
	assert.Equal(t, int64(600), balance.Balance)

	// Alice's referral list shows the paid edge
	rec = env.do(t, http.MethodGet, "/api/accounts/alice/referrals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	edges := decode[[]api.ReferralEdgeDTO](t, rec)
	require.Len(t, edges, 1)
	assert.Equal(t, "bob", edges[0].RefereeID)
	assert.Equal(t, "bonus_paid", edges[0].Status)
}

func TestAPI_OrderReplayChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	order := api.OrderEventRequest{AccountID: "alice", OrderID: "order-7", OrderTotal: "10000"}

	rec := env.do(t, http.MethodPost, "/api/events/order", order)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[api.OrderResultDTO](t, rec)
	require.True(t, first.Created)
	assert.Equal(t, int64(100), first.Entry.Delta)

	// Retried webhook: 200, created=false, same entry, same balance
	rec = env.do(t, http.MethodPost, "/api/events/order", order)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[api.OrderResultDTO](t, rec)
	assert.False(t, second.Created)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, first.Balance, second.Balance)
}

func TestAPI_SignupReplayKeepsReferralCode(t *testing.T) {
	env := newTestEnv(t)

	first := env.signup(t, "alice")
	require.True(t, first.Created)

	second := env.signup(t, "alice")
	assert.False(t, second.Created)
	assert.Equal(t, first.ReferralCode, second.ReferralCode)
	assert.Equal(t, int64(100), second.Balance)
}

// =============================================================================
// REDEMPTION
// =============================================================================

func TestAPI_Redemption(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	// Below minimum: 422, nothing committed
	rec := env.do(t, http.MethodPost, "/api/events/redemption", api.RedemptionRequest{
		AccountID:      "alice",
		Points:         50,
		IdempotencyKey: "redeem-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// More than the balance: 422
	rec = env.do(t, http.MethodPost, "/api/events/redemption", api.RedemptionRequest{
		AccountID:      "alice",
		Points:         500,
		IdempotencyKey: "redeem-2",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Exactly the balance: fine
	rec = env.do(t, http.MethodPost, "/api/events/redemption", api.RedemptionRequest{
		AccountID:      "alice",
		Points:         100,
		IdempotencyKey: "redeem-3",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[api.SubmitResultDTO](t, rec)
	assert.Equal(t, int64(-100), res.Entry.Delta)
	assert.Equal(t, int64(0), res.Balance)

	// Duplicate redemption request: 200 with created=false, not a double spend
	rec = env.do(t, http.MethodPost, "/api/events/redemption", api.RedemptionRequest{
		AccountID:      "alice",
		Points:         100,
		IdempotencyKey: "redeem-3",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decode[api.SubmitResultDTO](t, rec)
	assert.False(t, replay.Created)
	assert.Equal(t, int64(0), replay.Balance)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")

	// Unknown account
	rec := env.do(t, http.MethodGet, "/api/accounts/ghost/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Unknown referral code
	rec = env.do(t, http.MethodPost, "/api/referrals", api.RecordReferralRequest{
		ReferrerCode:     "ref_000000000000",
		RefereeAccountID: "bob",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Self referral
	rec = env.do(t, http.MethodPost, "/api/referrals", api.RecordReferralRequest{
		ReferrerCode:     alice.ReferralCode,
		RefereeAccountID: "alice",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Duplicate referee
	rec = env.do(t, http.MethodPost, "/api/referrals", api.RecordReferralRequest{
		ReferrerCode:     alice.ReferralCode,
		RefereeAccountID: "bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	carol := env.signup(t, "carol")
	rec = env.do(t, http.MethodPost, "/api/referrals", api.RecordReferralRequest{
		ReferrerCode:     carol.ReferralCode,
		RefereeAccountID: "bob",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Qualify for a never-referred account
	rec = env.do(t, http.MethodPost, "/api/referrals/qualify", api.QualifyReferralRequest{
		RefereeAccountID: "alice",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed body
	req := httptest.NewRequest(http.MethodPost, "/api/events/signup", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// QUALIFY ENDPOINT
// =============================================================================

func TestAPI_QualifyPaysReferrerOnce(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")
	env.signup(t, "bob")

	rec := env.do(t, http.MethodPost, "/api/referrals", api.RecordReferralRequest{
		ReferrerCode:     alice.ReferralCode,
		RefereeAccountID: "bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/referrals/qualify", api.QualifyReferralRequest{
		RefereeAccountID: "bob",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[api.QualifyResultDTO](t, rec)
	assert.Equal(t, "bonus_paid", first.Edge.Status)
	require.NotNil(t, first.Bonus)
	assert.True(t, first.Bonus.Created)
	assert.Equal(t, int64(500), first.Bonus.Entry.Delta)

	// Resent signal: same entry, no second payout
	rec = env.do(t, http.MethodPost, "/api/referrals/qualify", api.QualifyReferralRequest{
		RefereeAccountID: "bob",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[api.QualifyResultDTO](t, rec)
	require.NotNil(t, second.Bonus)
	assert.False(t, second.Bonus.Created)
	assert.Equal(t, first.Bonus.Entry.ID, second.Bonus.Entry.ID)

	rec = env.do(t, http.MethodGet, "/api/accounts/alice/balance", nil)
	balance := decode[api.BalanceDTO](t, rec)
	assert.Equal(t, int64(600), balance.Balance)
}

// =============================================================================
// STATEMENT AND SUMMARY
// =============================================================================

func TestAPI_Statement(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/events/order", api.OrderEventRequest{
		AccountID: "alice", OrderID: "order-1", OrderTotal: "10000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/events/redemption", api.RedemptionRequest{
		AccountID: "alice", Points: 150, IdempotencyKey: "redeem-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/accounts/alice/statement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	statement := decode[api.StatementDTO](t, rec)

	require.Len(t, statement.Lines, 3)
	assert.Equal(t, int64(100), statement.Lines[0].RunningBalance)
	assert.Equal(t, int64(200), statement.Lines[1].RunningBalance)
	assert.Equal(t, int64(50), statement.Lines[2].RunningBalance)

	// The last line's running balance matches the cached balance
	assert.Equal(t, statement.Balance, statement.Lines[2].RunningBalance)

	// Bad since filter
	rec = env.do(t, http.MethodGet, "/api/accounts/alice/statement?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_AccountSummary(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/events/redemption", api.RedemptionRequest{
		AccountID: "alice", Points: 100, IdempotencyKey: "redeem-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/accounts/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[api.AccountSummaryDTO](t, rec)
	assert.Equal(t, int64(0), sum.Balance)
	assert.Equal(t, int64(100), sum.Earned)
	assert.Equal(t, int64(100), sum.Spent)
	assert.Equal(t, 2, sum.Entries)
	assert.NotEmpty(t, sum.ReferralCode)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_AdminAdjustment(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/admin/adjustments", api.AdjustmentRequest{
		AccountID:      "alice",
		Delta:          -30,
		Note:           "support goodwill reversal",
		IdempotencyKey: "adj-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[api.SubmitResultDTO](t, rec)
	assert.Equal(t, int64(-30), res.Entry.Delta)
	assert.Equal(t, int64(70), res.Balance)

	// Zero delta is a validation error
	rec = env.do(t, http.MethodPost, "/api/admin/adjustments", api.AdjustmentRequest{
		AccountID:      "alice",
		IdempotencyKey: "adj-2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_AuditEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	// On-demand sweep over a consistent store
	rec := env.do(t, http.MethodPost, "/api/admin/audits/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[api.AuditReportDTO](t, rec)
	assert.True(t, report.Clean)
	assert.Equal(t, 1, report.AccountsChecked)
	assert.Empty(t, report.Drifts)

	// Scheduled runs land in the run log
	reconciler := ledger.NewReconciler(env.store, nil)
	auditor := api.NewAuditor(reconciler, env.store, "@hourly", nil)
	auditor.RunOnce(context.Background())

	rec = env.do(t, http.MethodGet, "/api/admin/audits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]api.AuditRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 1, runs[0].AccountsChecked)
	assert.Equal(t, 0, runs[0].DriftCount)
}

func TestAPI_Health(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
