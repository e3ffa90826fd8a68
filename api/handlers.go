/*
handlers.go - HTTP API handlers for the rewards ledger

PURPOSE:
  Exposes the points and referral engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Events (write path, called by the surrounding application):
    POST   /api/events/signup      Signup completed -> signup bonus
    POST   /api/events/order       Order completed -> order accrual
    POST   /api/events/redemption  Spend points

  Referrals:
    POST   /api/referrals          Record referrer -> referee edge
    POST   /api/referrals/qualify  Referee qualified -> pay referrer

  Accounts (read path):
    GET    /api/accounts/{id}            Summary
    GET    /api/accounts/{id}/balance    Current balance
    GET    /api/accounts/{id}/statement  Entries with running balance
    GET    /api/accounts/{id}/referrals  Edges where {id} is referrer

  Admin:
    POST   /api/admin/adjustments  Manual balance correction
    POST   /api/admin/audits/run   Run reconciliation now
    GET    /api/admin/audits       Past reconciliation runs

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (coordinator, tracker, ledger)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Account, edge, or referral code not found
  - 409: Business conflict (already paid, already referred, self
         referral, cycle, ineligible edge)
  - 422: Insufficient points, below minimum redemption
  - 503: Storage unavailable
  - 500: Internal errors
  Idempotent replays are NOT errors: they return 200 with created=false.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public;
  the subsystem is expected to sit behind the platform's gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/corepath/rewards-ledger/accrual"
	"github.com/corepath/rewards-ledger/ledger"
	"github.com/corepath/rewards-ledger/referral"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       ledger.TxStore
	Ledger      *ledger.Ledger
	Coordinator *accrual.Coordinator
	Tracker     *referral.Tracker
	Reconciler  *ledger.Reconciler
	Audits      ledger.AuditStore
	Logger      *slog.Logger
}

// NewHandler assembles a Handler over one transactional store.
func NewHandler(store ledger.TxStore, coord *accrual.Coordinator, tracker *referral.Tracker, recon *ledger.Reconciler, audits ledger.AuditStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:       store,
		Ledger:      ledger.New(store),
		Coordinator: coord,
		Tracker:     tracker,
		Reconciler:  recon,
		Audits:      audits,
		Logger:      logger.With("component", "api"),
	}
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// HandleSignupEvent ensures the account exists and credits the signup
// bonus. When the request carries a referrer code, the referral edge is
// recorded in the same call.
func (h *Handler) HandleSignupEvent(w http.ResponseWriter, r *http.Request) {
	var req SignupEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.AccountID == "" || req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "account_id and idempotency_key are required", nil)
		return
	}

	ctx := r.Context()

	acct, err := h.Store.Account(ctx, req.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if acct == nil {
		fresh := ledger.Account{
			ID:           req.AccountID,
			ReferralCode: ledger.NewReferralCode(),
			CreatedAt:    time.Now().UTC(),
		}
		if err := h.Store.CreateAccount(ctx, fresh); err != nil {
			writeDomainError(w, err)
			return
		}
		// Re-read: a concurrent signup may have won the insert.
		if acct, err = h.Store.Account(ctx, req.AccountID); err != nil || acct == nil {
			writeDomainError(w, err)
			return
		}
	}

	res, err := h.Coordinator.Submit(ctx, accrual.Event{
		AccountID:      req.AccountID,
		Reason:         ledger.ReasonSignupBonus,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := SignupResultDTO{
		SubmitResultDTO: toSubmitResultDTO(res),
		ReferralCode:    acct.ReferralCode,
	}

	if req.ReferrerCode != "" {
		edge, err := h.Tracker.RecordReferralByCode(ctx, req.ReferrerCode, req.AccountID)
		var already *ledger.RefereeAlreadyReferredError
		switch {
		case err == nil:
			dto := toEdgeDTO(*edge)
			out.ReferredBy = &dto
		case errors.As(err, &already):
			// A replayed signup re-sends the code; the edge from the
			// first delivery stands.
			if existing, lookupErr := h.Tracker.EdgeByReferee(ctx, req.AccountID); lookupErr == nil && existing != nil {
				dto := toEdgeDTO(*existing)
				out.ReferredBy = &dto
			}
		default:
			writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// HandleOrderEvent credits order accrual points, keyed by the order id so
// retried webhooks collapse to one entry. A referee's first order also
// qualifies their pending referral and pays the referrer.
func (h *Handler) HandleOrderEvent(w http.ResponseWriter, r *http.Request) {
	var req OrderEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.AccountID == "" || req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "account_id and order_id are required", nil)
		return
	}
	total, err := decimal.NewFromString(req.OrderTotal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "order_total must be a decimal string", err)
		return
	}

	ctx := r.Context()

	res, err := h.Coordinator.Submit(ctx, accrual.Event{
		AccountID:      req.AccountID,
		Reason:         ledger.ReasonOrderAccrual,
		IdempotencyKey: req.OrderID,
		SourceRef:      req.OrderID,
		OrderTotal:     total,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := OrderResultDTO{SubmitResultDTO: toSubmitResultDTO(res)}

	// The ordering account may be a referee with a pending edge; an order
	// is the qualifying action. The edge transition and the bonus key are
	// both idempotent, so replayed orders cannot double-pay.
	edge, _, err := h.qualifyReferee(ctx, req.AccountID)
	if err != nil {
		h.Logger.Error("referral qualification after order failed",
			"account_id", req.AccountID, "order_id", req.OrderID, "error", err)
	} else if edge != nil {
		dto := toEdgeDTO(*edge)
		out.ReferralCompleted = &dto
	}

	writeJSON(w, http.StatusOK, out)
}

// HandleRedemptionEvent spends points.
func (h *Handler) HandleRedemptionEvent(w http.ResponseWriter, r *http.Request) {
	var req RedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.AccountID == "" || req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "account_id and idempotency_key are required", nil)
		return
	}
	if req.Points <= 0 {
		writeError(w, http.StatusBadRequest, "points must be positive", nil)
		return
	}

	res, err := h.Coordinator.Submit(r.Context(), accrual.Event{
		AccountID:      req.AccountID,
		Reason:         ledger.ReasonRedemption,
		IdempotencyKey: req.IdempotencyKey,
		SourceRef:      req.SourceRef,
		Points:         req.Points,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubmitResultDTO(res))
}

// =============================================================================
// REFERRAL HANDLERS
// =============================================================================

// HandleRecordReferral links a referee account to a referrer's code.
func (h *Handler) HandleRecordReferral(w http.ResponseWriter, r *http.Request) {
	var req RecordReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ReferrerCode == "" || req.RefereeAccountID == "" {
		writeError(w, http.StatusBadRequest, "referrer_code and referee_account_id are required", nil)
		return
	}

	edge, err := h.Tracker.RecordReferralByCode(r.Context(), req.ReferrerCode, req.RefereeAccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEdgeDTO(*edge))
}

// HandleQualifyReferral marks the referee's edge completed and pays the
// referrer's bonus. Safe to resend: the edge transition is compare-and-set
// and the bonus is keyed by the edge id.
func (h *Handler) HandleQualifyReferral(w http.ResponseWriter, r *http.Request) {
	var req QualifyReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.RefereeAccountID == "" {
		writeError(w, http.StatusBadRequest, "referee_account_id is required", nil)
		return
	}

	edge, bonus, err := h.qualifyReferee(r.Context(), req.RefereeAccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if edge == nil {
		writeError(w, http.StatusNotFound, "no referral recorded for account", ledger.ErrEdgeNotFound)
		return
	}

	out := QualifyResultDTO{Edge: toEdgeDTO(*edge)}
	if bonus != nil {
		dto := toSubmitResultDTO(*bonus)
		out.Bonus = &dto
	}
	writeJSON(w, http.StatusOK, out)
}

// qualifyReferee is the shared qualification path behind the explicit
// qualify endpoint and the order-completed hook. Returns (nil, nil, nil)
// when the account was never referred.
func (h *Handler) qualifyReferee(ctx context.Context, refereeID string) (*ledger.ReferralEdge, *accrual.Result, error) {
	edge, err := h.Tracker.MarkCompletedByReferee(ctx, refereeID)
	if err != nil || edge == nil {
		return nil, nil, err
	}

	res, err := h.Coordinator.Submit(ctx, accrual.Event{
		AccountID:      edge.ReferrerID,
		Reason:         ledger.ReasonReferralBonus,
		IdempotencyKey: edge.ID,
		SourceRef:      refereeID,
		EdgeID:         edge.ID,
	})
	if err != nil {
		return nil, nil, err
	}

	// The bonus submission flipped the edge to bonus_paid; re-read so the
	// caller sees the final state.
	if paid, readErr := h.Tracker.EdgeByReferee(ctx, refereeID); readErr == nil && paid != nil {
		edge = paid
	}
	return edge, &res, nil
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// HandleGetBalance returns the cached balance for an account.
func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	balance, err := h.Ledger.BalanceOf(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{AccountID: id, Balance: balance})
}

// HandleGetAccount returns the account summary.
func (h *Handler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	acct, err := h.Store.Account(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "account not found", ledger.ErrAccountNotFound)
		return
	}

	sum, err := h.Ledger.Summarize(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountSummaryDTO{
		AccountID:    acct.ID,
		Balance:      sum.Balance,
		Earned:       sum.Earned,
		Spent:        sum.Spent,
		Entries:      sum.Entries,
		ReferralCode: acct.ReferralCode,
		CreatedAt:    acct.CreatedAt.Format(time.RFC3339),
	})
}

// HandleGetStatement returns the account's entries in chronological order
// with a running balance per line. Optional ?since=RFC3339 filter.
func (h *Handler) HandleGetStatement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	acct, err := h.Store.Account(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "account not found", ledger.ErrAccountNotFound)
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339", err)
			return
		}
		since = &parsed
	}

	entries, err := h.Ledger.EntriesFor(ctx, id, since)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := StatementDTO{
		AccountID: id,
		Lines:     make([]StatementLineDTO, 0, len(entries)),
		Balance:   acct.Balance,
	}
	if since != nil {
		out.Since = since.Format(time.RFC3339)
	}

	var running int64
	for _, e := range entries {
		running += e.Delta
		out.Lines = append(out.Lines, StatementLineDTO{
			EntryDTO:       toEntryDTO(e),
			RunningBalance: running,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// HandleGetReferrals lists edges where the account is the referrer.
func (h *Handler) HandleGetReferrals(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	acct, err := h.Store.Account(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "account not found", ledger.ErrAccountNotFound)
		return
	}

	edges, err := h.Tracker.EdgesByReferrer(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]ReferralEdgeDTO, 0, len(edges))
	for _, e := range edges {
		out = append(out, toEdgeDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// HandleCreateAdjustment applies a manual signed correction.
func (h *Handler) HandleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.AccountID == "" || req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "account_id and idempotency_key are required", nil)
		return
	}
	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must be non-zero", nil)
		return
	}

	res, err := h.Coordinator.Submit(r.Context(), accrual.Event{
		AccountID:      req.AccountID,
		Reason:         ledger.ReasonAdminAdjustment,
		IdempotencyKey: req.IdempotencyKey,
		SourceRef:      req.Note,
		Points:         req.Delta,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubmitResultDTO(res))
}

// HandleRunAudit runs one reconciliation sweep now and returns the report.
// The sweep only reads; drift is reported, never corrected.
func (h *Handler) HandleRunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reconciler.CheckAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := AuditReportDTO{
		AccountsChecked: report.AccountsChecked,
		Drifts:          make([]DriftDTO, 0, len(report.Drifts)),
		Clean:           report.Clean(),
	}
	for _, d := range report.Drifts {
		out.Drifts = append(out.Drifts, DriftDTO{
			AccountID: d.AccountID,
			Cached:    d.Cached,
			Computed:  d.Computed,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// HandleListAudits returns recent scheduled reconciliation runs.
func (h *Handler) HandleListAudits(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Audits.AuditRuns(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]AuditRunDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toAuditRunDTO(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func toSubmitResultDTO(res accrual.Result) SubmitResultDTO {
	return SubmitResultDTO{
		Created: res.Created,
		Entry:   toEntryDTO(res.Entry),
		Balance: res.Balance,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error(), errors.Unwrap(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrEdgeNotFound),
		errors.Is(err, ledger.ErrUnknownReferralCode):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyPaid),
		errors.Is(err, ledger.ErrEdgeNotEligible),
		errors.Is(err, ledger.ErrSelfReferral),
		errors.Is(err, ledger.ErrRefereeAlreadyReferred),
		errors.Is(err, ledger.ErrReferralCycle):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientPoints),
		errors.Is(err, ledger.ErrBelowMinRedemption):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
