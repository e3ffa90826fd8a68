/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract: the
  surrounding application talks to these shapes, not to ledger types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/corepath/rewards-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES - One per external entry point
// =============================================================================

// SignupEventRequest reports a completed signup.
type SignupEventRequest struct {
	AccountID      string `json:"account_id"`
	IdempotencyKey string `json:"idempotency_key"`
	ReferrerCode   string `json:"referrer_code,omitempty"`
}

// OrderEventRequest reports a completed order. The order id is the
// idempotency key, so webhook retries are harmless.
type OrderEventRequest struct {
	AccountID  string `json:"account_id"`
	OrderID    string `json:"order_id"`
	OrderTotal string `json:"order_total"`
}

// RedemptionRequest spends points.
type RedemptionRequest struct {
	AccountID      string `json:"account_id"`
	Points         int64  `json:"points"`
	IdempotencyKey string `json:"idempotency_key"`
	SourceRef      string `json:"source_ref,omitempty"`
}

// RecordReferralRequest links a referee to a referrer's code.
type RecordReferralRequest struct {
	ReferrerCode     string `json:"referrer_code"`
	RefereeAccountID string `json:"referee_account_id"`
}

// QualifyReferralRequest reports that a referee performed the qualifying
// action.
type QualifyReferralRequest struct {
	RefereeAccountID string `json:"referee_account_id"`
}

// AdjustmentRequest is a manual admin correction, positive or negative.
type AdjustmentRequest struct {
	AccountID      string `json:"account_id"`
	Delta          int64  `json:"delta"`
	Note           string `json:"note"`
	IdempotencyKey string `json:"idempotency_key"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	Delta          int64  `json:"delta"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	SourceRef      string `json:"source_ref,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// SubmitResultDTO is the outcome of a submitted event. Created is false
// for idempotent replays.
type SubmitResultDTO struct {
	Created bool     `json:"created"`
	Entry   EntryDTO `json:"entry"`
	Balance int64    `json:"balance"`
}

// SignupResultDTO adds the fresh account's referral code and, when the
// signup carried a referrer code, the recorded edge.
type SignupResultDTO struct {
	SubmitResultDTO
	ReferralCode string           `json:"referral_code"`
	ReferredBy   *ReferralEdgeDTO `json:"referred_by,omitempty"`
}

// OrderResultDTO reports the accrual plus any referral completion the
// order triggered (a referee's first order qualifies the referral).
type OrderResultDTO struct {
	SubmitResultDTO
	ReferralCompleted *ReferralEdgeDTO `json:"referral_completed,omitempty"`
}

// BalanceDTO is the minimal balance read.
type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// AccountSummaryDTO aggregates an account's ledger.
type AccountSummaryDTO struct {
	AccountID    string `json:"account_id"`
	Balance      int64  `json:"balance"`
	Earned       int64  `json:"lifetime_earned"`
	Spent        int64  `json:"lifetime_spent"`
	Entries      int    `json:"entry_count"`
	ReferralCode string `json:"referral_code"`
	CreatedAt    string `json:"created_at"`
}

// StatementLineDTO is one entry with the running balance after it.
type StatementLineDTO struct {
	EntryDTO
	RunningBalance int64 `json:"running_balance"`
}

// StatementDTO is a time-ordered account statement.
type StatementDTO struct {
	AccountID string             `json:"account_id"`
	Since     string             `json:"since,omitempty"`
	Lines     []StatementLineDTO `json:"lines"`
	Balance   int64              `json:"balance"`
}

// ReferralEdgeDTO represents a referral edge in API responses.
type ReferralEdgeDTO struct {
	ID          string `json:"id"`
	ReferrerID  string `json:"referrer_id"`
	RefereeID   string `json:"referee_id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// QualifyResultDTO reports the edge state and the bonus submission result.
type QualifyResultDTO struct {
	Edge  ReferralEdgeDTO  `json:"edge"`
	Bonus *SubmitResultDTO `json:"bonus,omitempty"`
}

// AuditRunDTO represents one reconciliation sweep.
type AuditRunDTO struct {
	ID              string `json:"id"`
	StartedAt       string `json:"started_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
	AccountsChecked int    `json:"accounts_checked"`
	DriftCount      int    `json:"drift_count"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

// DriftDTO describes one account whose cached balance disagrees with the
// ledger sum.
type DriftDTO struct {
	AccountID string `json:"account_id"`
	Cached    int64  `json:"cached"`
	Computed  int64  `json:"computed"`
}

// AuditReportDTO is the outcome of an on-demand reconciliation.
type AuditReportDTO struct {
	AccountsChecked int        `json:"accounts_checked"`
	Drifts          []DriftDTO `json:"drifts"`
	Clean           bool       `json:"clean"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:             e.ID,
		AccountID:      e.AccountID,
		Delta:          e.Delta,
		Reason:         string(e.Reason),
		IdempotencyKey: e.IdempotencyKey,
		SourceRef:      e.SourceRef,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
}

func toEdgeDTO(e ledger.ReferralEdge) ReferralEdgeDTO {
	dto := ReferralEdgeDTO{
		ID:         e.ID,
		ReferrerID: e.ReferrerID,
		RefereeID:  e.RefereeID,
		Status:     string(e.Status),
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
	if e.CompletedAt != nil {
		dto.CompletedAt = e.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func toAuditRunDTO(r ledger.AuditRun) AuditRunDTO {
	dto := AuditRunDTO{
		ID:              r.ID,
		StartedAt:       r.StartedAt.Format(time.RFC3339),
		AccountsChecked: r.AccountsChecked,
		DriftCount:      r.DriftCount,
		Status:          r.Status,
		Error:           r.Error,
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
