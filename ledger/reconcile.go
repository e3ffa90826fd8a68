/*
reconcile.go - Balance-vs-ledger drift detection

PURPOSE:
  Recomputes each account's balance from the entry fold and compares it to
  the cached value. Drift is a data-integrity bug: it is reported and
  logged, never silently corrected. Corrections, if ever needed, are
  explicit admin_adjustment entries made by a human.

READ-ONLY:
  The reconciler only reads. It never blocks accrual operations and never
  writes corrective entries automatically.

SEE ALSO:
  - api/auditor.go: Runs CheckAll on a cron schedule and records the run
*/
package ledger

import (
	"context"
	"log/slog"
)

// DriftReport is the outcome of one reconciliation sweep.
type DriftReport struct {
	AccountsChecked int
	Drifts          []DriftError
}

func (r DriftReport) Clean() bool { return len(r.Drifts) == 0 }

// Reconciler verifies the balance invariant across accounts.
type Reconciler struct {
	store  Store
	logger *slog.Logger
}

func NewReconciler(store Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger.With("component", "reconciler")}
}

// CheckAccount compares one account's cached balance with its entry fold.
// Returns a *DriftError describing the mismatch, or nil when consistent.
func (r *Reconciler) CheckAccount(ctx context.Context, accountID string) (*DriftError, error) {
	a, err := r.store.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}

	computed, err := r.store.SumDeltas(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if a.Balance != computed {
		drift := &DriftError{AccountID: accountID, Cached: a.Balance, Computed: computed}
		r.logger.Error("integrity drift detected",
			"account_id", accountID, "cached", a.Balance, "computed", computed)
		return drift, nil
	}
	return nil, nil
}

// CheckAll sweeps every account. Storage errors abort the sweep; drift does
// not, so one bad account never hides another.
func (r *Reconciler) CheckAll(ctx context.Context) (DriftReport, error) {
	ids, err := r.store.AccountIDs(ctx)
	if err != nil {
		return DriftReport{}, err
	}

	report := DriftReport{}
	for _, id := range ids {
		drift, err := r.CheckAccount(ctx, id)
		if err != nil {
			return report, err
		}
		report.AccountsChecked++
		if drift != nil {
			report.Drifts = append(report.Drifts, *drift)
		}
	}

	if report.Clean() {
		r.logger.Info("reconciliation clean", "accounts_checked", report.AccountsChecked)
	} else {
		r.logger.Error("reconciliation found drift",
			"accounts_checked", report.AccountsChecked, "drift_count", len(report.Drifts))
	}
	return report, nil
}
