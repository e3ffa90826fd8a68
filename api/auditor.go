/*
auditor.go - Scheduled balance reconciliation

PURPOSE:
  Runs the reconciliation sweep on a cron schedule and records every run
  in audit_runs. The sweep recomputes each account's balance from its
  entries and compares it with the cached balance. Drift is REPORTED,
  never corrected: a mismatch means a bug or manual tampering, and
  silently repairing it would destroy the evidence.

SCHEDULING: robfig/cron
  The schedule comes from configuration (default @hourly). Jobs run with
  a Recover chain so a panicking sweep cannot take the process down.

RUN RECORDS:
  Every sweep writes an AuditRun row: started/completed timestamps,
  accounts checked, drift count, and terminal status (completed or
  failed). GET /api/admin/audits reads these back.

SEE ALSO:
  - ledger/reconcile.go: The sweep itself
  - handlers.go: On-demand audit endpoint
*/
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/corepath/rewards-ledger/ledger"
)

// Auditor owns the periodic reconciliation job.
type Auditor struct {
	reconciler *ledger.Reconciler
	audits     ledger.AuditStore
	schedule   string
	logger     *slog.Logger
	cron       *cron.Cron
}

func NewAuditor(reconciler *ledger.Reconciler, audits ledger.AuditStore, schedule string, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		reconciler: reconciler,
		audits:     audits,
		schedule:   schedule,
		logger:     logger.With("component", "auditor"),
	}
}

// Start registers the sweep with the cron runner and begins scheduling.
func (a *Auditor) Start() error {
	cl := cronLogger{a.logger}
	a.cron = cron.New(cron.WithChain(cron.Recover(cl)))

	if _, err := a.cron.AddFunc(a.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		a.RunOnce(ctx)
	}); err != nil {
		return err
	}

	a.cron.Start()
	a.logger.Info("reconciliation auditor started", "schedule", a.schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (a *Auditor) Stop() {
	if a.cron == nil {
		return
	}
	<-a.cron.Stop().Done()
	a.logger.Info("reconciliation auditor stopped")
}

// RunOnce executes one sweep and records it. Failures are logged and
// recorded, never propagated: a broken sweep must not disturb the
// serving path.
func (a *Auditor) RunOnce(ctx context.Context) {
	run := ledger.AuditRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    "running",
	}
	if err := a.audits.SaveAuditRun(ctx, run); err != nil {
		a.logger.Error("failed to record audit run start", "error", err)
	}

	report, err := a.reconciler.CheckAll(ctx)

	now := time.Now().UTC()
	run.CompletedAt = &now
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		a.logger.Error("reconciliation sweep failed", "run_id", run.ID, "error", err)
	} else {
		run.Status = "completed"
		run.AccountsChecked = report.AccountsChecked
		run.DriftCount = len(report.Drifts)
		if !report.Clean() {
			a.logger.Warn("reconciliation found drift",
				"run_id", run.ID,
				"accounts_checked", report.AccountsChecked,
				"drift_count", len(report.Drifts))
		} else {
			a.logger.Info("reconciliation clean",
				"run_id", run.ID,
				"accounts_checked", report.AccountsChecked)
		}
	}

	if err := a.audits.SaveAuditRun(ctx, run); err != nil {
		a.logger.Error("failed to record audit run result", "run_id", run.ID, "error", err)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Info(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
