/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rewards ledger service. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and environment configuration
  2. Open SQLite store (auto-migrates)
  3. Connect the RabbitMQ producer (Nop fallback when unconfigured)
  4. Wire rules engine, coordinator, tracker, reconciler
  5. Start the reconciliation auditor
  6. Start HTTP server with graceful shutdown

CONFIGURATION (environment, see config/config.go):
  SERVER_PORT, DB_PATH, SIGNUP_BONUS_POINTS, REFERRAL_BONUS_POINTS,
  ORDER_POINTS_RATE, MIN_REDEMPTION_POINTS, REFERRAL_CYCLE_DEPTH,
  RABBITMQ_URL, EVENTS_EXCHANGE, AUDIT_SCHEDULE

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the auditor, close the producer and the database
  4. Exit
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/corepath/rewards-ledger/accrual"
	"github.com/corepath/rewards-ledger/api"
	"github.com/corepath/rewards-ledger/config"
	"github.com/corepath/rewards-ledger/events"
	"github.com/corepath/rewards-ledger/ledger"
	"github.com/corepath/rewards-ledger/referral"
	"github.com/corepath/rewards-ledger/rules"
	"github.com/corepath/rewards-ledger/store/sqlite"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is a development convenience; absence is normal.
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded environment from .env")
	}

	cfg, err := config.Load(".")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("database ready", "path", cfg.DBPath)

	var publisher events.Publisher
	if cfg.RabbitMQURL != "" {
		producer, err := events.NewProducer(cfg.RabbitMQURL, cfg.EventsExchange, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		publisher = producer
		logger.Info("event producer connected", "exchange", cfg.EventsExchange)
	} else {
		publisher = &events.NopPublisher{Logger: logger}
		logger.Warn("no RABBITMQ_URL configured, outbound events disabled")
	}
	defer publisher.Close()

	engine := rules.New(
		cfg.SignupBonusPoints,
		cfg.ReferralBonusPoints,
		cfg.OrderRate(),
		cfg.MinRedemptionPoints,
		cfg.ReferralCycleDepth,
	)

	coordinator := accrual.NewCoordinator(store, engine, publisher, logger)
	tracker := referral.NewTracker(store, engine, publisher, logger)
	reconciler := ledger.NewReconciler(store, logger)

	auditor := api.NewAuditor(reconciler, store, cfg.AuditSchedule, logger)
	if err := auditor.Start(); err != nil {
		logger.Error("failed to start auditor", "schedule", cfg.AuditSchedule, "error", err)
		os.Exit(1)
	}
	defer auditor.Stop()

	handler := api.NewHandler(store, coordinator, tracker, reconciler, store, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		os.Exit(1)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	logger.Info("server stopped")
}
