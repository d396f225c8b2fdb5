package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/theinterviewer/backend/internal/auth"
	"github.com/theinterviewer/backend/internal/config"
	"github.com/theinterviewer/backend/internal/credits"
	"github.com/theinterviewer/backend/internal/handlers"
	"github.com/theinterviewer/backend/internal/payments"
	"github.com/theinterviewer/backend/internal/ratelimit"
	"github.com/theinterviewer/backend/internal/repository"
	"github.com/theinterviewer/backend/internal/router"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	userRepo := repository.NewUserRepo(pool)
	txRepo := repository.NewTransactionRepo(pool)
	paymentRepo := repository.NewPaymentRepo(pool)

	// Credit ledger
	creditSvc := credits.NewService(pool, userRepo, txRepo)

	// Payments
	gateway := payments.NewGatewayClient(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret, cfg.GatewayTimeout)
	paymentSvc := payments.NewService(pool, paymentRepo, creditSvc, gateway,
		cfg.GatewayKeyID, cfg.GatewayKeySecret, cfg.GatewayWebhookSecret,
		cfg.Currency, cfg.OrderExpiry, logger)

	// Stale order reaper runs on River's periodic scheduler.
	workers := river.NewWorkers()
	river.AddWorker(workers, payments.NewExpirePaymentsWorker(paymentRepo, cfg.OrderExpiry, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			payments.NewPeriodicExpireJob(cfg.ReaperInterval),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// Auth
	authSvc := auth.NewService(userRepo, creditSvc, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	// Rate limiters: one per-IP bucket set for the whole API, a stricter
	// per-user set for order creation.
	generalLimiter := ratelimit.NewGeneral()
	defer generalLimiter.Close()
	paymentLimiter := ratelimit.NewPayment()
	defer paymentLimiter.Close()

	paymentHandler := &handlers.PaymentHandler{Svc: paymentSvc, Limiter: paymentLimiter, Logger: logger}
	creditHandler := &handlers.CreditHandler{Ledger: creditSvc, History: txRepo, Logger: logger}
	interviewHandler := &handlers.InterviewHandler{Ledger: creditSvc, Logger: logger}

	apiRouter := router.New(authHandler, paymentHandler, creditHandler, interviewHandler, authSvc, generalLimiter)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Gateway-Signature"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
