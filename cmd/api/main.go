package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/pixelmuse/backend/internal/auth"
	"github.com/pixelmuse/backend/internal/config"
	"github.com/pixelmuse/backend/internal/dashboard"
	"github.com/pixelmuse/backend/internal/execution"
	"github.com/pixelmuse/backend/internal/generation"
	"github.com/pixelmuse/backend/internal/handlers"
	"github.com/pixelmuse/backend/internal/jobs"
	"github.com/pixelmuse/backend/internal/ledger"
	"github.com/pixelmuse/backend/internal/observability"
	"github.com/pixelmuse/backend/internal/pricing"
	"github.com/pixelmuse/backend/internal/repository"
	"github.com/pixelmuse/backend/internal/router"
	"github.com/pixelmuse/backend/internal/storage"
	"github.com/pixelmuse/backend/internal/validation"
	"github.com/pixelmuse/backend/internal/webhooks"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	metrics := observability.New()

	// Repositories
	teamRepo := repository.NewTeamRepo(pool)
	balanceRepo := repository.NewBalanceRepo(pool)
	txRepo := repository.NewTransactionRepo(pool)
	jobRepo := repository.NewJobRepo(pool)
	pricingRepo := repository.NewPricingRepo(pool)
	refModelRepo := repository.NewReferenceModelRepo(pool)
	customModelRepo := repository.NewCustomModelRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	webhookEventRepo := repository.NewWebhookEventRepo(pool)

	// Ledger engine and pricing
	engine := ledger.NewEngine(pool, balanceRepo, txRepo, teamRepo, metrics)
	pricingSvc := pricing.NewService(pricingRepo, refModelRepo)

	// Jobs: enqueue func is set after the River client exists (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn jobs.EnqueueDispatchTxFunc
	enqueueDispatch := func(ctx context.Context, tx pgx.Tx, args execution.DispatchArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	artifacts := storage.NewMemoryStore()
	jobsSvc := jobs.NewService(jobRepo, engine, customModelRepo, artifacts, enqueueDispatch, metrics, logger)

	genClient := generation.NewClient(cfg.Generation.APIURL, cfg.Generation.APIKey)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewDispatchWorker(jobsSvc, genClient, cfg.PublicBaseURL+"/webhooks/generation"))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args execution.DispatchArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	validator, err := validation.New()
	if err != nil {
		slog.Error("Failed to compile input schemas", "error", err)
		os.Exit(1)
	}

	// Auth & dashboard
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)
	dashHandler := dashboard.NewHandler(teamRepo, balanceRepo, txRepo, jobRepo, apiKeyRepo, logger)
	dashRouter := router.New(authHandler, dashHandler, authSvc)

	// API handlers
	jobHandler := &handlers.JobHandler{
		Jobs:      jobsSvc,
		Pricing:   pricingSvc,
		Models:    customModelRepo,
		RefModels: refModelRepo,
		Validator: validator,
		Metrics:   metrics,
		Logger:    logger,
	}
	creditHandler := &handlers.CreditHandler{
		Balances:     balanceRepo,
		Transactions: txRepo,
		Logger:       logger,
	}
	adminHandler := &handlers.AdminHandler{
		Ledger:        engine,
		Jobs:          jobRepo,
		OperatorToken: cfg.OperatorToken,
		Logger:        logger,
	}

	// Webhook receivers
	genWebhook := webhooks.NewGenerationHandler(jobsSvc, webhookEventRepo, cfg.Generation.WebhookSecret, metrics, logger)
	billingWebhook := webhooks.NewBillingHandler(teamRepo, engine, webhookEventRepo, cfg.Billing.WebhookSecret, metrics, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", dashRouter)
	RegisterV1Routes(mux, apiKeyRepo, balanceRepo, jobHandler, creditHandler, logger)
	RegisterAdminRoutes(mux, adminHandler)
	mux.Handle("POST /webhooks/generation", genWebhook)
	mux.Handle("POST /webhooks/billing", billingWebhook)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "https://app.pixelmuse.io"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (dispatches queued jobs to the generation provider)
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
