package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spei-ledger/internal/api_gateway"
	"github.com/spei-ledger/internal/api_gateway/service"
	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/data/mongo"
	"github.com/spei-ledger/internal/data/postgres"
	"github.com/spei-ledger/internal/dispatch"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/logger"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/platform/messaging/producers"
	"github.com/spei-ledger/internal/platform/opm"
	"github.com/spei-ledger/internal/platform/persistence"
	"github.com/spei-ledger/internal/ratelimit"
	"github.com/spei-ledger/internal/reconciliation"
	"github.com/spei-ledger/internal/statemachine"
	"github.com/spei-ledger/internal/webhook"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("api_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)
	clk := clock.Real()

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Reconciliation requests are handed to the transaction processor
	reconciliationProducer, err := producers.NewTopicProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.ReconciliationTopic)
	if err != nil {
		log.Error("Failed to initialize reconciliation Kafka producer", "error", err)
		os.Exit(1)
	}

	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}

	opmClient, err := opm.NewClient(log, &cfg.OPM, nil)
	if err != nil {
		log.Error("Failed to initialize OPM client", "error", err)
		os.Exit(1)
	}

	signer, err := order.LoadSigner(cfg.OPM.PrivateKeyPath)
	if err != nil {
		log.Error("Failed to load order signing key", "error", err)
		os.Exit(1)
	}

	// Without a public key every webhook is rejected as unsigned
	var verifier webhook.SignatureVerifier
	if cfg.OPM.PublicKeyPath != "" {
		v, err := order.LoadVerifier(cfg.OPM.PublicKeyPath)
		if err != nil {
			log.Error("Failed to load webhook verification key", "error", err)
			os.Exit(1)
		}
		verifier = v
	} else {
		log.Warn("OPM_PUBLIC_KEY_PATH is not set, webhooks will be rejected")
	}

	// Initialize repositories
	transactionRepo := postgres.NewTransactionRepository(log, postgresDB)
	stateLogRepo := postgres.NewStateLogRepository(log, postgresDB)
	accountRepo := postgres.NewAccountRepository(log, postgresDB)
	webhookRepo := postgres.NewWebhookRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	reportRepo := mongo.NewReportRepository(log, mongoDB.Database())

	machine := statemachine.NewMachine(log, postgresDB, transactionRepo, stateLogRepo, outboxRepo, clk)

	// Retries are submitted straight from the request; the periodic dispatch
	// loop runs in the transaction processor.
	dispatcher, err := dispatch.NewDispatcher(log, &cfg.Transfer, cfg.WorkerPool.Size, postgresDB, transactionRepo, machine, signer, opmClient, clk)
	if err != nil {
		log.Error("Failed to initialize dispatcher", "error", err)
		os.Exit(1)
	}

	job := reconciliation.NewJob(log, &cfg.Reconciliation, &cfg.OPM, postgresDB, transactionRepo, accountRepo, machine, opmClient, reportRepo, clk)
	gate := webhook.NewGate(log, postgresDB, webhookRepo, transactionRepo, accountRepo, machine, verifier, dlqProducer, clk)

	// Initialize services
	services := api_gateway.Services{
		Transfers:      service.NewTransferService(log, &cfg.Transfer, postgresDB, transactionRepo, accountRepo, machine, dispatcher, clk),
		Transactions:   service.NewTransactionService(log, transactionRepo, stateLogRepo),
		Accounts:       service.NewAccountService(log, accountRepo, transactionRepo, clk),
		Reconciliation: service.NewReconciliationService(log, job, reportRepo, reconciliationProducer, clk),
		Webhooks:       gate,
	}

	limiter := ratelimit.NewStore(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL, clk)
	go limiter.RunSweeper(appCtx, cfg.RateLimit.IdleTTL)

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, services, limiter)
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Stop accepting requests before closing what they depend on
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	dispatcher.Close()

	if err = reconciliationProducer.Close(); err != nil {
		log.Error("Error closing Kafka producer", "error", err)
	}

	if err = dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ Kafka producer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
