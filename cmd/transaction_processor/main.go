package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/data/mongo"
	"github.com/spei-ledger/internal/data/postgres"
	"github.com/spei-ledger/internal/dispatch"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/logger"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/platform/messaging/consumers"
	"github.com/spei-ledger/internal/platform/messaging/producers"
	"github.com/spei-ledger/internal/platform/opm"
	"github.com/spei-ledger/internal/platform/persistence"
	"github.com/spei-ledger/internal/reconciliation"
	"github.com/spei-ledger/internal/statemachine"
	"github.com/spei-ledger/internal/transaction_processor/consumer"
	"github.com/spei-ledger/internal/transaction_processor/outbox_poller"
	"github.com/spei-ledger/internal/webhook"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("transaction_processor")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)
	clk := clock.Real()

	log.Info("Starting Transaction Processor",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

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

	// Initialize repositories
	transactionRepo := postgres.NewTransactionRepository(log, postgresDB)
	stateLogRepo := postgres.NewStateLogRepository(log, postgresDB)
	accountRepo := postgres.NewAccountRepository(log, postgresDB)
	webhookRepo := postgres.NewWebhookRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	reportRepo := mongo.NewReportRepository(log, mongoDB.Database())

	// Initialize Kafka producers
	statusProducer, err := producers.NewTopicProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.StatusTopic)
	if err != nil {
		log.Error("Failed to initialize status event Kafka producer", "error", err)
		os.Exit(1)
	}

	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// dlqProducer might be nil if DLQTopic is not configured. Its methods are nil-safe.

	// Initialize Kafka consumer for asynchronous reconciliation requests
	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka, cfg.Kafka.ReconciliationTopic, dlqProducer)

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

	machine := statemachine.NewMachine(log, postgresDB, transactionRepo, stateLogRepo, outboxRepo, clk)

	dispatcher, err := dispatch.NewDispatcher(log, &cfg.Transfer, cfg.WorkerPool.Size, postgresDB, transactionRepo, machine, signer, opmClient, clk)
	if err != nil {
		log.Error("Failed to initialize dispatcher", "error", err)
		os.Exit(1)
	}

	job := reconciliation.NewJob(log, &cfg.Reconciliation, &cfg.OPM, postgresDB, transactionRepo, accountRepo, machine, opmClient, reportRepo, clk)
	requestHandler := consumer.NewReconciliationRequestHandler(log, job)

	// Initialize outbox poller
	statusPublisher := outbox_poller.NewStatusEventPublisher(outboxRepo, statusProducer, log)
	poller := outbox_poller.NewPoller(&cfg.Outbox, outboxRepo, statusPublisher, log)

	purger := webhook.NewPurger(log, webhookRepo, cfg.Webhook.Retention, clk)

	// Create error channel for service errors
	errChan := make(chan error, 1)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	log.Info("Starting Kafka consumer",
		"topic", cfg.Kafka.ReconciliationTopic,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := kafkaConsumer.Subscribe(appCtx, requestHandler.HandleMessage); err != nil {
		errChan <- fmt.Errorf("kafka consumer error: %w", err)
	}

	background := []func(ctx context.Context){
		dispatcher.Start,
		poller.Start,
		func(ctx context.Context) { job.Schedule(ctx, cfg.Reconciliation.Interval) },
		func(ctx context.Context) { purger.Run(ctx, cfg.Webhook.PurgeInterval) },
	}
	for _, run := range background {
		wg.Add(1)
		go func(run func(ctx context.Context)) {
			defer wg.Done()
			run(appCtx)
		}(run)
	}

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	dispatcher.Close()

	if err = statusProducer.Close(); err != nil {
		log.Error("Error closing status event Kafka producer", "error", err)
	}

	if err = dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ Kafka producer", "error", err)
	}

	// Close Kafka consumer
	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Transaction Processor shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Transaction Processor shutdown completed with errors")
	} else {
		log.Info("Transaction Processor shutdown completed successfully")
	}
}
