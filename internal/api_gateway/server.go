package api_gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spei-ledger/internal/api_gateway/handler"
	"github.com/spei-ledger/internal/api_gateway/service"
	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/ratelimit"
)

// Services are the collaborators behind the HTTP handlers
type Services struct {
	Transfers      service.TransferService
	Transactions   service.TransactionService
	Accounts       service.AccountService
	Reconciliation service.ReconciliationService
	Webhooks       service.WebhookGate
}

// Server handles HTTP requests and manages the application's lifecycle
type Server struct {
	logger     *slog.Logger // For structured logging
	httpServer *http.Server // Underlying HTTP server
	httpRouter *gin.Engine  // Gin router instance
}

// NewServer creates and configures a new HTTP server with the given services
func NewServer(log *slog.Logger, cfg *config.Config, services Services, limiter *ratelimit.Store) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()

	setupRouter(log, httpRouter, handlers{
		transfer:       handler.NewTransferHandler(log, services.Transfers),
		transaction:    handler.NewTransactionHandler(log, services.Transactions),
		account:        handler.NewAccountHandler(log, services.Accounts),
		webhook:        handler.NewWebhookHandler(log, services.Webhooks),
		reconciliation: handler.NewReconciliationHandler(log, services.Reconciliation),
	}, limiter)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		logger:     log,
		httpServer: httpServer,
		httpRouter: httpRouter,
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting for in-flight requests
// until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}
