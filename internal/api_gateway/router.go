package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spei-ledger/internal/api_gateway/handler"
	"github.com/spei-ledger/internal/api_gateway/middleware"
	"github.com/spei-ledger/internal/ratelimit"
)

// handlers groups every HTTP handler mounted by the router
type handlers struct {
	transfer       *handler.TransferHandler
	transaction    *handler.TransactionHandler
	account        *handler.AccountHandler
	webhook        *handler.WebhookHandler
	reconciliation *handler.ReconciliationHandler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(logger *slog.Logger, r *gin.Engine, h handlers, limiter *ratelimit.Store) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	rateLimited := middleware.RateLimit(logger, limiter)

	// Processor notifications carry a signature instead of a caller identity
	r.POST("/webhooks/opm", rateLimited, h.webhook.Receive)

	// API v1 endpoints
	v1 := r.Group("/api/v1", middleware.Actor())
	{
		transfers := v1.Group("/transfers")
		{
			transfers.POST("", rateLimited, h.transfer.Create)
			transfers.GET("/:id/cancelability", h.transfer.Cancelability)
			transfers.POST("/:id/cancel", h.transfer.Cancel)
			transfers.POST("/:id/retry", h.transfer.Retry)
		}

		transactions := v1.Group("/transactions")
		{
			transactions.GET("", h.transaction.List)
			transactions.GET("/:id", h.transaction.GetByID)
		}

		accounts := v1.Group("/accounts")
		{
			accounts.POST("", h.account.Create)
			accounts.GET("", h.account.List)
			accounts.GET("/:id/balance", h.account.Balance)
			accounts.DELETE("/:id", h.account.Deactivate)
		}

		reconciliation := v1.Group("/reconciliation")
		{
			reconciliation.POST("", h.reconciliation.Run)
			reconciliation.GET("/reports", h.reconciliation.ListReports)
			reconciliation.GET("/reports/:id", h.reconciliation.GetReport)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
