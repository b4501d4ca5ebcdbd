package handler

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spei-ledger/internal/api_gateway/middleware"
	"github.com/spei-ledger/internal/api_gateway/service"
)

// ReconciliationHandler handles HTTP requests for reconciliation runs
type ReconciliationHandler struct {
	reconciliationService service.ReconciliationService
	logger                *slog.Logger
}

// NewReconciliationHandler creates a new reconciliation handler
func NewReconciliationHandler(logger *slog.Logger, reconciliationService service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: reconciliationService,
		logger:                logger,
	}
}

// Run reconciles synchronously, or with ?async=true hands the run to the
// transaction processor and answers 202 with the request id.
func (h *ReconciliationHandler) Run(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	async := false
	if raw := c.Query("async"); raw != "" {
		var err error
		if async, err = strconv.ParseBool(raw); err != nil {
			RespondBadRequest(c, "async must be a boolean")
			return
		}
	}

	var req ReconciliationRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.logger.Warn("Invalid request body", "error", err)
			RespondBadRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}
	in := service.ReconciliationInput{Account: req.Account}
	if req.Window != "" {
		window, err := time.ParseDuration(req.Window)
		if err != nil || window <= 0 {
			RespondBadRequest(c, "window must be a positive duration such as 24h")
			return
		}
		in.Window = window
	}

	if async {
		requestID, err := h.reconciliationService.Enqueue(c.Request.Context(), actor, in, middleware.GetCorrelationID(c))
		if err != nil {
			respondServiceError(c, h.logger, err, "Failed to enqueue reconciliation")
			return
		}
		RespondAccepted(c, gin.H{"request_id": requestID.String()})
		return
	}

	summary, err := h.reconciliationService.Run(c.Request.Context(), actor, in)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to run reconciliation")
		return
	}
	RespondOK(c, summary)
}

// ListReports retrieves the history of reconciliation runs, newest first
func (h *ReconciliationHandler) ListReports(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var query ReportsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	reports, err := h.reconciliationService.Reports(c.Request.Context(), actor, query.Limit, query.Offset)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to list reconciliation reports")
		return
	}
	RespondOK(c, reports)
}

// GetReport retrieves one reconciliation run by its id
func (h *ReconciliationHandler) GetReport(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid run ID")
		return
	}

	report, err := h.reconciliationService.Report(c.Request.Context(), actor, runID)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to get reconciliation report")
		return
	}
	RespondOK(c, report)
}
