package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spei-ledger/internal/api_gateway/service"
)

// TransferHandler handles HTTP requests for outgoing transfers
type TransferHandler struct {
	transferService service.TransferService
	logger          *slog.Logger
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(logger *slog.Logger, transferService service.TransferService) *TransferHandler {
	return &TransferHandler{
		transferService: transferService,
		logger:          logger,
	}
}

// Create books a transfer; it stays cancelable until its confirmation deadline
func (h *TransferHandler) Create(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	t, err := h.transferService.Create(c.Request.Context(), actor, req.toInput())
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to create transfer")
		return
	}

	RespondCreated(c, mapTransactionToResponse(t))
}

// Cancelability reports whether the transfer can still be canceled and for how long
func (h *TransferHandler) Cancelability(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := h.transactionID(c)
	if !ok {
		return
	}

	res, err := h.transferService.Cancelability(c.Request.Context(), actor, id)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to check cancelability")
		return
	}

	RespondOK(c, mapCancelability(res))
}

// Cancel cancels a transfer inside its grace period. Refusals are 409 with a
// code telling "already canceled" apart from "grace period expired".
func (h *TransferHandler) Cancel(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := h.transactionID(c)
	if !ok {
		return
	}

	t, err := h.transferService.Cancel(c.Request.Context(), actor, id)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to cancel transfer")
		return
	}

	RespondOK(c, mapTransactionToResponse(t))
}

// Retry resubmits a failed transfer
func (h *TransferHandler) Retry(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := h.transactionID(c)
	if !ok {
		return
	}

	t, err := h.transferService.Retry(c.Request.Context(), actor, id)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to retry transfer")
		return
	}

	RespondOK(c, mapTransactionToResponse(t))
}

func (h *TransferHandler) transactionID(c *gin.Context) (uuid.UUID, bool) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Warn("Invalid transaction ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid transaction ID")
		return uuid.Nil, false
	}
	return id, true
}
