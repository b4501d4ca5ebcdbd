package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spei-ledger/internal/api_gateway/service"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/webhook"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives payment processor notifications
type WebhookHandler struct {
	gate   service.WebhookGate
	logger *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(logger *slog.Logger, gate service.WebhookGate) *WebhookHandler {
	return &WebhookHandler{
		gate:   gate,
		logger: logger,
	}
}

// Receive answers 200 for every notification the gate accepted, including
// duplicates and ones it recorded as failed, so the processor stops redelivering.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("Failed to read webhook body", "error", err)
		RespondBadRequest(c, "Unreadable request body")
		return
	}

	res, err := h.gate.Handle(c.Request.Context(), body)
	switch {
	case errors.Is(err, webhook.ErrMalformedPayload):
		RespondBadRequest(c, err.Error())
		return
	case errors.Is(err, order.ErrInvalidSignature):
		RespondUnauthorized(c, "Invalid signature")
		return
	case err != nil:
		respondServiceError(c, h.logger, err, "Failed to handle webhook")
		return
	}

	response := WebhookResponse{
		Type:            string(res.Type),
		TrackingKey:     res.TrackingKey,
		Outcome:         string(res.Outcome),
		Detail:          res.Detail,
		PayloadMismatch: res.PayloadMismatch,
	}
	if res.TransactionID != nil {
		response.TransactionID = res.TransactionID.String()
	}
	RespondOK(c, response)
}
