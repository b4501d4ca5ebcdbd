package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spei-ledger/internal/api_gateway/service"
	"github.com/spei-ledger/internal/domain/transaction"
)

// TransactionHandler handles HTTP requests for ledger queries
type TransactionHandler struct {
	transactionService service.TransactionService
	logger             *slog.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(logger *slog.Logger, transactionService service.TransactionService) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
		logger:             logger,
	}
}

// List retrieves a filtered, paginated page of transactions with totals
func (h *TransactionHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var query ListTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.logger.Warn("Invalid query parameters", "error", err)
		RespondBadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	filter, err := query.toFilter()
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}

	page, err := h.transactionService.List(c.Request.Context(), actor, filter, transaction.Page{
		Number: query.Page,
		Size:   query.PageSize,
	})
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to list transactions")
		return
	}

	transactions := make([]TransactionResponse, 0, len(page.Items))
	for _, t := range page.Items {
		transactions = append(transactions, mapTransactionToResponse(t))
	}

	RespondWithPaginatedData(c, http.StatusOK, TransactionListResponse{
		Transactions: transactions,
		Stats:        mapStats(page.Stats),
	}, query.Page, query.PageSize, int(page.Total))
}

// GetByID retrieves transaction details with its state log, returns 404 if not found
func (h *TransactionHandler) GetByID(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Warn("Invalid transaction ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid transaction ID")
		return
	}

	detail, err := h.transactionService.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to get transaction")
		return
	}

	response := TransactionDetailResponse{
		TransactionResponse: mapTransactionToResponse(detail.Transaction),
		StateLog:            make([]StateLogResponse, 0, len(detail.StateLog)),
	}
	for _, e := range detail.StateLog {
		response.StateLog = append(response.StateLog, mapStateLogEntry(e))
	}
	RespondOK(c, response)
}
