package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spei-ledger/internal/api_gateway/service"
)

// AccountHandler handles HTTP requests for CLABE account operations
type AccountHandler struct {
	accountService service.AccountService
	logger         *slog.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(logger *slog.Logger, accountService service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

// Create registers a new CLABE account
func (h *AccountHandler) Create(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	in := service.CreateAccountInput{
		Clabe:       req.Clabe,
		BankCode:    req.BankCode,
		Alias:       req.Alias,
		HolderName:  req.HolderName,
		HolderTaxID: req.HolderTaxID,
	}
	if req.CompanyID != "" {
		companyID := uuid.MustParse(req.CompanyID)
		in.CompanyID = &companyID
	}

	acc, err := h.accountService.Create(c.Request.Context(), actor, in)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to create account")
		return
	}

	RespondCreated(c, mapAccountToResponse(acc))
}

// List retrieves the accounts of the caller's company, or of ?company_id=
func (h *AccountHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var companyID *uuid.UUID
	if raw := c.Query("company_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondBadRequest(c, "Invalid company ID")
			return
		}
		companyID = &id
	}

	accounts, err := h.accountService.List(c.Request.Context(), actor, companyID)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to list accounts")
		return
	}

	response := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		response = append(response, mapAccountToResponse(acc))
	}
	RespondOK(c, response)
}

// Balance retrieves the ledger balance of an account
func (h *AccountHandler) Balance(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	balance, err := h.accountService.Balance(c.Request.Context(), actor, id)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to get account balance")
		return
	}

	RespondOK(c, mapBalance(balance))
}

// Deactivate soft-deletes an account
func (h *AccountHandler) Deactivate(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	if err := h.accountService.Deactivate(c.Request.Context(), actor, id); err != nil {
		respondServiceError(c, h.logger, err, "Failed to deactivate account")
		return
	}

	RespondNoContent(c)
}

func (h *AccountHandler) accountID(c *gin.Context) (uuid.UUID, bool) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Warn("Invalid account ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid account ID")
		return uuid.Nil, false
	}
	return id, true
}
