package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spei-ledger/internal/api_gateway/middleware"
	"github.com/spei-ledger/internal/authz"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/domain/reconciliation"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/platform/opm"
	reconjob "github.com/spei-ledger/internal/reconciliation"
)

// respondServiceError maps domain errors to their HTTP status. Anything it
// does not recognize is logged and reported as an internal error without detail.
func respondServiceError(c *gin.Context, logger *slog.Logger, err error, msg string) {
	var (
		validation order.ValidationErrors
		duplicate  account.ErrDuplicateClabe
		noReport   reconciliation.ErrReportNotFound
	)

	switch {
	case errors.Is(err, authz.ErrForbidden):
		RespondForbidden(c, err.Error())
	case errors.As(err, &validation):
		RespondUnprocessable(c, "Order rejected", []order.ValidationError(validation))
	case errors.Is(err, transaction.ErrTransactionNotFound{}):
		RespondNotFound(c, "Transaction not found")
	case errors.Is(err, account.ErrAccountNotFound{}):
		RespondNotFound(c, "Account not found")
	case errors.As(err, &noReport):
		RespondNotFound(c, "Reconciliation report not found")
	case errors.Is(err, transaction.ErrAlreadyCanceled):
		RespondWithError(c, http.StatusConflict, "ALREADY_CANCELED", err.Error())
	case errors.Is(err, transaction.ErrGracePeriodExpired):
		RespondWithError(c, http.StatusConflict, "GRACE_PERIOD_EXPIRED", err.Error())
	case errors.Is(err, transaction.ErrIllegalTransition{}):
		RespondWithError(c, http.StatusConflict, "ILLEGAL_TRANSITION", err.Error())
	case errors.Is(err, transaction.ErrConcurrentModification{}):
		RespondWithError(c, http.StatusConflict, "CONCURRENT_MODIFICATION", err.Error())
	case errors.Is(err, transaction.ErrDuplicateTransaction{}):
		RespondWithError(c, http.StatusConflict, "DUPLICATE_TRANSACTION", err.Error())
	case errors.As(err, &duplicate):
		RespondWithError(c, http.StatusConflict, "DUPLICATE_CLABE", err.Error())
	case errors.Is(err, account.ErrAccountInactive):
		RespondWithError(c, http.StatusConflict, "ACCOUNT_INACTIVE", err.Error())
	case errors.Is(err, reconjob.ErrRunInProgress):
		RespondWithError(c, http.StatusConflict, "RUN_IN_PROGRESS", err.Error())
	case errors.Is(err, account.ErrInvalidClabe),
		errors.Is(err, account.ErrInvalidBankCode),
		errors.Is(err, account.ErrEmptyHolderName),
		errors.Is(err, account.ErrCompanyIDRequired):
		RespondBadRequest(c, err.Error())
	case errors.Is(err, opm.ErrUpstreamUnavailable):
		logger.Error(msg, "error", err, "correlation_id", middleware.GetCorrelationID(c))
		RespondBadGateway(c, "Payment processor unavailable")
	default:
		logger.Error(msg, "error", err, "correlation_id", middleware.GetCorrelationID(c))
		RespondInternalError(c)
	}
}

// actorOrAbort returns the caller, answering 401 when the route was mounted
// without the Actor middleware.
func actorOrAbort(c *gin.Context) (authz.Actor, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		RespondUnauthorized(c, "")
		c.Abort()
	}
	return actor, ok
}
