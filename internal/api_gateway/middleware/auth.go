package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spei-ledger/internal/authz"
)

// Headers set by the upstream authenticator.
const (
	UserIDHeader    = "X-User-ID"
	UserRoleHeader  = "X-User-Role"
	CompanyIDHeader = "X-Company-ID"

	actorKey = "actor"
)

// Actor builds the caller identity from the authenticator's headers.
// Requests without a user are rejected; role checks happen per operation.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authenticated user")
			return
		}

		actor := authz.Actor{
			UserID: userID,
			Role:   authz.Role(c.GetHeader(UserRoleHeader)),
		}
		if raw := c.GetHeader(CompanyIDHeader); raw != "" {
			companyID, err := uuid.Parse(raw)
			if err != nil {
				abortWithError(c, http.StatusBadRequest, "BAD_REQUEST", "Invalid company ID header")
				return
			}
			actor.CompanyID = &companyID
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// GetActor returns the caller set by Actor.
func GetActor(c *gin.Context) (authz.Actor, bool) {
	v, exists := c.Get(actorKey)
	if !exists {
		return authz.Actor{}, false
	}
	actor, ok := v.(authz.Actor)
	return actor, ok
}

func abortWithError(c *gin.Context, status int, code, message string) {
	response := gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
	if correlationID := GetCorrelationID(c); correlationID != "" {
		response["correlation_id"] = correlationID
	}
	c.AbortWithStatusJSON(status, response)
}
