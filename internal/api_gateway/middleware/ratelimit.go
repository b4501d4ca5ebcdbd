package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/spei-ledger/internal/ratelimit"
)

// RateLimit allows each client a token bucket. Authenticated callers are
// keyed by user, everyone else by client IP.
func RateLimit(logger *slog.Logger, store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if userID := c.GetHeader(UserIDHeader); userID != "" {
			key = "user:" + userID
		}

		if store.Allow(key) {
			c.Next()
			return
		}

		retryAfter := int(math.Ceil(store.RetryAfter(key).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		logger.Warn("Rate limit exceeded",
			"key", key,
			"path", c.Request.URL.Path,
			"retry_after", retryAfter,
		)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		abortWithError(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
	}
}
