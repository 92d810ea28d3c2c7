package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/medagenda/backend/internal/infrastructure/cache"
	"github.com/medagenda/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// rateLimitExceededResponse is the wire shape contract with the
// conversational platform, which parses statusCode and message from the body
// rather than the HTTP status line.
type rateLimitExceededResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// RateLimitMiddleware limits requests per tenant (falling back to client IP
// on unauthenticated routes) using the shared fixed-window limiter, so the
// budget holds across all replicas. Store failures reject the request rather
// than letting traffic through unmetered.
func RateLimitMiddleware(limiter *cache.RateLimiter, logger *zap.Logger, metrics *telemetry.CacheMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.ClientIP()
		if tenant, ok := GetTenant(c); ok {
			identity = tenant.CacheKeyPrefix()
		}

		result, err := limiter.Allow(c.Request.Context(), identity)
		if err != nil {
			if logger != nil {
				logger.Error("rate limiter unavailable, rejecting request",
					zap.String("path", c.Request.URL.Path),
					zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, rateLimitExceededResponse{
				StatusCode: http.StatusServiceUnavailable,
				Message:    "Service temporarily unavailable",
			})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			retryAfter := result.RetryAfterSeconds()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			metrics.RecordRateLimitRejection(c.Request.Context(), c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, rateLimitExceededResponse{
				StatusCode: http.StatusTooManyRequests,
				Message:    fmt.Sprintf("Too many requests. Try again in %d seconds", retryAfter),
			})
			return
		}

		c.Next()
	}
}
