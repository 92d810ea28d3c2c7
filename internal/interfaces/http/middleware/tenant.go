package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/medagenda/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// TenantKey is the key used to store the resolved tenant in gin.Context
const TenantKey = "tenant"

// TenantMiddleware resolves the tenant a request operates on from the
// validated service token claims. It must run after JWTAuthMiddleware; a
// request whose token carries no usable tenant is rejected, because every
// cache key and rule lookup below this point is tenant-scoped.
func TenantMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "Missing authentication context"))
			return
		}

		tenant, err := claims.Tenant()
		if err != nil {
			if logger != nil {
				logger.Warn("token carries no usable tenant",
					zap.String("path", c.Request.URL.Path),
					zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusForbidden,
				dto.NewErrorResponse(dto.ErrCodeForbidden, "Token is not scoped to a tenant"))
			return
		}

		c.Set(TenantKey, tenant)
		c.Next()
	}
}

// GetTenant returns the tenant resolved for this request. The second return
// is false on routes that run without tenant middleware.
func GetTenant(c *gin.Context) (integration.Tenant, bool) {
	value, exists := c.Get(TenantKey)
	if !exists {
		return integration.Tenant{}, false
	}
	tenant, ok := value.(integration.Tenant)
	return tenant, ok
}
