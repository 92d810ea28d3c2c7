// Package middleware provides the HTTP middleware chain for the
// integration API.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Header-derived span attributes are bounded and validated; both values can
// arrive from unauthenticated clients.
const (
	maxRequestIDLength = 128
	maxTenantIDLength  = 64
)

var tenantIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// TracingConfig configures the OpenTelemetry middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "medagenda-backend",
		Enabled:     true,
	}
}

// Tracing returns the OpenTelemetry middleware with defaults.
func Tracing() gin.HandlerFunc {
	return TracingWithConfig(DefaultTracingConfig())
}

// TracingWithConfig wraps otelgin and stamps the request span with
// request_id and tenant_id. Span names follow otelgin's
// "METHOD route_pattern" form, e.g. "GET /api/v1/schedules/search".
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	otelMiddleware := otelgin.Middleware(cfg.ServiceName)

	return func(c *gin.Context) {
		// otelgin opens the span; correlation attributes go on afterwards.
		otelMiddleware(c)

		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			span.SetAttributes(correlationAttributes(c)...)
		}
	}
}

// correlationAttributes collects the request_id and tenant_id attributes
// available at this point in the chain. Either may be absent.
func correlationAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if requestID := spanRequestID(c); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if tenantID := spanTenantID(c); tenantID != "" {
		attrs = append(attrs, attribute.String("tenant_id", tenantID))
	}
	return attrs
}

// spanRequestID prefers the ID minted by the RequestID middleware and falls
// back to the client-supplied header, truncated to a sane length.
func spanRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	headerID := c.GetHeader("X-Request-ID")
	if len(headerID) > maxRequestIDLength {
		return headerID[:maxRequestIDLength]
	}
	return headerID
}

// spanTenantID prefers the tenant resolved by the tenant middleware. The
// X-Tenant-ID header is accepted only when it is a well-formed UUID, so
// arbitrary client strings never reach trace storage.
func spanTenantID(c *gin.Context) string {
	if tenant, ok := GetTenant(c); ok {
		return tenant.ID.String()
	}
	headerTenantID := c.GetHeader("X-Tenant-ID")
	if acceptableTenantID(headerTenantID) {
		return headerTenantID
	}
	return ""
}

func acceptableTenantID(tenantID string) bool {
	if tenantID == "" || len(tenantID) > maxTenantIDLength {
		return false
	}
	return tenantIDPattern.MatchString(tenantID)
}

// SpanErrorMarker flags the request span as errored for 4xx and 5xx
// responses. Place it after TracingWithConfig in the chain.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		statusCode := c.Writer.Status()
		if statusCode < http.StatusBadRequest {
			return
		}

		span.SetStatus(codes.Error, spanErrorMessage(statusCode))
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
}

func spanErrorMessage(statusCode int) string {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return "Internal Server Error"
	case statusCode == http.StatusUnauthorized:
		return "Unauthorized"
	case statusCode == http.StatusForbidden:
		return "Forbidden"
	case statusCode == http.StatusNotFound:
		return "Not Found"
	default:
		return "Client Error"
	}
}

// TracingAttributeInjector re-stamps the correlation attributes once the
// tenant middleware has resolved the tenant. Place it after both
// TracingWithConfig and the tenant middleware.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			span.SetAttributes(correlationAttributes(c)...)
		}
		c.Next()
	}
}
