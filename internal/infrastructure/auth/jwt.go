// Package auth issues and validates the service tokens the conversational
// platform uses to call this backend on behalf of a tenant.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/medagenda/backend/internal/infrastructure/config"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingTenantID  = errors.New("missing tenant_id in claims")
)

// Claims represents the custom JWT claims of a service token. The token is
// tenant-scoped: every request it authorizes operates on exactly one tenant.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string `json:"tenant_id"`
	TenantType  string `json:"tenant_type"`
	Environment string `json:"environment,omitempty"`
}

// Tenant reconstructs the tenant the token is scoped to.
func (c *Claims) Tenant() (integration.Tenant, error) {
	if c.TenantID == "" {
		return integration.Tenant{}, ErrMissingTenantID
	}
	id, err := uuid.Parse(c.TenantID)
	if err != nil {
		return integration.Tenant{}, ErrInvalidClaims
	}
	return integration.Tenant{
		ID:          id,
		Type:        integration.TenantType(c.TenantType),
		Environment: c.Environment,
	}, nil
}

// JWTService handles service token operations
type JWTService struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.AuthConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.Secret),
		expiration: cfg.TokenExpiration,
		issuer:     cfg.Issuer,
	}
}

// GenerateToken issues a tenant-scoped service token.
func (s *JWTService) GenerateToken(tenant integration.Tenant) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.expiration)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   tenant.ID.String(),
			Audience:  jwt.ClaimStrings{s.issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		TenantID:    tenant.ID.String(),
		TenantType:  string(tenant.Type),
		Environment: tenant.Environment,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and validates a service token.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenNotYetValid
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.TenantID == "" {
		return nil, ErrMissingTenantID
	}
	return claims, nil
}

// GetTokenExpiration returns the configured token lifetime.
func (s *JWTService) GetTokenExpiration() time.Duration {
	return s.expiration
}
