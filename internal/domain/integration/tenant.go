package integration

import (
	"github.com/google/uuid"
)

// TenantType identifies the family of ERP system a tenant integrates with.
// Each type has its own protocol adapter outside this core.
type TenantType string

const (
	TenantTypeClinic   TenantType = "clinic"
	TenantTypeHospital TenantType = "hospital"
	TenantTypeLab      TenantType = "lab"
)

// EnvironmentProduction is the environment name that carries no cache key
// suffix. Every other environment is suffixed so non-production tenants can
// never read or clobber production cache entries.
const EnvironmentProduction = "production"

// Tenant is one configured connection between the platform and one external
// clinic or hospital system.
type Tenant struct {
	ID          uuid.UUID
	Type        TenantType
	Environment string
	Name        string
}

// CacheKeyPrefix returns the tenant's cache namespace:
// "{tenantType}[-{env}]:{tenantId}". The environment suffix appears only for
// non-production environments.
func (t Tenant) CacheKeyPrefix() string {
	prefix := string(t.Type)
	if t.Environment != "" && t.Environment != EnvironmentProduction {
		prefix += "-" + t.Environment
	}
	return prefix + ":" + t.ID.String()
}
