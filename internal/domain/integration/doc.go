// Package integration contains the Integration bounded context.
// This context manages the connection between conversational flows and the
// scheduling systems of each tenant clinic or hospital.
//
// Key concepts:
//   - Tenant: a clinic or hospital identified by type, environment and UUID
//   - RulesHandler: port resolving the effective policy fragments for a tenant
//   - RulesHandlerRegistry: per-tenant-type dispatch with a shared fallback
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure and application layers
package integration
