// Package models holds the GORM table mappings for flow persistence. Domain
// types in internal/domain stay free of ORM tags; repositories convert
// between the two through the mapper functions next to each model.
package models
