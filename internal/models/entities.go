package models

import "strings"

// Entity types the application registers with the engine. The log and
// projection are generic; only the edit surface enforces this set.
const (
	EntitySpools         = "spools"
	EntityProducts       = "products"
	EntityProductionRuns = "production_runs"
	EntityOrders         = "orders"
)

var entityAliases = map[string]string{
	"spool":           EntitySpools,
	"spools":          EntitySpools,
	"product":         EntityProducts,
	"products":        EntityProducts,
	"run":             EntityProductionRuns,
	"runs":            EntityProductionRuns,
	"production_run":  EntityProductionRuns,
	"production_runs": EntityProductionRuns,
	"order":           EntityOrders,
	"orders":          EntityOrders,
}

// NormalizeEntityType maps user input (singular forms, shorthand) to the
// canonical entity type. Returns "" for unknown input.
func NormalizeEntityType(s string) string {
	return entityAliases[strings.ToLower(strings.TrimSpace(s))]
}

// ValidEntityType reports whether t is a canonical entity type.
func ValidEntityType(t string) bool {
	switch t {
	case EntitySpools, EntityProducts, EntityProductionRuns, EntityOrders:
		return true
	}
	return false
}

// EntityTypeNames lists the canonical entity types for help text.
func EntityTypeNames() []string {
	return []string{EntitySpools, EntityProducts, EntityProductionRuns, EntityOrders}
}
