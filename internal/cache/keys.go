package cache

import (
	"fmt"
	"sort"
	"strings"

	"prunsync/internal/domain"
)

// Key namespaces. External cache tooling must respect these prefixes to
// avoid cross-component collisions.
const (
	NamespaceGamedata = "GAMEDATA"
	NamespacePlanning = "PLANNING"
)

// Key builds a deterministic hierarchical cache key from a namespace
// and ordered parts.
func Key(namespace string, parts ...any) string {
	safe := make([]string, 0, len(parts)+1)
	safe = append(safe, namespace)
	for _, p := range parts {
		if p == nil {
			continue
		}
		safe = append(safe, fmt.Sprint(p))
	}
	return strings.Join(safe, ":")
}

func KeyMaterialList() string  { return Key(NamespaceGamedata, "material", "list") }
func KeyBuildingList() string  { return Key(NamespaceGamedata, "building", "list") }
func KeyRecipeList() string    { return Key(NamespaceGamedata, "recipe", "list") }
func KeyExchangeList() string  { return Key(NamespaceGamedata, "exchange", "list") }
func KeyPlanetList() string    { return Key(NamespaceGamedata, "planet", "list") }
func KeyAnalyticsList() string { return Key(NamespaceGamedata, "exchange", "analytics") }

func KeyPlanet(naturalID string) string {
	return Key(NamespaceGamedata, "planet", naturalID)
}

func KeyPlanetInfrastructure(naturalID string) string {
	return Key(NamespaceGamedata, "planet", "popr", naturalID)
}

func KeyPlayerStorage(userID string) string {
	return Key(NamespaceGamedata, "storage", userID)
}

func KeyPrices(ticker, exchangeCode string) string {
	if exchangeCode == "" {
		return Key(NamespaceGamedata, "exchange", "cxpc", ticker)
	}
	return Key(NamespaceGamedata, "exchange", "cxpc", ticker, exchangeCode)
}

// KeyPlanetSearch derives a canonical key from a search request:
// list values are sorted, tri-state and boolean fields map to fixed
// tokens, and fields appear in a fixed order. Two semantically equal
// requests always collide to the same key.
func KeyPlanetSearch(f domain.PlanetSearch) string {
	parts := []any{
		"search",
		sortedList(f.Materials),
		sortedList(f.COGCPrograms),
		boolToken(f.MustBeFertile),
		triToken(f.LocalMarket),
		triToken(f.ChamberOfCommerce),
		triToken(f.Warehouse),
		triToken(f.AdministrationCenter),
		triToken(f.Shipyard),
		boolToken(f.Rocky),
		boolToken(f.Gaseous),
		boolToken(f.LowGravity),
		boolToken(f.HighGravity),
		boolToken(f.LowPressure),
		boolToken(f.HighPressure),
		boolToken(f.LowTemperature),
		boolToken(f.HighTemperature),
	}
	return Key(NamespaceGamedata, append([]any{"planet"}, parts...)...)
}

func sortedList(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func boolToken(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func triToken(v *bool) string {
	if v == nil {
		return "ANY"
	}
	return boolToken(*v)
}
