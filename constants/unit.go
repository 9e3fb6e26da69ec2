package constants

import (
	"strings"
)

type Unit string

const (
	UnitEach   Unit = "EA"
	UnitCase   Unit = "CS"
	UnitBox    Unit = "BX"
	UnitPack   Unit = "PK"
	UnitDozen  Unit = "DZ"
	UnitPair   Unit = "PR"
	UnitSet    Unit = "ST"
	UnitPiece  Unit = "PC"
	UnitCarton Unit = "CT"
)

var allUnits = []Unit{
	UnitEach,
	UnitCase,
	UnitBox,
	UnitPack,
	UnitDozen,
	UnitPair,
	UnitSet,
	UnitPiece,
	UnitCarton,
}

// CanonicalizeUnit maps a unit-of-measure token found on an invoice line to its Unit.
func CanonicalizeUnit(input string) (Unit, bool) {
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(input), ".,:;"))
	if normalized == "" {
		return "", false
	}

	// synonyms map
	synonyms := map[string]Unit{
		"each":    UnitEach,
		"ea":      UnitEach,
		"unit":    UnitEach,
		"units":   UnitEach,
		"case":    UnitCase,
		"cases":   UnitCase,
		"box":     UnitBox,
		"boxes":   UnitBox,
		"pack":    UnitPack,
		"packs":   UnitPack,
		"pkg":     UnitPack,
		"dozen":   UnitDozen,
		"doz":     UnitDozen,
		"pair":    UnitPair,
		"pairs":   UnitPair,
		"set":     UnitSet,
		"sets":    UnitSet,
		"pcs":     UnitPiece,
		"piece":   UnitPiece,
		"pieces":  UnitPiece,
		"ctn":     UnitCarton,
		"carton":  UnitCarton,
		"cartons": UnitCarton,
	}

	if u, ok := synonyms[normalized]; ok {
		return u, true
	}

	for _, u := range allUnits {
		if normalized == strings.ToLower(string(u)) {
			return u, true
		}
	}

	return "", false
}
