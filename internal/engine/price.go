package engine

import (
	"regexp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

const pricePatternWindow = 160

var (
	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:unit\s*price|unit\s*cost|wholesale|price|cost|each)\s*[:=]?\s*\$?\s*((?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2,4})`),
		regexp.MustCompile(`@\s*\$?\s*((?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2,4})`),
	}
	ratioTolerance = decimal.RequireFromString("0.01")
)

// PriceRules bound what counts as a plausible unit price.
type PriceRules struct {
	Min          decimal.Decimal
	Max          decimal.Decimal
	Placeholders []decimal.Decimal
}

// DefaultPriceRules accepts [0.10, 1000.00] and rejects 999.99.
func DefaultPriceRules() PriceRules {
	return PriceRules{
		Min:          decimal.RequireFromString("0.10"),
		Max:          decimal.RequireFromString("1000.00"),
		Placeholders: []decimal.Decimal{decimal.RequireFromString("999.99")},
	}
}

// Valid reports whether p is inside the range and not a placeholder.
func (r PriceRules) Valid(p decimal.Decimal) bool {
	if p.LessThan(r.Min) || p.GreaterThan(r.Max) {
		return false
	}
	for _, ph := range r.Placeholders {
		if p.Equal(ph) {
			return false
		}
	}
	return true
}

// PriceEngine resolves the unit price of a product code through ordered sub-tiers.
type PriceEngine struct {
	order []constants.SubTier
	rules PriceRules
}

// NewPriceEngine builds an engine. Empty order falls back to constants.DefaultPriceOrder.
func NewPriceEngine(order []constants.SubTier, rules PriceRules) *PriceEngine {
	if len(order) == 0 {
		order = constants.DefaultPriceOrder
	}
	return &PriceEngine{order: slices.Clone(order), rules: rules}
}

// Rules returns the validation rules in effect.
func (e *PriceEngine) Rules() PriceRules {
	return e.rules
}

// Valid applies the engine's business rules to p.
func (e *PriceEngine) Valid(p decimal.Decimal) bool {
	return e.rules.Valid(p)
}

// Resolve returns the unit price for code. A candidate that fails validation
// sends the engine to the next sub-tier instead of being returned.
func (e *PriceEngine) Resolve(text, code string) (decimal.Decimal, bool) {
	locs := codeLocations(text, code)
	if len(locs) == 0 {
		return decimal.Zero, false
	}
	for _, st := range e.order {
		p, ok := e.run(st, text, locs)
		if ok && e.rules.Valid(p) {
			return p, true
		}
	}
	return decimal.Zero, false
}

func (e *PriceEngine) run(st constants.SubTier, text string, locs [][2]int) (decimal.Decimal, bool) {
	switch st {
	case constants.SubTierTabular:
		return tabularPrice(text, locs)
	case constants.SubTierPattern, constants.SubTierContext:
		return patternPrice(text, locs)
	case constants.SubTierPage:
		return e.pagePrice(text, locs)
	default:
		return decimal.Zero, false
	}
}

func tabularPrice(text string, locs [][2]int) (decimal.Decimal, bool) {
	for _, loc := range locs {
		rest := restOfLine(text, loc[1])
		qty, _ := quantityFromColumns(rest)
		if p, ok := unitPriceFromColumns(lineAmounts(rest), qty); ok {
			return p, true
		}
	}
	return decimal.Zero, false
}

func lineAmounts(line string) []decimal.Decimal {
	var amounts []decimal.Decimal
	for _, raw := range strings.Fields(line) {
		if d, ok := ParseMoney(raw); ok {
			amounts = append(amounts, d)
		}
	}
	return amounts
}

// wholeRatio returns ext / p when it is a whole number of at least one.
func wholeRatio(ext, p decimal.Decimal) (int64, bool) {
	if !p.IsPositive() {
		return 0, false
	}
	ratio := ext.Div(p)
	whole := ratio.Round(0)
	if whole.LessThan(decimal.NewFromInt(1)) || ratio.Sub(whole).Abs().GreaterThan(ratioTolerance) {
		return 0, false
	}
	return whole.IntPart(), true
}

// unitPriceFromColumns treats the last amount as the extended price and picks
// the closest earlier amount that divides it into a whole quantity. A lone
// amount after a quantity of two or more is read as the extended price when
// it splits into whole cents.
func unitPriceFromColumns(amounts []decimal.Decimal, qty int) (decimal.Decimal, bool) {
	switch len(amounts) {
	case 0:
		return decimal.Zero, false
	case 1:
		if qty >= 2 {
			unit := amounts[0].Div(decimal.NewFromInt(int64(qty)))
			if unit.Equal(unit.Round(2)) {
				return unit.Round(2), true
			}
		}
		return amounts[0], true
	}
	ext := amounts[len(amounts)-1]
	for i := len(amounts) - 2; i >= 0; i-- {
		if _, ok := wholeRatio(ext, amounts[i]); ok {
			return amounts[i], true
		}
	}
	return amounts[len(amounts)-2], true
}

func patternPrice(text string, locs [][2]int) (decimal.Decimal, bool) {
	for _, loc := range locs {
		w := window(text, loc[1], pricePatternWindow, 2)
		for _, re := range pricePatterns {
			if m := re.FindStringSubmatch(w); m != nil {
				if d, ok := ParseMoney(m[1]); ok {
					return d, true
				}
			}
		}
	}
	return decimal.Zero, false
}

// pagePrice scans the rest of the code's page for the first valid amount.
func (e *PriceEngine) pagePrice(text string, locs [][2]int) (decimal.Decimal, bool) {
	for _, loc := range locs {
		rest := text[loc[1]:]
		if i := strings.IndexByte(rest, '\f'); i >= 0 {
			rest = rest[:i]
		}
		for _, raw := range strings.Fields(rest) {
			if d, ok := ParseMoney(raw); ok && e.rules.Valid(d) {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}
