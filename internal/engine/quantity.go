package engine

import (
	"regexp"
	"slices"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

const (
	patternWindow     = 120
	contextLookBehind = 200
	contextLookAhead  = 400
)

var (
	qtyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:qty|quantity)\s*[:#=]?\s*(\d{1,5})\b`),
		regexp.MustCompile(`(?i)\b(\d{1,5})\s*(?:x|@)\s*\$?\d`),
		regexp.MustCompile(`(?i)\b(\d{1,5})\s*(?:each|ea|units?|pcs?|pieces?|cs|cases?|bx|box(?:es)?|pk|packs?|dz|dozen|pr|pairs?|ctn|cartons?)\b`),
	}
	reQtyKeyword = regexp.MustCompile(`(?i)\b(ordered|order qty|shipped|ship qty|qty|quantity|units)\b\s*[:=#]?\s*(\d{1,5})\b`)
	reQtyUnits   = regexp.MustCompile(`(?i)\b(\d{1,5})\s+units\b`)
)

// QuantityEngine resolves the quantity of a product code through ordered sub-tiers.
type QuantityEngine struct {
	order        []constants.SubTier
	placeholders []int
}

// NewQuantityEngine builds an engine. Empty order falls back to
// constants.DefaultQuantityOrder; unknown sub-tier names are ignored.
func NewQuantityEngine(order []constants.SubTier, placeholders []int) *QuantityEngine {
	if len(order) == 0 {
		order = constants.DefaultQuantityOrder
	}
	return &QuantityEngine{
		order:        slices.Clone(order),
		placeholders: slices.Clone(placeholders),
	}
}

// Order returns the sub-tier order in effect.
func (e *QuantityEngine) Order() []constants.SubTier {
	return slices.Clone(e.order)
}

// IsPlaceholder reports whether q is a known degenerate value.
func (e *QuantityEngine) IsPlaceholder(q int) bool {
	return slices.Contains(e.placeholders, q)
}

// Resolve returns the quantity for code, or false when no sub-tier finds one.
// A placeholder result is held back while later sub-tiers run and is returned
// only if none of them produces another value.
func (e *QuantityEngine) Resolve(text, code string) (int, bool) {
	locs := codeLocations(text, code)
	if len(locs) == 0 {
		return 0, false
	}
	held, holding := 0, false
	for _, st := range e.order {
		q, ok := e.run(st, text, locs)
		if !ok {
			continue
		}
		if e.IsPlaceholder(q) {
			if !holding {
				held, holding = q, true
			}
			continue
		}
		if holding && q != held {
			if implied, ok := impliedQuantity(text, locs); ok && implied == held {
				return held, true
			}
		}
		return q, true
	}
	return held, holding
}

// impliedQuantity reads extended / unit from the money columns on the code's
// line, when the two divide into a whole number.
func impliedQuantity(text string, locs [][2]int) (int, bool) {
	for _, loc := range locs {
		amounts := lineAmounts(restOfLine(text, loc[1]))
		if len(amounts) < 2 {
			continue
		}
		ext := amounts[len(amounts)-1]
		for i := len(amounts) - 2; i >= 0; i-- {
			if n, ok := wholeRatio(ext, amounts[i]); ok {
				return int(n), true
			}
		}
	}
	return 0, false
}

func (e *QuantityEngine) run(st constants.SubTier, text string, locs [][2]int) (int, bool) {
	switch st {
	case constants.SubTierTabular:
		return tabularQuantity(text, locs)
	case constants.SubTierPattern:
		return patternQuantity(text, locs)
	case constants.SubTierContext:
		return contextQuantity(text, locs)
	default:
		return 0, false
	}
}

func tabularQuantity(text string, locs [][2]int) (int, bool) {
	for _, loc := range locs {
		if q, ok := quantityFromColumns(restOfLine(text, loc[1])); ok {
			return q, true
		}
	}
	return 0, false
}

// quantityFromColumns reads the last contiguous run of small integers before
// the first money column. Unit words and short noise tokens do not break a run;
// anything else (words, UPCs, ellipses) does.
func quantityFromColumns(rest string) (int, bool) {
	var run, last []int
	sawMoney := false
	for _, raw := range strings.Fields(rest) {
		tok := trimToken(raw)
		if tok == "" {
			continue
		}
		if _, ok := ParseMoney(tok); ok {
			sawMoney = true
			break
		}
		if n, ok := parseQtyToken(tok); ok {
			run = append(run, n)
			continue
		}
		if transparent(tok) {
			continue
		}
		if len(run) > 0 {
			last = run
		}
		run = nil
	}
	if len(run) > 0 {
		last = run
	}
	if len(last) == 0 || (!sawMoney && len(last) < 2) {
		return 0, false
	}
	return readColumns(last).quantity(), true
}

// columns is the assumed layout: ordered, allocated, shipped, backordered.
type columns struct {
	ordered     int
	allocated   int
	shipped     int
	backordered int
}

func readColumns(nums []int) columns {
	if len(nums) > 4 {
		nums = nums[len(nums)-4:]
	}
	switch len(nums) {
	case 4:
		return columns{ordered: nums[0], allocated: nums[1], shipped: nums[2], backordered: nums[3]}
	case 3:
		return columns{ordered: nums[0], shipped: nums[1], backordered: nums[2]}
	case 2:
		return columns{ordered: nums[0] + nums[1], shipped: nums[0], backordered: nums[1]}
	default:
		return columns{ordered: nums[0], shipped: nums[0]}
	}
}

// quantity applies the business rule: shipped when non-zero, else ordered
// when the line is backordered, else zero.
func (c columns) quantity() int {
	if c.shipped > 0 {
		return c.shipped
	}
	if c.backordered > 0 {
		if c.ordered > 0 {
			return c.ordered
		}
		return c.backordered
	}
	return 0
}

func patternQuantity(text string, locs [][2]int) (int, bool) {
	for _, loc := range locs {
		w := window(text, loc[1], patternWindow, 2)
		for _, re := range qtyPatterns {
			for _, m := range re.FindAllStringSubmatchIndex(w, -1) {
				if preceded(w, m[2]) || followsInteger(w, m[2]) {
					continue
				}
				if n, ok := parseQtyToken(w[m[2]:m[3]]); ok {
					return n, true
				}
			}
		}
	}
	return 0, false
}

// followsInteger reports whether the token before idx is a bare integer, in
// which case the match is a later column of a quantity run.
func followsInteger(w string, idx int) bool {
	before := strings.Fields(w[:idx])
	if len(before) == 0 {
		return false
	}
	_, ok := parseQtyToken(trimToken(before[len(before)-1]))
	return ok
}

func contextQuantity(text string, locs [][2]int) (int, bool) {
	for _, loc := range locs {
		from := loc[0] - contextLookBehind
		if from < 0 {
			from = 0
		}
		to := loc[1] + contextLookAhead
		if to > len(text) {
			to = len(text)
		}
		if q, ok := quantityFromKeywords(text[from:to]); ok {
			return q, true
		}
	}
	return 0, false
}

func quantityFromKeywords(w string) (int, bool) {
	found := map[string]int{}
	for _, m := range reQtyKeyword.FindAllStringSubmatch(w, -1) {
		key := strings.ToLower(m[1])
		switch key {
		case "order qty":
			key = "ordered"
		case "ship qty":
			key = "shipped"
		case "quantity":
			key = "qty"
		}
		if _, seen := found[key]; seen {
			continue
		}
		if n, ok := parseQtyToken(m[2]); ok {
			found[key] = n
		}
	}
	if m := reQtyUnits.FindStringSubmatch(w); m != nil {
		if _, seen := found["units"]; !seen {
			if n, ok := parseQtyToken(m[1]); ok {
				found["units"] = n
			}
		}
	}
	if s, ok := found["shipped"]; ok && s > 0 {
		return s, true
	}
	for _, key := range []string{"ordered", "qty", "units", "shipped"} {
		if n, ok := found[key]; ok {
			return n, true
		}
	}
	return 0, false
}
