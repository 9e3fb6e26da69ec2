// Package engine resolves quantities and unit prices for a product code from
// invoice transcript text. All functions are pure: identical input gives
// identical output.
package engine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

var (
	reMoney      = regexp.MustCompile(`^\$?(?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2,4}$|^\$\d+$`)
	reQtyInt     = regexp.MustCompile(`^\d{1,5}$`)
	reUPC        = regexp.MustCompile(`^\d{12,13}$`)
	reShortAlpha = regexp.MustCompile(`^[A-Za-z]{1,2}$`)
)

const tokenCutset = ",;:|()[]{}\"'"

func trimToken(tok string) string {
	return strings.Trim(tok, tokenCutset)
}

// ParseMoney parses a money token such as "$1,204.50" or "1.6000".
func ParseMoney(tok string) (decimal.Decimal, bool) {
	t := trimToken(strings.TrimSpace(tok))
	if !reMoney.MatchString(t) {
		return decimal.Zero, false
	}
	t = strings.ReplaceAll(strings.TrimPrefix(t, "$"), ",", "")
	d, err := decimal.NewFromString(t)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseAmount is the lenient variant used for values that are known to be
// money (structured service fields, LLM output): bare integers are accepted.
func ParseAmount(s string) (decimal.Decimal, bool) {
	t := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "USD"))
	t = strings.ReplaceAll(strings.TrimPrefix(t, "$"), ",", "")
	if t == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(t)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseQuantity accepts "24", "24.0" or "24 EA".
func ParseQuantity(s string) (int, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	t := strings.ReplaceAll(trimToken(fields[0]), ",", "")
	if n, err := strconv.Atoi(t); err == nil && n >= 0 {
		return n, true
	}
	if d, err := decimal.NewFromString(t); err == nil && d.IsInteger() && !d.IsNegative() {
		return int(d.IntPart()), true
	}
	return 0, false
}

func parseQtyToken(tok string) (int, bool) {
	if !reQtyInt.MatchString(tok) {
		return 0, false
	}
	n, err := strconv.Atoi(tok)
	return n, err == nil
}

// transparent tokens may sit inside a quantity run without breaking it:
// unit words and short OCR noise such as "lo".
func transparent(tok string) bool {
	if _, ok := constants.CanonicalizeUnit(tok); ok {
		return true
	}
	return reShortAlpha.MatchString(tok)
}

// IsUPC reports whether tok looks like a 12 or 13 digit UPC/EAN.
func IsUPC(tok string) bool {
	return reUPC.MatchString(trimToken(tok))
}

func codeRegexp(code string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9])(` + regexp.QuoteMeta(code) + `)(?:[^A-Za-z0-9]|$)`)
}

// codeLocations returns [start, end) offsets of every standalone occurrence of code.
func codeLocations(text, code string) [][2]int {
	code = strings.TrimSpace(code)
	if code == "" || text == "" {
		return nil
	}
	var out [][2]int
	for _, m := range codeRegexp(code).FindAllStringSubmatchIndex(text, -1) {
		out = append(out, [2]int{m[2], m[3]})
	}
	return out
}

// ContainsCode reports whether code occurs in text as a standalone token.
func ContainsCode(text, code string) bool {
	return len(codeLocations(text, code)) > 0
}

// restOfLine returns the text following end up to the next line break.
func restOfLine(text string, end int) string {
	rest := text[end:]
	if i := strings.IndexAny(rest, "\n\f"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func lineStart(text string, start int) int {
	return strings.LastIndexAny(text[:start], "\n\f") + 1
}

// CodeLine returns the full line holding the first occurrence of code and the
// part of it after the code.
func CodeLine(text, code string) (line, rest string, ok bool) {
	locs := codeLocations(text, code)
	if len(locs) == 0 {
		return "", "", false
	}
	loc := locs[0]
	rest = restOfLine(text, loc[1])
	line = text[lineStart(text, loc[0]):loc[1]] + rest
	return line, rest, true
}

// UPCAfterCode returns the first UPC-like token following code on its line.
func UPCAfterCode(text, code string) string {
	_, rest, ok := CodeLine(text, code)
	if !ok {
		return ""
	}
	for _, raw := range strings.Fields(rest) {
		if tok := trimToken(raw); IsUPC(tok) {
			return tok
		}
	}
	return ""
}

// DescriptionAfterCode collects the words after code on its line up to the
// first numeric column.
func DescriptionAfterCode(text, code string) string {
	_, rest, ok := CodeLine(text, code)
	if !ok {
		return ""
	}
	var words []string
	for _, raw := range strings.Fields(rest) {
		tok := trimToken(raw)
		if tok == "" || tok == "..." || IsUPC(tok) {
			continue
		}
		if _, isQty := parseQtyToken(tok); isQty {
			break
		}
		if _, isMoney := ParseMoney(tok); isMoney {
			break
		}
		words = append(words, tok)
	}
	return strings.Join(words, " ")
}

// window returns text[end:end+size], cut after maxLines line breaks.
func window(text string, end, size, maxLines int) string {
	stop := end + size
	if stop > len(text) {
		stop = len(text)
	}
	w := text[end:stop]
	breaks := 0
	for i := 0; i < len(w); i++ {
		if w[i] == '\n' || w[i] == '\f' {
			breaks++
			if breaks >= maxLines {
				return w[:i]
			}
		}
	}
	return w
}

// preceded reports whether the match at idx directly follows a digit
// separator, which means it is the tail of a larger number.
func preceded(s string, idx int) bool {
	if idx == 0 {
		return false
	}
	switch s[idx-1] {
	case '.', ',', '$', '-', '/':
		return true
	}
	return false
}
