package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// DateLayout is the output format of every normalized date.
const DateLayout = "01/02/2006"

var (
	reSerial = regexp.MustCompile(`^\d{1,5}(?:\.\d+)?$`)

	dateLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"2006/01/02",
		"20060102",
		"1/2/2006",
		"1-2-2006",
		"1.2.2006",
		"1/2/06",
		"1-2-06",
		"Jan 2, 2006",
		"January 2, 2006",
		"Jan 2 2006",
		"January 2 2006",
		"2 Jan 2006",
		"2 January 2006",
		"02-Jan-2006",
		"02-Jan-06",
	}
)

// minSerial and maxSerial bound spreadsheet serials to 1950..2099.
const (
	minSerial = 18264
	maxSerial = 73050
)

// NormalizeDate converts a date value to MM/DD/YYYY. Spreadsheet serials
// (days since 1899-12-30) are accepted as integers or numeric strings. The
// second result is false when the value was not recognized; the input is
// then returned trimmed.
func NormalizeDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", true
	}
	if reSerial.MatchString(s) {
		if t, ok := serialDate(s); ok {
			return t.Format(DateLayout), true
		}
		return s, false
	}
	cand := titleMonth(strings.Join(strings.Fields(s), " "))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cand); err == nil {
			return t.Format(DateLayout), true
		}
	}
	return s, false
}

func serialDate(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < minSerial || f > maxSerial {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// titleMonth rewrites "JAN" or "jan" as "Jan" so month-name layouts match.
func titleMonth(s string) string {
	b := []byte(strings.ToLower(s))
	upper := true
	for i, c := range b {
		isLetter := c >= 'a' && c <= 'z'
		if isLetter && upper {
			b[i] = c - ('a' - 'A')
		}
		upper = !isLetter
	}
	return string(b)
}
