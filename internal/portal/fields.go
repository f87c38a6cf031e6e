package portal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	currencyPunctuation = regexp.MustCompile(`[$,\s]`)
	leadingInteger      = regexp.MustCompile(`^-?[0-9]+`)
)

// ParseAmount reads a money or count field such as "$1,250,000.00".
// Anything that does not start with digits after removing currency
// punctuation is 0.
func ParseAmount(text string) int64 {
	cleaned := currencyPunctuation.ReplaceAllString(text, "")
	match := leadingInteger.FindString(cleaned)
	if match == "" {
		return 0
	}
	n, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseDigits keeps only the digits of a field, used for codes and areas
// rendered with units ("1,200 SqFt", "1101 - R-SINGLE FAMILY").
func ParseDigits(text string) int64 {
	digits := nonDigit.ReplaceAllString(text, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

type datePattern struct {
	shape  *regexp.Regexp
	layout string
}

// checked in order, the first matching shape decides the layout.
var datePatterns = []datePattern{
	{regexp.MustCompile(`(?i)^[0-3][0-9]-[a-z]{3}-[0-9]{2}$`), "02-Jan-06"},
	{regexp.MustCompile(`^[0-1][0-9]/[0-3][0-9]/[1-2][0-9]{3}$`), "01/02/2006"},
	{regexp.MustCompile(`^[0-1][0-9]-[0-3][0-9]-[1-2][0-9]{3}$`), "01-02-2006"},
	// a leading field of 20-39 cannot be a month
	{regexp.MustCompile(`^[2-3][0-9]/[0-3][0-9]/[1-2][0-9]{3}$`), "02/01/2006"},
}

var fallbackDateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"1-2-2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2-Jan-2006",
	"02-Jan-2006",
	"Mon, 2 Jan 2006",
	"1/2/06",
}

// ParseDate interprets the date formats the portal renders. A date that lands
// after `now` is assumed to be a two digit year in the wrong century and is
// moved back 100 years. ok is false for empty or unparseable text.
func ParseDate(text string, now time.Time) (date time.Time, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	loc := now.Location()

	parsed := false
	for _, p := range datePatterns {
		if !p.shape.MatchString(text) {
			continue
		}
		d, err := time.ParseInLocation(p.layout, text, loc)
		if err != nil {
			return time.Time{}, false
		}
		date = d
		parsed = true
		break
	}
	if !parsed {
		for _, layout := range fallbackDateLayouts {
			d, err := time.ParseInLocation(layout, text, loc)
			if err != nil {
				continue
			}
			date = d
			parsed = true
			break
		}
	}
	if !parsed {
		return time.Time{}, false
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if date.After(today) {
		date = date.AddDate(-100, 0, 0)
	}
	return date, true
}

var nonColumnChars = regexp.MustCompile(`[^a-z0-9 ]`)

// ColumnName turns a table header into a column name: "Sale Amount ($)" -> "sale_amount".
func ColumnName(header string) string {
	name := strings.ToLower(strings.TrimSpace(header))
	name = nonColumnChars.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(name), "_")
}
