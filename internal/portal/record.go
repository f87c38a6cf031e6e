package portal

import (
	"regexp"
	"strings"
)

// MaxPage is the largest page size the portal's search form accepts.
const MaxPage = 250

// IdentifierLength is the number of digits in a parcel id.
const IdentifierLength = 12

// Record is one harvested row keyed by column name. Values are string, int64,
// time.Time or nil (absent).
type Record map[string]any

// Identifier returns the parcel id of the record or "" when it has none.
func (r Record) Identifier() string {
	for _, key := range []string{"parcel_id", "parid"} {
		v, ok := r[key].(string)
		if ok && v != "" {
			return v
		}
	}
	return ""
}

var nonDigit = regexp.MustCompile(`[^0-9]`)

// NormalizeIdentifier strips formatting from a displayed parcel id and restores
// leading zeros lost by numeric rendering.
func NormalizeIdentifier(raw string) string {
	digits := nonDigit.ReplaceAllString(raw, "")
	if digits == "" {
		return ""
	}
	if len(digits) < IdentifierLength {
		digits = strings.Repeat("0", IdentifierLength-len(digits)) + digits
	}
	return digits
}

var identifierShape = regexp.MustCompile(`^[0-9]{12}$`)

// ValidIdentifier reports whether id is a 12 digit decimal string.
func ValidIdentifier(id string) bool {
	return identifierShape.MatchString(id)
}

// SearchResult is either a page of summary records or a single profile.
type SearchResult struct {
	// Records holds the summary rows of a list page, or the single profile
	// record when the search resolved directly to one parcel.
	Records []Record
	// TotalFound is the number of matches the portal reports, it may exceed
	// len(Records) because pages are capped.
	TotalFound int
	// Profile is non-nil when the search landed on a profile page. It is the
	// browsing context FetchDetailBundle navigates from.
	Profile *ProfileView
}

// Identifiers projects the result onto parcel ids, preserving order.
func (r SearchResult) Identifiers() []string {
	ids := make([]string, 0, len(r.Records))
	for _, rec := range r.Records {
		id := rec.Identifier()
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// ProfileView is the browsing context left behind by a search that resolved to
// a single profile. Tab navigation advances it in place, so a view must not be
// used after another search on the same session.
type ProfileView struct {
	Identifier string
	current    *page
	profile    Record
}

// DetailBundle is everything known about one parcel after visiting all tabs.
type DetailBundle struct {
	Identifier        string
	Profile           []Record
	AssessmentHistory []Record
	SalesHistory      []Record
	ResidentialCard   []Record
}
