package portal

// Mode selects which search form field is filled and which text confirms
// that the search page was reached without a consent interstitial.
type Mode struct {
	Name string
	// Param is the value of the `mode` query parameter of the search page.
	Param string
	// ValidationText is compared (alphanumerics only, case-insensitive) against td#SearchText.
	ValidationText string
	// Field is the element id of the search input.
	Field string
}

var (
	ParcelMode = Mode{
		Name:           "parcel",
		Param:          "parid",
		ValidationText: "Parcel ID",
		Field:          "inpParid",
	}
	OwnerMode = Mode{
		Name:           "owner",
		Param:          "owner",
		ValidationText: "Name",
		Field:          "inpOwner",
	}
	AdvancedMode = Mode{
		Name:           "advanced",
		Param:          "advanced",
		ValidationText: "Advanced",
		Field:          "hdCriteria",
	}
)

func (m Mode) searchPath() string {
	return "/Search/commonsearch.aspx?mode=" + m.Param
}
