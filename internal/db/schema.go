package db

import (
	_ "embed"
	"strings"
)

//go:embed schema.sql
var Schema string

// statements splits Schema into single statements, the libsql http driver
// executes one statement per call.
func statements() []string {
	var out []string
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// Table names one of the harvested tables.
type Table string

const (
	Properties          Table = "properties"
	AssessmentHistories Table = "assessment_histories"
	SalesHistories      Table = "sales_histories"
	ResidentialCards    Table = "residential_cards"
)

var Tables = []Table{Properties, AssessmentHistories, SalesHistories, ResidentialCards}

// ParseTable accepts a table name or one of its aliases.
func ParseTable(name string) (Table, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "properties", "property", "parcel", "parcels", "profile":
		return Properties, true
	case "assessment_histories", "assessment_history", "assessments", "assessment":
		return AssessmentHistories, true
	case "sales_histories", "sales_history", "sales":
		return SalesHistories, true
	case "residential_cards", "residential_card", "residential", "residentials":
		return ResidentialCards, true
	}
	return "", false
}

type tableInfo struct {
	key     []string
	columns map[string]bool
	// pending selects parcel ids after a cursor, ordered, with a limit.
	pending string
}

func columnSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

var tableInfos = map[Table]tableInfo{
	Properties: {
		key: []string{"parcel_id"},
		columns: columnSet(
			"parcel_id", "alt_id", "owner_name", "owner_name2", "address",
			"sold_date", "sold_amount", "land_use_code", "land_use_description",
			"lot_number", "lot_size", "front_feet", "municipality",
			"school_district", "utilities", "mailing_address", "mailing_care_of",
			"mailing_address2", "mailing_address3", "appraised_value",
			"assessed_value", "restrict_code", "county_tax", "municipality_tax",
			"school_district_tax", "estimated_taxes", "tax_lien", "tax_stamps",
			"deed_book_and_page", "grantor", "grantee", "date_sale_recorded",
		),
		pending: `select parcel_id from properties
where land_use_code = 0 and parcel_id > ?
order by parcel_id limit ?`,
	},
	AssessmentHistories: {
		key: []string{"parcel_id", "lineno"},
		columns: columnSet(
			"parcel_id", "lineno", "appraised_value", "assessed_value",
			"restrict_code", "effective_date", "reason", "notice_date",
		),
		pending: `select p.parcel_id from properties p
left join assessment_histories h on h.parcel_id = p.parcel_id
where h.parcel_id is null and p.parcel_id > ?
order by p.parcel_id limit ?`,
	},
	SalesHistories: {
		key: []string{"parcel_id", "lineno"},
		columns: columnSet(
			"parcel_id", "lineno", "sale_date", "sale_price", "tax_stamps",
			"deed_book_and_page", "grantor", "grantee", "date_recorded",
		),
		pending: `select distinct parcel_id from sales_histories
where (sale_date is null or date_recorded is null) and parcel_id > ?
order by parcel_id limit ?`,
	},
	ResidentialCards: {
		key: []string{"parcel_id", "lineno"},
		columns: columnSet(
			"parcel_id", "lineno", "land_use_code", "building_style",
			"number_of_living_units", "year_built", "year_remodeled",
			"exterior_wall_material", "number_of_stories", "sq_ft_of_living_area",
			"total_rooms", "total_bedrooms", "total_baths", "total_half_baths",
			"basement", "finished_basement_living_area", "rec_room_area",
			"unfinished_area", "wood_burning_fireplace", "pre_fab_fireplace",
			"heating", "system", "fuel_type", "condo_level",
			"condo_townhouse_type", "attached_garage_area",
			"basement_garage_number_of_cars",
		),
		pending: `select p.parcel_id from properties p
left join residential_cards h on h.parcel_id = p.parcel_id
where h.parcel_id is null and p.parcel_id > ?
order by p.parcel_id limit ?`,
	},
}

// renames maps column names derived from list page headers onto the
// columns the profile page fills.
var renames = map[string]string{
	"parid":            "parcel_id",
	"sales_date":       "sold_date",
	"sales_amount":     "sold_amount",
	"luc":              "land_use_code",
	"property_address": "address",
	"altid":            "alt_id",
}

func canonicalColumn(name string) string {
	renamed, ok := renames[name]
	if ok {
		return renamed
	}
	return name
}
