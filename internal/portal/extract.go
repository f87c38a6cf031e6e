package portal

import (
	"fmt"
	"parcelharvest/pkg/htmlutil"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// extractor turns portal pages into records. Missing or empty fields become
// nil (text, dates) or 0 (numbers), the portal routinely omits rows.
type extractor struct {
	now time.Time
}

func (e extractor) text(sel *goquery.Selection) any {
	text, ok := htmlutil.SelectionText(sel)
	if !ok || text == "" {
		return nil
	}
	return text
}

func (e extractor) str(sel *goquery.Selection) string {
	text, _ := htmlutil.SelectionText(sel)
	return text
}

func (e extractor) amount(sel *goquery.Selection) int64 {
	return ParseAmount(e.str(sel))
}

func (e extractor) digits(sel *goquery.Selection) int64 {
	return ParseDigits(e.str(sel))
}

func (e extractor) date(sel *goquery.Selection) any {
	d, ok := ParseDate(e.str(sel), e.now)
	if !ok {
		return nil
	}
	return d
}

// cell selects the value cell of a label/value table by 1-based row and column.
func cell(scope *goquery.Selection, tableId string, row, col int) *goquery.Selection {
	return scope.Find(fmt.Sprintf(`table[id="%s"] tr`, tableId)).
		Eq(row - 1).
		ChildrenFiltered("td").
		Eq(col - 1)
}

var totalFoundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)total found:\s*([0-9,]+)\s*record`),
	regexp.MustCompile(`(?i)displaying\s+[0-9,]+\s*-\s*[0-9,]+\s+of\s+([0-9,]+)`),
}

// totalFound reads the match count printed above the result table.
func (e extractor) totalFound(doc *goquery.Document) (int, bool) {
	text := htmlutil.CleanText(doc.Text())
	for _, pattern := range totalFoundPatterns {
		groups := pattern.FindStringSubmatch(text)
		if len(groups) < 2 {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(groups[1], ",", ""))
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

// list extracts the summary rows of a search result page. The first row holds
// the column headers, the second row is a blank spacer. Without a printed
// count a partial page is taken as complete, a full page fails since more
// matches may follow it.
func (e extractor) list(doc *goquery.Document, pageSize int) (SearchResult, error) {
	rows := doc.Find(`table[id="searchResults"] tr`)

	var columns []string
	var records []Record
	rows.Each(func(i int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("td, th")
		if i == 0 {
			cells.Each(func(_ int, td *goquery.Selection) {
				columns = append(columns, ColumnName(e.str(td)))
			})
			return
		}
		if i == 1 {
			return
		}

		record := Record{}
		cells.Each(func(j int, td *goquery.Selection) {
			if j >= len(columns) || columns[j] == "" {
				return
			}
			column := columns[j]
			switch {
			case strings.Contains(column, "date"):
				record[column] = e.date(td)
			case strings.Contains(column, "amount"):
				record[column] = e.amount(td)
			default:
				record[column] = e.str(td)
			}
		})
		for _, key := range []string{"parcel_id", "parid"} {
			if raw, ok := record[key].(string); ok {
				record[key] = NormalizeIdentifier(raw)
			}
		}
		records = append(records, record)
	})

	total, ok := e.totalFound(doc)
	if !ok {
		if len(records) > 0 && len(records) >= pageSize {
			return SearchResult{}, errTotalMissing
		}
		total = len(records)
	}
	return SearchResult{Records: records, TotalFound: total}, nil
}

// profile extracts the parcel profile page.
func (e extractor) profile(doc *goquery.Document) Record {
	d := doc.Selection
	header := doc.Find(`tr.DataletHeaderTop td.DataletHeaderTop`).First()
	bottom := doc.Find(`tr.DataletHeaderBottom`).First()

	record := Record{}
	record["parcel_id"] = NormalizeIdentifier(strings.TrimPrefix(e.str(header), "PARID:"))
	record["owner_name"] = e.text(bottom.ChildrenFiltered("td").Eq(0))
	record["address"] = e.text(bottom.ChildrenFiltered("td").Eq(1))

	record["alt_id"] = e.text(cell(d, "Parcel", 1, 2))
	record["land_use_code"] = e.digits(cell(d, "Parcel", 3, 2))
	record["land_use_description"] = e.text(cell(d, "Parcel", 4, 2))
	record["lot_number"] = e.text(cell(d, "Parcel", 6, 2))
	record["lot_size"] = e.digits(cell(d, "Parcel", 7, 2))
	record["front_feet"] = e.digits(cell(d, "Parcel", 8, 2))
	record["municipality"] = e.text(cell(d, "Parcel", 9, 2))
	record["school_district"] = e.text(cell(d, "Parcel", 10, 2))
	record["utilities"] = e.text(cell(d, "Parcel", 11, 2))

	record["owner_name2"] = e.text(cell(d, "Owner", 2, 2))
	record["mailing_address"] = e.text(cell(d, "Owner", 3, 2))
	record["mailing_care_of"] = e.text(cell(d, "Owner", 4, 2))
	record["mailing_address2"] = e.text(cell(d, "Owner", 5, 2))
	record["mailing_address3"] = e.text(cell(d, "Owner", 6, 2))

	record["appraised_value"] = e.amount(cell(d, "Current Assessment", 2, 1))
	record["assessed_value"] = e.amount(cell(d, "Current Assessment", 2, 2))
	record["restrict_code"] = e.digits(cell(d, "Current Assessment", 2, 3))

	record["county_tax"] = e.amount(cell(d, "Estimated Taxes", 1, 2))
	record["municipality_tax"] = e.amount(cell(d, "Estimated Taxes", 2, 2))
	record["school_district_tax"] = e.amount(cell(d, "Estimated Taxes", 3, 2))
	record["estimated_taxes"] = e.amount(cell(d, "Estimated Taxes", 4, 2))
	lien := e.str(cell(d, "Estimated Taxes", 5, 2))
	if strings.EqualFold(lien, "no") {
		record["tax_lien"] = int64(0)
	} else {
		record["tax_lien"] = ParseAmount(lien)
	}

	record["sold_date"] = e.date(cell(d, "Last Sale", 1, 2))
	record["sold_amount"] = e.amount(cell(d, "Last Sale", 2, 2))
	record["tax_stamps"] = e.amount(cell(d, "Last Sale", 3, 2))
	record["deed_book_and_page"] = e.text(cell(d, "Last Sale", 4, 2))
	record["grantor"] = e.text(cell(d, "Last Sale", 5, 2))
	record["grantee"] = e.text(cell(d, "Last Sale", 6, 2))
	record["date_sale_recorded"] = e.date(cell(d, "Last Sale", 7, 2))

	return record
}

func rowIsBlank(e extractor, tr *goquery.Selection) bool {
	blank := true
	tr.ChildrenFiltered("td").Each(func(_ int, td *goquery.Selection) {
		if e.str(td) != "" {
			blank = false
		}
	})
	return blank
}

// dataRows returns the rows of a history table without the header row and
// without trailing blank rows.
func (e extractor) dataRows(doc *goquery.Document, tableId string) []*goquery.Selection {
	var rows []*goquery.Selection
	doc.Find(fmt.Sprintf(`table[id="%s"] tr`, tableId)).Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		rows = append(rows, tr)
	})
	for len(rows) > 0 && rowIsBlank(e, rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows
}

func (e extractor) assessmentHistory(doc *goquery.Document, id string) []Record {
	var records []Record
	for i, tr := range e.dataRows(doc, "Assessment History") {
		td := tr.ChildrenFiltered("td")
		records = append(records, Record{
			"parcel_id":       id,
			"lineno":          int64(i + 1),
			"appraised_value": e.amount(td.Eq(0)),
			"assessed_value":  e.amount(td.Eq(1)),
			"restrict_code":   e.text(td.Eq(2)),
			"effective_date":  e.date(td.Eq(3)),
			"reason":          e.text(td.Eq(4)),
			"notice_date":     e.date(td.Eq(5)),
		})
	}
	return records
}

func (e extractor) salesHistory(doc *goquery.Document, id string) []Record {
	var records []Record
	for i, tr := range e.dataRows(doc, "Sales History") {
		td := tr.ChildrenFiltered("td")
		records = append(records, Record{
			"parcel_id":          id,
			"lineno":             int64(i + 1),
			"sale_date":          e.date(td.Eq(0)),
			"sale_price":         e.amount(td.Eq(1)),
			"tax_stamps":         e.amount(td.Eq(2)),
			"deed_book_and_page": e.text(td.Eq(3)),
			"grantor":            e.text(td.Eq(4)),
			"grantee":            e.text(td.Eq(5)),
			"date_recorded":      e.date(td.Eq(6)),
		})
	}
	return records
}

// residentialCard extracts the card summary, parcels without a dwelling have no
// summary table and yield no record.
func (e extractor) residentialCard(doc *goquery.Document, id string) []Record {
	const table = "Residential Card Summary"
	d := doc.Selection
	if d.Find(fmt.Sprintf(`table[id="%s"]`, table)).Length() == 0 {
		return nil
	}
	row := func(n int) *goquery.Selection {
		return cell(d, table, n, 2)
	}

	// rendered as "total/bedrooms/full baths/half baths"
	rooms := strings.Split(e.str(row(10)), "/")
	roomCount := func(i int) int64 {
		if i >= len(rooms) {
			return 0
		}
		return ParseAmount(rooms[i])
	}

	return []Record{{
		"parcel_id":                      id,
		"lineno":                         int64(1),
		"land_use_code":                  e.text(row(2)),
		"building_style":                 e.text(row(3)),
		"number_of_living_units":         e.amount(row(4)),
		"year_built":                     e.amount(row(5)),
		"year_remodeled":                 e.amount(row(6)),
		"exterior_wall_material":         e.text(row(7)),
		"number_of_stories":              e.amount(row(8)),
		"sq_ft_of_living_area":           e.amount(row(9)),
		"total_rooms":                    roomCount(0),
		"total_bedrooms":                 roomCount(1),
		"total_baths":                    roomCount(2),
		"total_half_baths":               roomCount(3),
		"basement":                       e.text(row(11)),
		"finished_basement_living_area":  e.amount(row(12)),
		"rec_room_area":                  e.amount(row(13)),
		"unfinished_area":                e.amount(row(14)),
		"wood_burning_fireplace":         e.amount(row(15)),
		"pre_fab_fireplace":              e.amount(row(16)),
		"heating":                        e.text(row(17)),
		"system":                         e.text(row(18)),
		"fuel_type":                      e.text(row(19)),
		"condo_level":                    e.text(row(20)),
		"condo_townhouse_type":           e.text(row(21)),
		"attached_garage_area":           e.amount(row(22)),
		"basement_garage_number_of_cars": e.amount(row(23)),
	}}
}
