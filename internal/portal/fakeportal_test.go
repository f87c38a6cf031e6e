package portal

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakePortal imitates the county portal closely enough to exercise the
// handshake, page classification and tab navigation.
type fakePortal struct {
	mutex sync.Mutex

	ids []string
	// challenges is the number of upcoming search submissions answered with the
	// consent page, as the portal does when it silently drops a session.
	challenges int
	// noResidential lists parcels without a residential tab.
	noResidential map[string]bool
	// omitTotal drops the "Total found" line from result lists.
	omitTotal bool

	consentPosts int
	searchPosts  int
	tabRequests  []string
}

func newFakePortal(t testing.TB, ids ...string) (*fakePortal, *httptest.Server) {
	f := &fakePortal{ids: ids, noResidential: map[string]bool{}}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return f, server
}

var modeTexts = map[string]string{
	"parid":    "Parcel ID:",
	"owner":    "Name",
	"advanced": "Advanced",
}

var modeFields = map[string]string{
	"parid":    "inpParid",
	"owner":    "inpOwner",
	"advanced": "hdCriteria",
}

func (f *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	path := strings.ToLower(r.URL.Path)
	switch {
	case path == "/search/disclaimer.aspx" && r.Method == http.MethodPost:
		f.acceptConsent(w, r)
	case path == "/search/disclaimer.aspx":
		writeHtml(w, consentPageHtml)
	case path == "/search/commonsearch.aspx" && r.Method == http.MethodPost:
		f.search(w, r)
	case path == "/search/commonsearch.aspx":
		f.searchForm(w, r)
	case path == "/datalet/datalet.aspx":
		f.datalet(w, r)
	case path == "/errors/errors.aspx":
		writeHtml(w, "<html><body>A general error occurred.</body></html>")
	default:
		writeHtml(w, "<html><body>what is this</body></html>")
	}
}

func writeHtml(w http.ResponseWriter, body string) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, body)
}

func consented(r *http.Request) bool {
	c, err := r.Cookie("disclaimer")
	return err == nil && c.Value == "accepted"
}

const consentPageHtml = `<html><body>
<form name="Form1" method="post" action="Disclaimer.aspx">
	<input type="hidden" name="__VIEWSTATE" value="dDwtMTA3">
	<p>By using this site you agree to the terms.</p>
	<input type="submit" name="btAgree" value="Agree">
	<input type="submit" name="btDisagree" value="Disagree">
</form>
</body></html>`

func (f *fakePortal) acceptConsent(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil || r.PostForm.Get("btAgree") != "Agree" || r.PostForm.Get("btDisagree") != "" {
		http.Error(w, "bad consent form", http.StatusBadRequest)
		return
	}
	f.consentPosts++
	http.SetCookie(w, &http.Cookie{Name: "disclaimer", Value: "accepted", Path: "/"})
	http.Redirect(w, r, "/Search/commonsearch.aspx?mode=parid", http.StatusFound)
}

func (f *fakePortal) searchForm(w http.ResponseWriter, r *http.Request) {
	if !consented(r) {
		http.Redirect(w, r, "/Search/Disclaimer.aspx?FromUrl=commonsearch.aspx", http.StatusFound)
		return
	}
	mode := r.URL.Query().Get("mode")
	writeHtml(w, fmt.Sprintf(`<html><body>
<form name="frmMain" id="frmMain" method="post" action="commonsearch.aspx?mode=%[1]s">
	<input type="hidden" name="__VIEWSTATE" value="dDw5NDk">
	<input type="hidden" name="mode" value="%[1]s">
	<table><tr><td id="SearchText">%[2]s</td></tr></table>
	<input type="text" id="%[3]s" name="%[3]s" value="">
	<select id="selPageSize" name="selPageSize">
		<option value="15" selected>15</option>
		<option value="250">250</option>
	</select>
	<input type="hidden" id="selSortDir" name="selSortDir" value="asc">
	<input type="hidden" id="SortDir" name="SortDir" value="asc">
	<input type="checkbox" name="chkExact" value="1">
	<input type="submit" name="btSearch" value="Search">
</form>
</body></html>`, mode, modeTexts[mode], modeFields[mode]))
}

func (f *fakePortal) search(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.searchPosts++

	if !consented(r) || f.challenges > 0 {
		if f.challenges > 0 {
			f.challenges--
		}
		http.SetCookie(w, &http.Cookie{Name: "disclaimer", Value: "", Path: "/", MaxAge: -1})
		writeHtml(w, consentPageHtml)
		return
	}
	if r.PostForm.Get("__VIEWSTATE") != "dDw5NDk" {
		http.Error(w, "missing view state", http.StatusBadRequest)
		return
	}

	mode := r.URL.Query().Get("mode")
	expression := r.PostForm.Get(modeFields[mode])
	if expression == "ERROR" {
		http.Redirect(w, r, "/Errors/Errors.aspx?msg=boom", http.StatusFound)
		return
	}
	if expression == "WEIRD" {
		http.Redirect(w, r, "/Search/Weird.aspx", http.StatusFound)
		return
	}

	pageSize, _ := strconv.Atoi(r.PostForm.Get("selPageSize"))
	descending := r.PostForm.Get("selSortDir") == "desc" && r.PostForm.Get("SortDir") == "desc"

	var matches []string
	for _, id := range f.ids {
		if strings.HasPrefix(id, expression) {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)
	if descending {
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	}

	if len(matches) == 1 {
		http.Redirect(w, r, "/Datalet/Datalet.aspx?mode=profile&parid="+matches[0], http.StatusFound)
		return
	}

	total := len(matches)
	if len(matches) > pageSize {
		matches = matches[:pageSize]
	}

	var rows strings.Builder
	for _, id := range matches {
		fmt.Fprintf(&rows, `<tr><td>%s-%s</td><td>OWNER %s</td><td>03/15/1999</td><td>$1,250.00</td></tr>`, id[:2], id[2:], id)
	}
	count := fmt.Sprintf(`<font color="red">Total found: %d records</font>`, total)
	if f.omitTotal {
		count = ""
	}
	writeHtml(w, fmt.Sprintf(`<html><body>
%s
<table id="searchResults">
	<tr><td>Parcel ID</td><td>Owner Name</td><td>Sales Date</td><td>Sales Amount</td></tr>
	<tr><td colspan="4"></td></tr>
	%s
</table>
</body></html>`, count, rows.String()))
}

func menuHtml(id string, residential bool) string {
	var b strings.Builder
	b.WriteString(`<table><tr><td name="menuCell"><table><tr>`)
	fmt.Fprintf(&b, `<td><a href="Datalet.aspx?mode=profile&parid=%s">Profile</a></td>`, id)
	fmt.Fprintf(&b, `<td><a href="Datalet.aspx?mode=asmt_history&parid=%s">Assessment History</a></td>`, id)
	fmt.Fprintf(&b, `<td><a href="Datalet.aspx?mode=sales&parid=%s">Sales</a></td>`, id)
	if residential {
		fmt.Fprintf(&b, `<td><a href="Datalet.aspx?mode=residential&parid=%s">Residential</a></td>`, id)
	}
	b.WriteString(`</tr></table></td></tr></table>`)
	return b.String()
}

func (f *fakePortal) datalet(w http.ResponseWriter, r *http.Request) {
	if !consented(r) {
		writeHtml(w, consentPageHtml)
		return
	}
	id := r.URL.Query().Get("parid")
	mode := r.URL.Query().Get("mode")
	menu := menuHtml(id, !f.noResidential[id])

	var body string
	switch mode {
	case "profile":
		body = profileHtml(id)
	case "asmt_history":
		f.tabRequests = append(f.tabRequests, mode)
		body = `<table id="Assessment History">
			<tr><td>Appraised Value</td><td>Assessed Value</td><td>Restrict Code</td><td>Effective Date</td><td>Reason</td><td>Notice Date</td></tr>
			<tr><td>$250,000</td><td>$125,000</td><td>R</td><td>01-JAN-16</td><td>REASSESSMENT</td><td>12/01/2015</td></tr>
			<tr><td>$200,000</td><td>$100,000</td><td></td><td>01-JAN-98</td><td>NEW CONSTRUCTION</td><td></td></tr>
			<tr><td>&nbsp;</td><td></td><td></td><td></td><td></td><td></td></tr>
		</table>`
	case "sales":
		f.tabRequests = append(f.tabRequests, mode)
		body = `<table id="Sales History">
			<tr><td>Sale Date</td><td>Price</td><td>Tax Stamps</td><td>Deed Book and Page</td><td>Grantor</td><td>Grantee</td><td>Date Recorded</td></tr>
			<tr><td>06-JUN-05</td><td>$310,000</td><td>$6,200</td><td>5555-01234</td><td>DOE JOHN</td><td>SMITH JANE</td><td>06/20/2005</td></tr>
		</table>`
	case "residential":
		f.tabRequests = append(f.tabRequests, mode)
		body = residentialHtml
	}
	writeHtml(w, "<html><body>"+menu+body+"</body></html>")
}

func profileHtml(id string) string {
	row := func(label, value string) string {
		return fmt.Sprintf("<tr><td>%s</td><td>%s</td></tr>", label, html.EscapeString(value))
	}
	return fmt.Sprintf(`
<table>
	<tr class="DataletHeaderTop"><td class="DataletHeaderTop">PARID: %s</td></tr>
	<tr class="DataletHeaderBottom"><td>SMITH JANE</td><td>12 MAIN ST</td></tr>
</table>
<table id="Parcel">%s</table>
<table id="Owner">%s</table>
<table id="Current Assessment">
	<tr><td>Appraised Value</td><td>Assessed Value</td><td>Restrict Code</td></tr>
	<tr><td>$250,000</td><td>$125,000</td><td>0</td></tr>
</table>
<table id="Estimated Taxes">%s</table>
<table id="Last Sale">%s</table>`,
		id,
		row("Alt ID", "01-00-00001-00-1")+
			row("Map", "010 001")+
			row("Land Use Code", "1101")+
			row("Land Use Description", "R - SINGLE FAMILY")+
			row("Property Location", "12 MAIN ST")+
			row("Lot #", "7")+
			row("Lot Size", "10,890 SF")+
			row("Front Feet", "75")+
			row("Municipality", "ABINGTON")+
			row("School District", "ABINGTON")+
			row("Utilities", "ALL PUBLIC"),
		row("Owner", "")+
			row("Name", "SMITH JANE")+
			row("Mailing Address", "12 MAIN ST")+
			row("Care Of", "")+
			row("Mailing Address 2", "ABINGTON PA")+
			row("Mailing Address 3", "19001"),
		row("County", "$1,024")+
			row("Municipality", "$2,048")+
			row("School District", "$4,096")+
			row("Total", "$7,168")+
			row("Tax Lien", "NO"),
		row("Sale Date", "06-JUN-05")+
			row("Sale Price", "$310,000")+
			row("Tax Stamps", "$6,200")+
			row("Deed Book and Page", "5555-01234")+
			row("Grantor", "DOE JOHN")+
			row("Grantee", "SMITH JANE")+
			row("Date Recorded", "06/20/2005"),
	)
}

const residentialHtml = `<table id="Residential Card Summary">
	<tr><td colspan="2">Card 1</td></tr>
	<tr><td>Land Use Code</td><td>1101</td></tr>
	<tr><td>Building Style</td><td>COLONIAL</td></tr>
	<tr><td>Number of Living Units</td><td>1</td></tr>
	<tr><td>Year Built</td><td>1955</td></tr>
	<tr><td>Year Remodeled</td><td></td></tr>
	<tr><td>Exterior Wall Material</td><td>BRICK</td></tr>
	<tr><td>Number of Stories</td><td>2</td></tr>
	<tr><td>Square Feet of Living Area</td><td>1,850</td></tr>
	<tr><td>Rooms</td><td>7/3/2/1</td></tr>
	<tr><td>Basement</td><td>FULL</td></tr>
	<tr><td>Finished Basement Living Area</td><td>0</td></tr>
	<tr><td>Rec Room Area</td><td>0</td></tr>
	<tr><td>Unfinished Area</td><td>0</td></tr>
	<tr><td>Wood Burning Fireplace</td><td>1</td></tr>
	<tr><td>Pre Fab Fireplace</td><td>0</td></tr>
	<tr><td>Heating</td><td>HOT WATER</td></tr>
	<tr><td>System</td><td>BASEBOARD</td></tr>
	<tr><td>Fuel Type</td><td>OIL</td></tr>
	<tr><td>Condo Level</td><td></td></tr>
	<tr><td>Condo/Townhouse Type</td><td></td></tr>
	<tr><td>Attached Garage Area</td><td>400</td></tr>
	<tr><td>Basement Garage No. of Cars</td><td>0</td></tr>
</table>`
