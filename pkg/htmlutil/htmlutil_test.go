package htmlutil

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	table := []struct {
		input    string
		expected string
	}{
		{input: "  PARID: 010000000001 ", expected: "PARID: 010000000001"},
		{input: "\n\tSMITH JOHN   &  JANE\n", expected: "SMITH JOHN & JANE"},
		{input: "", expected: ""},
	}
	for _, row := range table {
		require.Equal(t, row.expected, CleanText(row.input))
	}
}

func TestGetAnchors(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<table><tr><td name="menuCell"><table><tr>
			<td><a href="Datalet.aspx?mode=asmt_history">Assessment  History</a></td>
			<td><a href="/Datalet/Datalet.aspx?mode=sales">Sales</a></td>
		</tr></table></td></tr></table>`))
	require.NoError(t, err)

	base, err := url.Parse("http://portal.test/Datalet/Datalet.aspx?mode=profile")
	require.NoError(t, err)

	anchors := GetAnchors(base, doc.Find(`td[name="menuCell"] td a`))
	require.Len(t, anchors, 2)
	require.Equal(t, "Assessment History", anchors[0].Name)
	require.Equal(t, "http://portal.test/Datalet/Datalet.aspx?mode=asmt_history", anchors[0].Url.String())
	require.Equal(t, "http://portal.test/Datalet/Datalet.aspx?mode=sales", anchors[1].Url.String())

	text, ok := SelectionText(doc.Find("a"))
	require.True(t, ok)
	require.Equal(t, "Assessment History", text)

	_, ok = SelectionText(doc.Find("span.missing"))
	require.False(t, ok)
}
