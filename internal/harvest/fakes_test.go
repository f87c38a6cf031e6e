package harvest

import (
	"context"
	"errors"
	"fmt"
	"parcelharvest/internal/components/chrono"
	"parcelharvest/internal/components/telemetry"
	"parcelharvest/internal/db"
	"parcelharvest/internal/portal"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset by peer")

func protocolFailure() error {
	return &portal.ProtocolError{Discriminator: "errors.aspx", Reason: "portal returned its general error page"}
}

// fakePortal serves profiles for known parcels and prefix lists otherwise.
type fakePortal struct {
	ids map[string]bool
	// landUse is the land use code put on a parcel's profile, 0 when absent.
	landUse map[string]int64
	// failures are returned, in order, by searches for an expression.
	failures map[string][]error
	always   error
	onSearch func(expression string)

	searches    []string
	details     []string
	disconnects int
}

func newFakePortal(ids ...string) *fakePortal {
	f := &fakePortal{
		ids:      map[string]bool{},
		landUse:  map[string]int64{},
		failures: map[string][]error{},
	}
	for _, id := range ids {
		f.ids[id] = true
		f.landUse[id] = 1101
	}
	return f
}

func (f *fakePortal) searchCount(expression string) int {
	n := 0
	for _, s := range f.searches {
		if s == expression {
			n++
		}
	}
	return n
}

func (f *fakePortal) Search(ctx context.Context, expression string, pageSize int, descending bool) (portal.SearchResult, error) {
	f.searches = append(f.searches, expression)
	if f.onSearch != nil {
		f.onSearch(expression)
	}
	if f.always != nil {
		return portal.SearchResult{}, f.always
	}
	if queued := f.failures[expression]; len(queued) > 0 {
		f.failures[expression] = queued[1:]
		return portal.SearchResult{}, queued[0]
	}

	if portal.ValidIdentifier(expression) {
		if !f.ids[expression] {
			return portal.SearchResult{}, nil
		}
		record := portal.Record{
			"parcel_id":     expression,
			"owner_name":    "OWNER " + expression,
			"land_use_code": f.landUse[expression],
		}
		return portal.SearchResult{
			Records:    []portal.Record{record},
			TotalFound: 1,
			Profile:    &portal.ProfileView{Identifier: expression},
		}, nil
	}

	var matches []string
	for id := range f.ids {
		if strings.HasPrefix(id, expression) {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)
	if descending {
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	}
	result := portal.SearchResult{TotalFound: len(matches)}
	for i, id := range matches {
		if i >= pageSize {
			break
		}
		result.Records = append(result.Records, portal.Record{"parid": id, "owner_name": "OWNER " + id})
	}
	return result, nil
}

func (f *fakePortal) FetchDetailBundle(ctx context.Context, view *portal.ProfileView) (portal.DetailBundle, error) {
	id := view.Identifier
	f.details = append(f.details, id)
	return portal.DetailBundle{
		Identifier: id,
		AssessmentHistory: []portal.Record{
			{"parcel_id": id, "lineno": int64(1), "assessed_value": int64(100)},
		},
		SalesHistory: []portal.Record{
			{
				"parcel_id":     id,
				"lineno":        int64(1),
				"sale_date":     time.Date(2005, time.June, 6, 0, 0, 0, 0, time.UTC),
				"date_recorded": time.Date(2005, time.June, 20, 0, 0, 0, 0, time.UTC),
			},
		},
		ResidentialCard: []portal.Record{
			{"parcel_id": id, "lineno": int64(1), "year_built": int64(1955)},
		},
	}, nil
}

func (f *fakePortal) Disconnect() error {
	f.disconnects++
	return nil
}

const testDateLayout = "2006-01-02"

func testCriteria(from, to time.Time) string {
	return from.Format(testDateLayout) + "~" + to.Format(testDateLayout)
}

// fakeAdvanced answers date criteria searches over parcel sale dates.
type fakeAdvanced struct {
	sales    map[string]time.Time
	searches []string
}

func (f *fakeAdvanced) Search(ctx context.Context, expression string, pageSize int, descending bool) (portal.SearchResult, error) {
	f.searches = append(f.searches, expression)
	bounds := strings.Split(expression, "~")
	if len(bounds) != 2 {
		return portal.SearchResult{}, fmt.Errorf("bad criteria %q", expression)
	}
	from, err := time.Parse(testDateLayout, bounds[0])
	if err != nil {
		return portal.SearchResult{}, err
	}
	to, err := time.Parse(testDateLayout, bounds[1])
	if err != nil {
		return portal.SearchResult{}, err
	}

	var matches []string
	for id, sold := range f.sales {
		if sold.Before(from) || sold.After(to) {
			continue
		}
		matches = append(matches, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	result := portal.SearchResult{TotalFound: len(matches)}
	for i, id := range matches {
		if i >= pageSize {
			break
		}
		result.Records = append(result.Records, portal.Record{"parcel_id": id})
	}
	return result, nil
}

type testEnv struct {
	portal   *fakePortal
	advanced *fakeAdvanced
	store    db.Store
	clock    *chrono.FakeImpl
	tel      *telemetry.RecordingAPI
}

func newTestEnv(t *testing.T, ids ...string) testEnv {
	database, err := db.OpenDB(context.Background(), db.Config{File: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	clock := &chrono.FakeImpl{Current: time.Date(2026, time.October, 17, 6, 0, 0, 0, time.UTC)}
	tel := &telemetry.RecordingAPI{}
	return testEnv{
		portal:   newFakePortal(ids...),
		advanced: &fakeAdvanced{sales: map[string]time.Time{}},
		store:    db.NewStore(database, clock, tel),
		clock:    clock,
		tel:      tel,
	}
}

func (env testEnv) orchestrator(opts Options) *Orchestrator {
	if opts.DateCriteria == nil {
		opts.DateCriteria = testCriteria
	}
	return NewOrchestrator(env.portal, env.advanced, env.store, env.clock, env.tel, opts)
}

func (env testEnv) count(t *testing.T, table db.Table) int {
	var n int
	err := env.store.DB().QueryRow(fmt.Sprintf("select count(*) from %s", table)).Scan(&n)
	require.NoError(t, err)
	return n
}

func parcelIds(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%0*d", prefix, portal.IdentifierLength-len(prefix), i+1)
	}
	return ids
}
