package portal

import (
	"context"
	"fmt"
	"net/url"
	"parcelharvest/internal/components/assert"
	"parcelharvest/internal/components/chrono"
	"parcelharvest/internal/components/telemetry"
	"parcelharvest/pkg/htmlutil"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("parcelharvest/portal")

const (
	report_client_authenticate   = "client.authenticate"
	report_client_search         = "client.search"
	report_client_fetch_details  = "client.fetch-details"
	report_client_archive        = "client.archive"
	report_client_reauthenticate = "client.reauthenticate"
)

// Tab names as rendered in the profile's menu.
const (
	TabAssessmentHistory = "Assessment History"
	TabSales             = "Sales"
	TabResidential       = "Residential"
)

// Archive receives the raw html of every profile and tab page visited.
type Archive interface {
	Put(ctx context.Context, identifier string, pageUrl *url.URL, body []byte) error
}

type ClientOptions struct {
	Mode Mode
	// Archive is optional.
	Archive Archive
}

// Client searches the portal in one query mode over a (possibly shared) Session.
type Client struct {
	session *Session
	mode    Mode
	archive Archive
	time    chrono.API
	tel     telemetry.API
}

func NewClient(session *Session, opts ClientOptions, time chrono.API, tel telemetry.API) *Client {
	assert.NotNil(session)
	assert.NotNil(time)
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.Mode.Param)

	return &Client{
		session: session,
		mode:    opts.Mode,
		archive: opts.Archive,
		time:    time,
		tel:     telemetry.NewScopedAPI(fmt.Sprintf("portal_%s", opts.Mode.Name), tel),
	}
}

func (c *Client) Mode() Mode {
	return c.mode
}

func (c *Client) extractor() extractor {
	return extractor{now: c.time.Now()}
}

func (c *Client) get(ctx context.Context, endpoint string) (*page, error) {
	res, err := c.session.request(ctx).Get(endpoint)
	if err != nil {
		return nil, transportError("GET "+endpoint, err)
	}
	return newPage(res)
}

func (c *Client) post(ctx context.Context, endpoint string, values url.Values) (*page, error) {
	res, err := c.session.request(ctx).
		SetFormDataFromValues(values).
		Post(endpoint)
	if err != nil {
		return nil, transportError("POST "+endpoint, err)
	}
	return newPage(res)
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]`)

func matchKey(s string) string {
	return nonAlphanumeric.ReplaceAllString(strings.ToLower(s), "")
}

// searchPageReady reports whether the page is the mode's search form, meaning
// the disclaimer was already accepted for this session.
func (c *Client) searchPageReady(p *page) bool {
	text, ok := htmlutil.SelectionText(p.doc.Find("td#SearchText"))
	if !ok {
		return false
	}
	return matchKey(text) == matchKey(c.mode.ValidationText)
}

// authenticate performs the consent handshake, it is a no-op when the session
// is already authenticated.
func (c *Client) authenticate(ctx context.Context) error {
	if c.session.authenticated {
		return nil
	}

	ctx, span := tracer.Start(ctx, "client:authenticate")
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		c.tel.ReportBroken(report_client_authenticate, err)
		return err
	}

	p, err := c.get(ctx, c.mode.searchPath())
	if err != nil {
		return fail(err)
	}
	if c.searchPageReady(p) {
		c.session.authenticated = true
		return nil
	}

	consent, ok := consentForm(p.doc)
	if !ok {
		return fail(&ProtocolError{
			Discriminator: p.discriminator,
			Reason:        "found neither the search page nor the consent form",
		})
	}
	action, err := consent.action(p.url)
	if err != nil {
		return fail(&ProtocolError{
			Discriminator: p.discriminator,
			Reason:        "consent form action",
			Err:           err,
		})
	}
	accepted, err := c.post(ctx, action.String(), consent.values())
	if err != nil {
		return fail(err)
	}
	c.tel.ReportDebug("accepted disclaimer", accepted.discriminator)

	c.session.authenticated = true
	return nil
}

// errChallenged signals that the portal answered with its consent interstitial.
type errChallenged struct {
	discriminator string
}

func (e errChallenged) Error() string {
	return "consent challenge on " + e.discriminator
}

func (c *Client) submitSearch(ctx context.Context, expression string, pageSize int, descending bool) (*page, error) {
	searchPage, err := c.get(ctx, c.mode.searchPath())
	if err != nil {
		return nil, err
	}
	if searchPage.kind == pageConsent {
		return nil, errChallenged{discriminator: searchPage.discriminator}
	}

	f, ok := findForm(searchPage.doc, "frmMain")
	if !ok {
		return nil, &ProtocolError{
			Discriminator: searchPage.discriminator,
			Reason:        "search form frmMain not found",
		}
	}

	direction := "asc"
	if descending {
		direction = "desc"
	}

	values := f.values()
	fields := []struct {
		id    string
		value string
	}{
		{id: c.mode.Field, value: expression},
		{id: "selPageSize", value: strconv.Itoa(pageSize)},
		{id: "selSortDir", value: direction},
		{id: "SortDir", value: direction},
	}
	for _, field := range fields {
		err := f.set(values, field.id, field.value)
		if err != nil {
			return nil, &ProtocolError{
				Discriminator: searchPage.discriminator,
				Reason:        "fill search form",
				Err:           err,
			}
		}
	}

	action, err := f.action(searchPage.url)
	if err != nil {
		return nil, &ProtocolError{
			Discriminator: searchPage.discriminator,
			Reason:        "search form action",
			Err:           err,
		}
	}

	resultPage, err := c.post(ctx, action.String(), values)
	if err != nil {
		return nil, err
	}
	if resultPage.kind == pageConsent {
		return nil, errChallenged{discriminator: resultPage.discriminator}
	}
	return resultPage, nil
}

// Search submits the mode's search form. pageSize is clamped to [1, MaxPage].
//
// If the portal drops the session and answers with its consent page, the
// client re-authenticates and retries the request once, a second consecutive
// challenge fails with a *ProtocolError.
func (c *Client) Search(ctx context.Context, expression string, pageSize int, descending bool) (SearchResult, error) {
	ctx, span := tracer.Start(ctx, "client:Search", trace.WithAttributes(
		attribute.String("mode", c.mode.Name),
		attribute.String("expression", expression),
		attribute.Int("page_size", pageSize),
	))
	defer span.End()

	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > MaxPage {
		pageSize = MaxPage
	}

	fail := func(err error) (SearchResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		c.tel.ReportBroken(report_client_search, err, expression)
		return SearchResult{}, err
	}

	var p *page
	for attempt := 0; ; attempt++ {
		err := c.authenticate(ctx)
		if err != nil {
			return SearchResult{}, err
		}

		p, err = c.submitSearch(ctx, expression, pageSize, descending)
		challenge, challenged := err.(errChallenged)
		if !challenged {
			if err != nil {
				return fail(err)
			}
			break
		}
		if attempt > 0 {
			c.session.invalidate()
			return fail(&ProtocolError{
				Discriminator: challenge.discriminator,
				Reason:        "consent challenge persisted after re-authentication",
			})
		}
		c.tel.ReportWarning(report_client_reauthenticate, challenge.discriminator)
		c.session.invalidate()
	}

	span.SetAttributes(attribute.String("discriminator", p.discriminator))

	e := c.extractor()
	switch p.kind {
	case pageList:
		result, err := e.list(p.doc, pageSize)
		if err != nil {
			return fail(&ProtocolError{
				Discriminator: p.discriminator,
				Reason:        err.Error(),
			})
		}
		c.tel.ReportDebug("search", expression, result.TotalFound, len(result.Records))
		return result, nil
	case pageProfile:
		record := e.profile(p.doc)
		id := record.Identifier()
		c.store(ctx, id, p)
		return SearchResult{
			Records:    []Record{record},
			TotalFound: 1,
			Profile: &ProfileView{
				Identifier: id,
				current:    p,
				profile:    record,
			},
		}, nil
	case pageError:
		return fail(&ProtocolError{
			Discriminator: p.discriminator,
			Reason:        "portal returned its general error page",
		})
	default:
		return fail(&ProtocolError{
			Discriminator: p.discriminator,
			Reason:        "unrecognized page",
		})
	}
}

// SearchIdentifiers is Search projected onto parcel ids.
func (c *Client) SearchIdentifiers(ctx context.Context, expression string, pageSize int, descending bool) ([]string, error) {
	result, err := c.Search(ctx, expression, pageSize, descending)
	if err != nil {
		return nil, err
	}
	return result.Identifiers(), nil
}

func (c *Client) store(ctx context.Context, id string, p *page) {
	if c.archive == nil {
		return
	}
	err := c.archive.Put(ctx, id, p.url, p.body)
	if err != nil {
		c.tel.ReportWarning(report_client_archive, err, id)
	}
}

// activateTab follows the named tab link of the view's current page, the view
// then points at the tab's page. ok is false when the page has no such tab.
func (c *Client) activateTab(ctx context.Context, view *ProfileView, name string) (ok bool, err error) {
	anchors := htmlutil.GetAnchors(
		view.current.url,
		view.current.doc.Find(`td[name="menuCell"] td a`),
	)
	var target *url.URL
	for _, a := range anchors {
		if strings.EqualFold(a.Name, name) {
			target = a.Url
			break
		}
	}
	if target == nil {
		return false, nil
	}

	p, err := c.get(ctx, target.String())
	if err != nil {
		return false, err
	}
	switch p.kind {
	case pageProfile:
	case pageConsent:
		return false, &ProtocolError{
			Discriminator: p.discriminator,
			Reason:        fmt.Sprintf("consent challenge while opening tab %q", name),
		}
	default:
		return false, &ProtocolError{
			Discriminator: p.discriminator,
			Reason:        fmt.Sprintf("unexpected page for tab %q", name),
		}
	}

	view.current = p
	c.store(ctx, view.Identifier, p)
	return true, nil
}

// FetchDetailBundle walks the assessment history, sales and residential tabs
// starting from the profile the view was left on. It never re-queries, so the
// view must come from the most recent Search on this client's session.
func (c *Client) FetchDetailBundle(ctx context.Context, view *ProfileView) (DetailBundle, error) {
	assert.NotNil(view)

	ctx, span := tracer.Start(ctx, "client:FetchDetailBundle", trace.WithAttributes(
		attribute.String("parcel_id", view.Identifier),
	))
	defer span.End()

	id := view.Identifier
	bundle := DetailBundle{
		Identifier: id,
		Profile:    []Record{view.profile},
	}

	tabs := []struct {
		name    string
		extract func(e extractor, p *page) []Record
		out     *[]Record
	}{
		{
			name: TabAssessmentHistory,
			extract: func(e extractor, p *page) []Record {
				return e.assessmentHistory(p.doc, id)
			},
			out: &bundle.AssessmentHistory,
		},
		{
			name: TabSales,
			extract: func(e extractor, p *page) []Record {
				return e.salesHistory(p.doc, id)
			},
			out: &bundle.SalesHistory,
		},
		{
			name: TabResidential,
			extract: func(e extractor, p *page) []Record {
				return e.residentialCard(p.doc, id)
			},
			out: &bundle.ResidentialCard,
		},
	}

	e := c.extractor()
	for _, tab := range tabs {
		ok, err := c.activateTab(ctx, view, tab.name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tab navigation failed")
			c.tel.ReportBroken(report_client_fetch_details, err, id, tab.name)
			return DetailBundle{}, err
		}
		if !ok {
			c.tel.ReportDebug("tab not present", id, tab.name)
			continue
		}
		*tab.out = tab.extract(e, view.current)
	}

	return bundle, nil
}

// Disconnect drops the session's cookies and authentication, the next call
// re-authenticates from scratch.
func (c *Client) Disconnect() error {
	return c.session.Reset()
}
