package portal

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"parcelharvest/internal/components/assert"
	"parcelharvest/internal/components/telemetry"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_session_reset = "session.reset"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"

type SessionOptions struct {
	BaseUrl string
	// RequestsPerSecond paces every request made through the session, 0 disables pacing.
	RequestsPerSecond float64
	Timeout           time.Duration
	UserAgent         string
	// Dumps receives full HTTP exchanges when non-nil.
	Dumps telemetry.MessageOutput
}

// Session is one browsing session against the portal: a cookie jar, the HTTP client
// holding it and whether the consent handshake has completed on it.
//
// A Session is stateful and ordered, it must not be used by more than one goroutine.
// Several Clients (one per query mode) may share a Session, in which case they share
// its authentication.
type Session struct {
	BaseUrl *url.URL

	opts          SessionOptions
	http          *resty.Client
	limiter       *rate.Limiter
	authenticated bool
	tel           telemetry.API
}

func NewSession(opts SessionOptions, tel telemetry.API) (*Session, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	s := &Session{
		BaseUrl: baseUrl,
		opts:    opts,
		tel:     telemetry.NewScopedAPI("portal_session", tel),
	}
	if opts.RequestsPerSecond > 0 {
		// burst of 1 keeps requests evenly spaced
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	err = s.connect()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) connect() error {
	httpClient := resty.New()
	httpClient.SetBaseURL(s.BaseUrl.String())
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", s.opts.UserAgent)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(s.BaseUrl.Hostname()))
	httpClient.SetTimeout(s.opts.Timeout)

	if s.limiter != nil {
		limiter := s.limiter
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, s.tel, s.opts.Dumps)

	s.http = httpClient
	s.authenticated = false
	return nil
}

// Authenticated reports whether the consent handshake has completed on this session.
func (s *Session) Authenticated() bool {
	return s.authenticated
}

// invalidate forgets the handshake but keeps cookies, used when the portal
// throws a consent challenge in the middle of the session.
func (s *Session) invalidate() {
	s.authenticated = false
}

// Reset discards the HTTP client and cookie jar. The next operation on any
// Client sharing this session authenticates from scratch.
func (s *Session) Reset() error {
	s.tel.ReportDebug(report_session_reset)
	return s.connect()
}

func (s *Session) request(ctx context.Context) *resty.Request {
	return s.http.R().SetContext(ctx)
}
