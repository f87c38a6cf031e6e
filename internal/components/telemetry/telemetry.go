package telemetry

import (
	"fmt"
)

// API is where every component of the harvester reports what happened to it.
// The slog implementation logs and feeds otel counters, RecordingAPI lets
// tests assert on reports.
type API interface {
	// ReportBroken reports a failure that loses data unless something retries
	// it, ex. a portal search that returned the general error page.
	//
	// The id names the component and the operation as "<component>.<operation>"
	// (all lowercase, dashes within the operation), ex. "client.search",
	// "store.unknown-column" or "orchestrator.window-truncated". Details such as
	// the parcel id or the underlying error go in params, never in the id.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something the run survives but an operator may
	// want to look at, ex. a re-authentication or a parcel abandoned after
	// its retries. Ids follow ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug is only shown with --verbose.
	ReportDebug(msg string, params ...any)

	// ReportCount adds count to the counter named by id, ex. 1 to
	// "harvest: orchestrator.processed" for every parcel saved.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with the namespace of the reporting package,
// so "client.search" from the parcel mode client arrives as
// "portal_parcel: client.search". Namespaces in use are "harvest",
// "enumerator", "db", "portal_session" and "portal_<mode>".
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}
