package telemetry

import "sync"

// Report is a single call made against a RecordingAPI.
type Report struct {
	Kind   string
	Id     string
	Params []any
}

// RecordingAPI is an API that remembers every report, used to assert on telemetry in tests.
type RecordingAPI struct {
	mutex   sync.Mutex
	reports []Report
}

func (r *RecordingAPI) push(kind, id string, params []any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, Report{Kind: kind, Id: id, Params: params})
}

func (r *RecordingAPI) ReportBroken(id string, params ...any) {
	r.push("broken", id, params)
}

func (r *RecordingAPI) ReportWarning(id string, params ...any) {
	r.push("warning", id, params)
}

func (r *RecordingAPI) ReportDebug(msg string, params ...any) {
	r.push("debug", msg, params)
}

func (r *RecordingAPI) ReportCount(id string, count int64) {
	r.push("count", id, []any{count})
}

// Reports returns the reports of the given kind ("broken", "warning", "debug", "count").
func (r *RecordingAPI) Reports(kind string) []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var out []Report
	for _, rep := range r.reports {
		if rep.Kind == kind {
			out = append(out, rep)
		}
	}
	return out
}
