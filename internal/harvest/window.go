package harvest

import (
	"context"
	"fmt"
	"parcelharvest/internal/portal"
	"time"
)

const (
	report_orchestrator_window_truncated = "orchestrator.window-truncated"
)

type window struct {
	from time.Time
	to   time.Time
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func (w window) days() int {
	return int(w.to.Sub(w.from).Hours()/24+0.5) + 1
}

// split halves a window of at least two days, the halves share no day.
func (w window) split() (window, window) {
	mid := w.from.AddDate(0, 0, (w.days()-1)/2)
	return window{from: w.from, to: mid}, window{from: mid.AddDate(0, 0, 1), to: w.to}
}

// windowIdentifiers collects the parcels the date criteria match between from
// and to. A window whose matches exceed a page is bisected by day until each
// part fits, a single day that still overflows is taken truncated.
func (o *Orchestrator) windowIdentifiers(ctx context.Context, from, to time.Time) ([]string, error) {
	stack := []window{{from: day(from), to: day(to)}}
	var ids []string

	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		expression := o.opts.DateCriteria(w.from, w.to)
		var result portal.SearchResult
		outcome, err := o.attempt(ctx, expression, func() error {
			var err error
			result, err = o.advanced.Search(ctx, expression, portal.MaxPage, true)
			return err
		})
		if err != nil {
			return nil, err
		}
		if outcome != outcomeDone {
			return nil, fmt.Errorf("search %q: retries exhausted", expression)
		}

		if result.TotalFound > len(result.Records) && w.days() > 1 {
			first, second := w.split()
			stack = append(stack, second, first)
			o.tel.ReportDebug("split date window", expression, result.TotalFound)
			continue
		}
		if result.TotalFound > len(result.Records) {
			o.tel.ReportWarning(report_orchestrator_window_truncated, expression, result.TotalFound, len(result.Records))
		}
		ids = append(ids, result.Identifiers()...)
	}

	return uniqueSorted(ids), nil
}
