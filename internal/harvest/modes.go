package harvest

import (
	"context"
	"fmt"
	"parcelharvest/internal/db"
	"parcelharvest/internal/enumerate"
	"parcelharvest/internal/portal"
	"sort"
	"time"
)

// Run types written to the run log.
const (
	RunSequence        = "sequence"
	RunUpdateParcel    = "update_parcel"
	RunUpdateSince     = "update_since_last"
	RunUpdateFrom      = "update_from"
	RunUpdateSales     = "update_sales_histories"
	RunUpdateCustom    = "update_custom"
	runUpdateRemaining = "update_remaining"
)

// RemainingRunType is the run type of UpdateRemaining for a table.
func RemainingRunType(table db.Table) string {
	return fmt.Sprintf("%s_%s", runUpdateRemaining, table)
}

// UpdateParcels harvests exactly the given parcels.
func (o *Orchestrator) UpdateParcels(ctx context.Context, ids []string) error {
	start := ""
	if len(ids) > 0 {
		start = ids[0]
	}
	return o.run(ctx, RunUpdateParcel, start, func() error {
		return o.processAll(ctx, ids)
	})
}

// UpdateRemaining works through the parcels still missing table's data, one
// page of ids at a time, until none are left past the cursor.
func (o *Orchestrator) UpdateRemaining(ctx context.Context, table db.Table) error {
	return o.updateRemaining(ctx, RemainingRunType(table), table)
}

// UpdateSalesHistories is UpdateRemaining over sales histories lacking a
// sale or recording date.
func (o *Orchestrator) UpdateSalesHistories(ctx context.Context) error {
	return o.updateRemaining(ctx, RunUpdateSales, db.SalesHistories)
}

func (o *Orchestrator) updateRemaining(ctx context.Context, runType string, table db.Table) error {
	return o.run(ctx, runType, o.opts.LowerBounds, func() error {
		// the cursor only moves forward so parcels that never gain a row
		// cannot be handed out twice
		cursor := ""
		for {
			var ids []string
			outcome, err := o.attempt(ctx, "pending "+string(table), func() error {
				var err error
				ids, err = o.store.RecordsToComplete(ctx, table, cursor, portal.MaxPage)
				return err
			})
			if err != nil {
				return err
			}
			if outcome != outcomeDone {
				return fmt.Errorf("list pending %s: retries exhausted", table)
			}
			if len(ids) == 0 {
				return nil
			}

			err = o.processAll(ctx, ids)
			if err != nil {
				return err
			}

			cursor = ids[len(ids)-1]
			if o.opts.UpperBounds != "" && compareIds(cursor, o.opts.UpperBounds) >= 0 {
				return nil
			}
		}
	})
}

// UpdateSinceLastRun harvests parcels sold since the last successful run of
// this kind started, widened by the overlap. Without a previous run the
// window is the overlap alone.
func (o *Orchestrator) UpdateSinceLastRun(ctx context.Context) error {
	now := o.time.Now()
	from := now.Add(-o.opts.Overlap)

	last, ok, err := o.store.LastStart(ctx, RunUpdateSince)
	if err != nil {
		return err
	}
	if ok {
		from = last.Add(-o.opts.Overlap)
	} else {
		o.tel.ReportDebug("no previous run, using the overlap window", RunUpdateSince)
	}
	return o.updateDateRange(ctx, RunUpdateSince, from, now)
}

// UpdateFrom harvests parcels sold between from and now.
func (o *Orchestrator) UpdateFrom(ctx context.Context, from time.Time) error {
	return o.updateDateRange(ctx, RunUpdateFrom, from, o.time.Now())
}

func (o *Orchestrator) updateDateRange(ctx context.Context, runType string, from, to time.Time) error {
	return o.run(ctx, runType, "", func() error {
		ids, err := o.windowIdentifiers(ctx, from, to)
		if err != nil {
			return err
		}

		for _, id := range ids {
			_, seen := o.recent.Get(id)
			if seen {
				o.stats.Skipped++
				continue
			}
			failed := o.stats.Failed
			err := o.Process(ctx, id)
			if err != nil {
				return err
			}
			// failed parcels stay eligible for the next window
			if o.stats.Failed == failed {
				o.recent.Add(id, o.time.Now())
			}
		}
		return nil
	})
}

// Custom runs the configured hook.
func (o *Orchestrator) Custom(ctx context.Context) error {
	if o.opts.Custom == nil {
		return ErrNoCustomRun
	}
	return o.run(ctx, RunUpdateCustom, "", func() error {
		return o.opts.Custom(ctx, o)
	})
}

// Municipalities lists the two digit municipality prefixes in the configured
// range.
func (o *Orchestrator) Municipalities() []string {
	var prefixes []string
	for m := o.opts.FirstMunicipality; m <= o.opts.LastMunicipality; m++ {
		prefixes = append(prefixes, fmt.Sprintf("%02d", m))
	}
	return prefixes
}

// Sequence discovers every parcel under each prefix (every municipality when
// none are given) and saves the summary rows. A prefix that keeps failing is
// abandoned after its retries, saved pages stay saved.
func (o *Orchestrator) Sequence(ctx context.Context, prefixes []string) error {
	if len(prefixes) == 0 {
		prefixes = o.Municipalities()
	}
	if len(prefixes) == 0 {
		return fmt.Errorf("%w: municipalities %d..%d", ErrNoPrefixes, o.opts.FirstMunicipality, o.opts.LastMunicipality)
	}
	enumerator := enumerate.New(o.parcels, o.tel)

	return o.run(ctx, RunSequence, prefixes[0], func() error {
		for _, prefix := range prefixes {
			outcome, err := o.attempt(ctx, "sequence "+prefix, func() error {
				stats, err := enumerator.Enumerate(ctx, prefix, o.saveSummaries)
				o.tel.ReportDebug("sequenced prefix", prefix, stats.Queries, stats.Emitted, stats.MaxDepth)
				return err
			})
			if err != nil {
				return err
			}
			if outcome != outcomeDone {
				o.stats.Failed++
			}
		}
		return nil
	})
}

func (o *Orchestrator) saveSummaries(ctx context.Context, prefix string, records []portal.Record) error {
	var accepted []portal.Record
	for _, r := range records {
		if o.Accepts(r.Identifier()) {
			accepted = append(accepted, r)
		}
	}
	if len(accepted) == 0 {
		return nil
	}
	if o.opts.Limit == 0 {
		o.stats.Processed += len(accepted)
		return o.save(ctx, db.Properties, accepted)
	}

	remaining := o.opts.Limit - o.stats.Processed
	if remaining <= 0 {
		return ErrLimitReached
	}
	truncated := len(accepted) > remaining
	if truncated {
		accepted = accepted[:remaining]
	}
	o.stats.Processed += len(accepted)
	err := o.save(ctx, db.Properties, accepted)
	if err != nil {
		return err
	}
	if truncated {
		return ErrLimitReached
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	sort.Strings(ids)
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
