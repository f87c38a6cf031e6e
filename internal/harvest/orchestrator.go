package harvest

import (
	"context"
	"errors"
	"fmt"
	"parcelharvest/internal/components/assert"
	"parcelharvest/internal/components/chrono"
	"parcelharvest/internal/components/telemetry"
	"parcelharvest/internal/db"
	"parcelharvest/internal/enumerate"
	"parcelharvest/internal/portal"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	report_orchestrator_not_found  = "orchestrator.not-found"
	report_orchestrator_ambiguous  = "orchestrator.ambiguous"
	report_orchestrator_format     = "orchestrator.format"
	report_orchestrator_retry      = "orchestrator.retry"
	report_orchestrator_failed     = "orchestrator.failed"
	report_orchestrator_disconnect = "orchestrator.disconnect"
	report_orchestrator_processed  = "orchestrator.processed"
	report_orchestrator_run_log    = "orchestrator.run-log"
)

// Portal is the parcel id search the orchestrator harvests through.
type Portal interface {
	enumerate.Searcher
	FetchDetailBundle(ctx context.Context, view *portal.ProfileView) (portal.DetailBundle, error)
	Disconnect() error
}

type Store interface {
	Save(ctx context.Context, table db.Table, records []portal.Record) error
	RecordsToComplete(ctx context.Context, table db.Table, after string, limit int) ([]string, error)
	Mark(ctx context.Context, runType, startId string, success bool) (int64, error)
	LastStart(ctx context.Context, runType string) (time.Time, bool, error)
}

type Stats struct {
	Processed int
	Failed    int
	Skipped   int
	Retries   int
}

// Orchestrator runs bulk harvests. It drives a single portal session and is
// not safe for concurrent use.
type Orchestrator struct {
	parcels  Portal
	advanced enumerate.Searcher
	store    Store
	time     chrono.API
	tel      telemetry.API
	opts     Options
	recent   *expirable.LRU[string, time.Time]

	stats Stats
}

// NewOrchestrator takes the parcel id client and the advanced criteria
// client, both should share one portal session.
func NewOrchestrator(parcels Portal, advanced enumerate.Searcher, store Store, clock chrono.API, tel telemetry.API, opts Options) *Orchestrator {
	assert.NotNil(parcels)
	assert.NotNil(advanced)
	assert.NotNil(store)
	assert.NotNil(clock)
	assert.NotNil(tel)

	opts = opts.withDefaults()
	return &Orchestrator{
		parcels:  parcels,
		advanced: advanced,
		store:    store,
		time:     clock,
		tel:      telemetry.NewScopedAPI("harvest", tel),
		opts:     opts,
		recent:   expirable.NewLRU[string, time.Time](opts.RecentSize, nil, opts.RecentTTL),
	}
}

func (o *Orchestrator) Stats() Stats {
	return o.stats
}

// ResetStats zeroes the counters, the limit applies to the processed count
// so a long lived orchestrator resets between runs.
func (o *Orchestrator) ResetStats() {
	o.stats = Stats{}
}

func (o *Orchestrator) Options() Options {
	return o.opts
}

func (o *Orchestrator) saves(table db.Table) bool {
	if len(o.opts.SaveTables) == 0 {
		return true
	}
	for _, t := range o.opts.SaveTables {
		if t == table {
			return true
		}
	}
	return false
}

func (o *Orchestrator) save(ctx context.Context, table db.Table, records []portal.Record) error {
	if len(records) == 0 || !o.saves(table) {
		return nil
	}
	return o.store.Save(ctx, table, records)
}

// UpdateOne harvests the profile and the detail tabs of one parcel.
func (o *Orchestrator) UpdateOne(ctx context.Context, id string) error {
	if !portal.ValidIdentifier(id) {
		return FormatError{Identifier: id}
	}
	if o.opts.Limit > 0 && o.stats.Processed >= o.opts.Limit {
		return ErrLimitReached
	}

	result, err := o.parcels.Search(ctx, id, 1, false)
	if err != nil {
		return err
	}
	if len(result.Records) == 0 {
		o.tel.ReportWarning(report_orchestrator_not_found, id)
		return nil
	}
	err = o.save(ctx, db.Properties, result.Records)
	if err != nil {
		return err
	}
	if result.Profile == nil {
		// the id matched a list instead of resolving to one profile
		o.tel.ReportWarning(report_orchestrator_ambiguous, id, result.TotalFound)
		return nil
	}

	bundle, err := o.parcels.FetchDetailBundle(ctx, result.Profile)
	if err != nil {
		return err
	}
	details := []struct {
		table   db.Table
		records []portal.Record
	}{
		{table: db.AssessmentHistories, records: bundle.AssessmentHistory},
		{table: db.SalesHistories, records: bundle.SalesHistory},
		{table: db.ResidentialCards, records: bundle.ResidentialCard},
	}
	for _, d := range details {
		err = o.save(ctx, d.table, d.records)
		if err != nil {
			return err
		}
	}
	return nil
}

// attempt runs fn until it succeeds, its failure is not retryable or the
// retry budget of its failure class is spent. Both classes draw on one
// attempt counter, the budget checked is the one of the latest failure.
// Before every retry the session is dropped and the backoff slept.
//
// Only outcomeStop errors are returned, anything else is reported and
// swallowed so the run moves on.
func (o *Orchestrator) attempt(ctx context.Context, unit string, fn func() error) (attemptOutcome, error) {
	retries := 0
	for {
		err := fn()
		outcome := classify(err)

		budget := 0
		switch outcome {
		case outcomeDone:
			return outcome, nil
		case outcomeStop:
			return outcome, err
		case outcomeSkip:
			o.tel.ReportWarning(report_orchestrator_format, unit, err)
			return outcome, nil
		case outcomeRetryProtocol:
			budget = o.opts.ProtocolRetries
		case outcomeRetryOther:
			budget = o.opts.OtherRetries
		}

		retries++
		if retries > budget {
			o.tel.ReportBroken(report_orchestrator_failed, err, unit, outcome.String())
			return outcome, nil
		}

		o.stats.Retries++
		o.tel.ReportWarning(
			report_orchestrator_retry,
			unit, err, fmt.Sprintf("retry attempt %d/%d", retries, budget),
		)
		disconnectErr := o.parcels.Disconnect()
		if disconnectErr != nil {
			o.tel.ReportWarning(report_orchestrator_disconnect, disconnectErr)
		}
		o.time.Sleep(o.opts.Backoff)

		if ctx.Err() != nil {
			return outcomeStop, ctx.Err()
		}
	}
}

// Process applies the bounds and pattern filters and harvests id with
// retries. Only ErrLimitReached and context errors are returned.
func (o *Orchestrator) Process(ctx context.Context, id string) error {
	if !o.Accepts(id) {
		o.stats.Skipped++
		return nil
	}

	outcome, err := o.attempt(ctx, id, func() error {
		return o.UpdateOne(ctx, id)
	})
	switch outcome {
	case outcomeStop:
		return err
	case outcomeSkip:
		o.stats.Skipped++
		return nil
	case outcomeDone:
	default:
		o.stats.Failed++
	}
	o.stats.Processed++
	o.tel.ReportCount(report_orchestrator_processed, 1)
	return nil
}

func compareIds(a, b string) int {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Accepts reports whether id passes the configured bounds and pattern.
func (o *Orchestrator) Accepts(id string) bool {
	if o.opts.LowerBounds != "" && compareIds(id, o.opts.LowerBounds) < 0 {
		return false
	}
	if o.opts.UpperBounds != "" && compareIds(id, o.opts.UpperBounds) > 0 {
		return false
	}
	if o.opts.Pattern != nil && !o.opts.Pattern.MatchString(id) {
		return false
	}
	return true
}

func (o *Orchestrator) processAll(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := o.Process(ctx, id)
		if err != nil {
			return err
		}
	}
	return nil
}

// run brackets fn with start and complete entries in the run log. A run cut
// short by the limit completes successfully and returns ErrLimitReached.
func (o *Orchestrator) run(ctx context.Context, runType, startId string, fn func() error) error {
	_, err := o.store.Mark(ctx, db.StartType(runType), startId, true)
	if err != nil {
		return err
	}
	o.tel.ReportDebug("run started", runType, startId)

	runErr := fn()
	success := runErr == nil || errors.Is(runErr, ErrLimitReached)

	// the run log entry is written even if the run was cancelled
	_, err = o.store.Mark(context.WithoutCancel(ctx), db.CompleteType(runType), "", success)
	if err != nil {
		o.tel.ReportBroken(report_orchestrator_run_log, err, runType)
		if runErr == nil {
			return err
		}
	}
	o.tel.ReportDebug("run complete", runType, success, o.stats.Processed, o.stats.Failed)
	return runErr
}
