package harvest

import (
	"context"
	"fmt"
	"parcelharvest/internal/db"
	"regexp"
	"time"
)

const (
	DefaultBackoff         = 5 * time.Second
	DefaultProtocolRetries = 6
	DefaultOtherRetries    = 2
	// DefaultOverlap widens "since last run" windows for records the portal
	// publishes late.
	DefaultOverlap           = 10 * 24 * time.Hour
	DefaultFirstMunicipality = 1
	DefaultLastMunicipality  = 67
	DefaultLowerBounds       = "010000000000"
	DefaultUpperBounds       = "679999999999"
)

// DateCriteria renders the advanced search expression selecting parcels
// sold between two days, both inclusive.
type DateCriteria func(from, to time.Time) string

// SaleDateCriteria is the portal's advanced criteria for the sale date column.
func SaleDateCriteria(from, to time.Time) string {
	const layout = "01/02/2006"
	return fmt.Sprintf("SALEDT|BETWEEN|%s~%s", from.Format(layout), to.Format(layout))
}

// CustomRun is a user supplied run, it has the orchestrator's modes and
// filters at its disposal.
type CustomRun func(ctx context.Context, o *Orchestrator) error

type Options struct {
	// Limit caps the number of parcels processed in one run, 0 is unlimited.
	Limit int
	// LowerBounds and UpperBounds are inclusive, empty means unbounded.
	LowerBounds string
	UpperBounds string
	Pattern     *regexp.Regexp
	// SaveTables selects which tables are written, empty saves all.
	SaveTables []db.Table

	Backoff         time.Duration
	ProtocolRetries int
	OtherRetries    int

	Overlap      time.Duration
	DateCriteria DateCriteria

	FirstMunicipality int
	LastMunicipality  int

	// RecentSize and RecentTTL bound the memory of parcels harvested by date
	// window runs, a parcel seen again within the ttl is skipped.
	RecentSize int
	RecentTTL  time.Duration

	Custom CustomRun
}

func (o Options) withDefaults() Options {
	if o.Backoff == 0 {
		o.Backoff = DefaultBackoff
	}
	if o.ProtocolRetries == 0 {
		o.ProtocolRetries = DefaultProtocolRetries
	}
	if o.OtherRetries == 0 {
		o.OtherRetries = DefaultOtherRetries
	}
	if o.Overlap == 0 {
		o.Overlap = DefaultOverlap
	}
	if o.DateCriteria == nil {
		o.DateCriteria = SaleDateCriteria
	}
	if o.FirstMunicipality == 0 {
		o.FirstMunicipality = DefaultFirstMunicipality
	}
	if o.LastMunicipality == 0 {
		o.LastMunicipality = DefaultLastMunicipality
	}
	if o.RecentSize == 0 {
		o.RecentSize = 100000
	}
	if o.RecentTTL == 0 {
		o.RecentTTL = 6 * time.Hour
	}
	return o
}
