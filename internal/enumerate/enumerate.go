package enumerate

import (
	"context"
	"errors"
	"fmt"
	"parcelharvest/internal/components/assert"
	"parcelharvest/internal/components/telemetry"
	"parcelharvest/internal/portal"
	"strings"
)

const (
	report_enumerator_truncated = "enumerator.truncated"
)

// Searcher is the part of portal.Client the enumerator drives.
type Searcher interface {
	Search(ctx context.Context, expression string, pageSize int, descending bool) (portal.SearchResult, error)
}

// Emit receives every page of records that completes a prefix. Returning an
// error stops the enumeration.
type Emit func(ctx context.Context, prefix string, records []portal.Record) error

// ErrUnsplittable is returned when a prefix holds more than a page of
// matches but the greatest match leaves no digit to branch on. A consistent
// portal never produces this.
var ErrUnsplittable = errors.New("prefix cannot be split further")

type Stats struct {
	Queries int
	Emitted int
	// Leaves counts prefixes that were fetched in a single page.
	Leaves int
	// MaxDepth is the largest number of digits appended to the starting prefix.
	MaxDepth int
}

type Enumerator struct {
	searcher Searcher
	pageSize int
	tel      telemetry.API
}

func New(searcher Searcher, tel telemetry.API) *Enumerator {
	assert.NotNil(searcher)
	assert.NotNil(tel)
	return &Enumerator{
		searcher: searcher,
		pageSize: portal.MaxPage,
		tel:      telemetry.NewScopedAPI("enumerator", tel),
	}
}

type frame struct {
	prefix string
	depth  int
}

// branchPoint returns prefix extended through the zero run of top up to and
// including the first non-zero digit. ok is false if top does not extend
// prefix or has nothing but zeros after it.
func branchPoint(prefix, top string) (branch string, ok bool) {
	if !strings.HasPrefix(top, prefix) {
		return "", false
	}
	for i := len(prefix); i < len(top); i++ {
		if top[i] == '0' {
			continue
		}
		if top[i] < '1' || top[i] > '9' {
			return "", false
		}
		return top[:i+1], true
	}
	return "", false
}

// Enumerate discovers every identifier starting with prefix and hands each
// page of matches to emit exactly once.
//
// Prefixes are processed from an explicit stack. A prefix with more matches
// than fit in one page is split at its branch point: the digit found there in
// the greatest match and every smaller digit down to 0 are pushed so that
// they pop in descending order. Emission order is therefore depth first with
// higher digits first, and depth never exceeds the identifier length.
func (e *Enumerator) Enumerate(ctx context.Context, prefix string, emit Emit) (Stats, error) {
	var stats Stats
	stack := []frame{{prefix: prefix}}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current.depth > stats.MaxDepth {
			stats.MaxDepth = current.depth
		}

		err := ctx.Err()
		if err != nil {
			return stats, err
		}

		probe, err := e.searcher.Search(ctx, current.prefix, 1, true)
		stats.Queries++
		if err != nil {
			return stats, fmt.Errorf("probe %q: %w", current.prefix, err)
		}

		total := probe.TotalFound
		switch {
		case total == 0:
			continue
		case total <= len(probe.Records):
			// already complete, typically a single match resolved to its profile
			err = e.emit(ctx, emit, current.prefix, probe.Records, &stats)
			if err != nil {
				return stats, err
			}
			continue
		case total <= e.pageSize:
			page, err := e.searcher.Search(ctx, current.prefix, e.pageSize, true)
			stats.Queries++
			if err != nil {
				return stats, fmt.Errorf("fetch %q: %w", current.prefix, err)
			}
			if len(page.Records) < total {
				e.tel.ReportWarning(report_enumerator_truncated, current.prefix, total, len(page.Records))
			}
			err = e.emit(ctx, emit, current.prefix, page.Records, &stats)
			if err != nil {
				return stats, err
			}
			continue
		}

		top := ""
		if len(probe.Records) > 0 {
			top = probe.Records[0].Identifier()
		}
		branch, ok := branchPoint(current.prefix, top)
		if !ok {
			return stats, fmt.Errorf("%w: prefix %q, %d matches, greatest %q", ErrUnsplittable, current.prefix, total, top)
		}

		base := branch[:len(branch)-1]
		depth := current.depth + len(branch) - len(current.prefix)
		for digit := byte('0'); digit <= branch[len(branch)-1]; digit++ {
			stack = append(stack, frame{
				prefix: base + string(digit),
				depth:  depth,
			})
		}
		e.tel.ReportDebug("split prefix", current.prefix, branch, total)
	}

	return stats, nil
}

func (e *Enumerator) emit(ctx context.Context, emit Emit, prefix string, records []portal.Record, stats *Stats) error {
	stats.Leaves++
	if len(records) == 0 {
		return nil
	}
	stats.Emitted += len(records)
	err := emit(ctx, prefix, records)
	if err != nil {
		return fmt.Errorf("emit %q: %w", prefix, err)
	}
	return nil
}
