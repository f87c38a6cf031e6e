package harvest

import (
	"context"
	"errors"
	"fmt"
	"parcelharvest/internal/portal"
)

// FormatError rejects an identifier that is not a 12 digit decimal string.
type FormatError struct {
	Identifier string
}

func (e FormatError) Error() string {
	return fmt.Sprintf("parcel id format is incorrect for %q", e.Identifier)
}

// ErrLimitReached ends a run once the configured number of parcels has been
// processed. Runs ending this way are successful.
var ErrLimitReached = errors.New("processing limit reached")

// ErrNoPrefixes is returned by Sequence when no prefix was given and the
// municipality range is empty.
var ErrNoPrefixes = errors.New("no prefixes to sequence")

// ErrNoCustomRun is returned by Custom when no hook was configured.
var ErrNoCustomRun = errors.New("custom run has no hook configured")

// attemptOutcome is the verdict on one attempt at a unit of work.
type attemptOutcome int

const (
	outcomeDone attemptOutcome = iota
	// outcomeRetryProtocol is a session level failure, retried with the
	// larger budget.
	outcomeRetryProtocol
	outcomeRetryOther
	// outcomeSkip abandons the unit without retrying.
	outcomeSkip
	// outcomeStop ends the whole run.
	outcomeStop
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeDone:
		return "done"
	case outcomeRetryProtocol:
		return "retry-protocol"
	case outcomeRetryOther:
		return "retry-other"
	case outcomeSkip:
		return "skip"
	case outcomeStop:
		return "stop"
	}
	return "unknown"
}

func classify(err error) attemptOutcome {
	if err == nil {
		return outcomeDone
	}
	var format FormatError
	switch {
	case errors.Is(err, ErrLimitReached),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return outcomeStop
	case errors.As(err, &format):
		return outcomeSkip
	case portal.IsProtocolError(err):
		return outcomeRetryProtocol
	}
	return outcomeRetryOther
}
