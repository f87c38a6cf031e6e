package harvest

import (
	"context"
	"errors"
	"parcelharvest/internal/db"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		err      error
		expected attemptOutcome
	}{
		{err: nil, expected: outcomeDone},
		{err: ErrLimitReached, expected: outcomeStop},
		{err: context.Canceled, expected: outcomeStop},
		{err: FormatError{Identifier: "abc"}, expected: outcomeSkip},
		{err: protocolFailure(), expected: outcomeRetryProtocol},
		{err: errFlaky, expected: outcomeRetryOther},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, classify(test.err), "%v", test.err)
	}
}

func TestUpdateOneValidatesIdentifier(t *testing.T) {
	env := newTestEnv(t, "010000000001")
	o := env.orchestrator(Options{})
	ctx := context.Background()

	for _, bad := range []string{"abc", "12345", "01000000000a", "0100000000011"} {
		err := o.UpdateOne(ctx, bad)
		var format FormatError
		require.ErrorAs(t, err, &format, bad)
		require.Equal(t, bad, format.Identifier)
	}
	require.Empty(t, env.portal.searches)

	require.NoError(t, o.UpdateOne(ctx, "010000000001"))
	require.Equal(t, []string{"010000000001"}, env.portal.searches)
}

func TestUpdateOneSavesEveryTable(t *testing.T) {
	env := newTestEnv(t, "010000000001")
	o := env.orchestrator(Options{})

	require.NoError(t, o.UpdateOne(context.Background(), "010000000001"))
	for _, table := range db.Tables {
		require.Equal(t, 1, env.count(t, table), table)
	}
}

func TestUpdateOneSaveSelection(t *testing.T) {
	env := newTestEnv(t, "010000000001")
	o := env.orchestrator(Options{SaveTables: []db.Table{db.Properties, db.SalesHistories}})

	require.NoError(t, o.UpdateOne(context.Background(), "010000000001"))
	require.Equal(t, 1, env.count(t, db.Properties))
	require.Equal(t, 0, env.count(t, db.AssessmentHistories))
	require.Equal(t, 1, env.count(t, db.SalesHistories))
	require.Equal(t, 0, env.count(t, db.ResidentialCards))
}

func TestUpdateOneUnknownParcel(t *testing.T) {
	env := newTestEnv(t)
	o := env.orchestrator(Options{})

	require.NoError(t, o.UpdateOne(context.Background(), "010000000001"))
	require.Empty(t, env.portal.details)
	require.Equal(t, 0, env.count(t, db.Properties))
	require.Len(t, env.tel.Reports("warning"), 1)
}

func TestProtocolFailuresRetrySixTimes(t *testing.T) {
	env := newTestEnv(t, "010000000001", "010000000002")
	env.portal.always = protocolFailure()
	o := env.orchestrator(Options{})

	require.NoError(t, o.UpdateParcels(context.Background(), []string{"010000000001"}))
	require.Equal(t, 7, env.portal.searchCount("010000000001"))
	require.Equal(t, 6, env.portal.disconnects)
	require.Len(t, env.clock.Slept, 6)
	for _, d := range env.clock.Slept {
		require.Equal(t, 5*time.Second, d)
	}
	require.Equal(t, Stats{Processed: 1, Failed: 1, Retries: 6}, o.Stats())
}

func TestOtherFailuresRetryTwice(t *testing.T) {
	env := newTestEnv(t, "010000000001")
	env.portal.always = errFlaky
	o := env.orchestrator(Options{})

	require.NoError(t, o.UpdateParcels(context.Background(), []string{"010000000001"}))
	require.Equal(t, 3, env.portal.searchCount("010000000001"))
	require.Equal(t, 2, env.portal.disconnects)
	require.Len(t, env.clock.Slept, 2)
}

func TestFailedParcelDoesNotAbortRun(t *testing.T) {
	env := newTestEnv(t, "010000000001", "010000000002")
	env.portal.failures["010000000001"] = []error{errFlaky, errFlaky, errFlaky}
	o := env.orchestrator(Options{})

	require.NoError(t, o.UpdateParcels(context.Background(), []string{"010000000001", "010000000002"}))
	require.Equal(t, []string{"010000000002"}, env.portal.details)
	require.Equal(t, 1, o.Stats().Failed)
	require.Equal(t, 2, o.Stats().Processed)
	require.Len(t, env.tel.Reports("broken"), 1)
}

func TestRetryRecovers(t *testing.T) {
	env := newTestEnv(t, "010000000001")
	env.portal.failures["010000000001"] = []error{protocolFailure(), protocolFailure()}
	o := env.orchestrator(Options{})

	require.NoError(t, o.UpdateParcels(context.Background(), []string{"010000000001"}))
	require.Equal(t, 3, env.portal.searchCount("010000000001"))
	require.Equal(t, []string{"010000000001"}, env.portal.details)
	require.Equal(t, 0, o.Stats().Failed)
}

func TestFormatErrorIsNotRetried(t *testing.T) {
	env := newTestEnv(t, "010000000001")
	o := env.orchestrator(Options{})

	require.NoError(t, o.UpdateParcels(context.Background(), []string{"abc", "010000000001"}))
	require.Equal(t, 0, env.portal.disconnects)
	require.Equal(t, Stats{Processed: 1, Skipped: 1}, o.Stats())
}

func TestLimitEndsRun(t *testing.T) {
	ids := parcelIds("01", 10)
	env := newTestEnv(t, ids...)
	o := env.orchestrator(Options{Limit: 3})
	ctx := context.Background()

	err := o.UpdateParcels(ctx, ids)
	require.ErrorIs(t, err, ErrLimitReached)
	require.Len(t, env.portal.searches, 3)
	require.Equal(t, 3, o.Stats().Processed)
	require.Equal(t, 3, env.count(t, db.Properties))

	// a run cut short by the limit still completes successfully
	_, ok, err := env.store.LastStart(ctx, RunUpdateParcel)
	require.NoError(t, err)
	require.True(t, ok)

	err = o.UpdateParcels(ctx, ids[3:])
	require.ErrorIs(t, err, ErrLimitReached)
	require.Len(t, env.portal.searches, 3)

	o.ResetStats()
	err = o.UpdateParcels(ctx, ids[3:])
	require.ErrorIs(t, err, ErrLimitReached)
	require.Len(t, env.portal.searches, 6)
}

func TestBoundsAndPatternSkipPortal(t *testing.T) {
	env := newTestEnv(t, "010000000001", "020000000001", "030000000001", "030000000002")
	o := env.orchestrator(Options{
		LowerBounds: "020000000000",
		UpperBounds: "039999999999",
		Pattern:     regexp.MustCompile(`1$`),
	})

	err := o.UpdateParcels(context.Background(), []string{
		"010000000001",
		"020000000001",
		"030000000001",
		"030000000002",
		"990000000001",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"020000000001", "030000000001"}, env.portal.searches)
	require.Equal(t, 3, o.Stats().Skipped)
}

func TestAccepts(t *testing.T) {
	o := newTestEnv(t).orchestrator(Options{LowerBounds: DefaultLowerBounds, UpperBounds: DefaultUpperBounds})
	require.True(t, o.Accepts("010000000000"))
	require.True(t, o.Accepts("679999999999"))
	require.False(t, o.Accepts("009999999999"))
	require.False(t, o.Accepts("680000000000"))

	unbounded := newTestEnv(t).orchestrator(Options{})
	require.True(t, unbounded.Accepts("999999999999"))
}

func TestCancelledRunStops(t *testing.T) {
	env := newTestEnv(t, parcelIds("01", 3)...)
	env.portal.always = protocolFailure()
	o := env.orchestrator(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	env.portal.onSearch = func(string) { cancel() }
	err := o.UpdateParcels(ctx, parcelIds("01", 3))
	require.True(t, errors.Is(err, context.Canceled))
	require.Len(t, env.portal.searches, 1)
}
