package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/core"
	"conductor/internal/scenario"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "conductor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RunRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run, err := s.BeginRun(ctx, started, 2)
	require.NoError(t, err)
	id, err := ulid.Parse(run.ID)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(started), id.Time())

	run.Report(core.Record{Kind: core.KindStep, Worker: 1, Timestamp: started, Suite: "checkout",
		Test: "pays", Name: `I see "Total"`, Action: "see", Duration: 12 * time.Millisecond, Success: true})
	run.Report(core.Record{Kind: core.KindTest, Worker: 2, Timestamp: started, Suite: "checkout",
		Test: "fails", Name: "fails", Duration: time.Second, Retries: 1, Error: "not found"})

	unfinished, err := s.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, unfinished.Finished.IsZero())

	require.NoError(t, run.Finish(ctx, &scenario.Result{
		Suites: 1, Tests: 2, Passed: 1, Failed: 1, Duration: 3 * time.Second,
	}))

	got, err := s.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Workers)
	assert.Equal(t, 2, got.Tests)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 3*time.Second, got.Duration)
	assert.True(t, got.Started.Equal(started))
	assert.True(t, got.Finished.Equal(started.Add(3*time.Second)))

	recs, err := s.Records(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, core.KindStep, recs[0].Kind)
	assert.Equal(t, "see", recs[0].Action)
	assert.Equal(t, 12*time.Millisecond, recs[0].Duration)
	assert.True(t, recs[0].Success)
	assert.Equal(t, "not found", recs[1].Error)
	assert.Equal(t, 1, recs[1].Retries)
	assert.False(t, recs[1].Success)
}

func TestStore_UnknownRun(t *testing.T) {
	_, err := open(t).Run(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RunsNewestFirstAndPrune(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var ids []string
	for i := range 3 {
		run, err := s.BeginRun(ctx, base.Add(time.Duration(i)*time.Minute), 1)
		require.NoError(t, err)
		run.Report(core.Record{Kind: core.KindTest, Timestamp: base, Name: "t"})
		require.NoError(t, run.Finish(ctx, &scenario.Result{Tests: 1, Passed: 1}))
		ids = append(ids, run.ID)
	}

	runs, err := s.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	removed, err := s.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	runs, err = s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[2], runs[0].ID)

	recs, err := s.Records(ctx, ids[0])
	require.NoError(t, err)
	assert.Empty(t, recs, "records cascade with their run")
}

func TestStore_MemoryDSN(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	run, err := s.BeginRun(context.Background(), time.Now(), 1)
	require.NoError(t, err)
	require.NoError(t, run.Finish(context.Background(), &scenario.Result{}))
	runs, err := s.Runs(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
