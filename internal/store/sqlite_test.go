package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sab-crosswalk/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLite_RunLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, 2023)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Equal(t, 2023, run.Year)

	err = s.CompleteRun(ctx, run.ID, RunSummary{
		Boundaries:    42,
		Capped:        3,
		FailedRegions: []string{"32"},
	})
	require.NoError(t, err)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, got.Status)
	assert.Equal(t, 42, got.Boundaries)
	assert.Equal(t, 3, got.Capped)
	assert.Equal(t, []string{"32"}, got.FailedRegions)
}

func TestSQLite_FailRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, 2023)
	require.NoError(t, err)

	require.NoError(t, s.FailRun(ctx, run.ID, errors.New("postgis unreachable")))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "postgis unreachable", got.Error)
}

func TestSQLite_UpdateUnknownRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	assert.Error(t, s.CompleteRun(ctx, "missing", RunSummary{}))
	assert.Error(t, s.FailRun(ctx, "missing", errors.New("x")))
	_, err := s.GetRun(ctx, "missing")
	assert.Error(t, err)
}

func TestSQLite_ListRunsFiltered(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	r1, err := s.CreateRun(ctx, 2023)
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, 2023)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, r1.ID, RunSummary{}))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	complete, err := s.ListRuns(ctx, RunFilter{Status: RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, r1.ID, complete[0].ID)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_SaveAndLoadResults(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, 2023)
	require.NoError(t, err)

	records := []model.ResultRecord{
		{
			BoundaryID: "UT0001",
			Tier:       model.TierOne,
			Regions:    []string{"49"},
			Values: map[string]*float64{
				"total_population": model.Float(1234),
				"median_income":    nil,
			},
		},
		{
			BoundaryID: "UT0002",
			Tier:       model.TierThree,
			Regions:    []string{"49"},
			Values:     map[string]*float64{"total_population": nil},
		},
	}
	require.NoError(t, s.SaveResults(ctx, run.ID, records))

	got, err := s.Results(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "UT0001", got[0].BoundaryID)
	assert.Equal(t, model.TierOne, got[0].Tier)
	assert.Equal(t, []string{"49"}, got[0].Regions)
	require.NotNil(t, got[0].Values["total_population"])
	assert.InDelta(t, 1234, *got[0].Values["total_population"], 1e-9)
	assert.Nil(t, got[0].Values["median_income"])

	assert.Equal(t, model.TierThree, got[1].Tier)
}

func TestSQLite_SaveResultsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, 2023)
	require.NoError(t, err)

	rec := model.ResultRecord{
		BoundaryID: "UT0001",
		Tier:       model.TierTwoRaw,
		Regions:    []string{"49"},
		Values:     map[string]*float64{"total_population": model.Float(100)},
	}
	require.NoError(t, s.SaveResults(ctx, run.ID, []model.ResultRecord{rec}))

	rec.Tier = model.TierTwoCapped
	rec.Values["total_population"] = model.Float(80)
	require.NoError(t, s.SaveResults(ctx, run.ID, []model.ResultRecord{rec}))

	got, err := s.Results(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.TierTwoCapped, got[0].Tier)
	assert.InDelta(t, 80, *got[0].Values["total_population"], 1e-9)
}
