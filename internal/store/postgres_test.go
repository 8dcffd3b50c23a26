package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sab-crosswalk/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgres_CreateRun(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO crosswalk.runs").
		WithArgs(pgxmock.AnyArg(), "running", 2023, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), 2023)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteRun(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crosswalk.runs SET status").
		WithArgs("complete", 10, 2, pgxmock.AnyArg(), pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteRun(context.Background(), "run-1", RunSummary{Boundaries: 10, Capped: 2})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crosswalk.runs SET status").
		WithArgs("complete", 0, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "ghost", RunSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestPostgres_FailRun(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crosswalk.runs SET status").
		WithArgs("failed", "boom", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", errors.New("boom")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetRun(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, status, year").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "year", "boundaries", "capped", "failed_regions", "error", "created_at", "updated_at",
		}).AddRow("run-1", RunStatusComplete, 2023, 10, 2, []byte(`["32"]`), (*string)(nil), now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, run.Status)
	assert.Equal(t, 10, run.Boundaries)
	assert.Equal(t, []string{"32"}, run.FailedRegions)
	assert.Empty(t, run.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListRuns(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, status, year").
		WithArgs("failed", 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "year", "boundaries", "capped", "failed_regions", "error", "created_at", "updated_at",
		}).AddRow("run-2", RunStatusFailed, 2023, 0, 0, []byte(nil), ptrStr("postgis down"), now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "postgis down", runs[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveResults(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{"run_id", "boundary_id", "tier", "regions", "stats"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_crosswalk_results"}, cols).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO \"crosswalk\".\"results\"").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err := s.SaveResults(context.Background(), "run-1", []model.ResultRecord{{
		BoundaryID: "UT0001",
		Tier:       model.TierOne,
		Regions:    []string{"49"},
		Values:     map[string]*float64{"total_population": model.Float(100)},
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Results(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT boundary_id, tier, regions, stats FROM crosswalk.results").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"boundary_id", "tier", "regions", "stats"}).
			AddRow("UT0001", "tier-1", []byte(`["49"]`), []byte(`{"total_population":100,"median_income":null}`)))

	got, err := s.Results(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.TierOne, got[0].Tier)
	require.NotNil(t, got[0].Values["total_population"])
	assert.InDelta(t, 100, *got[0].Values["total_population"], 1e-9)
	assert.Nil(t, got[0].Values["median_income"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func ptrStr(s string) *string { return &s }
