package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyInto(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{
		{"UT0001", "Alpha Water", int64(1200)},
		{"UT0002", "Beta Water", nil},
	}

	mock.ExpectCopyFrom(pgx.Identifier{"geo", "service_areas"}, []string{"sab_id", "name", "reported_population"}).
		WillReturnResult(2)

	n, err := CopyInto(context.Background(), mock, "geo", "service_areas",
		[]string{"sab_id", "name", "reported_population"}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyInto_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := CopyInto(context.Background(), mock, "geo", "service_areas", []string{"sab_id"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_crosswalk_results"}, []string{"run_id", "boundary_id", "tier"}).
		WillReturnResult(1)
	mock.ExpectExec("INSERT INTO \"crosswalk\".\"results\"").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	cfg := UpsertConfig{
		Table:        "crosswalk.results",
		Columns:      []string{"run_id", "boundary_id", "tier"},
		ConflictKeys: []string{"run_id", "boundary_id"},
	}
	n, err := BulkUpsert(context.Background(), mock, cfg, [][]any{{"r1", "UT0001", "tier-1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_Validation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{Table: "t"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{Table: "t", Columns: []string{"a"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")
}

func TestConnect_EmptyURL(t *testing.T) {
	_, err := Connect(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is empty")
}
