package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sab-crosswalk/internal/db"
	"github.com/sells-group/sab-crosswalk/internal/model"
)

// PostgresStore implements Store using pgxpool. Runs and results live in the
// crosswalk schema, separate from the geo schema the spatial engine owns.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; the caller keeps ownership of
// the pool's lifecycle. Used when the spatial engine and the store share one
// database.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (the spatial engine, the geo loaders).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS crosswalk;

CREATE TABLE IF NOT EXISTS crosswalk.runs (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL DEFAULT 'running',
	year           INTEGER NOT NULL,
	boundaries     INTEGER NOT NULL DEFAULT 0,
	capped         INTEGER NOT NULL DEFAULT 0,
	failed_regions JSONB,
	error          TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crosswalk.results (
	run_id      TEXT NOT NULL REFERENCES crosswalk.runs(id),
	boundary_id TEXT NOT NULL,
	tier        TEXT NOT NULL,
	regions     JSONB NOT NULL,
	stats       JSONB NOT NULL,
	PRIMARY KEY (run_id, boundary_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON crosswalk.runs(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, year int) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO crosswalk.runs (id, status, year, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(RunStatusRunning), year, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &Run{
		ID:        id,
		Status:    RunStatusRunning,
		Year:      year,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary RunSummary) error {
	regionsJSON, err := json.Marshal(summary.FailedRegions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal failed regions")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE crosswalk.runs SET status = $1, boundaries = $2, capped = $3, failed_regions = $4, updated_at = $5 WHERE id = $6`,
		string(RunStatusComplete), summary.Boundaries, summary.Capped, regionsJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crosswalk.runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(RunStatusFailed), cause.Error(), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, year, boundaries, capped, failed_regions, error, created_at, updated_at
		 FROM crosswalk.runs WHERE id = $1`,
		runID,
	)
	return scanPGRun(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, status, year, boundaries, capped, failed_regions, error, created_at, updated_at
	          FROM crosswalk.runs`
	var args []any

	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += placeholderClause(" LIMIT", len(args)+1)
	args = append(args, limit)

	if filter.Offset > 0 {
		query += placeholderClause(" OFFSET", len(args)+1)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPGRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveResults(ctx context.Context, runID string, records []model.ResultRecord) error {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		regionsJSON, valuesJSON, err := encodeResult(rec)
		if err != nil {
			return err
		}
		rows = append(rows, []any{runID, rec.BoundaryID, string(rec.Tier), []byte(regionsJSON), []byte(valuesJSON)})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "crosswalk.results",
		Columns:      []string{"run_id", "boundary_id", "tier", "regions", "stats"},
		ConflictKeys: []string{"run_id", "boundary_id"},
	}, rows)
	return eris.Wrapf(err, "postgres: save results for run %s", runID)
}

func (s *PostgresStore) Results(ctx context.Context, runID string) ([]model.ResultRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT boundary_id, tier, regions, stats FROM crosswalk.results WHERE run_id = $1 ORDER BY boundary_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query results")
	}
	defer rows.Close()

	var out []model.ResultRecord
	for rows.Next() {
		var rec model.ResultRecord
		var tier string
		var regionsJSON, valuesJSON []byte
		if err := rows.Scan(&rec.BoundaryID, &tier, &regionsJSON, &valuesJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		if err := decodeResult(&rec, tier, string(regionsJSON), string(valuesJSON)); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate results")
}

func scanPGRun(row scannable) (*Run, error) {
	var r Run
	var regionsJSON []byte
	var errMsg *string

	err := row.Scan(&r.ID, &r.Status, &r.Year, &r.Boundaries, &r.Capped, &regionsJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if len(regionsJSON) > 0 {
		if err := json.Unmarshal(regionsJSON, &r.FailedRegions); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal failed regions")
		}
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}

// placeholderClause renders e.g. " LIMIT $2" with the next positional
// parameter index.
func placeholderClause(keyword string, n int) string {
	return fmt.Sprintf("%s $%d", keyword, n)
}
