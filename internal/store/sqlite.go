package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sab-crosswalk/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL DEFAULT 'running',
	year           INTEGER NOT NULL,
	boundaries     INTEGER NOT NULL DEFAULT 0,
	capped         INTEGER NOT NULL DEFAULT 0,
	failed_regions TEXT,
	error          TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS results (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	boundary_id TEXT NOT NULL,
	tier        TEXT NOT NULL,
	regions     TEXT NOT NULL,
	stats       TEXT NOT NULL,
	PRIMARY KEY (run_id, boundary_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, year int) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, year, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(RunStatusRunning), year, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &Run{
		ID:        id,
		Status:    RunStatusRunning,
		Year:      year,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary RunSummary) error {
	regionsJSON, err := json.Marshal(summary.FailedRegions)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal failed regions")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, boundaries = ?, capped = ?, failed_regions = ?, updated_at = ? WHERE id = ?`,
		string(RunStatusComplete), summary.Boundaries, summary.Capped, string(regionsJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(RunStatusFailed), cause.Error(), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, year, boundaries, capped, failed_regions, error, created_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, status, year, boundaries, capped, failed_regions, error, created_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveResults(ctx context.Context, runID string, records []model.ResultRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin results tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, boundary_id, tier, regions, stats) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, boundary_id) DO UPDATE SET tier = excluded.tier, regions = excluded.regions, stats = excluded.stats`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare results insert")
	}
	defer stmt.Close()

	for _, rec := range records {
		regionsJSON, valuesJSON, err := encodeResult(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, runID, rec.BoundaryID, string(rec.Tier), regionsJSON, valuesJSON); err != nil {
			return eris.Wrapf(err, "sqlite: insert result for boundary %s", rec.BoundaryID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit results")
}

func (s *SQLiteStore) Results(ctx context.Context, runID string) ([]model.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT boundary_id, tier, regions, stats FROM results WHERE run_id = ? ORDER BY boundary_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query results")
	}
	defer rows.Close()

	var out []model.ResultRecord
	for rows.Next() {
		var rec model.ResultRecord
		var tier, regionsJSON, valuesJSON string
		if err := rows.Scan(&rec.BoundaryID, &tier, &regionsJSON, &valuesJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		if err := decodeResult(&rec, tier, regionsJSON, valuesJSON); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var regionsJSON, errMsg sql.NullString

	err := row.Scan(&r.ID, &r.Status, &r.Year, &r.Boundaries, &r.Capped, &regionsJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	if regionsJSON.Valid && regionsJSON.String != "" {
		if err := json.Unmarshal([]byte(regionsJSON.String), &r.FailedRegions); err != nil {
			return nil, eris.Wrap(err, "unmarshal failed regions")
		}
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	return &r, nil
}

func encodeResult(rec model.ResultRecord) (regionsJSON, valuesJSON string, err error) {
	rj, err := json.Marshal(rec.Regions)
	if err != nil {
		return "", "", eris.Wrapf(err, "marshal regions for boundary %s", rec.BoundaryID)
	}
	vj, err := json.Marshal(rec.Values)
	if err != nil {
		return "", "", eris.Wrapf(err, "marshal values for boundary %s", rec.BoundaryID)
	}
	return string(rj), string(vj), nil
}

func decodeResult(rec *model.ResultRecord, tier, regionsJSON, valuesJSON string) error {
	rec.Tier = model.Tier(tier)
	if err := json.Unmarshal([]byte(regionsJSON), &rec.Regions); err != nil {
		return eris.Wrapf(err, "unmarshal regions for boundary %s", rec.BoundaryID)
	}
	if err := json.Unmarshal([]byte(valuesJSON), &rec.Values); err != nil {
		return eris.Wrapf(err, "unmarshal values for boundary %s", rec.BoundaryID)
	}
	return nil
}
