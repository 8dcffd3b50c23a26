package spatial

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/db"
)

//go:embed migrations/*.sql
var geoMigrationFS embed.FS

// Migrate applies all pending geo-schema migrations in lexicographic order.
// An advisory lock prevents concurrent runs from racing each other.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "spatial.migrate"))

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock(772031)"); err != nil {
		return eris.Wrap(err, "spatial: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock(772031)"); err != nil {
			log.Warn("spatial: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS geo`); err != nil {
		return eris.Wrap(err, "spatial: create geo schema")
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS geo.schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL
		)`); err != nil {
		return eris.Wrap(err, "spatial: create migration table")
	}

	entries, err := fs.ReadDir(geoMigrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "spatial: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := geoMigrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "spatial: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "spatial: apply migration %s", name)
		}
		if _, err := pool.Exec(ctx,
			"INSERT INTO geo.schema_migrations (filename, applied_at) VALUES ($1, now())", name,
		); err != nil {
			return eris.Wrapf(err, "spatial: record migration %s", name)
		}
	}

	return nil
}

func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM geo.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "spatial: list applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "spatial: scan applied migration")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
