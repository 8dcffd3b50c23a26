package sab

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sab-crosswalk/internal/db"
	"github.com/sells-group/sab-crosswalk/internal/model"
)

// Provider serves boundaries and parcel crosswalk records from the geo
// schema. It backs the pipeline's BoundaryProvider and CrosswalkProvider.
type Provider struct {
	pool   db.Pool
	schema string
}

// NewProvider creates a provider over the given schema (default "geo").
func NewProvider(pool db.Pool, schema string) *Provider {
	if schema == "" {
		schema = "geo"
	}
	return &Provider{pool: pool, schema: schema}
}

// Boundaries returns every loaded service area, including ones normalization
// later excludes; the pipeline needs the full set to emit tier-3 rows.
func (p *Provider) Boundaries(ctx context.Context) ([]model.Boundary, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT sab_id, COALESCE(name, ''), reported_population FROM `+p.schema+`.service_areas ORDER BY sab_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sab: query boundaries")
	}
	defer rows.Close()

	var out []model.Boundary
	for rows.Next() {
		var b model.Boundary
		if err := rows.Scan(&b.ID, &b.Name, &b.ReportedPopulation); err != nil {
			return nil, eris.Wrap(err, "sab: scan boundary")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sab: iterate boundaries")
}

// Records returns the parcel crosswalk entries whose tract lies in the given
// region. Tract GEOIDs start with the region's FIPS code.
func (p *Provider) Records(ctx context.Context, region string) ([]model.ParcelCrosswalkRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT sab_id, geoid, weight FROM `+p.schema+`.parcel_crosswalk WHERE geoid LIKE $1 ORDER BY sab_id, geoid`,
		region+"%",
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sab: query parcel crosswalk for region %s", region)
	}
	defer rows.Close()

	var out []model.ParcelCrosswalkRecord
	for rows.Next() {
		var r model.ParcelCrosswalkRecord
		if err := rows.Scan(&r.BoundaryID, &r.GeoID, &r.Weight); err != nil {
			return nil, eris.Wrap(err, "sab: scan parcel crosswalk record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sab: iterate parcel crosswalk")
}
