package spatial

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/db"
	"github.com/sells-group/sab-crosswalk/internal/model"
)

// Kernel selects which block-level count apportions tract values onto
// boundaries.
type Kernel string

const (
	// KernelPopulation apportions by block population.
	KernelPopulation Kernel = "population"
	// KernelHousing apportions by block housing-unit counts.
	KernelHousing Kernel = "housing_units"
)

// kernelColumns is an allowlist of weight columns; it keeps the kernel
// parameter out of SQL injection territory.
var kernelColumns = map[Kernel]string{
	KernelPopulation: "population",
	KernelHousing:    "housing_units",
}

// Options configures an Engine for one run.
type Options struct {
	// Schema is the PostGIS schema holding the geo tables. Default "geo".
	Schema string

	// LenientGeometry repairs invalid boundary geometries with ST_MakeValid
	// instead of failing the run. Repair can alter a boundary's footprint and
	// is applied only to geometries that fail ST_IsValid. Scoped to the run;
	// there is no process-global validation switch.
	LenientGeometry bool
}

func (o Options) schema() string {
	if o.Schema == "" {
		return "geo"
	}
	return o.Schema
}

// Apportionment is the allocated share of one tract's kernel weight inside
// one boundary: Allocated = Σ over the tract's blocks of
// weight · intersectionArea/blockArea, Total = the tract's full kernel weight.
type Apportionment struct {
	BoundaryID string
	GeoID      string
	Allocated  float64
	Total      float64
}

// Fraction returns Allocated/Total, zero when the tract carries no weight.
func (a Apportionment) Fraction() float64 {
	if a.Total == 0 {
		return 0
	}
	return a.Allocated / a.Total
}

// NormalizeReport summarizes what boundary normalization changed.
type NormalizeReport struct {
	Reprojected int64    // geometries transformed to EPSG:4326
	Repaired    []string // boundary IDs whose geometry ST_MakeValid altered
	Dropped     []string // boundary IDs excluded from spatial processing
}

// Engine runs the crosswalk's spatial queries against PostGIS.
type Engine struct {
	pool db.Pool
	opts Options
}

// NewEngine creates a spatial engine. Returns nil if pool is nil.
func NewEngine(pool db.Pool, opts Options) *Engine {
	if pool == nil {
		return nil
	}
	return &Engine{pool: pool, opts: opts}
}

// NormalizeBoundaries reprojects every service-area geometry to EPSG:4326,
// records pre-repair areas, excludes geometry types interpolation cannot
// process, and repairs invalid geometries when LenientGeometry is set. With
// strict validation, any invalid geometry fails the run.
func (e *Engine) NormalizeBoundaries(ctx context.Context) (*NormalizeReport, error) {
	s := e.opts.schema()
	report := &NormalizeReport{}

	tag, err := e.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s.service_areas SET geom = ST_Transform(geom, %d) WHERE ST_SRID(geom) <> %d`,
		s, WGS84, WGS84,
	))
	if err != nil {
		return nil, eris.Wrap(err, "spatial: reproject boundaries")
	}
	report.Reprojected = tag.RowsAffected()

	// Overlap fractions divide by the boundary's original area, so it is
	// captured before any repair can change the footprint.
	if _, err := e.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s.service_areas SET orig_area = ST_Area(geom::geography) WHERE orig_area IS NULL`,
		s,
	)); err != nil {
		return nil, eris.Wrap(err, "spatial: record original areas")
	}

	dropped, err := e.collectIDs(ctx, fmt.Sprintf(
		`UPDATE %s.service_areas SET excluded = TRUE
		 WHERE NOT excluded AND (geom IS NULL OR GeometryType(geom) NOT IN ('POLYGON', 'MULTIPOLYGON'))
		 RETURNING sab_id`,
		s,
	))
	if err != nil {
		return nil, eris.Wrap(err, "spatial: exclude unsupported geometry types")
	}
	report.Dropped = dropped

	if e.opts.LenientGeometry {
		repaired, err := e.collectIDs(ctx, fmt.Sprintf(
			`UPDATE %s.service_areas
			 SET geom = ST_Multi(ST_CollectionExtract(ST_MakeValid(geom), 3))
			 WHERE NOT excluded AND NOT ST_IsValid(geom)
			 RETURNING sab_id`,
			s,
		))
		if err != nil {
			return nil, eris.Wrap(err, "spatial: repair invalid boundaries")
		}
		report.Repaired = repaired
	} else {
		invalid, err := e.collectIDs(ctx, fmt.Sprintf(
			`SELECT sab_id FROM %s.service_areas WHERE NOT excluded AND NOT ST_IsValid(geom)`,
			s,
		))
		if err != nil {
			return nil, eris.Wrap(err, "spatial: check boundary validity")
		}
		if len(invalid) > 0 {
			return nil, eris.Errorf("spatial: %d invalid boundary geometries (first: %s); enable lenient geometry to repair", len(invalid), invalid[0])
		}
	}

	zap.L().Info("spatial: boundaries normalized",
		zap.Int64("reprojected", report.Reprojected),
		zap.Int("repaired", len(report.Repaired)),
		zap.Int("dropped", len(report.Dropped)),
	)
	return report, nil
}

// RegionOverlaps computes, for every processable boundary, the fraction of
// its original area inside each region it intersects. Thresholding is the
// resolver's job, not the query's.
func (e *Engine) RegionOverlaps(ctx context.Context) ([]model.RegionOverlap, error) {
	s := e.opts.schema()
	sql := fmt.Sprintf(`
		SELECT b.sab_id, r.region_code,
		       ST_Area(ST_Intersection(b.geom, r.geom)::geography) / NULLIF(b.orig_area, 0)
		FROM %s.service_areas b
		JOIN %s.regions r ON ST_Intersects(b.geom, r.geom)
		WHERE NOT b.excluded`,
		s, s,
	)

	rows, err := e.pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: region overlaps query")
	}
	defer rows.Close()

	var out []model.RegionOverlap
	for rows.Next() {
		var o model.RegionOverlap
		var frac *float64
		if err := rows.Scan(&o.BoundaryID, &o.Region, &frac); err != nil {
			return nil, eris.Wrap(err, "spatial: scan region overlap")
		}
		if frac == nil {
			continue // zero-area boundary; resolver falls back to defaults
		}
		o.Fraction = *frac
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "spatial: iterate region overlaps")
	}
	return out, nil
}

// Apportion computes, per boundary and tract in one region, the kernel
// weight allocated to the boundary and the tract's total kernel weight.
// Block weights are split by area fraction of the block inside the boundary.
func (e *Engine) Apportion(ctx context.Context, region string, kernel Kernel) ([]Apportionment, error) {
	col, ok := kernelColumns[kernel]
	if !ok {
		return nil, eris.Errorf("spatial: unknown kernel %q", kernel)
	}

	s := e.opts.schema()
	sql := fmt.Sprintf(`
		SELECT b.sab_id, w.parent_geoid,
		       SUM(w.%s * ST_Area(ST_Intersection(w.geom, b.geom)) / NULLIF(ST_Area(w.geom), 0)),
		       t.total
		FROM %s.weight_units w
		JOIN %s.service_areas b ON NOT b.excluded AND ST_Intersects(w.geom, b.geom)
		JOIN (
			SELECT parent_geoid, SUM(%s) AS total
			FROM %s.weight_units WHERE region_code = $1 GROUP BY parent_geoid
		) t ON t.parent_geoid = w.parent_geoid
		WHERE w.region_code = $1
		GROUP BY b.sab_id, w.parent_geoid, t.total`,
		col, s, s, col, s,
	)

	rows, err := e.pool.Query(ctx, sql, region)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: apportion %s in region %s", kernel, region)
	}
	defer rows.Close()

	var out []Apportionment
	for rows.Next() {
		var a Apportionment
		var allocated *float64
		if err := rows.Scan(&a.BoundaryID, &a.GeoID, &allocated, &a.Total); err != nil {
			return nil, eris.Wrap(err, "spatial: scan apportionment")
		}
		if allocated == nil {
			continue
		}
		a.Allocated = *allocated
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "spatial: iterate apportionments")
	}
	return out, nil
}

func (e *Engine) collectIDs(ctx context.Context, sql string) ([]string, error) {
	rows, err := e.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
