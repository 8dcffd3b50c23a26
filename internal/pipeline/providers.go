// Package pipeline orchestrates a crosswalk run: boundary normalization,
// region resolution, the per-region tier-1/tier-2 map, the multi-region
// merge, capping, and final assembly into one row per boundary.
package pipeline

import (
	"context"

	"github.com/sells-group/sab-crosswalk/internal/model"
	"github.com/sells-group/sab-crosswalk/internal/spatial"
)

// BoundaryProvider supplies the service-area boundaries of a run. Geometry
// stays in the geo schema; the provider returns attributes only.
type BoundaryProvider interface {
	Boundaries(ctx context.Context) ([]model.Boundary, error)
}

// StatisticsProvider supplies tract-level source statistics for one region
// and year. Implementations retry transient failures internally; the pipeline
// treats a returned error as the region's final failure.
type StatisticsProvider interface {
	Statistics(ctx context.Context, region string, year int, fields []string) ([]model.SourceStatistic, error)
}

// CrosswalkProvider supplies the precomputed parcel crosswalk weights for one
// region.
type CrosswalkProvider interface {
	Records(ctx context.Context, region string) ([]model.ParcelCrosswalkRecord, error)
}

// GeometryEngine is the spatial work the pipeline delegates to PostGIS.
// *spatial.Engine implements it; tests substitute stubs.
type GeometryEngine interface {
	NormalizeBoundaries(ctx context.Context) (*spatial.NormalizeReport, error)
	RegionOverlaps(ctx context.Context) ([]model.RegionOverlap, error)
	Apportion(ctx context.Context, region string, kernel spatial.Kernel) ([]spatial.Apportionment, error)
}
