package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sab-crosswalk/internal/catalog"
	"github.com/sells-group/sab-crosswalk/internal/crosswalk"
	"github.com/sells-group/sab-crosswalk/internal/derive"
	"github.com/sells-group/sab-crosswalk/internal/interp"
	"github.com/sells-group/sab-crosswalk/internal/model"
	"github.com/sells-group/sab-crosswalk/internal/spatial"
)

// Options configures a crosswalk run.
type Options struct {
	// Year is the source statistics vintage.
	Year int

	// DefaultRegions is the fallback region set for boundaries with no
	// qualifying region overlap.
	DefaultRegions []string

	// Concurrency bounds the per-region parallelism. Default 4.
	Concurrency int
}

// RunResult is everything a completed run produced.
type RunResult struct {
	// Rows holds exactly one record per boundary, sorted by boundary ID.
	Rows []model.ResultRecord

	// Normalize reports what boundary normalization changed.
	Normalize *spatial.NormalizeReport

	// Capped lists the boundaries whose tier-2 estimates were rescaled.
	Capped []string

	// FailedRegions maps each region whose processing failed to its error.
	// Boundaries resolvable only through failed regions come out tier-3.
	FailedRegions map[string]error
}

// Runner executes crosswalk runs. All fields are required.
type Runner struct {
	cat        *catalog.Catalog
	engine     GeometryEngine
	boundaries BoundaryProvider
	statistics StatisticsProvider
	parcels    CrosswalkProvider
	opts       Options
}

// NewRunner assembles a runner from its providers.
func NewRunner(
	cat *catalog.Catalog,
	engine GeometryEngine,
	boundaries BoundaryProvider,
	statistics StatisticsProvider,
	parcels CrosswalkProvider,
	opts Options,
) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Runner{
		cat:        cat,
		engine:     engine,
		boundaries: boundaries,
		statistics: statistics,
		parcels:    parcels,
		opts:       opts,
	}
}

// Run executes the full tiered crosswalk and returns one row per boundary.
// A region's failure is isolated: it is recorded in FailedRegions and its
// exclusively-dependent boundaries fall through to tier-3, while the rest of
// the run completes.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	bounds, err := r.boundaries.Boundaries(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load boundaries")
	}
	if len(bounds) == 0 {
		return nil, eris.New("pipeline: no boundaries to process")
	}

	norm, err := r.engine.NormalizeBoundaries(ctx)
	if err != nil {
		return nil, err
	}

	overlaps, err := r.engine.RegionOverlaps(ctx)
	if err != nil {
		return nil, err
	}

	dropped := make(map[string]bool, len(norm.Dropped))
	for _, id := range norm.Dropped {
		dropped[id] = true
	}

	allIDs := make([]string, 0, len(bounds))
	processable := make([]string, 0, len(bounds))
	reported := make(map[string]int64)
	for _, b := range bounds {
		allIDs = append(allIDs, b.ID)
		if !dropped[b.ID] {
			processable = append(processable, b.ID)
		}
		if b.ReportedPopulation != nil {
			reported[b.ID] = *b.ReportedPopulation
		}
	}

	assigned := ResolveRegions(overlaps, processable, r.opts.DefaultRegions)
	work := regionWork(assigned)

	byBoundary, failed := r.mapRegions(ctx, work)
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: run cancelled")
	}

	rows := make([]model.ResultRecord, 0, len(byBoundary))
	for _, id := range sortedRowKeys(byBoundary) {
		rows = append(rows, mergeBoundary(r.cat, byBoundary[id]))
	}

	derive.Apply(r.cat, rows)
	capped := crosswalk.Cap(r.cat, rows, reported)
	if len(capped) > 0 {
		// Capping rewrote raw counts; derived columns must follow.
		derive.Apply(r.cat, rows)
	}

	rows = assemble(r.cat, rows, allIDs, assigned)

	zap.L().Info("pipeline: run complete",
		zap.Int("boundaries", len(rows)),
		zap.Int("capped", len(capped)),
		zap.Int("failed_regions", len(failed)),
	)
	return &RunResult{
		Rows:          rows,
		Normalize:     norm,
		Capped:        capped,
		FailedRegions: failed,
	}, nil
}

// mapRegions runs each region's tier-1 and tier-2 estimation concurrently and
// collects rows by boundary. A region's error is recorded, not propagated.
func (r *Runner) mapRegions(ctx context.Context, work map[string][]string) (map[string][]model.ResultRecord, map[string]error) {
	var mu sync.Mutex
	byBoundary := make(map[string][]model.ResultRecord)
	failed := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for region, ids := range work {
		region, ids := region, ids
		g.Go(func() error {
			rows, err := r.runRegion(gctx, region, ids)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Error("pipeline: region failed",
					zap.String("region", region),
					zap.Error(err),
				)
				failed[region] = err
				return nil
			}
			for _, row := range rows {
				byBoundary[row.BoundaryID] = append(byBoundary[row.BoundaryID], row)
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; failures land in the map

	return byBoundary, failed
}

// runRegion produces a region's tier-1 rows plus tier-2 rows for the
// boundaries tier-1 deferred.
func (r *Runner) runRegion(ctx context.Context, region string, ids []string) ([]model.ResultRecord, error) {
	stats, err := r.statistics.Statistics(ctx, region, r.opts.Year, r.cat.SourceFields())
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: statistics for region %s", region)
	}

	popApp, err := r.engine.Apportion(ctx, region, spatial.KernelPopulation)
	if err != nil {
		return nil, err
	}
	hhApp, err := r.engine.Apportion(ctx, region, spatial.KernelHousing)
	if err != nil {
		return nil, err
	}

	res := interp.Interpolate(r.cat, stats, popApp, hhApp, region, ids)
	rows := res.Accepted

	if len(res.Deferred) > 0 {
		records, err := r.parcels.Records(ctx, region)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: parcel crosswalk for region %s", region)
		}

		deferred := make(map[string]bool, len(res.Deferred))
		for _, id := range res.Deferred {
			deferred[id] = true
		}
		var subset []model.ParcelCrosswalkRecord
		for _, rec := range records {
			if deferred[rec.BoundaryID] {
				subset = append(subset, rec)
			}
		}
		rows = append(rows, crosswalk.Apply(r.cat, subset, stats, region)...)
	}

	return rows, nil
}

func sortedRowKeys(m map[string][]model.ResultRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
