package pipeline

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/model"
)

// RegionOverlapThreshold is the minimum fraction of a boundary's original
// area inside a region for that region to participate in the boundary's
// estimate. Sliver overlaps below it are artifacts of boundary digitization,
// not genuine multi-state service areas.
const RegionOverlapThreshold = 0.20

// ResolveRegions assigns each boundary the sorted set of regions whose
// overlap fraction meets the threshold. A boundary with no qualifying
// overlap (zero-area geometry, or slivers only) is assigned the default
// region set so it still gets processed rather than silently vanishing.
func ResolveRegions(overlaps []model.RegionOverlap, boundaryIDs, defaults []string) map[string][]string {
	qualifying := make(map[string][]string)
	for _, o := range overlaps {
		if o.Fraction < RegionOverlapThreshold {
			continue
		}
		qualifying[o.BoundaryID] = append(qualifying[o.BoundaryID], o.Region)
	}

	assigned := make(map[string][]string, len(boundaryIDs))
	fellBack := 0
	for _, id := range boundaryIDs {
		regions := qualifying[id]
		if len(regions) == 0 {
			fellBack++
			regions = append([]string(nil), defaults...)
		}
		sort.Strings(regions)
		assigned[id] = regions
	}

	if fellBack > 0 {
		zap.L().Warn("pipeline: boundaries without qualifying region overlap assigned defaults",
			zap.Int("count", fellBack),
			zap.Strings("defaults", defaults),
		)
	}
	return assigned
}

// regionWork inverts a region assignment into per-region boundary lists,
// sorted for deterministic processing.
func regionWork(assigned map[string][]string) map[string][]string {
	work := make(map[string][]string)
	for id, regions := range assigned {
		for _, r := range regions {
			work[r] = append(work[r], id)
		}
	}
	for r := range work {
		sort.Strings(work[r])
	}
	return work
}
