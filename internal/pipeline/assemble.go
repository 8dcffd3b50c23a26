package pipeline

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/catalog"
	"github.com/sells-group/sab-crosswalk/internal/derive"
	"github.com/sells-group/sab-crosswalk/internal/model"
)

// assemble produces the run's final row set: every boundary appears exactly
// once, sorted by ID. Boundaries no tier resolved (excluded geometry, failed
// regions, absent from the parcel crosswalk) get a tier-3 row with every
// statistic null, so the output itself records that the boundary was seen
// and could not be estimated.
func assemble(cat *catalog.Catalog, rows []model.ResultRecord, allIDs []string, assigned map[string][]string) []model.ResultRecord {
	have := make(map[string]bool, len(rows))
	for i := range rows {
		have[rows[i].BoundaryID] = true
	}

	columns := derive.ColumnNames(cat)
	missing := 0
	for _, id := range allIDs {
		if have[id] {
			continue
		}
		missing++
		row := model.ResultRecord{
			BoundaryID: id,
			Tier:       model.TierThree,
			Regions:    assigned[id],
			Values:     make(map[string]*float64, len(columns)),
		}
		for _, c := range columns {
			row.Values[c] = nil
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].BoundaryID < rows[j].BoundaryID
	})

	if missing > 0 {
		zap.L().Info("pipeline: unresolved boundaries emitted as tier-3",
			zap.Int("count", missing),
		)
	}
	return rows
}
