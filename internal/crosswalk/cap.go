package crosswalk

import (
	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/catalog"
	"github.com/sells-group/sab-crosswalk/internal/model"
)

// Cap rescales tier-2-raw rows whose interpolated total population exceeds
// the boundary's authoritative reported population. The parcel crosswalk is
// known to systematically overestimate, so the authoritative figure bounds
// the result while the row's internal proportions are preserved:
//
//   - each population-based denominator keeps its share of total population,
//     applied to the authoritative total;
//   - household-based denominators keep their share of total households,
//     applied to the household analog of the scaling (so household
//     proportions stay self-consistent rather than being forced to the
//     population ratio);
//   - every numerator is rebuilt as (percentage/100) × its scaled universe.
//
// Cap therefore requires the derived percentages of the raw row; callers run
// the derive pass before capping and again after (capping mutates the raw
// counts the percentages came from).
//
// Mutates rows in place, retagging scaled rows tier-2-capped, and returns
// the IDs of the capped boundaries.
func Cap(cat *catalog.Catalog, rows []model.ResultRecord, reported map[string]int64) []string {
	var capped []string

	for i := range rows {
		row := &rows[i]
		if row.Tier != model.TierTwoRaw {
			continue
		}
		auth, ok := reported[row.BoundaryID]
		if !ok || auth < 0 {
			continue
		}
		totalPop := row.Value(catalog.TotalPopulation)
		if totalPop == nil || *totalPop <= float64(auth) {
			continue
		}

		capRow(cat, row, *totalPop, float64(auth))
		row.Tier = model.TierTwoCapped
		capped = append(capped, row.BoundaryID)
	}

	if len(capped) > 0 {
		zap.L().Debug("crosswalk: capped overestimated boundaries", zap.Int("count", len(capped)))
	}
	return capped
}

func capRow(cat *catalog.Catalog, row *model.ResultRecord, totalPop, auth float64) {
	popRatio := auth / totalPop

	// The household analog: scale total households by the population ratio,
	// then hold every household denominator to its share of that total.
	var hhTotal, hhScaled float64
	if v := row.Value(catalog.TotalHouseholds); v != nil && *v > 0 {
		hhTotal = *v
		hhScaled = hhTotal * popRatio
	}

	// Denominators first; numerators are rebuilt from their universes.
	scaled := make(map[string]float64)
	for _, s := range cat.Denominators() {
		v := row.Value(s.Name)
		if v == nil {
			continue
		}
		var nv float64
		if catalog.HouseholdBased(s) && hhTotal > 0 {
			nv = (*v / hhTotal) * hhScaled
		} else {
			nv = (*v / totalPop) * auth
		}
		scaled[s.Name] = nv
		row.Set(s.Name, &nv)
	}

	for _, s := range cat.Numerators() {
		pct := row.Value(catalog.PercentName(s.Name))
		if pct == nil {
			row.Set(s.Name, nil)
			continue
		}
		universe, ok := scaled[s.Universe]
		if !ok {
			if u := row.Value(s.Universe); u != nil {
				universe = *u
			} else {
				row.Set(s.Name, nil)
				continue
			}
		}
		nv := (*pct / 100) * universe
		row.Set(s.Name, &nv)
	}
}
