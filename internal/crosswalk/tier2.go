// Package crosswalk implements tier-2 estimation: applying a precomputed
// parcel-level weight table to boundaries areal interpolation failed for,
// and capping those estimates against authoritative reported populations.
package crosswalk

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/catalog"
	"github.com/sells-group/sab-crosswalk/internal/interp"
	"github.com/sells-group/sab-crosswalk/internal/model"
)

// Apply estimates variables for the deferred boundaries from parcel
// crosswalk weights. Each record contributes weight × tract value; extensive
// variables sum the contributions per boundary, mean-method variables take
// the weighted mean with the same weights. Rows are tagged tier-2-raw.
//
// Boundaries absent from the crosswalk table produce no row; the assembler
// emits them as tier-3.
func Apply(
	cat *catalog.Catalog,
	records []model.ParcelCrosswalkRecord,
	stats []model.SourceStatistic,
	region string,
) []model.ResultRecord {
	tracts := interp.PivotStatistics(cat, stats)

	byBoundary := make(map[string][]model.ParcelCrosswalkRecord)
	for _, r := range records {
		byBoundary[r.BoundaryID] = append(byBoundary[r.BoundaryID], r)
	}

	ids := make([]string, 0, len(byBoundary))
	for id := range byBoundary {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows []model.ResultRecord
	for _, id := range ids {
		recs := byBoundary[id]
		row := model.ResultRecord{
			BoundaryID: id,
			Tier:       model.TierTwoRaw,
			Regions:    []string{region},
			Values:     make(map[string]*float64),
		}

		for _, s := range cat.Specs() {
			switch {
			case s.Method.Extensive():
				row.Values[s.Name] = weightedSum(tracts, recs, s.Name)
			case s.Method == catalog.MethodHouseholdMean:
				row.Values[s.Name] = weightedMean(tracts, recs, s.Name)
			}
		}

		rows = append(rows, row)
	}

	zap.L().Debug("crosswalk: tier-2 applied",
		zap.String("region", region),
		zap.Int("boundaries", len(rows)),
	)
	return rows
}

func weightedSum(tracts map[string]map[string]*float64, recs []model.ParcelCrosswalkRecord, name string) *float64 {
	var sum float64
	seen := false
	for _, r := range recs {
		v := tracts[r.GeoID][name]
		if v == nil {
			continue
		}
		sum += *v * r.Weight
		seen = true
	}
	if !seen {
		return nil
	}
	return &sum
}

func weightedMean(tracts map[string]map[string]*float64, recs []model.ParcelCrosswalkRecord, name string) *float64 {
	var num, den float64
	for _, r := range recs {
		v := tracts[r.GeoID][name]
		if v == nil || r.Weight == 0 {
			continue
		}
		num += *v * r.Weight
		den += r.Weight
	}
	if den == 0 {
		return nil
	}
	mean := num / den
	return &mean
}
