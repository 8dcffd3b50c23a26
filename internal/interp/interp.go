// Package interp implements tier-1 estimation: population/housing-weighted
// areal interpolation of tract-level statistics onto boundary polygons.
//
// The spatial engine supplies apportionments (how much of each tract's
// kernel weight falls inside each boundary); this package is pure
// computation over those apportionments and the source statistics.
package interp

import (
	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/catalog"
	"github.com/sells-group/sab-crosswalk/internal/model"
	"github.com/sells-group/sab-crosswalk/internal/spatial"
)

// Result splits a region's boundaries into tier-1 rows and deferrals.
type Result struct {
	// Accepted holds one tier-1 row per boundary whose interpolated total
	// population is non-null and non-zero.
	Accepted []model.ResultRecord

	// Deferred lists boundaries tier-1 could not resolve; they fall through
	// to the parcel crosswalk.
	Deferred []string
}

// PivotStatistics turns flat source statistics into per-tract rows keyed by
// catalog variable name, then applies each variable's pre-interpolation
// formula. Source statistics are keyed by source field; a field shared by
// several variables feeds them all.
func PivotStatistics(cat *catalog.Catalog, stats []model.SourceStatistic) map[string]map[string]*float64 {
	byField := make(map[string][]catalog.VariableSpec)
	for _, s := range cat.Specs() {
		if s.SourceField != "" {
			byField[s.SourceField] = append(byField[s.SourceField], s)
		}
	}

	rows := make(map[string]map[string]*float64)
	for _, st := range stats {
		specs, ok := byField[st.Variable]
		if !ok {
			continue
		}
		row := rows[st.GeoID]
		if row == nil {
			row = make(map[string]*float64)
			rows[st.GeoID] = row
		}
		for _, s := range specs {
			row[s.Name] = st.Value
		}
	}

	// Pre-interpolation formulas run on source rows, in catalog order, so a
	// rate can be derived from two raw counts before interpolation sees it.
	for _, row := range rows {
		for _, s := range cat.Specs() {
			if s.PreFormula != nil {
				row[s.Name] = s.PreFormula.Eval(row)
			}
		}
	}

	return rows
}

// Interpolate produces tier-1 estimates for every boundary in boundaryIDs.
// pop and housing are the region's apportionments for the two kernels.
// Variables are partitioned by interpolation method because each method uses
// a different weighting kernel.
func Interpolate(
	cat *catalog.Catalog,
	stats []model.SourceStatistic,
	pop, housing []spatial.Apportionment,
	region string,
	boundaryIDs []string,
) Result {
	tracts := PivotStatistics(cat, stats)
	popByBoundary := groupApportionments(pop)
	hhByBoundary := groupApportionments(housing)

	var res Result
	for _, id := range boundaryIDs {
		row := model.ResultRecord{
			BoundaryID: id,
			Tier:       model.TierOne,
			Regions:    []string{region},
			Values:     make(map[string]*float64),
		}

		for _, s := range cat.ByMethod(catalog.MethodPopWeighted) {
			row.Values[s.Name] = weightedSum(tracts, popByBoundary[id], s.Name)
		}
		for _, s := range cat.ByMethod(catalog.MethodHouseholdWeighted) {
			row.Values[s.Name] = weightedSum(tracts, hhByBoundary[id], s.Name)
		}
		for _, s := range cat.ByMethod(catalog.MethodHouseholdMean) {
			row.Values[s.Name] = weightedMean(tracts, hhByBoundary[id], s.Name)
		}

		// Zero or null population is the designed trigger for tier fallback,
		// not an error.
		if totalPop := row.Values[catalog.TotalPopulation]; totalPop == nil || *totalPop == 0 {
			res.Deferred = append(res.Deferred, id)
			continue
		}
		res.Accepted = append(res.Accepted, row)
	}

	zap.L().Debug("interp: tier-1 complete",
		zap.String("region", region),
		zap.Int("accepted", len(res.Accepted)),
		zap.Int("deferred", len(res.Deferred)),
	)
	return res
}

// weightedSum is extensive interpolation: each tract contributes its value
// scaled by the fraction of its kernel weight inside the boundary. Tracts
// with null values are skipped; all-null input yields null.
func weightedSum(tracts map[string]map[string]*float64, apps []spatial.Apportionment, name string) *float64 {
	var sum float64
	seen := false
	for _, a := range apps {
		v := tracts[a.GeoID][name]
		if v == nil {
			continue
		}
		sum += *v * a.Fraction()
		seen = true
	}
	if !seen {
		return nil
	}
	return &sum
}

// weightedMean is intensive interpolation for rate and dollar variables:
// tract values averaged with the allocated kernel weight, never summed.
func weightedMean(tracts map[string]map[string]*float64, apps []spatial.Apportionment, name string) *float64 {
	var num, den float64
	for _, a := range apps {
		v := tracts[a.GeoID][name]
		if v == nil || a.Allocated == 0 {
			continue
		}
		num += *v * a.Allocated
		den += a.Allocated
	}
	if den == 0 {
		return nil
	}
	mean := num / den
	return &mean
}

func groupApportionments(apps []spatial.Apportionment) map[string][]spatial.Apportionment {
	out := make(map[string][]spatial.Apportionment)
	for _, a := range apps {
		out[a.BoundaryID] = append(out[a.BoundaryID], a)
	}
	return out
}
