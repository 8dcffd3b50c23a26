package pipeline

import (
	"sort"
	"strings"

	"github.com/sells-group/sab-crosswalk/internal/catalog"
	"github.com/sells-group/sab-crosswalk/internal/derive"
	"github.com/sells-group/sab-crosswalk/internal/model"
)

// mergeBoundary reduces a boundary's per-region rows to one. Single-region
// boundaries pass through. For multi-region boundaries the per-region derived
// columns are stripped first, raw values are merged (extensive variables sum,
// mean-method variables average), and derivation later runs once on the
// merged row. Tier and region tags concatenate the contributors.
func mergeBoundary(cat *catalog.Catalog, rows []model.ResultRecord) model.ResultRecord {
	if len(rows) == 1 {
		return rows[0]
	}

	// Deterministic merge order regardless of which region finished first.
	sort.Slice(rows, func(i, j int) bool {
		return strings.Join(rows[i].Regions, ",") < strings.Join(rows[j].Regions, ",")
	})

	merged := model.ResultRecord{
		BoundaryID: rows[0].BoundaryID,
		Values:     make(map[string]*float64),
	}

	regionSet := make(map[string]bool)
	tierSet := make(map[model.Tier]bool)
	for i := range rows {
		derive.StripPercentages(cat, &rows[i])
		for _, r := range rows[i].Regions {
			regionSet[r] = true
		}
		tierSet[rows[i].Tier] = true
	}
	merged.Regions = sortedKeys(regionSet)
	merged.Tier = concatTiers(tierSet)

	for _, s := range cat.Specs() {
		if s.Method == catalog.MethodHouseholdMean {
			merged.Values[s.Name] = meanOf(rows, s.Name)
		} else {
			merged.Values[s.Name] = sumOf(rows, s.Name)
		}
	}
	return merged
}

// sumOf adds the non-null per-region values; all-null stays null.
func sumOf(rows []model.ResultRecord, name string) *float64 {
	var sum float64
	seen := false
	for i := range rows {
		if v := rows[i].Value(name); v != nil {
			sum += *v
			seen = true
		}
	}
	if !seen {
		return nil
	}
	return &sum
}

// meanOf averages the non-null per-region values. Mean-method variables are
// rates; summing them across regions would double-count.
func meanOf(rows []model.ResultRecord, name string) *float64 {
	var sum float64
	n := 0
	for i := range rows {
		if v := rows[i].Value(name); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func concatTiers(set map[model.Tier]bool) model.Tier {
	parts := make([]string, 0, len(set))
	for t := range set {
		parts = append(parts, string(t))
	}
	sort.Strings(parts)
	return model.Tier(strings.Join(parts, "+"))
}
