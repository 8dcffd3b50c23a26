// Package derive computes universe percentages and formula-based variables
// on result rows. It runs after tier-1, after raw tier-2, and again after
// capping, because capping mutates the raw counts the percentages are
// derived from.
package derive

import (
	"github.com/sells-group/sab-crosswalk/internal/catalog"
	"github.com/sells-group/sab-crosswalk/internal/model"
)

// Apply mutates each row in place with two passes:
//
//  1. every numerator with a universe gets a <name>_pct column,
//     100 * value / universe; null when the universe is null or zero.
//  2. every post-interpolation formula is evaluated and its output becomes
//     the variable's value; pass 2 runs second so formulas may reference the
//     _pct columns from pass 1.
//
// A null or zero universe is data, not an error: the affected column is null
// and the run continues.
func Apply(cat *catalog.Catalog, rows []model.ResultRecord) {
	for i := range rows {
		applyRow(cat, &rows[i])
	}
}

// StripPercentages removes every _pct column from the row. The multi-region
// merge strips before merging raw values so a stale per-region percentage can
// never survive into a merged row; re-derivation is the only way a merged row
// gets percentages.
func StripPercentages(cat *catalog.Catalog, row *model.ResultRecord) {
	for _, s := range cat.Numerators() {
		delete(row.Values, catalog.PercentName(s.Name))
	}
}

// ColumnNames lists every output column for a catalog: raw variables in
// catalog order followed by the derived percentage columns.
func ColumnNames(cat *catalog.Catalog) []string {
	var out []string
	for _, s := range cat.Specs() {
		out = append(out, s.Name)
	}
	for _, s := range cat.Numerators() {
		out = append(out, catalog.PercentName(s.Name))
	}
	return out
}

func applyRow(cat *catalog.Catalog, row *model.ResultRecord) {
	for _, s := range cat.Numerators() {
		pct := catalog.Ratio{Num: s.Name, Den: s.Universe, Scale: 100}
		row.Set(catalog.PercentName(s.Name), pct.Eval(row.Values))
	}

	for _, s := range cat.Specs() {
		if s.PostFormula == nil {
			continue
		}
		row.Set(s.Name, s.PostFormula.Eval(row.Values))
	}
}
