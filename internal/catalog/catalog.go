// Package catalog validates and indexes the declarative table of crosswalk
// variables: what to pull from the source data, how to interpolate it, and
// how to derive percentages and composites from it.
package catalog

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
)

// TotalPopulation is the canonical (normalized) name of the required
// total-population variable. Tier acceptance and capping key off it.
const TotalPopulation = "total_population"

// TotalHouseholds is the canonical name of the optional total-households
// variable, used as the household analog during capping.
const TotalHouseholds = "total_households"

// Category classifies a variable's role in percentage derivation.
type Category int

const (
	// CategoryNone marks variables that take no part in derivation.
	CategoryNone Category = iota
	// CategoryNumerator marks variables divided by a universe.
	CategoryNumerator
	// CategoryDenominator marks universe variables.
	CategoryDenominator
)

// Method selects the areal-interpolation kernel for a variable.
type Method int

const (
	// MethodNone excludes the variable from interpolation.
	MethodNone Method = iota
	// MethodPopWeighted sums source counts apportioned by block population.
	MethodPopWeighted
	// MethodHouseholdWeighted sums source counts apportioned by housing units.
	MethodHouseholdWeighted
	// MethodHouseholdMean takes a housing-unit-weighted mean; for rate and
	// dollar variables (income) where summing is meaningless.
	MethodHouseholdMean
)

// Extensive reports whether the method produces a summable count.
func (m Method) Extensive() bool {
	return m == MethodPopWeighted || m == MethodHouseholdWeighted
}

// VariableSpec describes one target variable.
type VariableSpec struct {
	Name        string
	SourceField string
	Category    Category
	Method      Method
	Universe    string
	PreFormula  Expr // applied to source rows before interpolation
	PostFormula Expr // applied to result rows after derivation pass 1
}

// Catalog is the validated, indexed variable table.
type Catalog struct {
	specs []VariableSpec
	index map[string]int
}

var foldCaser = cases.Fold()

// NormalizeName lowercases (Unicode fold), trims, and collapses internal
// whitespace to underscores so lookups are case- and whitespace-insensitive.
func NormalizeName(name string) string {
	name = foldCaser.String(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}

// PercentName returns the derived-percentage column name for a numerator.
func PercentName(name string) string {
	return NormalizeName(name) + "_pct"
}

// New validates the ordered specs and builds the catalog. Validation
// failures are fatal: they indicate a misauthored variable table and must
// abort the run before any data is fetched.
func New(specs []VariableSpec) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(specs))}

	for _, s := range specs {
		s.Name = NormalizeName(s.Name)
		s.Universe = NormalizeName(s.Universe)
		if s.Name == "" {
			return nil, eris.New("catalog: variable with empty name")
		}
		if _, dup := c.index[s.Name]; dup {
			return nil, eris.Errorf("catalog: duplicate variable %q", s.Name)
		}
		if s.Category == CategoryNumerator {
			if s.Universe == "" {
				return nil, eris.Errorf("catalog: numerator %q has no universe", s.Name)
			}
			if s.Method == MethodNone {
				return nil, eris.Errorf("catalog: numerator %q has no interpolation method", s.Name)
			}
		}
		c.index[s.Name] = len(c.specs)
		c.specs = append(c.specs, s)
	}

	if _, ok := c.index[TotalPopulation]; !ok {
		return nil, eris.Errorf("catalog: required variable %q is missing", TotalPopulation)
	}

	// Universes must resolve to declared variables.
	for _, s := range c.specs {
		if s.Universe != "" {
			if _, ok := c.index[s.Universe]; !ok {
				return nil, eris.Errorf("catalog: variable %q references unknown universe %q", s.Name, s.Universe)
			}
		}
	}

	return c, nil
}

// Specs returns the variables in catalog order.
func (c *Catalog) Specs() []VariableSpec { return c.specs }

// Lookup finds a variable by name (any casing or spacing).
func (c *Catalog) Lookup(name string) (VariableSpec, bool) {
	i, ok := c.index[NormalizeName(name)]
	if !ok {
		return VariableSpec{}, false
	}
	return c.specs[i], true
}

// SourceFields returns the distinct source fields needed from the statistics
// provider, in catalog order.
func (c *Catalog) SourceFields() []string {
	seen := make(map[string]bool, len(c.specs))
	var out []string
	for _, s := range c.specs {
		if s.SourceField == "" || seen[s.SourceField] {
			continue
		}
		seen[s.SourceField] = true
		out = append(out, s.SourceField)
	}
	return out
}

// ByMethod returns the variables interpolated with the given method.
func (c *Catalog) ByMethod(m Method) []VariableSpec {
	var out []VariableSpec
	for _, s := range c.specs {
		if s.Method == m {
			out = append(out, s)
		}
	}
	return out
}

// Numerators returns every numerator variable.
func (c *Catalog) Numerators() []VariableSpec {
	var out []VariableSpec
	for _, s := range c.specs {
		if s.Category == CategoryNumerator {
			out = append(out, s)
		}
	}
	return out
}

// Denominators returns every universe variable.
func (c *Catalog) Denominators() []VariableSpec {
	var out []VariableSpec
	for _, s := range c.specs {
		if s.Category == CategoryDenominator {
			out = append(out, s)
		}
	}
	return out
}

// HouseholdBased reports whether a denominator's magnitude follows housing
// units rather than population, judged by its interpolation kernel.
func HouseholdBased(s VariableSpec) bool {
	return s.Method == MethodHouseholdWeighted || s.Method == MethodHouseholdMean
}

// ParseCategory maps a catalog cell to a Category.
func ParseCategory(s string) (Category, error) {
	switch NormalizeName(s) {
	case "", "none":
		return CategoryNone, nil
	case "numerator":
		return CategoryNumerator, nil
	case "denominator":
		return CategoryDenominator, nil
	}
	return CategoryNone, eris.Errorf("catalog: unknown category %q", s)
}

// ParseMethod maps a catalog cell to a Method. The legacy labels from the
// original spreadsheet ("intensive-population-weighted" etc.) are accepted
// as aliases of the kernel-named values.
func ParseMethod(s string) (Method, error) {
	switch NormalizeName(s) {
	case "", "none":
		return MethodNone, nil
	case "pop_weighted", "intensive-population-weighted":
		return MethodPopWeighted, nil
	case "hh_weighted", "intensive-household-weighted":
		return MethodHouseholdWeighted, nil
	case "hh_weighted_mean", "extensive-household-weighted":
		return MethodHouseholdMean, nil
	}
	return MethodNone, eris.Errorf("catalog: unknown interpolation method %q", s)
}
