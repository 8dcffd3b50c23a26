package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

const yamlCatalog = `
variables:
  - name: Total Population
    source_field: B01003_001E
    category: denominator
    method: pop_weighted
  - name: total_households
    source_field: B11001_001E
    category: denominator
    method: hh_weighted
  - name: poverty
    source_field: B17001_002E
    category: numerator
    method: pop_weighted
    universe: total_population
  - name: median_income
    source_field: B19013_001E
    method: hh_weighted_mean
    post_formula: ratio(median_income, total_households)
`

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlCatalog), 0o644))

	c, err := LoadYAML(path)
	require.NoError(t, err)
	assert.Len(t, c.Specs(), 4)

	s, ok := c.Lookup("median income")
	require.True(t, ok)
	require.NotNil(t, s.PostFormula)
	assert.Equal(t, []string{"median_income", "total_households"}, s.PostFormula.Inputs())
}

func TestLoadYAML_InvalidCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	// Numerator without a universe fails validation, not just parsing.
	bad := `
variables:
  - name: total_population
    category: denominator
    method: pop_weighted
  - name: poverty
    category: numerator
    method: pop_weighted
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))
	_, err := LoadYAML(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no universe")
}

func TestLoadYAML_MissingFile(t *testing.T) {
	_, err := LoadYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func writeTestWorkbook(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("variables")
	require.NoError(t, err)
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadXLSX(t *testing.T) {
	path := writeTestWorkbook(t, [][]string{
		{"Name", "Source Field", "Category", "Method", "Universe", "Pre Formula", "Post Formula"},
		{"Total Population", "B01003_001E", "denominator", "pop_weighted", "", "", ""},
		{"poverty", "B17001_002E", "numerator", "intensive-population-weighted", "Total Population", "", ""},
		{"", "", "", "", "", "", ""}, // blank padding row
	})

	c, err := LoadXLSX(path, "variables")
	require.NoError(t, err)
	assert.Len(t, c.Specs(), 2)

	s, ok := c.Lookup("poverty")
	require.True(t, ok)
	assert.Equal(t, MethodPopWeighted, s.Method)
	assert.Equal(t, "total_population", s.Universe)
}

func TestLoadXLSX_DefaultSheet(t *testing.T) {
	path := writeTestWorkbook(t, [][]string{
		{"name", "source_field", "category", "method", "universe"},
		{"total_population", "B01003_001E", "denominator", "pop_weighted", ""},
	})

	c, err := LoadXLSX(path, "")
	require.NoError(t, err)
	assert.Len(t, c.Specs(), 1)
}

func TestLoadXLSX_MissingSheet(t *testing.T) {
	path := writeTestWorkbook(t, [][]string{
		{"name", "source_field", "category", "method", "universe"},
		{"total_population", "", "denominator", "pop_weighted", ""},
	})

	_, err := LoadXLSX(path, "other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadXLSX_MissingColumn(t *testing.T) {
	path := writeTestWorkbook(t, [][]string{
		{"name", "source_field", "category"},
		{"total_population", "", "denominator"},
	})

	_, err := LoadXLSX(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}
