package catalog

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"
)

// yamlSpec mirrors one entry of a YAML catalog file.
type yamlSpec struct {
	Name        string `yaml:"name"`
	SourceField string `yaml:"source_field"`
	Category    string `yaml:"category"`
	Method      string `yaml:"method"`
	Universe    string `yaml:"universe"`
	PreFormula  string `yaml:"pre_formula"`
	PostFormula string `yaml:"post_formula"`
}

// LoadYAML reads a variable catalog from a YAML file and validates it.
func LoadYAML(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}

	var doc struct {
		Variables []yamlSpec `yaml:"variables"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}

	specs := make([]VariableSpec, 0, len(doc.Variables))
	for _, y := range doc.Variables {
		s, err := buildSpec(y.Name, y.SourceField, y.Category, y.Method, y.Universe, y.PreFormula, y.PostFormula)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return New(specs)
}

// xlsx catalog column order. Analysts author the workbook; the first row is
// the header and is matched by name, not position.
var xlsxColumns = []string{
	"name", "source_field", "category", "method", "universe", "pre_formula", "post_formula",
}

// LoadXLSX reads a variable catalog from the named sheet of a workbook
// (sheet 0 when sheetName is empty) and validates it.
func LoadXLSX(path, sheetName string) (*Catalog, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: open workbook %s", path)
	}

	var sheet *xlsx.Sheet
	if sheetName != "" {
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("catalog: sheet %q not found in %s", sheetName, path)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.Errorf("catalog: workbook %s has no sheets", path)
		}
		sheet = f.Sheets[0]
	}

	if len(sheet.Rows) < 2 {
		return nil, eris.Errorf("catalog: sheet has no variable rows")
	}

	// Header row maps column names to indices.
	colIdx := make(map[string]int)
	for i, cell := range sheet.Rows[0].Cells {
		colIdx[NormalizeName(cell.String())] = i
	}
	for _, col := range xlsxColumns[:5] { // formulas are optional columns
		if _, ok := colIdx[col]; !ok {
			return nil, eris.Errorf("catalog: missing column %q", col)
		}
	}

	cell := func(row *xlsx.Row, col string) string {
		i, ok := colIdx[col]
		if !ok || i >= len(row.Cells) {
			return ""
		}
		return strings.TrimSpace(row.Cells[i].String())
	}

	var specs []VariableSpec
	for _, row := range sheet.Rows[1:] {
		name := cell(row, "name")
		if name == "" {
			continue // blank padding rows are common in authored sheets
		}
		s, err := buildSpec(
			name,
			cell(row, "source_field"),
			cell(row, "category"),
			cell(row, "method"),
			cell(row, "universe"),
			cell(row, "pre_formula"),
			cell(row, "post_formula"),
		)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return New(specs)
}

func buildSpec(name, sourceField, category, method, universe, pre, post string) (VariableSpec, error) {
	cat, err := ParseCategory(category)
	if err != nil {
		return VariableSpec{}, eris.Wrapf(err, "catalog: variable %q", name)
	}
	m, err := ParseMethod(method)
	if err != nil {
		return VariableSpec{}, eris.Wrapf(err, "catalog: variable %q", name)
	}
	preExpr, err := ParseExpr(pre)
	if err != nil {
		return VariableSpec{}, eris.Wrapf(err, "catalog: variable %q pre-formula", name)
	}
	postExpr, err := ParseExpr(post)
	if err != nil {
		return VariableSpec{}, eris.Wrapf(err, "catalog: variable %q post-formula", name)
	}
	return VariableSpec{
		Name:        name,
		SourceField: strings.TrimSpace(sourceField),
		Category:    cat,
		Method:      m,
		Universe:    universe,
		PreFormula:  preExpr,
		PostFormula: postExpr,
	}, nil
}
