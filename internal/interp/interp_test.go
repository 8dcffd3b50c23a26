package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sab-crosswalk/internal/catalog"
	"github.com/sells-group/sab-crosswalk/internal/model"
	"github.com/sells-group/sab-crosswalk/internal/spatial"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.VariableSpec{
		{Name: "total_population", SourceField: "B01003_001E", Category: catalog.CategoryDenominator, Method: catalog.MethodPopWeighted},
		{Name: "total_households", SourceField: "B11001_001E", Category: catalog.CategoryDenominator, Method: catalog.MethodHouseholdWeighted},
		{Name: "poverty", SourceField: "B17001_002E", Category: catalog.CategoryNumerator, Method: catalog.MethodPopWeighted, Universe: "total_population"},
		{Name: "median_income", SourceField: "B19013_001E", Category: catalog.CategoryNone, Method: catalog.MethodHouseholdMean},
	})
	require.NoError(t, err)
	return c
}

func stats() []model.SourceStatistic {
	return []model.SourceStatistic{
		{GeoID: "t1", Variable: "B01003_001E", Value: model.Float(1000)},
		{GeoID: "t1", Variable: "B11001_001E", Value: model.Float(400)},
		{GeoID: "t1", Variable: "B17001_002E", Value: model.Float(100)},
		{GeoID: "t1", Variable: "B19013_001E", Value: model.Float(50000)},
		{GeoID: "t2", Variable: "B01003_001E", Value: model.Float(2000)},
		{GeoID: "t2", Variable: "B11001_001E", Value: model.Float(800)},
		{GeoID: "t2", Variable: "B17001_002E", Value: model.Float(400)},
		{GeoID: "t2", Variable: "B19013_001E", Value: model.Float(70000)},
	}
}

func TestInterpolate_ExtensiveAndMean(t *testing.T) {
	cat := testCatalog(t)

	// Boundary takes half of t1's population and a quarter of t2's;
	// housing fractions differ from population fractions.
	pop := []spatial.Apportionment{
		{BoundaryID: "UT0001", GeoID: "t1", Allocated: 500, Total: 1000},
		{BoundaryID: "UT0001", GeoID: "t2", Allocated: 500, Total: 2000},
	}
	housing := []spatial.Apportionment{
		{BoundaryID: "UT0001", GeoID: "t1", Allocated: 100, Total: 400},
		{BoundaryID: "UT0001", GeoID: "t2", Allocated: 300, Total: 800},
	}

	res := Interpolate(cat, stats(), pop, housing, "49", []string{"UT0001"})
	require.Len(t, res.Accepted, 1)
	assert.Empty(t, res.Deferred)

	row := res.Accepted[0]
	assert.Equal(t, model.TierOne, row.Tier)
	assert.Equal(t, []string{"49"}, row.Regions)

	// total_population = 1000*0.5 + 2000*0.25 = 1000
	require.NotNil(t, row.Value("total_population"))
	assert.InDelta(t, 1000, *row.Value("total_population"), 1e-9)

	// poverty = 100*0.5 + 400*0.25 = 150
	require.NotNil(t, row.Value("poverty"))
	assert.InDelta(t, 150, *row.Value("poverty"), 1e-9)

	// total_households = 400*0.25 + 800*0.375 = 400
	require.NotNil(t, row.Value("total_households"))
	assert.InDelta(t, 400, *row.Value("total_households"), 1e-9)

	// median_income = (50000*100 + 70000*300) / 400 = 65000, a weighted
	// mean, not a sum.
	require.NotNil(t, row.Value("median_income"))
	assert.InDelta(t, 65000, *row.Value("median_income"), 1e-9)
}

func TestInterpolate_ZeroPopulationDefers(t *testing.T) {
	cat := testCatalog(t)

	zeroStats := []model.SourceStatistic{
		{GeoID: "t1", Variable: "B01003_001E", Value: model.Float(0)},
	}
	pop := []spatial.Apportionment{
		{BoundaryID: "UT0002", GeoID: "t1", Allocated: 10, Total: 100},
	}

	res := Interpolate(cat, zeroStats, pop, nil, "49", []string{"UT0002"})
	assert.Empty(t, res.Accepted)
	assert.Equal(t, []string{"UT0002"}, res.Deferred)
}

func TestInterpolate_NoCoverageDefers(t *testing.T) {
	cat := testCatalog(t)

	// Boundary has no apportionment rows at all (zero-area or off-grid).
	res := Interpolate(cat, stats(), nil, nil, "49", []string{"UT0003"})
	assert.Empty(t, res.Accepted)
	assert.Equal(t, []string{"UT0003"}, res.Deferred)
}

func TestInterpolate_NullTractValuesSkipped(t *testing.T) {
	cat := testCatalog(t)

	mixed := []model.SourceStatistic{
		{GeoID: "t1", Variable: "B01003_001E", Value: model.Float(1000)},
		{GeoID: "t2", Variable: "B01003_001E", Value: nil}, // suppressed estimate
	}
	pop := []spatial.Apportionment{
		{BoundaryID: "UT0001", GeoID: "t1", Allocated: 500, Total: 1000},
		{BoundaryID: "UT0001", GeoID: "t2", Allocated: 500, Total: 2000},
	}

	res := Interpolate(cat, mixed, pop, nil, "49", []string{"UT0001"})
	require.Len(t, res.Accepted, 1)
	assert.InDelta(t, 500, *res.Accepted[0].Value("total_population"), 1e-9)
}

func TestPivotStatistics_PreFormula(t *testing.T) {
	rate, err := catalog.ParseExpr("ratio(vacant, housing_total, 100)")
	require.NoError(t, err)

	cat, err := catalog.New([]catalog.VariableSpec{
		{Name: "total_population", SourceField: "P1", Category: catalog.CategoryDenominator, Method: catalog.MethodPopWeighted},
		{Name: "housing_total", SourceField: "H1", Category: catalog.CategoryNone},
		{Name: "vacant", SourceField: "H2", Category: catalog.CategoryNone},
		{Name: "vacancy_rate", Category: catalog.CategoryNone, Method: catalog.MethodHouseholdMean, PreFormula: rate},
	})
	require.NoError(t, err)

	rows := PivotStatistics(cat, []model.SourceStatistic{
		{GeoID: "t1", Variable: "P1", Value: model.Float(10)},
		{GeoID: "t1", Variable: "H1", Value: model.Float(200)},
		{GeoID: "t1", Variable: "H2", Value: model.Float(50)},
	})

	require.Contains(t, rows, "t1")
	got := rows["t1"]["vacancy_rate"]
	require.NotNil(t, got)
	assert.InDelta(t, 25, *got, 1e-9)
}

func TestPivotStatistics_SharedSourceField(t *testing.T) {
	cat, err := catalog.New([]catalog.VariableSpec{
		{Name: "total_population", SourceField: "P1", Category: catalog.CategoryDenominator, Method: catalog.MethodPopWeighted},
		{Name: "pop_copy", SourceField: "P1", Category: catalog.CategoryNone},
	})
	require.NoError(t, err)

	rows := PivotStatistics(cat, []model.SourceStatistic{
		{GeoID: "t1", Variable: "P1", Value: model.Float(7)},
	})
	assert.Equal(t, 7.0, *rows["t1"]["total_population"])
	assert.Equal(t, 7.0, *rows["t1"]["pop_copy"])
}
