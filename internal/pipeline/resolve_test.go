package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/sab-crosswalk/internal/model"
)

func TestResolveRegions_Threshold(t *testing.T) {
	overlaps := []model.RegionOverlap{
		{BoundaryID: "A", Region: "49", Fraction: 0.21},
		{BoundaryID: "A", Region: "32", Fraction: 0.19},
	}

	assigned := ResolveRegions(overlaps, []string{"A"}, []string{"49"})
	assert.Equal(t, []string{"49"}, assigned["A"])
}

func TestResolveRegions_MultiRegion(t *testing.T) {
	overlaps := []model.RegionOverlap{
		{BoundaryID: "A", Region: "32", Fraction: 0.40},
		{BoundaryID: "A", Region: "49", Fraction: 0.60},
	}

	assigned := ResolveRegions(overlaps, []string{"A"}, nil)
	assert.Equal(t, []string{"32", "49"}, assigned["A"])
}

func TestResolveRegions_FallsBackToDefaults(t *testing.T) {
	overlaps := []model.RegionOverlap{
		{BoundaryID: "A", Region: "49", Fraction: 0.05}, // sliver only
	}

	assigned := ResolveRegions(overlaps, []string{"A", "B"}, []string{"49", "32"})
	assert.Equal(t, []string{"32", "49"}, assigned["A"])
	assert.Equal(t, []string{"32", "49"}, assigned["B"]) // no overlap at all
}

func TestRegionWork_InvertsAndSorts(t *testing.T) {
	work := regionWork(map[string][]string{
		"B": {"49"},
		"A": {"32", "49"},
	})
	assert.Equal(t, []string{"A", "B"}, work["49"])
	assert.Equal(t, []string{"A"}, work["32"])
}
