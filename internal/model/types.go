// Package model defines the shared data types of the crosswalk engine.
package model

// Tier identifies which resolution strategy produced a result row.
type Tier string

const (
	// TierOne marks rows produced by weighted areal interpolation.
	TierOne Tier = "tier-1"
	// TierTwoRaw marks rows produced by the parcel crosswalk fallback.
	TierTwoRaw Tier = "tier-2-raw"
	// TierTwoCapped marks tier-2 rows rescaled to an authoritative population.
	TierTwoCapped Tier = "tier-2-capped"
	// TierThree marks boundaries no tier could resolve; all statistics null.
	TierThree Tier = "tier-3"
)

// Boundary is a water-system service area, the crosswalk's output unit.
// ReportedPopulation is the authoritative figure reported by the system
// operator; nil when none was reported. Geometry lives in the geo schema and
// is addressed by ID.
type Boundary struct {
	ID                 string `json:"id"`
	Name               string `json:"name,omitempty"`
	ReportedPopulation *int64 `json:"reported_population,omitempty"`
}

// SourceStatistic is one estimated value for one variable at one standard
// census geography (tract). Value is nil when the source suppressed or did
// not publish the estimate.
type SourceStatistic struct {
	GeoID    string   `json:"geoid"`
	Variable string   `json:"variable"`
	Value    *float64 `json:"value"`
}

// WeightUnit is a sub-geography (census block) whose population and housing
// counts serve as interpolation kernels for its parent tract.
type WeightUnit struct {
	GeoID        string `json:"geoid"`
	ParentGeoID  string `json:"parent_geoid"`
	Population   int64  `json:"population"`
	HousingUnits int64  `json:"housing_units"`
}

// ParcelCrosswalkRecord apportions a fraction of a boundary's parcels to one
// standard geography. Weight is in [0,1]; a boundary's weights may sum to
// less than 1 when some parcels fall outside any tract.
type ParcelCrosswalkRecord struct {
	BoundaryID string  `json:"boundary_id"`
	GeoID      string  `json:"geoid"`
	Weight     float64 `json:"weight"`
}

// RegionOverlap records what fraction of a boundary's original area falls
// inside one region (state-equivalent unit).
type RegionOverlap struct {
	BoundaryID string  `json:"boundary_id"`
	Region     string  `json:"region"`
	Fraction   float64 `json:"fraction"`
}

// ResultRecord is the final estimate set for one boundary. Values holds every
// catalog variable plus its derived percentage columns; nil entries are
// statistics the producing tier could not estimate. Each boundary appears in
// a run's output exactly once.
type ResultRecord struct {
	BoundaryID string              `json:"boundary_id"`
	Values     map[string]*float64 `json:"values"`
	Tier       Tier                `json:"tier"`
	Regions    []string            `json:"regions"`
}

// Value returns the named value, or nil when absent or null.
func (r *ResultRecord) Value(name string) *float64 {
	if r.Values == nil {
		return nil
	}
	return r.Values[name]
}

// Set stores a value, allocating the map on first use.
func (r *ResultRecord) Set(name string, v *float64) {
	if r.Values == nil {
		r.Values = make(map[string]*float64)
	}
	r.Values[name] = v
}

// Float returns a pointer to v. Convenience for building value maps.
func Float(v float64) *float64 { return &v }
