// Package sab loads service-area boundaries and their companion datasets
// into the geo schema, and serves them back to the pipeline.
package sab

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sab-crosswalk/internal/db"
	"github.com/sells-group/sab-crosswalk/internal/spatial"
)

// BoundaryFields maps shapefile attribute names to boundary columns.
type BoundaryFields struct {
	ID         string // boundary identifier, e.g. "pwsid"
	Name       string
	Population string // operator-reported population served
}

// DefaultBoundaryFields matches the national service-area boundary layer.
func DefaultBoundaryFields() BoundaryFields {
	return BoundaryFields{ID: "pwsid", Name: "pws_name", Population: "population"}
}

// LoadBoundaries replaces the geo.service_areas table with the contents of a
// boundary shapefile. Records without a usable polygon are loaded with a null
// geometry so they still appear in run output (as tier-3).
func LoadBoundaries(ctx context.Context, pool db.Pool, schema, shpPath string, fields BoundaryFields) (int64, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return 0, eris.Wrapf(err, "sab: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := indexFields(reader)
	idIdx, ok := fieldIdx[strings.ToLower(fields.ID)]
	if !ok {
		return 0, eris.Errorf("sab: shapefile has no %q attribute", fields.ID)
	}

	var rows [][]any
	var noGeom int
	for reader.Next() {
		_, shape := reader.Shape()

		id := attribute(reader, idIdx)
		if id == "" {
			continue
		}

		var name any
		if i, ok := fieldIdx[strings.ToLower(fields.Name)]; ok {
			if v := attribute(reader, i); v != "" {
				name = v
			}
		}

		var pop any
		if i, ok := fieldIdx[strings.ToLower(fields.Population)]; ok {
			if v := attribute(reader, i); v != "" {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
					pop = n
				}
			}
		}

		var geomWKB any
		if wkb, err := spatial.EncodePolygonWKB(shape); err == nil && wkb != nil {
			geomWKB = wkb
		} else {
			noGeom++
		}

		rows = append(rows, []any{id, name, pop, geomWKB})
	}

	if _, err := pool.Exec(ctx, "TRUNCATE "+schema+".service_areas"); err != nil {
		return 0, eris.Wrap(err, "sab: truncate service areas")
	}

	n, err := db.CopyInto(ctx, pool, schema, "service_areas",
		[]string{"sab_id", "name", "reported_population", "geom"}, rows)
	if err != nil {
		return 0, err
	}

	zap.L().Info("sab: boundaries loaded",
		zap.Int64("loaded", n),
		zap.Int("without_geometry", noGeom),
	)
	return n, nil
}

// WeightUnitFields maps shapefile attribute names to weight-unit columns.
type WeightUnitFields struct {
	GeoID        string
	Population   string
	HousingUnits string
}

// DefaultWeightUnitFields matches the census block layer.
func DefaultWeightUnitFields() WeightUnitFields {
	return WeightUnitFields{GeoID: "geoid20", Population: "pop20", HousingUnits: "housing20"}
}

// Block GEOIDs embed their parents: chars 0-2 are the state, 0-11 the tract.
const (
	regionPrefixLen = 2
	tractPrefixLen  = 11
)

// LoadWeightUnits appends a region's census blocks to geo.weight_units.
// Parent tract and region are derived from the block GEOID.
func LoadWeightUnits(ctx context.Context, pool db.Pool, schema, shpPath string, fields WeightUnitFields) (int64, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return 0, eris.Wrapf(err, "sab: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := indexFields(reader)
	geoIdx, ok := fieldIdx[strings.ToLower(fields.GeoID)]
	if !ok {
		return 0, eris.Errorf("sab: shapefile has no %q attribute", fields.GeoID)
	}

	var rows [][]any
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		geoid := attribute(reader, geoIdx)
		if len(geoid) < tractPrefixLen {
			skipped++
			continue
		}

		wkb, err := spatial.EncodePolygonWKB(shape)
		if err != nil || wkb == nil {
			skipped++
			continue
		}

		rows = append(rows, []any{
			geoid,
			geoid[:tractPrefixLen],
			geoid[:regionPrefixLen],
			parseCount(reader, fieldIdx, fields.Population),
			parseCount(reader, fieldIdx, fields.HousingUnits),
			wkb,
		})
	}

	n, err := db.CopyInto(ctx, pool, schema, "weight_units",
		[]string{"geoid", "parent_geoid", "region_code", "population", "housing_units", "geom"}, rows)
	if err != nil {
		return 0, err
	}

	zap.L().Info("sab: weight units loaded",
		zap.Int64("loaded", n),
		zap.Int("skipped", skipped),
	)
	return n, nil
}

// LoadParcelCrosswalk replaces geo.parcel_crosswalk with a CSV of
// boundary-to-tract weights. Expected header: boundary_id,geoid,weight.
func LoadParcelCrosswalk(ctx context.Context, pool db.Pool, schema string, r io.Reader) (int64, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return 0, eris.Wrap(err, "sab: read crosswalk header")
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"boundary_id", "geoid", "weight"} {
		if _, ok := col[required]; !ok {
			return 0, eris.Errorf("sab: crosswalk CSV missing column %q", required)
		}
	}

	var rows [][]any
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, eris.Wrapf(err, "sab: read crosswalk line %d", line+1)
		}
		line++

		weight, err := strconv.ParseFloat(strings.TrimSpace(record[col["weight"]]), 64)
		if err != nil {
			return 0, eris.Wrapf(err, "sab: bad weight on line %d", line)
		}
		if weight < 0 || weight > 1 {
			return 0, eris.Errorf("sab: weight out of range on line %d: %g", line, weight)
		}

		rows = append(rows, []any{
			strings.TrimSpace(record[col["boundary_id"]]),
			strings.TrimSpace(record[col["geoid"]]),
			weight,
		})
	}

	if _, err := pool.Exec(ctx, "TRUNCATE "+schema+".parcel_crosswalk"); err != nil {
		return 0, eris.Wrap(err, "sab: truncate parcel crosswalk")
	}

	n, err := db.CopyInto(ctx, pool, schema, "parcel_crosswalk",
		[]string{"sab_id", "geoid", "weight"}, rows)
	if err != nil {
		return 0, err
	}
	zap.L().Info("sab: parcel crosswalk loaded", zap.Int64("loaded", n))
	return n, nil
}

// LoadParcelCrosswalkFile is LoadParcelCrosswalk over a file path.
func LoadParcelCrosswalkFile(ctx context.Context, pool db.Pool, schema, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "sab: open crosswalk %s", path)
	}
	defer func() { _ = f.Close() }()
	return LoadParcelCrosswalk(ctx, pool, schema, f)
}

func indexFields(reader *shp.Reader) map[string]int {
	fields := reader.Fields()
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		idx[strings.ToLower(name)] = i
	}
	return idx
}

func attribute(reader *shp.Reader, i int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
}

func parseCount(reader *shp.Reader, fieldIdx map[string]int, field string) int64 {
	i, ok := fieldIdx[strings.ToLower(field)]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(attribute(reader, i), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
