// Package geo classifies listing coordinates against named polygon sets
// such as neighborhoods and preference zones.
package geo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// NamedPolygon is one feature of a polygon set. A MultiPolygon feature
// carries several polygons under the same name. Features without a name
// keep an empty Name: they still count for containment and, when they
// match first, leave the neighborhood empty.
type NamedPolygon struct {
	Name     string
	Polygons []*geom.Polygon
}

// PolygonSet is an ordered list of named polygons. Order matters: the
// first containing polygon wins.
type PolygonSet struct {
	Name     string
	Features []NamedPolygon
}

// Len returns the number of features.
func (s *PolygonSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Features)
}

// LoadGeoJSON reads a FeatureCollection and names each feature by the
// nameProperty property. Polygon and MultiPolygon features are kept in file
// order; other geometry types are skipped.
func LoadGeoJSON(path, nameProperty string) (*PolygonSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: read %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "geo: parse geojson %s", path)
	}

	set := &PolygonSet{Name: path}
	skipped := 0
	for _, f := range fc.Features {
		name := propertyString(f.Properties, nameProperty)

		var polys []*geom.Polygon
		switch g := f.Geometry.(type) {
		case *geom.Polygon:
			polys = []*geom.Polygon{g}
		case *geom.MultiPolygon:
			for j := 0; j < g.NumPolygons(); j++ {
				polys = append(polys, g.Polygon(j))
			}
		default:
			skipped++
			continue
		}
		set.Features = append(set.Features, NamedPolygon{Name: name, Polygons: polys})
	}

	zap.L().Info("polygon set loaded",
		zap.String("path", path),
		zap.Int("features", len(set.Features)),
		zap.Int("skipped", skipped),
	)
	return set, nil
}

// LoadShapefile reads polygon records from a shapefile, naming each by the
// nameField attribute. Every part becomes its own ring.
func LoadShapefile(path, nameField string) (*PolygonSet, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := fieldIndex(reader, nameField)
	if nameIdx < 0 {
		return nil, eris.Errorf("geo: shapefile field %q not found in %s", nameField, path)
	}

	set := &PolygonSet{Name: path}
	for reader.Next() {
		_, shape := reader.Shape()
		p, ok := shape.(*shp.Polygon)
		if !ok || p == nil {
			continue
		}
		polys := shapeToPolygons(p)
		if len(polys) == 0 {
			continue
		}
		name := strings.TrimSpace(reader.Attribute(nameIdx))
		set.Features = append(set.Features, NamedPolygon{Name: name, Polygons: polys})
	}

	zap.L().Info("polygon set loaded",
		zap.String("path", path),
		zap.Int("features", len(set.Features)),
	)
	return set, nil
}

// Load picks the loader by file extension.
func Load(path, name string) (*PolygonSet, error) {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return LoadShapefile(path, name)
	}
	return LoadGeoJSON(path, name)
}

func propertyString(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

func shapeToPolygons(p *shp.Polygon) []*geom.Polygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var out []*geom.Polygon
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("geo: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		out = append(out, poly)
	}
	return out
}
