package geo

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
	"golang.org/x/sync/errgroup"

	"github.com/woonradar/listings-cli/internal/model"
)

// Classifier answers neighborhood and preference-zone questions for a
// point. Either set may be nil. It is read-only and safe for concurrent use.
type Classifier struct {
	neighborhoods *PolygonSet
	preferences   *PolygonSet
}

// NewClassifier returns a Classifier over the two polygon sets.
func NewClassifier(neighborhoods, preferences *PolygonSet) *Classifier {
	return &Classifier{neighborhoods: neighborhoods, preferences: preferences}
}

// NeighborhoodOf returns the name of the first neighborhood polygon
// containing the point, or "" when none does or a coordinate is missing.
func (c *Classifier) NeighborhoodOf(lat, lon *float64) string {
	name, _ := c.neighborhoods.locate(lat, lon)
	return name
}

// InPreferenceZone reports whether any preference polygon contains the point.
func (c *Classifier) InPreferenceZone(lat, lon *float64) bool {
	_, ok := c.preferences.locate(lat, lon)
	return ok
}

// Classify fills an empty neighborhood and sets the preference flag. Rows
// without coordinates come back with InPreference false.
func (c *Classifier) Classify(row model.ListingSnapshotRow) model.ListingSnapshotRow {
	if row.Neighborhood == nil || *row.Neighborhood == "" {
		if name := c.NeighborhoodOf(row.Latitude, row.Longitude); name != "" {
			row.Neighborhood = model.String(name)
		}
	}
	row.InPreference = c.InPreferenceZone(row.Latitude, row.Longitude)
	return row
}

// ClassifyAll runs Classify over rows with up to concurrency goroutines.
// The input slice is not modified.
func (c *Classifier) ClassifyAll(ctx context.Context, rows []model.ListingSnapshotRow, concurrency int) ([]model.ListingSnapshotRow, error) {
	out := make([]model.ListingSnapshotRow, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = c.Classify(rows[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "geo: classify")
	}
	return out, nil
}

// locate returns the first feature whose outer ring strictly contains the
// point. Holes are ignored.
func (s *PolygonSet) locate(lat, lon *float64) (string, bool) {
	if s == nil || lat == nil || lon == nil || !finite(*lat) || !finite(*lon) {
		return "", false
	}
	pt := geom.Coord{*lon, *lat}
	for _, f := range s.Features {
		for _, p := range f.Polygons {
			if p == nil || p.NumLinearRings() == 0 {
				continue
			}
			ring := p.LinearRing(0)
			if xy.LocatePointInRing(ring.Layout(), pt, ring.FlatCoords()) == location.Interior {
				return f.Name, true
			}
		}
	}
	return "", false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
