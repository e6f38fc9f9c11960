package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/woonradar/listings-cli/internal/address"
	"github.com/woonradar/listings-cli/internal/listing"
	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/pkg/geocode"
)

// geocoderFor returns the geocoder serving kind: full-address keys for the
// buy side, street-only keys for rentals.
func (p *Pipeline) geocoderFor(kind listing.Kind) Geocoder {
	if kind == listing.KindRental {
		return p.street
	}
	return p.address
}

// geocoderForMode returns the geocoder for a queued retry's key mode.
func (p *Pipeline) geocoderForMode(mode geocode.KeyMode) Geocoder {
	if mode == geocode.StreetOnly {
		return p.street
	}
	return p.address
}

// geocode fills coordinates on rows that lack them. Rows whose parser
// already supplied coordinates are left alone. Transient provider failures
// are counted in the report and leave the row unresolved; any other
// geocoder error aborts the run.
func (p *Pipeline) geocode(ctx context.Context, kind listing.Kind, rows []model.ListingSnapshotRow, cities []string, report *model.RunReport) error {
	g := p.geocoderFor(kind)
	if g == nil {
		zap.L().Debug("pipeline: no geocoder configured", zap.String("kind", string(kind)))
		return nil
	}

	var (
		idx   []int
		addrs []model.NormalizedAddress
	)
	for i := range rows {
		if rows[i].HasLocation() {
			continue
		}
		addr := address.Normalize(rows[i].Address, address.Options{City: cities[i], FallbackCity: p.cfg.FallbackCity})
		if addr.IsZero() {
			continue
		}
		idx = append(idx, i)
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil
	}

	entries, tally, err := g.ResolveAll(ctx, addrs)
	report.CacheHits += tally.CacheHits
	report.ProviderCalls += tally.ProviderCalls
	report.Retryable += tally.Retryable
	if err != nil {
		return eris.Wrap(err, "pipeline: geocode")
	}

	for j, i := range idx {
		e, ok := entries[g.Key(addrs[j])]
		if !ok || !e.Resolved() {
			continue
		}
		rows[i].Latitude = model.Float(*e.Latitude)
		rows[i].Longitude = model.Float(*e.Longitude)
		if rows[i].Neighborhood == nil && e.Neighborhood != nil {
			rows[i].Neighborhood = model.String(*e.Neighborhood)
		}
		report.Geocoded++
	}
	return nil
}
