package listing

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/address"
	"github.com/woonradar/listings-cli/internal/model"
)

// ToRow coerces raw into a snapshot row for a's source. Unparsable price or
// area text and a missing identity key return ErrMalformed with the reason.
// Enrichment fields other than coordinates supplied by the parser are left
// for the pipeline.
func ToRow(raw model.RawListing, a Adapter) (model.ListingSnapshotRow, error) {
	key := a.IdentityKey(raw)
	if key == "" {
		return model.ListingSnapshotRow{}, eris.Wrap(ErrMalformed, "no identity key")
	}

	price, err := ParsePrice(raw.Price)
	if err != nil {
		return model.ListingSnapshotRow{IdentityKey: key}, eris.Wrap(ErrMalformed, err.Error())
	}
	area, err := ParseArea(raw.Area)
	if err != nil {
		return model.ListingSnapshotRow{IdentityKey: key}, eris.Wrap(ErrMalformed, err.Error())
	}

	row := model.ListingSnapshotRow{
		IdentityKey:   key,
		Address:       strings.TrimSpace(raw.Address),
		Street:        address.ExtractStreet(raw.Address),
		Price:         price,
		Area:          area,
		IsAvailable:   a.Available(raw),
		DateScraped:   raw.ScrapedAt,
		Note:          model.String(strings.TrimSpace(raw.Note)),
		Link:          raw.Link,
		AvailableFrom: ExtractAvailableFrom(raw.AvailableFrom),
		SourceName:    a.Source(),
		Latitude:      raw.Latitude,
		Longitude:     raw.Longitude,
	}
	if area > 0 {
		row.PricePerArea = price / area
	}
	return row, nil
}
