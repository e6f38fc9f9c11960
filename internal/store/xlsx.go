package store

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/woonradar/listings-cli/internal/model"
)

// maxSheetName is the longest sheet name Excel accepts.
const maxSheetName = 31

// ExportXLSX writes one sheet per snapshot to path, named after the source,
// with the snapshot columns as header row.
func ExportXLSX(path string, snaps ...model.SourceSnapshot) error {
	if len(snaps) == 0 {
		return eris.New("xlsx: nothing to export")
	}

	f := xlsx.NewFile()
	for _, snap := range snaps {
		sheet, err := f.AddSheet(sheetName(snap.Source))
		if err != nil {
			return eris.Wrapf(err, "xlsx: add sheet %s", snap.Source)
		}

		header := sheet.AddRow()
		for _, col := range snapshotColumns {
			header.AddCell().SetString(col)
		}
		for _, r := range snap.Rows {
			writeSnapshotRow(sheet.AddRow(), r)
		}
	}

	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

func writeSnapshotRow(row *xlsx.Row, r model.ListingSnapshotRow) {
	row.AddCell().SetString(r.IdentityKey)
	row.AddCell().SetString(r.Address)
	row.AddCell().SetString(r.Street)
	row.AddCell().SetFloat(r.Price)
	row.AddCell().SetFloat(r.Area)
	row.AddCell().SetFloat(r.PricePerArea)
	row.AddCell().SetBool(r.IsAvailable)
	row.AddCell().SetBool(r.IsNew)
	if r.IsActive != nil {
		row.AddCell().SetBool(*r.IsActive)
	} else {
		row.AddCell()
	}
	row.AddCell().SetString(model.Deref(r.Note))
	if r.DateScraped.IsZero() {
		row.AddCell()
	} else {
		row.AddCell().SetDateTime(r.DateScraped.UTC())
	}
	row.AddCell().SetString(r.Link)
	row.AddCell().SetString(r.AvailableFrom)
	row.AddCell().SetString(r.SourceName)
	row.AddCell().SetString(model.Deref(r.Neighborhood))
	floatCell(row, r.Latitude)
	floatCell(row, r.Longitude)
	row.AddCell().SetBool(r.InPreference)
}

func floatCell(row *xlsx.Row, v *float64) {
	c := row.AddCell()
	if v != nil {
		c.SetFloat(*v)
	}
}

// sheetName strips characters Excel rejects and truncates to the limit.
func sheetName(source string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, source)
	if name == "" {
		name = "listings"
	}
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}
