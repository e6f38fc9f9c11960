package pipeline

import (
	"slices"

	"github.com/woonradar/listings-cli/internal/model"
)

// Active returns the current offer of a snapshot: the latest row per
// identity key that is active (or carries no activity flag) and available,
// cheapest first. Among rows with the same key the later scrape wins, and
// on equal scrape times the later row.
func Active(snap model.SourceSnapshot) []model.ListingSnapshotRow {
	latest := make(map[string]int, len(snap.Rows))
	var order []string
	for i, r := range snap.Rows {
		j, seen := latest[r.IdentityKey]
		if !seen {
			order = append(order, r.IdentityKey)
		}
		if !seen || !r.DateScraped.Before(snap.Rows[j].DateScraped) {
			latest[r.IdentityKey] = i
		}
	}

	out := make([]model.ListingSnapshotRow, 0, len(order))
	for _, key := range order {
		r := snap.Rows[latest[key]]
		if r.Active() && r.IsAvailable {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b model.ListingSnapshotRow) int {
		switch {
		case a.Price < b.Price:
			return -1
		case a.Price > b.Price:
			return 1
		default:
			return 0
		}
	})
	return out
}
