// Package reconcile merges a fresh scrape batch into a source's persisted
// snapshot, deciding which listings are new and which are still active.
package reconcile

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/model"
)

// ErrMalformedBatch is returned when a batch contains a malformed row and
// the policy is MalformedFail.
var ErrMalformedBatch = eris.New("reconcile: malformed batch")

// MalformedPolicy decides what happens to rows with bad numeric data.
type MalformedPolicy string

const (
	// MalformedFail rejects the whole batch. The zero value behaves the same.
	MalformedFail MalformedPolicy = "fail"
	// MalformedSkip drops the row and reports it.
	MalformedSkip MalformedPolicy = "skip"
)

// ParseMalformedPolicy maps a config value to a MalformedPolicy.
func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch MalformedPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MalformedFail:
		return MalformedFail, nil
	case MalformedSkip:
		return MalformedSkip, nil
	default:
		return "", eris.Errorf("reconcile: unknown malformed policy %q", s)
	}
}

// Options tunes Reconcile.
type Options struct {
	Malformed MalformedPolicy
}

// Result is the reconciled snapshot plus the rows that were dropped.
type Result struct {
	Snapshot model.SourceSnapshot
	Skipped  []model.SkippedRow

	added int
}

// New counts rows from this batch whose key was not in the old snapshot.
// Older history rows keep the flag they were written with and are not
// counted.
func (r Result) New() int {
	return r.added
}

// Active counts rows that are active or carry no activity flag.
func (r Result) Active() int {
	n := 0
	for i := range r.Snapshot.Rows {
		if r.Snapshot.Rows[i].Active() {
			n++
		}
	}
	return n
}

// Reconcile merges newBatch into old under policy. Neither input is
// modified.
//
// PolicyOverwriteLatest keeps one row per identity key. A key that
// appears in both keeps its first position and takes the new values; old
// rows not in the batch stay with IsNew false.
//
// PolicyFullHistory keeps every row: old rows become inactive, batch rows
// are appended as active.
func Reconcile(newBatch []model.ListingSnapshotRow, old model.SourceSnapshot, policy model.Policy, opts Options) (Result, error) {
	valid, skipped, err := screen(newBatch, opts.Malformed)
	if err != nil {
		return Result{}, err
	}

	source := old.Source
	if source == "" && len(valid) > 0 {
		source = valid[0].SourceName
	}
	oldKeys := old.Keys()

	var rows []model.ListingSnapshotRow
	switch policy {
	case model.PolicyFullHistory:
		rows = fullHistory(valid, old.Rows, oldKeys)
	case model.PolicyOverwriteLatest, "":
		rows = overwriteLatest(valid, old.Rows, oldKeys)
	default:
		return Result{}, eris.Errorf("reconcile: unknown policy %q", policy)
	}

	// Full history keeps old rows with the IsNew they were written with,
	// so only the appended batch counts. Overwrite resets old rows.
	added := 0
	from := 0
	if policy == model.PolicyFullHistory {
		from = len(old.Rows)
	}
	for i := from; i < len(rows); i++ {
		if rows[i].IsNew {
			added++
		}
	}

	return Result{
		Snapshot: model.SourceSnapshot{Source: source, Rows: rows},
		Skipped:  skipped,
		added:    added,
	}, nil
}

func overwriteLatest(batch, old []model.ListingSnapshotRow, oldKeys map[string]struct{}) []model.ListingSnapshotRow {
	out := make([]model.ListingSnapshotRow, 0, len(old)+len(batch))
	index := make(map[string]int, len(old)+len(batch))
	place := func(r model.ListingSnapshotRow) {
		if i, ok := index[r.IdentityKey]; ok {
			out[i] = r
			return
		}
		index[r.IdentityKey] = len(out)
		out = append(out, r)
	}

	for _, r := range old {
		r.IsNew = false
		place(r)
	}
	for _, r := range batch {
		_, seen := oldKeys[r.IdentityKey]
		r.IsNew = !seen
		r.PricePerArea = pricePerArea(r.Price, r.Area)
		place(r)
	}
	return out
}

func fullHistory(batch, old []model.ListingSnapshotRow, oldKeys map[string]struct{}) []model.ListingSnapshotRow {
	out := make([]model.ListingSnapshotRow, 0, len(old)+len(batch))
	for _, r := range old {
		r.IsActive = model.Bool(false)
		out = append(out, r)
	}
	for _, r := range batch {
		_, seen := oldKeys[r.IdentityKey]
		r.IsNew = !seen
		r.IsActive = model.Bool(true)
		r.PricePerArea = pricePerArea(r.Price, r.Area)
		out = append(out, r)
	}
	return out
}

// screen splits batch into valid rows and skipped rows according to policy.
func screen(batch []model.ListingSnapshotRow, policy MalformedPolicy) ([]model.ListingSnapshotRow, []model.SkippedRow, error) {
	valid := make([]model.ListingSnapshotRow, 0, len(batch))
	var skipped []model.SkippedRow
	for i, r := range batch {
		reason := Validate(r)
		if reason == "" {
			valid = append(valid, r)
			continue
		}
		if policy != MalformedSkip {
			return nil, nil, eris.Wrapf(ErrMalformedBatch, "row %d (%q): %s", i, r.IdentityKey, reason)
		}
		skipped = append(skipped, model.SkippedRow{Index: i, IdentityKey: r.IdentityKey, Reason: reason})
	}
	return valid, skipped, nil
}

// Validate returns why r cannot be reconciled, or "" when it can.
func Validate(r model.ListingSnapshotRow) string {
	switch {
	case strings.TrimSpace(r.IdentityKey) == "":
		return "empty identity key"
	case !finite(r.Price):
		return fmt.Sprintf("price is not a number: %v", r.Price)
	case !finite(r.Area):
		return fmt.Sprintf("area is not a number: %v", r.Area)
	case r.Price < 0:
		return fmt.Sprintf("negative price %v", r.Price)
	case r.Area < 0:
		return fmt.Sprintf("negative area %v", r.Area)
	}
	return ""
}

func pricePerArea(price, area float64) float64 {
	if area <= 0 {
		return 0
	}
	return price / area
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
