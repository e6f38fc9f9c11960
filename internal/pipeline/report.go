package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/woonradar/listings-cli/internal/model"
)

// maxReportedSkips caps how many skipped rows FormatReport lists.
const maxReportedSkips = 20

// FormatReport renders a run report for the terminal.
func FormatReport(r *model.RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s: %s\n", r.RunID, r.Source)
	if !r.Started.IsZero() {
		fmt.Fprintf(&b, "Started: %s (%s)\n", r.Started.Format("2006-01-02 15:04:05"), r.Duration().Round(time.Millisecond))
	}
	b.WriteString("\n")

	b.WriteString("## Ingest\n")
	fmt.Fprintf(&b, "- Ingested: %d\n", r.Ingested)
	fmt.Fprintf(&b, "- Skipped: %d\n\n", r.Skipped)

	b.WriteString("## Enrichment\n")
	fmt.Fprintf(&b, "- Geocoded: %d (cache hits %d, provider calls %d)\n", r.Geocoded, r.CacheHits, r.ProviderCalls)
	fmt.Fprintf(&b, "- Retryable failures queued: %d\n", r.Retryable)
	fmt.Fprintf(&b, "- Fuzzy matched: %d\n", r.FuzzyMatched)
	fmt.Fprintf(&b, "- With neighborhood: %d\n", r.Classified)
	fmt.Fprintf(&b, "- In preference zone: %d\n\n", r.InPreference)

	b.WriteString("## Snapshot\n")
	fmt.Fprintf(&b, "- New: %d\n", r.New)
	fmt.Fprintf(&b, "- Active: %d\n", r.Active)
	fmt.Fprintf(&b, "- Total rows: %d\n", r.Total)

	if len(r.SkippedRows) > 0 {
		b.WriteString("\n## Skipped rows\n")
		for i, s := range r.SkippedRows {
			if i == maxReportedSkips {
				fmt.Fprintf(&b, "- ... and %d more\n", len(r.SkippedRows)-maxReportedSkips)
				break
			}
			key := s.IdentityKey
			if key == "" {
				key = "-"
			}
			fmt.Fprintf(&b, "- #%d %s: %s\n", s.Index, key, s.Reason)
		}
	}
	return b.String()
}
