package pipeline

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/woonradar/listings-cli/internal/model"
)

func TestFormatReport(t *testing.T) {
	r := &model.RunReport{
		RunID:    "run-1",
		Source:   "vesteda",
		Started:  runTime,
		Finished: runTime.Add(1500 * time.Millisecond),
		Ingested: 10, Skipped: 2,
		Geocoded: 6, CacheHits: 4, ProviderCalls: 3, Retryable: 1,
		FuzzyMatched: 2, Classified: 7, InPreference: 3,
		New: 4, Active: 10, Total: 12,
		SkippedRows: []model.SkippedRow{
			{Index: 3, IdentityKey: "https://x/3", Reason: "price: no digits"},
			{Index: 7, Reason: "no identity key"},
		},
	}

	out := FormatReport(r)
	assert.True(t, strings.HasPrefix(out, "# Run run-1: vesteda\n"))
	assert.Contains(t, out, "Started: 2025-06-01 09:00:00 (1.5s)")
	assert.Contains(t, out, "- Ingested: 10")
	assert.Contains(t, out, "- Geocoded: 6 (cache hits 4, provider calls 3)")
	assert.Contains(t, out, "- Retryable failures queued: 1")
	assert.Contains(t, out, "- In preference zone: 3")
	assert.Contains(t, out, "- Total rows: 12")
	assert.Contains(t, out, "- #3 https://x/3: price: no digits")
	assert.Contains(t, out, "- #7 -: no identity key")
}

func TestFormatReport_CapsSkippedRows(t *testing.T) {
	r := &model.RunReport{RunID: "run-2", Source: "makelaar"}
	for i := range maxReportedSkips + 5 {
		r.SkippedRows = append(r.SkippedRows, model.SkippedRow{Index: i, Reason: fmt.Sprintf("bad %d", i)})
	}

	out := FormatReport(r)
	assert.NotContains(t, out, "Started:")
	assert.Contains(t, out, fmt.Sprintf("- #%d -: bad %d", maxReportedSkips-1, maxReportedSkips-1))
	assert.NotContains(t, out, fmt.Sprintf("bad %d", maxReportedSkips))
	assert.Contains(t, out, "- ... and 5 more")
}

func TestFormatReport_NoSkippedSection(t *testing.T) {
	out := FormatReport(&model.RunReport{RunID: "run-3", Source: "vesteda"})
	assert.NotContains(t, out, "## Skipped rows")
}
