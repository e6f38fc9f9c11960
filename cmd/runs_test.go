//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/monitoring"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Source:    "vesteda",
			Status:    model.RunStatusComplete,
			Report:    &model.RunReport{New: 3, Total: 41},
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Source:    "ikwilhuren",
			Status:    model.RunStatusFailed,
			Error:     "sqlite: save snapshot: disk full",
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-59 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "SOURCE")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "vesteda")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "41")
	assert.Contains(t, output, "ikwilhuren")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "2m0s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatRunStats(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		RunsTotal:       4,
		RunsComplete:    3,
		RunsFailed:      1,
		FailRate:        0.25,
		Ingested:        90,
		Skipped:         10,
		SkipRate:        0.1,
		RetryQueueDepth: -1,
		LastComplete:    map[string]time.Time{"vesteda": time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)},
		LookbackHours:   24,
	}

	var buf bytes.Buffer
	formatRunStats(&buf, snap)

	out := buf.String()
	assert.Contains(t, out, "24h")
	assert.Contains(t, out, "25.0%")
	assert.Contains(t, out, "10.0%")
	assert.NotContains(t, out, "Retry queue")
	assert.Contains(t, out, "vesteda")
	assert.Contains(t, out, "2025-06-15 10:30")
}
