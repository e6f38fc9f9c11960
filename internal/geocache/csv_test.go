package geocache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVBackend_AppendAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "geocoded_streets.csv")

	b, err := NewCSVBackend(path, "street")
	require.NoError(t, err)
	c, err := Open(ctx, "streets", b)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	require.NoError(t, c.Put(ctx, entry("Van Hallstraat Amsterdam", 52.38, 4.88, "Old")))
	require.NoError(t, c.Put(ctx, entry("Damstraat Amsterdam", 52.37, 4.89, "Burgwallen")))
	require.NoError(t, c.Put(ctx, entry("Van Hallstraat Amsterdam", 52.38, 4.88, "Staatsliedenbuurt")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4, "header written once plus one row per put")
	assert.True(t, strings.HasPrefix(lines[0], "street,latitude,longitude"))

	b2, err := NewCSVBackend(path, "street")
	require.NoError(t, err)
	c2, err := Open(ctx, "streets", b2)
	require.NoError(t, err)
	assert.Equal(t, 2, c2.Len())

	got, ok := c2.Get("Van Hallstraat Amsterdam")
	require.True(t, ok)
	assert.Equal(t, "Staatsliedenbuurt", *got.Neighborhood)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCSVBackend_Delete(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.csv")

	b, err := NewCSVBackend(path, "street")
	require.NoError(t, err)
	require.NoError(t, b.Upsert(ctx, entry("A Amsterdam", 1, 1, "X")))
	require.NoError(t, b.Upsert(ctx, entry("B Amsterdam", 2, 2, "Y")))

	require.NoError(t, b.Delete(ctx, "a amsterdam"))

	stored, err := b.Load(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "B Amsterdam", stored[0].Key)
}

func TestCSVBackend_LegacyLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "geocoded_streets.csv")
	legacy := "street,lat,lon,neighborhood,date_updated\n" +
		"Van Hallstraat,52.38,4.88,Staatsliedenbuurt,2024-05-01\n" +
		"Nergensstraat,,,,2024-05-01\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	b, err := NewCSVBackend(path, "street")
	require.NoError(t, err)
	stored, err := b.Load(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	assert.InDelta(t, 52.38, *stored[0].Latitude, 1e-9)
	assert.InDelta(t, 4.88, *stored[0].Longitude, 1e-9)
	assert.Equal(t, 2024, stored[0].UpdatedAt.Year())
	assert.Nil(t, stored[1].Latitude)

	// The file now uses the current layout, so appends line up.
	require.NoError(t, b.Upsert(ctx, entry("Damstraat", 52.37, 4.89, "Burgwallen")))
	stored, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestNewCSVBackend_RequiresKeyColumn(t *testing.T) {
	_, err := NewCSVBackend(filepath.Join(t.TempDir(), "x.csv"), "")
	assert.Error(t, err)
}
