package geocache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woonradar/listings-cli/internal/address"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestSeedFromHistory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "makelaar_scrape_output_2024-01-01.csv",
		"full_address_processed,price,latitude,longitude\n"+
			"Damstraat 2 Amsterdam,450000,52.37,4.89\n"+
			"Nergensstraat 1 Amsterdam,300000,,\n"+
			"Prinsengracht 263 Amsterdam,900000,52.375,4.884\n")
	writeFile(t, dir, "makelaar_scrape_output_2024-02-01.csv",
		"full_address_processed,latitude,longitude\n"+
			"Damstraat 2 Amsterdam,1,1\n"+
			"Keizersgracht 1 Amsterdam,52.38,4.887\n")
	writeFile(t, dir, "other_output_2024-02-01.csv",
		"full_address_processed,latitude,longitude\nElders 1 Amsterdam,1,1\n")
	writeFile(t, dir, "makelaar_scrape_output_2024-03-01.csv",
		"address,lat\nbroken,1\n")

	b := &memBackend{}
	c, err := Open(context.Background(), "addresses", b)
	require.NoError(t, err)
	require.NoError(t, c.Put(context.Background(), entry("Prinsengracht 263 Amsterdam", 9, 9, "Existing")))

	added, err := c.SeedFromHistory(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	got, ok := c.Get("Damstraat 2 Amsterdam")
	require.True(t, ok)
	assert.InDelta(t, 52.37, *got.Latitude, 1e-9, "earliest file wins, later files never overwrite")

	existing, _ := c.Get("Prinsengracht 263 Amsterdam")
	assert.Equal(t, "Existing", *existing.Neighborhood)

	assert.True(t, c.Contains("Keizersgracht 1 Amsterdam"))
	assert.False(t, c.Contains("Nergensstraat 1 Amsterdam"))
	assert.False(t, c.Contains("Elders 1 Amsterdam"))
	assert.Len(t, b.stored, 3, "seeded entries are persisted through the backend")
}

func TestSeedFromHistory_BadPattern(t *testing.T) {
	c, err := Open(context.Background(), "addresses", &memBackend{})
	require.NoError(t, err)
	_, err = c.SeedFromHistory(context.Background(), t.TempDir(), "([")
	assert.Error(t, err)
}

func TestSeedFromHistory_MissingDir(t *testing.T) {
	c, err := Open(context.Background(), "addresses", &memBackend{})
	require.NoError(t, err)
	_, err = c.SeedFromHistory(context.Background(), filepath.Join(t.TempDir(), "nope"), "")
	assert.Error(t, err)
}

func TestSeedFromHistory_PostcodeKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "makelaar_scrape_output_2024-01-01.csv",
		"full_address_processed,latitude,longitude\n"+
			"Damstraat 2 1012 JS Amsterdam,52.37,4.89\n")

	c, err := Open(context.Background(), "addresses", &memBackend{})
	require.NoError(t, err)

	added, err := c.SeedFromHistory(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	key := address.Normalize("Damstraat 2, 1012 JS Amsterdam", address.Options{}).CanonicalKey()
	assert.Equal(t, "Damstraat 2 Amsterdam", key)
	assert.True(t, c.Contains(key))
	assert.False(t, c.Contains("Damstraat 2 1012 JS Amsterdam"))
}
