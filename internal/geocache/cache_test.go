package geocache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woonradar/listings-cli/internal/model"
)

type memBackend struct {
	mu      sync.Mutex
	stored  []model.GeocodeEntry
	deleted []string
	failPut error
}

func (m *memBackend) Load(context.Context) ([]model.GeocodeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.GeocodeEntry(nil), m.stored...), nil
}

func (m *memBackend) Upsert(_ context.Context, e model.GeocodeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	m.stored = append(m.stored, e)
	return nil
}

func (m *memBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memBackend) Close() error { return nil }

func entry(key string, lat, lon float64, neighborhood string) model.GeocodeEntry {
	return model.GeocodeEntry{
		Key:          key,
		Latitude:     model.Float(lat),
		Longitude:    model.Float(lon),
		Neighborhood: model.String(neighborhood),
	}
}

func TestOpen_LastEntryWins(t *testing.T) {
	b := &memBackend{stored: []model.GeocodeEntry{
		entry("Van Hallstraat Amsterdam", 1, 1, "Old"),
		entry("Damstraat Amsterdam", 2, 2, "Centrum"),
		entry("van hallstraat  amsterdam", 52.38, 4.88, "Staatsliedenbuurt"),
	}}

	c, err := Open(context.Background(), "streets", b)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	got, ok := c.Get("Van Hallstraat Amsterdam")
	require.True(t, ok)
	assert.Equal(t, "Staatsliedenbuurt", *got.Neighborhood)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "van hallstraat  amsterdam", entries[0].Key)
	assert.Equal(t, "Damstraat Amsterdam", entries[1].Key)
}

func TestPut_WritesThrough(t *testing.T) {
	b := &memBackend{}
	c, err := Open(context.Background(), "addresses", b)
	require.NoError(t, err)

	e := entry("Prinsengracht 263 Amsterdam", 52.375, 4.884, "Grachtengordel")
	require.NoError(t, c.Put(context.Background(), e))

	require.Len(t, b.stored, 1)
	assert.Equal(t, e, b.stored[0])
	assert.True(t, c.Contains("PRINSENGRACHT 263 amsterdam"))
}

func TestPut_NullEntryIsHit(t *testing.T) {
	c, err := Open(context.Background(), "streets", &memBackend{})
	require.NoError(t, err)

	require.NoError(t, c.Put(context.Background(), model.GeocodeEntry{Key: "Nergensstraat Amsterdam"}))

	got, ok := c.Get("Nergensstraat Amsterdam")
	assert.True(t, ok)
	assert.False(t, got.Resolved())
}

func TestPut_BackendFailureLeavesMemoryUntouched(t *testing.T) {
	b := &memBackend{failPut: errors.New("disk full")}
	c, err := Open(context.Background(), "streets", b)
	require.NoError(t, err)

	err = c.Put(context.Background(), entry("Damstraat Amsterdam", 1, 1, "Centrum"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, c.Contains("Damstraat Amsterdam"))
}

func TestPut_EmptyKey(t *testing.T) {
	c, err := Open(context.Background(), "streets", &memBackend{})
	require.NoError(t, err)
	assert.Error(t, c.Put(context.Background(), model.GeocodeEntry{Key: "  "}))
}

func TestRefresh(t *testing.T) {
	b := &memBackend{stored: []model.GeocodeEntry{
		entry("A Amsterdam", 1, 1, "X"),
		entry("B Amsterdam", 2, 2, "Y"),
	}}
	c, err := Open(context.Background(), "streets", b)
	require.NoError(t, err)

	require.NoError(t, c.Refresh(context.Background(), "a amsterdam"))
	assert.False(t, c.Contains("A Amsterdam"))
	assert.Equal(t, []string{"a amsterdam"}, b.deleted)

	require.NoError(t, c.Put(context.Background(), entry("A Amsterdam", 3, 3, "Z")))
	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "B Amsterdam", entries[0].Key)
	assert.Equal(t, "A Amsterdam", entries[1].Key)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	c, err := Open(context.Background(), "streets", &memBackend{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Put(context.Background(), entry("Damstraat Amsterdam", 1, 1, "Centrum"))
		}()
		go func() {
			defer wg.Done()
			_, _ = c.Get("Damstraat Amsterdam")
			_ = c.Entries()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "van hallstraat amsterdam", NormalizeKey("  Van   Hallstraat\tAmsterdam "))
	assert.Equal(t, "", NormalizeKey("   "))
}
