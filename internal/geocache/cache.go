// Package geocache is the durable key → geocode store. The full table is
// loaded into memory when the cache is opened and every write goes through
// to the backend before Put returns, so a crash loses at most the lookup in
// flight.
package geocache

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/woonradar/listings-cli/internal/model"
)

// Backend persists cache entries.
type Backend interface {
	// Load returns every stored entry. Later entries for the same key win.
	Load(ctx context.Context) ([]model.GeocodeEntry, error)
	// Upsert durably stores one entry.
	Upsert(ctx context.Context, e model.GeocodeEntry) error
	// Delete removes the entry for key.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Cache is an in-memory view over a Backend. Reads are safe from many
// goroutines; writes are serialized so the backend sees one writer.
type Cache struct {
	name    string
	backend Backend

	mu      sync.RWMutex
	entries map[string]model.GeocodeEntry
	order   []string

	writeMu sync.Mutex
}

// Open loads every entry from backend into memory.
func Open(ctx context.Context, name string, backend Backend) (*Cache, error) {
	stored, err := backend.Load(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "geocache: load %s", name)
	}

	c := &Cache{
		name:    name,
		backend: backend,
		entries: make(map[string]model.GeocodeEntry, len(stored)),
	}
	for _, e := range stored {
		c.set(e)
	}

	zap.L().Info("geocode cache loaded",
		zap.String("cache", name),
		zap.Int("entries", len(c.entries)),
	)
	return c, nil
}

// NormalizeKey lower-cases key and collapses whitespace. Lookups are
// case-insensitive so "Van Hallstraat" and "van hallstraat" share an entry.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.Join(strings.Fields(key), " "))
}

// Name identifies the cache in logs.
func (c *Cache) Name() string { return c.name }

// Get returns the entry for key. A stored null entry is a hit.
func (c *Cache) Get(key string) (model.GeocodeEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[NormalizeKey(key)]
	return e, ok
}

// Contains reports whether key has an entry, resolved or not.
func (c *Cache) Contains(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a copy of all entries in load/insert order.
func (c *Cache) Entries() []model.GeocodeEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.GeocodeEntry, 0, len(c.entries))
	for _, k := range c.order {
		if e, ok := c.entries[k]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Put persists e and then makes it visible to readers.
func (c *Cache) Put(ctx context.Context, e model.GeocodeEntry) error {
	if strings.TrimSpace(e.Key) == "" {
		return eris.New("geocache: empty key")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.backend.Upsert(ctx, e); err != nil {
		return eris.Wrapf(err, "geocache: persist %s", c.name)
	}

	c.mu.Lock()
	c.set(e)
	c.mu.Unlock()
	return nil
}

// Refresh forgets key so the next lookup queries the provider again.
func (c *Cache) Refresh(ctx context.Context, key string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.backend.Delete(ctx, key); err != nil {
		return eris.Wrapf(err, "geocache: delete %q from %s", key, c.name)
	}

	k := NormalizeKey(key)
	c.mu.Lock()
	if _, ok := c.entries[k]; ok {
		delete(c.entries, k)
		for i, o := range c.order {
			if o == k {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()
	return nil
}

// Close closes the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

// set must be called with mu held (or before the cache is shared).
func (c *Cache) set(e model.GeocodeEntry) {
	k := NormalizeKey(e.Key)
	if k == "" {
		return
	}
	if _, ok := c.entries[k]; !ok {
		c.order = append(c.order, k)
	}
	c.entries[k] = e
}
