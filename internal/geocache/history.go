package geocache

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/woonradar/listings-cli/internal/address"
	"github.com/woonradar/listings-cli/internal/model"
)

// DefaultHistoryPattern matches dated buy-side snapshot exports.
const DefaultHistoryPattern = `^makelaar_scrape_output_\d{4}-\d{2}-\d{2}\.csv$`

var historyColumns = []string{"full_address_processed", "latitude", "longitude"}

type historyRow struct {
	Key       string   `csv:"full_address_processed"`
	Latitude  *float64 `csv:"latitude"`
	Longitude *float64 `csv:"longitude"`
}

// SeedFromHistory merges coordinates from historical snapshot files in dir
// whose names match pattern. Only rows with both coordinates are used and
// keys already in the cache are left alone. Keys pass through
// address.HistoryKey so postcode-bearing history rows match canonical keys.
// Files are visited in name order.
// Unreadable files are logged and skipped. Returns the number of entries
// added.
func (c *Cache) SeedFromHistory(ctx context.Context, dir, pattern string) (int, error) {
	if pattern == "" {
		pattern = DefaultHistoryPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, eris.Wrapf(err, "geocache: history pattern %q", pattern)
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return 0, eris.Wrapf(err, "geocache: read history dir %s", dir)
	}

	var names []string
	for _, d := range dirEntries {
		if !d.IsDir() && re.MatchString(d.Name()) {
			names = append(names, d.Name())
		}
	}
	slices.Sort(names)

	log := zap.L().With(zap.String("component", "geocache"), zap.String("cache", c.name))
	added := 0
	now := time.Now().UTC()
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return added, eris.Wrap(err, "geocache: seed cancelled")
		}

		path := filepath.Join(dir, name)
		rows, err := readHistory(path)
		if err != nil {
			log.Warn("skipping history file", zap.String("path", path), zap.Error(err))
			continue
		}

		fileAdded := 0
		for _, r := range rows {
			key := address.HistoryKey(r.Key)
			if key == "" || !validCoord(r.Latitude) || !validCoord(r.Longitude) {
				continue
			}
			if c.Contains(key) {
				continue
			}
			if err := c.Put(ctx, model.GeocodeEntry{
				Key:       key,
				Latitude:  r.Latitude,
				Longitude: r.Longitude,
				UpdatedAt: now,
			}); err != nil {
				return added, err
			}
			fileAdded++
		}
		added += fileAdded
		log.Debug("seeded from history file", zap.String("path", path), zap.Int("added", fileAdded))
	}

	log.Info("history seeding complete", zap.Int("files", len(names)), zap.Int("added", added))
	return added, nil
}

func readHistory(path string) ([]historyRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(r)
	if err != nil {
		return nil, eris.Wrap(err, "read header")
	}
	for _, col := range historyColumns {
		if !slices.Contains(dec.Header(), col) {
			return nil, eris.Errorf("missing column %q", col)
		}
	}

	var out []historyRow
	for {
		var row historyRow
		err := dec.Decode(&row)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "decode")
		}
		out = append(out, row)
	}
}

func validCoord(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}
