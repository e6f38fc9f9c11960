package geocache

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/woonradar/listings-cli/internal/fetcher"
	"github.com/woonradar/listings-cli/internal/model"
)

// legacyColumns maps column names found in older cache files.
var legacyColumns = map[string]string{
	"lat": "latitude",
	"lon": "longitude",
	"lng": "longitude",
}

// CSVBackend stores entries in an append-only CSV file. Every Upsert
// appends one row and syncs the file; on load the last row for a key wins.
type CSVBackend struct {
	path      string
	keyColumn string

	mu     sync.Mutex
	header []string
}

// NewCSVBackend returns a backend writing to path. keyColumn names the key
// column in the file header.
func NewCSVBackend(path, keyColumn string) (*CSVBackend, error) {
	if keyColumn == "" {
		return nil, eris.New("geocache: csv key column is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "geocache: create cache dir")
	}

	header, err := csvutil.Header(model.GeocodeEntry{}, "csv")
	if err != nil {
		return nil, eris.Wrap(err, "geocache: csv header")
	}
	return &CSVBackend{
		path:      path,
		keyColumn: keyColumn,
		header:    fetcher.RenameHeader(header, "key", keyColumn),
	}, nil
}

// Load implements Backend. A missing file is an empty cache. A file written
// with a different column layout is rewritten in the current layout so
// later appends line up.
func (b *CSVBackend) Load(ctx context.Context) ([]model.GeocodeEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "geocache: open %s", b.path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	fileHeader, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "geocache: read header %s", b.path)
	}

	decodeHeader := fetcher.RenameHeader(fileHeader, b.keyColumn, "key")
	for i, h := range decodeHeader {
		if alias, ok := legacyColumns[h]; ok {
			decodeHeader[i] = alias
		}
	}

	dec, err := csvutil.NewDecoder(r, decodeHeader...)
	if err != nil {
		return nil, eris.Wrapf(err, "geocache: decoder %s", b.path)
	}
	dec.WithUnmarshalers(fetcher.TimeUnmarshalers())

	var out []model.GeocodeEntry
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "geocache: load cancelled")
		}
		var e model.GeocodeEntry
		err := dec.Decode(&e)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "geocache: decode %s", b.path)
		}
		if e.Key == "" {
			continue
		}
		out = append(out, e)
	}

	if !slices.Equal(fileHeader, b.header) {
		zap.L().Info("geocache: rewriting csv cache in current layout",
			zap.String("path", b.path),
			zap.Strings("old_header", fileHeader),
		)
		if err := b.rewrite(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Upsert implements Backend.
func (b *CSVBackend) Upsert(_ context.Context, e model.GeocodeEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = updatedAt(e)
	}

	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "geocache: open %s", b.path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "geocache: stat %s", b.path)
	}

	if err := b.encode(f, info.Size() == 0, []model.GeocodeEntry{e}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "geocache: sync %s", b.path)
	}
	return eris.Wrapf(f.Close(), "geocache: close %s", b.path)
}

// Delete implements Backend by rewriting the file without key.
func (b *CSVBackend) Delete(ctx context.Context, key string) error {
	entries, err := b.Load(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	target := NormalizeKey(key)
	kept := entries[:0]
	for _, e := range entries {
		if NormalizeKey(e.Key) != target {
			kept = append(kept, e)
		}
	}
	return b.rewrite(kept)
}

// Close implements Backend.
func (b *CSVBackend) Close() error { return nil }

// rewrite replaces the file atomically. Callers hold mu.
func (b *CSVBackend) rewrite(entries []model.GeocodeEntry) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "geocache: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := b.encode(tmp, true, entries); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "geocache: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "geocache: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), b.path), "geocache: replace %s", b.path)
}

func (b *CSVBackend) encode(w io.Writer, withHeader bool, entries []model.GeocodeEntry) error {
	cw := csv.NewWriter(w)
	if withHeader {
		if err := cw.Write(b.header); err != nil {
			return eris.Wrap(err, "geocache: write header")
		}
	}

	enc := csvutil.NewEncoder(cw)
	enc.AutoHeader = false
	enc.WithMarshalers(fetcher.TimeMarshalers())
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return eris.Wrapf(err, "geocache: encode %q", e.Key)
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "geocache: flush csv")
}
