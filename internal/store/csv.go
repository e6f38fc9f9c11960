package store

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/fetcher"
	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/resilience"
)

var sourceFileName = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]*$`)

// legacySnapshotColumns maps column names used by older snapshot exports.
var legacySnapshotColumns = map[string]string{
	"lat":          "latitude",
	"lon":          "longitude",
	"price_per_m2": "price_per_area",
}

// CSVStore keeps one CSV file per source in a directory. It has no run log
// or retry queue; those operations return ErrUnsupported.
type CSVStore struct {
	dir string
	mu  sync.Mutex
}

// NewCSV returns a store writing to dir.
func NewCSV(dir string) (*CSVStore, error) {
	if dir == "" {
		return nil, eris.New("csv: data dir is required")
	}
	return &CSVStore{dir: dir}, nil
}

// Migrate implements Store by creating the data directory.
func (s *CSVStore) Migrate(_ context.Context) error {
	return eris.Wrap(os.MkdirAll(s.dir, 0o755), "csv: create data dir")
}

// Close implements Store.
func (s *CSVStore) Close() error { return nil }

func (s *CSVStore) path(source string) (string, error) {
	if !sourceFileName.MatchString(source) {
		return "", eris.Errorf("csv: invalid source name %q", source)
	}
	return filepath.Join(s.dir, source+".csv"), nil
}

// LoadSnapshot implements Store. A missing file is an empty snapshot.
func (s *CSVStore) LoadSnapshot(ctx context.Context, source string) (model.SourceSnapshot, error) {
	snap := model.SourceSnapshot{Source: source}
	path, err := s.path(source)
	if err != nil {
		return snap, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, eris.Wrapf(err, "csv: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return snap, nil
	}
	if err != nil {
		return snap, eris.Wrapf(err, "csv: read header %s", path)
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if alias, ok := legacySnapshotColumns[h]; ok {
			h = alias
		}
		header[i] = h
	}

	dec, err := csvutil.NewDecoder(r, header...)
	if err != nil {
		return snap, eris.Wrapf(err, "csv: decoder %s", path)
	}
	dec.WithUnmarshalers(fetcher.TimeUnmarshalers())

	for {
		if err := ctx.Err(); err != nil {
			return snap, eris.Wrap(err, "csv: load cancelled")
		}
		var row model.ListingSnapshotRow
		err := dec.Decode(&row)
		if err == io.EOF {
			return snap, nil
		}
		if err != nil {
			return snap, eris.Wrapf(err, "csv: decode %s", path)
		}
		snap.Rows = append(snap.Rows, row)
	}
}

// SaveSnapshot implements Store. The file is written to a temporary name
// and renamed over the old one.
func (s *CSVStore) SaveSnapshot(_ context.Context, snap model.SourceSnapshot) error {
	path, err := s.path(snap.Source)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "csv: create data dir")
	}
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "csv: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := encodeSnapshot(tmp, snap.Rows); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "csv: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "csv: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "csv: replace %s", path)
}

// ListSources implements Store.
func (s *CSVStore) ListSources(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.csv"))
	if err != nil {
		return nil, eris.Wrap(err, "csv: list sources")
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), ".csv"))
	}
	slices.Sort(out)
	return out, nil
}

func encodeSnapshot(w io.Writer, rows []model.ListingSnapshotRow) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	enc.WithMarshalers(fetcher.TimeMarshalers())
	if len(rows) == 0 {
		if err := enc.EncodeHeader(model.ListingSnapshotRow{}); err != nil {
			return eris.Wrap(err, "csv: write header")
		}
	}
	for i, r := range rows {
		if err := enc.Encode(r); err != nil {
			return eris.Wrapf(err, "csv: encode row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

// CreateRun implements Store.
func (s *CSVStore) CreateRun(context.Context, string) (*model.Run, error) {
	return nil, ErrUnsupported
}

// CompleteRun implements Store.
func (s *CSVStore) CompleteRun(context.Context, string, *model.RunReport) error {
	return ErrUnsupported
}

// FailRun implements Store.
func (s *CSVStore) FailRun(context.Context, string, error) error {
	return ErrUnsupported
}

// GetRun implements Store.
func (s *CSVStore) GetRun(context.Context, string) (*model.Run, error) {
	return nil, ErrUnsupported
}

// ListRuns implements Store.
func (s *CSVStore) ListRuns(context.Context, RunFilter) ([]model.Run, error) {
	return nil, ErrUnsupported
}

// EnqueueRetry implements Store.
func (s *CSVStore) EnqueueRetry(context.Context, resilience.RetryEntry) error {
	return ErrUnsupported
}

// ListRetries implements Store.
func (s *CSVStore) ListRetries(context.Context, int) ([]resilience.RetryEntry, error) {
	return nil, ErrUnsupported
}

// DeleteRetry implements Store.
func (s *CSVStore) DeleteRetry(context.Context, string) error {
	return ErrUnsupported
}
