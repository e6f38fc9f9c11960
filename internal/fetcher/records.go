package fetcher

import (
	"bufio"
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// peekBytes bounds the header line inspected for the CSV delimiter.
const peekBytes = 4096

// IsRemote reports whether src is an http(s) or ftp URL rather than a
// local path.
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ftp":
		return true
	}
	return false
}

// ForURL returns the fetcher for the URL's scheme.
func ForURL(rawURL string, httpOpts HTTPOptions, ftpOpts FTPOptions) Fetcher {
	if u, err := url.Parse(rawURL); err == nil && u.Scheme == "ftp" {
		return NewFTPFetcher(ftpOpts)
	}
	return NewHTTPFetcher(httpOpts)
}

// ReadRecords reads a parser export into records keyed by header name. The
// format follows the file extension: .csv and .txt are CSV with a comma or
// semicolon delimiter, .xlsx is the first sheet of a workbook. An empty file
// yields no records.
func ReadRecords(ctx context.Context, path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open export")
	}
	defer f.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	var (
		rowCh <-chan []string
		errCh <-chan error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt":
		br := bufio.NewReader(f)
		first, _ := br.Peek(peekBytes)
		line, _, _ := strings.Cut(string(first), "\n")
		rowCh, errCh = StreamCSV(ctx, br, CSVOptions{
			Delimiter:  SniffDelimiter(line),
			HasHeader:  true,
			HeaderCh:   headerCh,
			LazyQuotes: true,
			TrimSpace:  true,
		})
	case ".xlsx":
		rowCh, errCh = StreamXLSX(ctx, path, XLSXOptions{HasHeader: true, HeaderCh: headerCh})
	default:
		return nil, eris.Errorf("fetcher: unsupported export format %q", ext)
	}

	var header []string
	var records []map[string]string
	for row := range rowCh {
		if header == nil {
			header = <-headerCh
		}
		records = append(records, toRecord(header, row))
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read %s", path)
		}
	}

	zap.L().Debug("read export",
		zap.String("component", "fetcher"),
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// FetchRecords downloads a remote export into a temporary file and reads it
// with ReadRecords. The URL path's extension selects the format.
func FetchRecords(ctx context.Context, f Fetcher, rawURL string) ([]map[string]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse export url")
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		ext = ".csv"
	}

	tmp, err := os.CreateTemp("", "listings-export-*"+ext)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create temp file")
	}
	name := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(name) //nolint:errcheck

	if _, err := f.DownloadToFile(ctx, rawURL, name); err != nil {
		return nil, eris.Wrapf(err, "fetcher: download %s", rawURL)
	}
	return ReadRecords(ctx, name)
}

// toRecord pairs header names with row values. Missing trailing cells are
// empty; cells beyond the header and blank header names are dropped.
func toRecord(header, row []string) map[string]string {
	rec := make(map[string]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if i < len(row) {
			rec[name] = row[i]
		} else {
			rec[name] = ""
		}
	}
	return rec
}
