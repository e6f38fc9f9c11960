// Package fetcher reads broker parser exports, CSV or XLSX, from disk, HTTP
// or FTP into header-keyed records.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote exports.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
