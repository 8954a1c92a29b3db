/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fetch downloads individual HLS segments into scratch storage.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/hydroclip/internal/version"
)

// Error reports a failed segment download. Callers treat it as transient:
// the segment is skipped and the clip is assembled from the rest.
type Error struct {
	URL        string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPFetcher downloads segments with a shared HTTP client.
type HTTPFetcher struct {
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPFetcher creates a segment fetcher.
func NewHTTPFetcher(client *http.Client, logger zerolog.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		client: client,
		logger: logger.With().Str("component", "segment_fetcher").Logger(),
	}
}

// Fetch downloads segmentURL into destDir and returns the local file path.
// A partially written file is removed on failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, segmentURL, destDir string) (string, error) {
	name, err := fileName(segmentURL)
	if err != nil {
		return "", &Error{URL: segmentURL, Err: err}
	}
	dest := filepath.Join(destDir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segmentURL, nil)
	if err != nil {
		return "", &Error{URL: segmentURL, Err: err}
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &Error{URL: segmentURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &Error{URL: segmentURL, StatusCode: resp.StatusCode}
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create segment file: %w", err)
	}

	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return "", &Error{URL: segmentURL, Err: err}
	}

	f.logger.Debug().Str("url", segmentURL).Int64("bytes", n).Msg("segment downloaded")
	return dest, nil
}

// fileName derives a safe local name from the last path element of the URL.
func fileName(segmentURL string) (string, error) {
	u, err := url.Parse(segmentURL)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || strings.ContainsAny(name, `\`) || name == ".." {
		return "", fmt.Errorf("cannot derive file name from %q", segmentURL)
	}
	return name, nil
}
