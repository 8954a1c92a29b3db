/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist loads the live HLS playlist of a stream folder.
package playlist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hydroclip/internal/folders"
	"github.com/friendsincode/hydroclip/internal/version"
)

// maxPlaylistBytes bounds a single playlist download.
const maxPlaylistBytes = 16 << 20

// Segment is one media segment listed in a folder's playlist.
type Segment struct {
	URI      string  // as written in the playlist
	Duration float64 // seconds
	BaseURI  string  // directory of the playlist, with trailing slash
}

// URL resolves the segment against its playlist location.
func (s Segment) URL() string {
	ref, err := url.Parse(s.URI)
	if err != nil || ref.IsAbs() || s.BaseURI == "" {
		return s.URI
	}
	base, err := url.Parse(s.BaseURI)
	if err != nil {
		return s.BaseURI + s.URI
	}
	return base.ResolveReference(ref).String()
}

// HTTPSource fetches live.m3u8 playlists over HTTP. Playlists are never cached:
// the newest folder keeps growing while it is live.
type HTTPSource struct {
	client *http.Client
	root   folders.Root
	logger zerolog.Logger
}

// NewHTTPSource creates a playlist source for root.
func NewHTTPSource(client *http.Client, root folders.Root, logger zerolog.Logger) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		client: client,
		root:   root,
		logger: logger.With().Str("component", "playlist").Logger(),
	}
}

// Load returns the segments currently listed for folder, in playlist order.
// A missing playlist yields an empty list rather than an error.
func (s *HTTPSource) Load(ctx context.Context, folder folders.ID) ([]Segment, error) {
	playlistURL := s.root.PlaylistURL(folder)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create playlist request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist %s: %w", playlistURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		s.logger.Debug().Str("url", playlistURL).Msg("playlist not published yet")
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch playlist %s: unexpected status %d", playlistURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return nil, fmt.Errorf("read playlist %s: %w", playlistURL, err)
	}

	segments, err := Decode(body, baseOf(playlistURL))
	if err != nil {
		return nil, fmt.Errorf("decode playlist %s: %w", playlistURL, err)
	}

	s.logger.Debug().Str("folder", folder.String()).Int("segments", len(segments)).Msg("playlist loaded")
	return segments, nil
}

// Decode parses a media playlist body. Master playlists are rejected.
func Decode(body []byte, baseURI string) ([]Segment, error) {
	// A freshly opened folder may publish a header-only playlist.
	if !bytes.Contains(body, []byte("#EXTINF")) && !bytes.Contains(body, []byte("#EXT-X-STREAM-INF")) {
		return nil, nil
	}

	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, err
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("expected a media playlist")
	}
	media, ok := p.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("expected a media playlist")
	}

	segments := make([]Segment, 0, media.Count())
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if seg.Duration <= 0 {
			return nil, fmt.Errorf("segment %q has non-positive duration %v", seg.URI, seg.Duration)
		}
		segments = append(segments, Segment{
			URI:      seg.URI,
			Duration: seg.Duration,
			BaseURI:  baseURI,
		})
	}
	return segments, nil
}

func baseOf(playlistURL string) string {
	if i := strings.LastIndex(playlistURL, "/"); i >= 0 {
		return playlistURL[:i+1]
	}
	return playlistURL
}
