/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package folders resolves the time-partitioned HLS folders of a hydrophone
// stream. Each folder is named by the unix time at which it was opened and
// holds one live.m3u8 playlist.
package folders

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ID identifies one folder by the unix second at which it starts.
type ID int64

// Time returns the folder start as a UTC instant.
func (id ID) Time() time.Time {
	return time.Unix(int64(id), 0).UTC()
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses a folder name such as "1600000000" or "1600000000/".
func ParseID(name string) (ID, error) {
	name = strings.Trim(name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	v, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("folder name %q is not a unix timestamp: %w", name, err)
	}
	return ID(v), nil
}

// Root locates one hydrophone's folders.
type Root struct {
	// Base is the HTTP root the playlists are served from, without trailing slash.
	Base string
	// Bucket is the S3 bucket holding the folders.
	Bucket string
	// Node is the hydrophone folder name, e.g. "rpi_orcasound_lab".
	Node string
}

// Prefix returns the S3 key prefix under which folders are listed.
func (r Root) Prefix() string {
	return r.Node + "/hls/"
}

// PlaylistURL returns the live playlist URL of a folder.
func (r Root) PlaylistURL(id ID) string {
	return fmt.Sprintf("%s/hls/%s/live.m3u8", r.Base, id)
}

// ParseStreamBase splits a path-style stream base such as
// https://s3-us-west-2.amazonaws.com/streaming-orcasound-net/rpi_orcasound_lab
// into bucket and node.
func ParseStreamBase(streamBase string) (Root, error) {
	u, err := url.Parse(strings.TrimSpace(streamBase))
	if err != nil {
		return Root{}, fmt.Errorf("parse stream base: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Root{}, fmt.Errorf("stream base %q must be an http(s) URL", streamBase)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Root{}, fmt.Errorf("stream base %q must have the form <host>/<bucket>/<node>", streamBase)
	}

	u.Path = "/" + parts[0] + "/" + parts[1]
	u.RawQuery = ""
	u.Fragment = ""

	return Root{
		Base:   u.String(),
		Bucket: parts[0],
		Node:   parts[1],
	}, nil
}

// FilterWindow returns the folders overlapping [start, end) in ascending order.
//
// A folder covers the time from its own id up to the next folder's id, so the
// result is the last folder starting at or before start plus every folder that
// starts before end. When no folder starts at or before start, the result
// begins with the first folder inside the window.
func FilterWindow(ids []ID, start, end time.Time) []ID {
	sorted := append([]ID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	startUnix := start.Unix()
	endUnix := end.Unix()
	if end.After(time.Unix(endUnix, 0)) {
		// Sub-second end still admits a folder opened at endUnix.
		endUnix++
	}

	// First folder strictly after start; the one before it contains start.
	first := sort.Search(len(sorted), func(i int) bool { return int64(sorted[i]) > startUnix })
	if first > 0 {
		first--
	}
	last := sort.Search(len(sorted), func(i int) bool { return int64(sorted[i]) >= endUnix })

	if first >= last {
		return nil
	}

	out := make([]ID, 0, last-first)
	for _, id := range sorted[first:last] {
		if len(out) > 0 && out[len(out)-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}
