/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"math"
	"time"

	"github.com/friendsincode/hydroclip/internal/folders"
)

// Cursor is the scheduler's progress through the window.
type Cursor struct {
	// FolderIndex indexes the window-filtered folder list. Never decreases.
	FolderIndex int
	// ClipStart is the UTC instant the next clip begins at. Never decreases.
	ClipStart time.Time
}

type planKind int

const (
	planFetch planKind = iota
	planRollover
	planExhausted
)

func (k planKind) String() string {
	switch k {
	case planFetch:
		return "fetch"
	case planRollover:
		return "rollover"
	default:
		return "exhausted"
	}
}

// plan is the decision for one iteration, before any I/O on segments.
type plan struct {
	kind planKind
	// segment range [segStart, segEnd) in the current folder's playlist
	segStart  int
	segEnd    int
	truncated bool
	reason    RetryReason
	next      Cursor
}

// indexEpsilon absorbs float noise such as 120/1.0000000001 so an exact
// multiple of the segment duration does not round up to the next index.
const indexEpsilon = 1e-9

// planClip maps the cursor onto segment indices of the current folder using
// the folder's average segment duration, and decides whether the clip can be
// cut here, needs the next folder, or cannot be cut at all.
func planClip(w Window, interval time.Duration, ids []folders.ID, cur Cursor, durations []float64) plan {
	if cur.FolderIndex >= len(ids) || !cur.ClipStart.Before(w.End) {
		return plan{kind: planExhausted, next: finished(w, cur)}
	}

	last := cur.FolderIndex == len(ids)-1
	count := len(durations)

	if count == 0 {
		if last {
			return plan{kind: planExhausted, next: finished(w, cur)}
		}
		return plan{kind: planRollover, reason: RetryEmptyPlaylist, next: rollover(w, ids, cur)}
	}

	avg := averageDuration(durations)
	segStart, segEnd := segmentRange(cur.ClipStart.Sub(ids[cur.FolderIndex].Time()), interval, avg)

	if segEnd <= count {
		return plan{
			kind:     planFetch,
			segStart: segStart,
			segEnd:   segEnd,
			next:     Cursor{FolderIndex: cur.FolderIndex, ClipStart: cur.ClipStart.Add(interval)},
		}
	}

	if !last {
		return plan{kind: planRollover, reason: RetryFolderExhausted, next: rollover(w, ids, cur)}
	}

	// Last folder: cut what is there and stop.
	segEnd = count
	if segEnd <= segStart {
		return plan{kind: planExhausted, next: finished(w, cur)}
	}
	return plan{
		kind:      planFetch,
		segStart:  segStart,
		segEnd:    segEnd,
		truncated: true,
		next:      finished(w, cur),
	}
}

// averageDuration returns the mean segment duration in seconds.
func averageDuration(durations []float64) float64 {
	var sum float64
	for _, d := range durations {
		sum += d
	}
	return sum / float64(len(durations))
}

// segmentRange converts an offset into a folder and a clip length into a
// segment index range, given the average segment duration avg (seconds).
// A negative offset is clamped to the first segment.
func segmentRange(offset, interval time.Duration, avg float64) (int, int) {
	segStart := ceilIndex(offset.Seconds() / avg)
	if segStart < 0 {
		segStart = 0
	}
	perClip := ceilIndex(interval.Seconds() / avg)
	if perClip < 1 {
		perClip = 1
	}
	return segStart, segStart + perClip
}

func ceilIndex(x float64) int {
	return int(math.Ceil(x - indexEpsilon))
}

// startCursor positions the cursor at the window start, or at the first
// folder's opening when the window begins before any data exists.
func startCursor(w Window, ids []folders.ID) Cursor {
	cur := Cursor{FolderIndex: 0, ClipStart: w.Start}
	if len(ids) > 0 && ids[0].Time().After(cur.ClipStart) {
		cur.ClipStart = ids[0].Time()
	}
	return cur
}

func rollover(w Window, ids []folders.ID, cur Cursor) Cursor {
	next := Cursor{FolderIndex: cur.FolderIndex + 1, ClipStart: ids[cur.FolderIndex+1].Time()}
	if next.ClipStart.Before(cur.ClipStart) {
		next.ClipStart = cur.ClipStart
	}
	if next.ClipStart.Before(w.Start) {
		next.ClipStart = w.Start
	}
	return next
}

func finished(w Window, cur Cursor) Cursor {
	next := cur
	if next.ClipStart.Before(w.End) {
		next.ClipStart = w.End
	}
	return next
}
