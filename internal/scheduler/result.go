/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/hydroclip/internal/folders"
)

// Outcome tags the result of one Advance call.
type Outcome int

const (
	// ClipReady means a clip was written; Result.Clip is set.
	ClipReady Outcome = iota
	// Retry means the cursor moved to the next folder without output.
	Retry
	// EndOfStream means the window is exhausted. Further calls return it again.
	EndOfStream
	// Failed means the iteration could not produce its clip; Result.Err is a *ClipError.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case ClipReady:
		return "clip_ready"
	case Retry:
		return "retry"
	case EndOfStream:
		return "end_of_stream"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RetryReason says why a folder was left behind.
type RetryReason string

const (
	RetryEmptyPlaylist   RetryReason = "empty_playlist"
	RetryFolderExhausted RetryReason = "folder_exhausted"
)

// Clip describes one produced audio file.
type Clip struct {
	Path   string
	Label  string
	Folder folders.ID
	// Start is the clip's nominal start in UTC, or the replay anchor when one was given.
	Start time.Time
	// LocalStart is Start in the label timezone.
	LocalStart   time.Time
	ReplayAnchor *time.Time
	// Segments is how many segments went into the clip, out of Requested.
	Segments  int
	Requested int
	// Truncated is set when the last folder ran out of data before the
	// polling interval was covered.
	Truncated bool
}

// SegmentFetch records one download attempt. Err is nil on success.
type SegmentFetch struct {
	Index int
	URI   string
	Path  string
	Err   error
}

// Result is what one Advance call produced.
type Result struct {
	Outcome     Outcome
	Clip        *Clip
	Fetches     []SegmentFetch
	RetryReason RetryReason
	Err         error
}

// Skipped counts failed segment downloads.
func (r Result) Skipped() int {
	n := 0
	for _, f := range r.Fetches {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// ErrorKind classifies iteration failures.
type ErrorKind string

const (
	// KindPlaylist: the folder playlist could not be loaded. The cursor did not move.
	KindPlaylist ErrorKind = "playlist"
	// KindScratch: per-clip scratch storage could not be created.
	KindScratch ErrorKind = "scratch"
	// KindNoSegments: every segment download failed.
	KindNoSegments ErrorKind = "no_segments"
	// KindTranscode: concatenation or transcoding failed. Artifact holds the
	// preserved concatenation when it could be saved.
	KindTranscode ErrorKind = "transcode"
	// KindOutput: the replay rename of the finished clip failed.
	KindOutput ErrorKind = "output"
	// KindCanceled: the context ended while waiting for a real-time deadline.
	KindCanceled ErrorKind = "canceled"
)

// ClipError is the error carried by a Failed result.
type ClipError struct {
	Kind     ErrorKind
	Folder   folders.ID
	Label    string
	Artifact string
	Err      error
}

func (e *ClipError) Error() string {
	msg := fmt.Sprintf("clip %s (folder %s): %s", e.Label, e.Folder, e.Kind)
	if e.Artifact != "" {
		msg += " (artifact kept at " + e.Artifact + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ClipError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *ClipError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *ClipError
	return errors.As(err, &ce) && ce.Kind == kind
}

// ErrConstruction wraps every error returned by New.
var ErrConstruction = errors.New("scheduler construction failed")
