/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler cuts a UTC window of a hydrophone's HLS stream into
// fixed-duration audio clips, one per call to Advance.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/hydroclip/internal/clipname"
	"github.com/friendsincode/hydroclip/internal/events"
	"github.com/friendsincode/hydroclip/internal/folders"
	"github.com/friendsincode/hydroclip/internal/playlist"
	"github.com/friendsincode/hydroclip/internal/telemetry"
	"github.com/friendsincode/hydroclip/internal/transcode"
)

const tracerName = "hydroclip/scheduler"

// FolderIndex lists every folder of the stream, in any order.
type FolderIndex interface {
	ListFolders(ctx context.Context) ([]folders.ID, error)
}

// PlaylistSource returns the segments a folder currently lists. An empty
// list is not an error.
type PlaylistSource interface {
	Load(ctx context.Context, folder folders.ID) ([]playlist.Segment, error)
}

// SegmentFetcher downloads one segment into destDir and returns its path.
type SegmentFetcher interface {
	Fetch(ctx context.Context, segmentURL, destDir string) (string, error)
}

// MediaAssembler joins raw segments and transcodes them to the output format.
type MediaAssembler interface {
	Concat(ctx context.Context, files []string, dst string) error
	Transcode(ctx context.Context, input, output string, opts transcode.Options) error
}

// Deps are the scheduler's collaborators. Clock defaults to SystemClock and
// Notifier may be nil.
type Deps struct {
	Folders   FolderIndex
	Playlists PlaylistSource
	Fetcher   SegmentFetcher
	Assembler MediaAssembler
	Clock     Clock
	Notifier  events.Publisher
}

// Scheduler owns the cursor over one window. It must be driven by a single
// caller.
type Scheduler struct {
	cfg     Config
	deps    Deps
	root    folders.Root
	folders []folders.ID
	cursor  Cursor
	logger  zerolog.Logger

	pacedThrough time.Time
	ended        bool
}

// New resolves the folders overlapping the window and returns a scheduler
// positioned at its start, or at the first folder if that opens later. Any
// failure is wrapped in ErrConstruction.
func New(ctx context.Context, cfg Config, deps Deps, logger zerolog.Logger) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}
	if deps.Folders == nil || deps.Playlists == nil || deps.Fetcher == nil || deps.Assembler == nil {
		return nil, fmt.Errorf("%w: folder index, playlist source, fetcher and assembler are required", ErrConstruction)
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}

	root, err := folders.ParseStreamBase(cfg.StreamBase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %w", ErrConstruction, err)
	}

	all, err := deps.Folders.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list folders: %w", ErrConstruction, err)
	}
	inWindow := folders.FilterWindow(all, cfg.Window.Start, cfg.Window.End)

	logger = logger.With().Str("component", "scheduler").Str("node", root.Node).Logger()
	logger.Info().
		Int("folders_total", len(all)).
		Int("folders_in_window", len(inWindow)).
		Time("start", cfg.Window.Start).
		Time("end", cfg.Window.End).
		Dur("interval", cfg.PollingInterval).
		Msg("scheduler ready")

	return &Scheduler{
		cfg:     cfg,
		deps:    deps,
		root:    root,
		folders: inWindow,
		cursor:  startCursor(cfg.Window, inWindow),
		logger:  logger,
	}, nil
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Folders returns the window-filtered folder list.
func (s *Scheduler) Folders() []folders.ID {
	return append([]folders.ID(nil), s.folders...)
}

// Node returns the hydrophone folder name.
func (s *Scheduler) Node() string { return s.root.Node }

// Cursor returns a copy of the current cursor.
func (s *Scheduler) Cursor() Cursor { return s.cursor }

// IsStreamOver reports whether the cursor has reached the window end.
// Once true it stays true.
func (s *Scheduler) IsStreamOver() bool {
	return !s.cursor.ClipStart.Before(s.cfg.Window.End)
}

// Advance produces the next clip or says why it could not.
func (s *Scheduler) Advance(ctx context.Context) Result {
	return s.advance(ctx, nil)
}

// AdvanceReplay is Advance with a replay anchor: the clip is labelled as if
// it had been captured at anchor, and real-time pacing waits for anchor.
func (s *Scheduler) AdvanceReplay(ctx context.Context, anchor time.Time) Result {
	a := anchor.UTC()
	return s.advance(ctx, &a)
}

func (s *Scheduler) advance(ctx context.Context, anchor *time.Time) Result {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "scheduler.advance",
		attribute.String("node", s.root.Node),
		attribute.Int("folder_index", s.cursor.FolderIndex),
		attribute.String("clip_start", s.cursor.ClipStart.Format(time.RFC3339)),
	)
	defer span.End()

	res := s.step(ctx, anchor)

	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	if res.RetryReason != "" {
		span.SetAttributes(attribute.String("retry_reason", string(res.RetryReason)))
	}
	telemetry.RecordError(span, res.Err)
	telemetry.ClipAdvancesTotal.WithLabelValues(s.root.Node, res.Outcome.String()).Inc()
	return res
}

func (s *Scheduler) step(ctx context.Context, anchor *time.Time) Result {
	if s.IsStreamOver() || s.cursor.FolderIndex >= len(s.folders) {
		return s.endOfStream()
	}

	cur := s.cursor
	folder := s.folders[cur.FolderIndex]
	label, local := clipname.Label(s.root.Node, cur.ClipStart, s.cfg.Location)

	if s.cfg.RealTime {
		deadline := cur.ClipStart.Add(s.cfg.PollingInterval)
		if anchor != nil {
			deadline = *anchor
		}
		if err := s.pace(ctx, deadline, label); err != nil {
			return s.failed(nil, &ClipError{Kind: KindCanceled, Folder: folder, Label: label, Err: err})
		}
	}

	segments, err := s.deps.Playlists.Load(ctx, folder)
	if err != nil {
		return s.failed(nil, &ClipError{Kind: KindPlaylist, Folder: folder, Label: label, Err: err})
	}
	durations := make([]float64, len(segments))
	for i, seg := range segments {
		durations[i] = seg.Duration
	}

	p := planClip(s.cfg.Window, s.cfg.PollingInterval, s.folders, cur, durations)
	s.logger.Debug().
		Str("folder", folder.String()).
		Str("plan", p.kind.String()).
		Int("segments", len(segments)).
		Int("seg_start", p.segStart).
		Int("seg_end", p.segEnd).
		Msg("planned clip")

	switch p.kind {
	case planExhausted:
		if len(segments) == 0 {
			s.logger.Warn().Str("folder", folder.String()).Msg("last folder has no segments")
		} else {
			s.logger.Warn().Str("folder", folder.String()).Msg("no data left in last folder")
		}
		s.cursor = p.next
		return s.endOfStream()

	case planRollover:
		s.cursor = p.next
		next := s.folders[p.next.FolderIndex]
		s.logger.Info().
			Str("from", folder.String()).
			Str("to", next.String()).
			Str("reason", string(p.reason)).
			Msg("moving to next folder")
		telemetry.FolderRolloversTotal.WithLabelValues(s.root.Node, string(p.reason)).Inc()
		s.notify(events.EventFolderRollover, events.Payload{
			"from":   folder.String(),
			"to":     next.String(),
			"reason": string(p.reason),
		})
		return Result{Outcome: Retry, RetryReason: p.reason}
	}

	if p.truncated {
		s.logger.Warn().
			Str("folder", folder.String()).
			Int("seg_start", p.segStart).
			Int("seg_end", p.segEnd).
			Msg("missing data, returning truncated clip")
		telemetry.ClipsTruncatedTotal.WithLabelValues(s.root.Node).Inc()
	}

	// Commit before any I/O so a failed clip is never requested twice.
	s.cursor = p.next

	clip, fetches, err := s.produce(ctx, folder, segments[p.segStart:p.segEnd], p.segStart, label, local, anchor)
	if err != nil {
		return s.failed(fetches, err)
	}
	clip.Truncated = p.truncated
	clip.Requested = p.segEnd - p.segStart

	s.logger.Info().
		Str("path", clip.Path).
		Str("label", clip.Label).
		Int("segments", clip.Segments).
		Int("requested", clip.Requested).
		Msg("clip ready")
	s.notify(events.EventClipReady, events.Payload{
		"path":      clip.Path,
		"label":     clip.Label,
		"folder":    folder.String(),
		"start":     clip.Start.Format(time.RFC3339),
		"segments":  clip.Segments,
		"requested": clip.Requested,
		"truncated": clip.Truncated,
	})
	return Result{Outcome: ClipReady, Clip: clip, Fetches: fetches}
}

// produce downloads segs into a fresh scratch dir, assembles them and writes
// the clip. The scratch dir is removed on every path.
func (s *Scheduler) produce(ctx context.Context, folder folders.ID, segs []playlist.Segment, firstIndex int, label string, local time.Time, anchor *time.Time) (*Clip, []SegmentFetch, error) {
	scratch := filepath.Join(s.cfg.ScratchDir, "clip-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, nil, &ClipError{Kind: KindScratch, Folder: folder, Label: label, Err: err}
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			s.logger.Warn().Err(err).Str("dir", scratch).Msg("failed to remove scratch dir")
		}
	}()

	fetches := make([]SegmentFetch, 0, len(segs))
	files := make([]string, 0, len(segs))
	for i, seg := range segs {
		f := SegmentFetch{Index: firstIndex + i, URI: seg.URI}
		f.Path, f.Err = s.deps.Fetcher.Fetch(ctx, seg.URL(), scratch)
		fetches = append(fetches, f)
		if f.Err != nil {
			s.logger.Warn().Err(f.Err).Str("uri", seg.URI).Int("index", f.Index).Msg("skipping segment")
			telemetry.SegmentFetchesTotal.WithLabelValues(s.root.Node, "skipped").Inc()
			s.notify(events.EventSegmentSkipped, events.Payload{
				"folder": folder.String(),
				"index":  f.Index,
				"uri":    seg.URI,
				"error":  f.Err.Error(),
			})
			continue
		}
		telemetry.SegmentFetchesTotal.WithLabelValues(s.root.Node, "ok").Inc()
		files = append(files, f.Path)
	}
	if len(files) == 0 {
		return nil, fetches, &ClipError{Kind: KindNoSegments, Folder: folder, Label: label,
			Err: fmt.Errorf("all %d segment downloads failed", len(segs))}
	}

	s.logger.Debug().Strs("files", files).Msg("files to concat")

	concatPath := filepath.Join(scratch, label+".ts")
	output := filepath.Join(s.cfg.OutputDir, clipname.FileName(label, s.cfg.Format))
	started := time.Now()

	err := s.deps.Assembler.Concat(ctx, files, concatPath)
	if err == nil {
		err = s.deps.Assembler.Transcode(ctx, concatPath, output, transcode.Options{
			Overwrite: s.cfg.OverwriteOutput,
			Quiet:     s.cfg.Quiet,
		})
	}
	if err != nil {
		telemetry.TranscodeDurationSeconds.WithLabelValues(s.root.Node, "error").Observe(time.Since(started).Seconds())
		artifact, perr := s.preserve(concatPath, label)
		if perr != nil {
			s.logger.Error().Err(perr).Msg("failed to preserve concatenated segments")
		}
		return nil, fetches, &ClipError{Kind: KindTranscode, Folder: folder, Label: label, Artifact: artifact, Err: err}
	}
	telemetry.TranscodeDurationSeconds.WithLabelValues(s.root.Node, "ok").Observe(time.Since(started).Seconds())

	clip := &Clip{
		Path:       output,
		Label:      label,
		Folder:     folder,
		Start:      local.UTC(),
		LocalStart: local,
		Segments:   len(files),
	}

	if anchor != nil {
		replayLabel, replayLocal := clipname.Label(s.root.Node, *anchor, s.cfg.Location)
		replayPath := filepath.Join(s.cfg.OutputDir, clipname.FileName(replayLabel, s.cfg.Format))
		if replayPath != output {
			if !s.cfg.OverwriteOutput {
				if _, err := os.Lstat(replayPath); err == nil {
					return nil, fetches, &ClipError{Kind: KindOutput, Folder: folder, Label: replayLabel, Artifact: output,
						Err: fmt.Errorf("%s: %w", replayPath, os.ErrExist)}
				}
			}
			if err := os.Rename(output, replayPath); err != nil {
				return nil, fetches, &ClipError{Kind: KindOutput, Folder: folder, Label: label, Artifact: output, Err: err}
			}
		}
		a := *anchor
		clip.Path = replayPath
		clip.Label = replayLabel
		clip.Start = a
		clip.LocalStart = replayLocal
		clip.ReplayAnchor = &a
	}

	return clip, fetches, nil
}

// preserve copies the failed concatenation out of scratch so it survives
// cleanup. It returns the saved path, or "" if nothing could be saved.
func (s *Scheduler) preserve(concatPath, label string) (string, error) {
	src, err := os.Open(concatPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(s.cfg.FailedDir, 0o755); err != nil {
		return "", err
	}
	dstPath := filepath.Join(s.cfg.FailedDir, label+".ts")
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return dstPath, nil
}

// pace waits until deadline. A deadline already behind us is drift.
func (s *Scheduler) pace(ctx context.Context, deadline time.Time, label string) error {
	wait := deadline.Sub(s.deps.Clock.Now())
	if wait <= 0 {
		if deadline.After(s.pacedThrough) {
			s.logger.Warn().
				Str("label", label).
				Dur("late_by", -wait).
				Msg("issue with timing: real-time deadline already passed")
			telemetry.PacingDriftTotal.WithLabelValues(s.root.Node).Inc()
			s.notify(events.EventPacingDrift, events.Payload{
				"label":   label,
				"late_by": (-wait).String(),
			})
			s.pacedThrough = deadline
		}
		return nil
	}

	s.logger.Debug().Str("label", label).Dur("wait", wait).Msg("waiting for real-time deadline")
	telemetry.PacingWaitSeconds.WithLabelValues(s.root.Node).Observe(wait.Seconds())
	if err := s.deps.Clock.Sleep(ctx, wait); err != nil {
		return err
	}
	s.pacedThrough = deadline
	return nil
}

func (s *Scheduler) endOfStream() Result {
	if s.cursor.ClipStart.Before(s.cfg.Window.End) {
		s.cursor.ClipStart = s.cfg.Window.End
	}
	if !s.ended {
		s.ended = true
		s.logger.Info().Msg("end of stream")
		s.notify(events.EventStreamEnd, events.Payload{
			"end": s.cfg.Window.End.Format(time.RFC3339),
		})
	}
	return Result{Outcome: EndOfStream}
}

func (s *Scheduler) failed(fetches []SegmentFetch, err error) Result {
	s.logger.Error().Err(err).Msg("clip failed")
	payload := events.Payload{"error": err.Error()}
	var ce *ClipError
	if errors.As(err, &ce) {
		payload["kind"] = string(ce.Kind)
		payload["label"] = ce.Label
		payload["folder"] = ce.Folder.String()
		if ce.Artifact != "" {
			payload["artifact"] = ce.Artifact
		}
	}
	s.notify(events.EventClipFailed, payload)
	return Result{Outcome: Failed, Fetches: fetches, Err: err}
}

func (s *Scheduler) notify(eventType events.EventType, payload events.Payload) {
	if s.deps.Notifier == nil {
		return
	}
	payload["node"] = s.root.Node
	s.deps.Notifier.Publish(eventType, payload)
}
