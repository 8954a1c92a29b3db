package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hydroclip/internal/clipname"
	"github.com/friendsincode/hydroclip/internal/events"
	"github.com/friendsincode/hydroclip/internal/folders"
	"github.com/friendsincode/hydroclip/internal/telemetry"
)

func TestBackfillThreeFullClips(t *testing.T) {
	end := t0.Add(180 * time.Second)
	h := newHarness(t, t0, end, map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
	s := h.build(t)

	for n := 1; n <= 3; n++ {
		res := s.Advance(context.Background())
		if res.Outcome != ClipReady {
			t.Fatalf("advance %d: outcome = %s (%v)", n, res.Outcome, res.Err)
		}
		if res.Clip.Segments != 60 || res.Clip.Truncated {
			t.Fatalf("advance %d: segments = %d truncated = %v", n, res.Clip.Segments, res.Clip.Truncated)
		}
		if want := t0.Add(time.Duration(n) * time.Minute); !s.Cursor().ClipStart.Equal(want) {
			t.Fatalf("advance %d: clip start = %s, want %s", n, s.Cursor().ClipStart, want)
		}
		if _, err := os.Stat(res.Clip.Path); err != nil {
			t.Fatalf("advance %d: clip not written: %v", n, err)
		}
	}

	if !s.IsStreamOver() {
		t.Fatal("expected stream to be over after three clips")
	}
	if res := s.Advance(context.Background()); res.Outcome != EndOfStream {
		t.Fatalf("outcome = %s, want end_of_stream", res.Outcome)
	}
	assertEmptyDir(t, h.cfg.ScratchDir)
}

func TestWindowBeforeFirstFolderStartsAtFolder(t *testing.T) {
	opened := t0.Add(30 * time.Second)
	h := newHarness(t, t0, t0.Add(180*time.Second), map[folders.ID][]float64{folderAt(opened): uniform(300, 1)})
	s := h.build(t)

	if !s.Cursor().ClipStart.Equal(opened) {
		t.Fatalf("initial clip start = %s, want %s", s.Cursor().ClipStart, opened)
	}

	var starts []time.Time
	var labels []string
	for {
		res := s.Advance(context.Background())
		if res.Outcome == EndOfStream {
			break
		}
		if res.Outcome != ClipReady {
			t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
		}
		starts = append(starts, res.Clip.Start)
		labels = append(labels, res.Clip.Label)
	}

	want := []time.Time{opened, opened.Add(time.Minute), opened.Add(2 * time.Minute)}
	if len(starts) != len(want) {
		t.Fatalf("clips = %d, want %d", len(starts), len(want))
	}
	for i := range want {
		if !starts[i].Equal(want[i]) {
			t.Fatalf("clip %d start = %s, want %s", i, starts[i], want[i])
		}
	}
	wantLabel, _ := clipname.Label("rpi_orcasound_lab", opened, nil)
	if labels[0] != wantLabel {
		t.Fatalf("first label = %q, want %q", labels[0], wantLabel)
	}

	seen := map[string]int{}
	for i, names := range h.assembler.concatenated {
		for _, name := range names {
			if prev, ok := seen[name]; ok {
				t.Fatalf("segment %s in clip %d and clip %d", name, prev, i)
			}
			seen[name] = i
		}
	}
	if h.assembler.concatenated[0][0] != "live000.ts" {
		t.Fatalf("first clip begins at %s, want live000.ts", h.assembler.concatenated[0][0])
	}
}

func TestClipIsLabelledInPacificTime(t *testing.T) {
	h := newHarness(t, t0, t0.Add(time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(100, 1)})
	s := h.build(t)

	res := s.Advance(context.Background())
	if res.Outcome != ClipReady {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
	// 1600000000 is 2020-09-13 12:26:40 UTC.
	wantLabel := "rpi-orcasound-lab_2020_09_13_05_26_40_PDT"
	if res.Clip.Label != wantLabel {
		t.Fatalf("label = %q, want %q", res.Clip.Label, wantLabel)
	}
	if want := filepath.Join(h.cfg.OutputDir, wantLabel+".wav"); res.Clip.Path != want {
		t.Fatalf("path = %q, want %q", res.Clip.Path, want)
	}
	if !res.Clip.Start.Equal(t0) {
		t.Fatalf("start = %s, want %s", res.Clip.Start, t0)
	}
}

func TestShortFolderRollsOverToNext(t *testing.T) {
	a := folderAt(t0)
	b := folderAt(t0.Add(30 * time.Second))
	h := newHarness(t, t0, t0.Add(2*time.Minute), map[folders.ID][]float64{
		a: uniform(30, 1),
		b: uniform(200, 1),
	})
	s := h.build(t)

	res := s.Advance(context.Background())
	if res.Outcome != Retry || res.RetryReason != RetryFolderExhausted {
		t.Fatalf("first advance = %s/%s, want retry/folder_exhausted", res.Outcome, res.RetryReason)
	}
	if cur := s.Cursor(); cur.FolderIndex != 1 || !cur.ClipStart.Equal(b.Time()) {
		t.Fatalf("cursor = %+v, want folder 1 at %s", cur, b.Time())
	}
	if h.fetcher.calls != 0 {
		t.Fatalf("retry fetched %d segments", h.fetcher.calls)
	}

	res = s.Advance(context.Background())
	if res.Outcome != ClipReady {
		t.Fatalf("second advance = %s (%v)", res.Outcome, res.Err)
	}
	if res.Clip.Folder != b {
		t.Fatalf("clip folder = %s, want %s", res.Clip.Folder, b)
	}
	for _, f := range res.Fetches {
		if f.Index >= 60 {
			t.Fatalf("unexpected segment index %d", f.Index)
		}
	}
	if got := h.playlists.loads; !reflect.DeepEqual(got, []folders.ID{a, b}) {
		t.Fatalf("playlist loads = %v", got)
	}
}

func TestEmptyPlaylistRollsOver(t *testing.T) {
	a := folderAt(t0)
	b := folderAt(t0.Add(10 * time.Second))
	h := newHarness(t, t0, t0.Add(2*time.Minute), map[folders.ID][]float64{
		a: nil,
		b: uniform(200, 1),
	})
	s := h.build(t)

	res := s.Advance(context.Background())
	if res.Outcome != Retry || res.RetryReason != RetryEmptyPlaylist {
		t.Fatalf("advance = %s/%s, want retry/empty_playlist", res.Outcome, res.RetryReason)
	}
	if cur := s.Cursor(); cur.FolderIndex != 1 || !cur.ClipStart.Equal(b.Time()) {
		t.Fatalf("cursor = %+v", cur)
	}
}

func TestEmptyLastFolderEndsStream(t *testing.T) {
	h := newHarness(t, t0, t0.Add(2*time.Minute), map[folders.ID][]float64{folderAt(t0): nil})
	s := h.build(t)

	if res := s.Advance(context.Background()); res.Outcome != EndOfStream {
		t.Fatalf("outcome = %s, want end_of_stream", res.Outcome)
	}
	if !s.IsStreamOver() {
		t.Fatal("expected stream over")
	}
}

func TestTruncatedFinalClipEndsStream(t *testing.T) {
	end := t0.Add(3 * time.Minute)
	h := newHarness(t, t0, end, map[folders.ID][]float64{folderAt(t0): uniform(10, 1)})
	s := h.build(t)

	res := s.Advance(context.Background())
	if res.Outcome != ClipReady {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
	if !res.Clip.Truncated || res.Clip.Segments != 10 || res.Clip.Requested != 10 {
		t.Fatalf("clip = %+v, want truncated clip of 10 segments", res.Clip)
	}
	if !s.Cursor().ClipStart.Equal(end) {
		t.Fatalf("clip start = %s, want window end %s", s.Cursor().ClipStart, end)
	}
	if res := s.Advance(context.Background()); res.Outcome != EndOfStream {
		t.Fatalf("outcome = %s, want end_of_stream", res.Outcome)
	}
}

func TestFailedSegmentIsSkipped(t *testing.T) {
	h := newHarness(t, t0, t0.Add(3*time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
	h.fetcher.fail["live030.ts"] = true
	s := h.build(t)

	res := s.Advance(context.Background())
	if res.Outcome != ClipReady {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
	if res.Skipped() != 1 || res.Clip.Segments != 59 {
		t.Fatalf("skipped = %d segments = %d, want 1 and 59", res.Skipped(), res.Clip.Segments)
	}
	if f := res.Fetches[30]; f.Err == nil || f.URI != "live030.ts" || f.Index != 30 {
		t.Fatalf("fetch 30 = %+v", f)
	}

	order := h.assembler.concatenated[0]
	if len(order) != 59 {
		t.Fatalf("concatenated %d files", len(order))
	}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Fatalf("concat order broken at %d: %s then %s", i, order[i-1], order[i])
		}
		if order[i] == "live030.ts" {
			t.Fatal("failed segment was concatenated")
		}
	}
}

func TestAllSegmentsFailing(t *testing.T) {
	h := newHarness(t, t0, t0.Add(3*time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
	h.fetcher.fail["*"] = true
	s := h.build(t)

	res := s.Advance(context.Background())
	if res.Outcome != Failed || !IsKind(res.Err, KindNoSegments) {
		t.Fatalf("advance = %s (%v), want failed/no_segments", res.Outcome, res.Err)
	}
	if res.Skipped() != 60 {
		t.Fatalf("skipped = %d, want 60", res.Skipped())
	}
	if !s.Cursor().ClipStart.Equal(t0.Add(time.Minute)) {
		t.Fatalf("cursor not committed: %s", s.Cursor().ClipStart)
	}
	assertEmptyDir(t, h.cfg.ScratchDir)
}

func TestTranscodeFailurePreservesArtifact(t *testing.T) {
	h := newHarness(t, t0, t0.Add(3*time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
	h.assembler.failTranscode = true
	s := h.build(t)

	res := s.Advance(context.Background())
	if res.Outcome != Failed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}
	var ce *ClipError
	if !errors.As(res.Err, &ce) || ce.Kind != KindTranscode {
		t.Fatalf("err = %v, want transcode ClipError", res.Err)
	}
	if filepath.Dir(ce.Artifact) != filepath.Join(h.cfg.OutputDir, "failed") {
		t.Fatalf("artifact = %q, want it under the failed dir", ce.Artifact)
	}
	data, err := os.ReadFile(ce.Artifact)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("artifact is empty")
	}
	if !s.Cursor().ClipStart.Equal(t0.Add(time.Minute)) {
		t.Fatalf("cursor not committed before transcode: %s", s.Cursor().ClipStart)
	}
	assertEmptyDir(t, h.cfg.ScratchDir)
}

func TestPlaylistErrorLeavesCursor(t *testing.T) {
	h := newHarness(t, t0, t0.Add(3*time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
	h.playlists.err = errors.New("503 slow down")
	s := h.build(t)

	before := s.Cursor()
	res := s.Advance(context.Background())
	if res.Outcome != Failed || !IsKind(res.Err, KindPlaylist) {
		t.Fatalf("advance = %s (%v), want failed/playlist", res.Outcome, res.Err)
	}
	if s.Cursor() != before {
		t.Fatalf("cursor moved: %+v -> %+v", before, s.Cursor())
	}
}

func TestReplayAnchorRenamesClip(t *testing.T) {
	h := newHarness(t, t0, t0.Add(3*time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
	s := h.build(t)

	anchor := time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC)
	res := s.AdvanceReplay(context.Background(), anchor)
	if res.Outcome != ClipReady {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
	wantLabel, _ := clipname.Label("rpi_orcasound_lab", anchor, nil)
	if res.Clip.Label != wantLabel {
		t.Fatalf("label = %q, want %q", res.Clip.Label, wantLabel)
	}
	if res.Clip.ReplayAnchor == nil || !res.Clip.ReplayAnchor.Equal(anchor) || !res.Clip.Start.Equal(anchor) {
		t.Fatalf("clip anchor = %v start = %s", res.Clip.ReplayAnchor, res.Clip.Start)
	}
	if _, err := os.Stat(res.Clip.Path); err != nil {
		t.Fatalf("renamed clip missing: %v", err)
	}
	original, _ := clipname.Label("rpi_orcasound_lab", t0, nil)
	if _, err := os.Stat(filepath.Join(h.cfg.OutputDir, original+".wav")); !os.IsNotExist(err) {
		t.Fatalf("original clip still present: %v", err)
	}
}

func TestReplayRenameKeepsExistingClip(t *testing.T) {
	anchor := time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC)
	replayLabel, _ := clipname.Label("rpi_orcasound_lab", anchor, nil)

	for _, overwrite := range []bool{false, true} {
		t.Run(fmt.Sprintf("overwrite=%v", overwrite), func(t *testing.T) {
			h := newHarness(t, t0, t0.Add(3*time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
			h.cfg.OverwriteOutput = overwrite
			s := h.build(t)

			existing := filepath.Join(h.cfg.OutputDir, replayLabel+".wav")
			if err := os.WriteFile(existing, []byte("earlier clip"), 0o644); err != nil {
				t.Fatalf("seed existing clip: %v", err)
			}

			res := s.AdvanceReplay(context.Background(), anchor)
			data, err := os.ReadFile(existing)
			if err != nil {
				t.Fatalf("read replay clip: %v", err)
			}

			if !overwrite {
				if res.Outcome != Failed || !IsKind(res.Err, KindOutput) || !errors.Is(res.Err, os.ErrExist) {
					t.Fatalf("advance = %s (%v), want failed/output", res.Outcome, res.Err)
				}
				if string(data) != "earlier clip" {
					t.Fatalf("existing clip was replaced: %q", data)
				}
				return
			}
			if res.Outcome != ClipReady {
				t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
			}
			if string(data) == "earlier clip" {
				t.Fatal("expected existing clip to be replaced")
			}
		})
	}
}

func TestRealTimeSleepsUntilDataIsDue(t *testing.T) {
	h := newHarness(t, t0, t0.Add(3*time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
	h.cfg.RealTime = true
	h.clock.now = t0
	s := h.build(t)

	for i := 0; i < 2; i++ {
		if res := s.Advance(context.Background()); res.Outcome != ClipReady {
			t.Fatalf("advance %d = %s (%v)", i, res.Outcome, res.Err)
		}
	}
	if want := []time.Duration{time.Minute, time.Minute}; !reflect.DeepEqual(h.clock.sleeps, want) {
		t.Fatalf("sleeps = %v, want %v", h.clock.sleeps, want)
	}
}

func TestRealTimeReplayWaitsForAnchor(t *testing.T) {
	h := newHarness(t, t0, t0.Add(3*time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
	h.cfg.RealTime = true
	now := time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC)
	h.clock.now = now
	s := h.build(t)

	if res := s.AdvanceReplay(context.Background(), now.Add(45*time.Second)); res.Outcome != ClipReady {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
	if want := []time.Duration{45 * time.Second}; !reflect.DeepEqual(h.clock.sleeps, want) {
		t.Fatalf("sleeps = %v, want %v", h.clock.sleeps, want)
	}
}

func TestRealTimeDriftIsReportedNotFatal(t *testing.T) {
	h := newHarness(t, t0, t0.Add(3*time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
	h.cfg.StreamBase = "https://s3-us-west-2.amazonaws.com/streaming-orcasound-net/drift_node"
	h.cfg.RealTime = true
	h.clock.now = t0.Add(24 * time.Hour)
	bus := events.NewBus()
	drift := bus.Subscribe(events.EventPacingDrift)
	deps := h.deps()
	deps.Notifier = bus

	s, err := New(context.Background(), h.cfg, deps, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	before := testutil.ToFloat64(telemetry.PacingDriftTotal.WithLabelValues("drift_node"))

	if res := s.Advance(context.Background()); res.Outcome != ClipReady {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
	if len(h.clock.sleeps) != 0 {
		t.Fatalf("slept %v past the deadline", h.clock.sleeps)
	}
	if got := testutil.ToFloat64(telemetry.PacingDriftTotal.WithLabelValues("drift_node")) - before; got != 1 {
		t.Fatalf("drift counter grew by %v, want 1", got)
	}
	select {
	case p := <-drift:
		if p["node"] != "drift_node" {
			t.Fatalf("drift payload = %v", p)
		}
	default:
		t.Fatal("expected a pacing drift event")
	}
}

func TestRealTimeCanceledWhileWaiting(t *testing.T) {
	h := newHarness(t, t0, t0.Add(3*time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(200, 1)})
	h.cfg.RealTime = true
	h.clock.now = t0
	s := h.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.Advance(ctx)
	if res.Outcome != Failed || !IsKind(res.Err, KindCanceled) {
		t.Fatalf("advance = %s (%v), want failed/canceled", res.Outcome, res.Err)
	}
	if !s.Cursor().ClipStart.Equal(t0) {
		t.Fatalf("cursor moved to %s", s.Cursor().ClipStart)
	}
}

func TestCursorInvariantsAcrossFolders(t *testing.T) {
	f0 := folderAt(t0.Add(-20 * time.Second))
	f1 := folderAt(t0.Add(90 * time.Second))
	f2 := folderAt(t0.Add(100 * time.Second))
	f3 := folderAt(t0.Add(200 * time.Second))
	outside := folderAt(t0.Add(time.Hour))
	end := t0.Add(5 * time.Minute)
	h := newHarness(t, t0, end, map[folders.ID][]float64{
		f0:      uniform(110, 1),
		f1:      nil,
		f2:      uniform(100, 1),
		f3:      uniform(120, 1),
		outside: uniform(1000, 1),
	})
	s := h.build(t)

	if got := s.Folders(); !reflect.DeepEqual(got, []folders.ID{f0, f1, f2, f3}) {
		t.Fatalf("folders = %v", got)
	}

	prev := s.Cursor()
	over := false
	for i := 0; i < 50; i++ {
		res := s.Advance(context.Background())
		cur := s.Cursor()
		if cur.FolderIndex < prev.FolderIndex {
			t.Fatalf("folder index went back: %d -> %d", prev.FolderIndex, cur.FolderIndex)
		}
		if cur.ClipStart.Before(prev.ClipStart) || cur.ClipStart.Before(t0) {
			t.Fatalf("clip start went back: %s -> %s", prev.ClipStart, cur.ClipStart)
		}
		if over && !s.IsStreamOver() {
			t.Fatal("stream over flipped back to false")
		}
		if s.IsStreamOver() != !cur.ClipStart.Before(end) {
			t.Fatalf("IsStreamOver = %v with clip start %s", s.IsStreamOver(), cur.ClipStart)
		}
		over = s.IsStreamOver()
		prev = cur
		if res.Outcome == EndOfStream {
			return
		}
		if res.Outcome == Failed {
			t.Fatalf("unexpected failure: %v", res.Err)
		}
	}
	t.Fatal("stream never ended")
}

func TestNoFoldersInWindow(t *testing.T) {
	h := newHarness(t, t0, t0.Add(time.Minute), map[folders.ID][]float64{folderAt(t0.Add(time.Hour)): uniform(10, 1)})
	s := h.build(t)

	if res := s.Advance(context.Background()); res.Outcome != EndOfStream {
		t.Fatalf("outcome = %s, want end_of_stream", res.Outcome)
	}
	if !s.IsStreamOver() {
		t.Fatal("expected stream over")
	}
}

func TestConstructionFailsWhenListingFails(t *testing.T) {
	h := newHarness(t, t0, t0.Add(time.Minute), nil)
	boom := errors.New("no such bucket")
	h.index.err = boom

	_, err := New(context.Background(), h.cfg, h.deps(), zerolog.Nop())
	if !errors.Is(err, ErrConstruction) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want construction error wrapping listing error", err)
	}
}

func TestConstructionValidatesConfig(t *testing.T) {
	h := newHarness(t, t0, t0.Add(time.Minute), nil)

	bad := []func(*Config){
		func(c *Config) { c.PollingInterval = 0 },
		func(c *Config) { c.Window.End = c.Window.Start },
		func(c *Config) { c.StreamBase = "s3://bucket/node" },
		func(c *Config) { c.OutputDir = "" },
	}
	for i, mutate := range bad {
		cfg := h.cfg
		mutate(&cfg)
		if _, err := New(context.Background(), cfg, h.deps(), zerolog.Nop()); !errors.Is(err, ErrConstruction) {
			t.Errorf("case %d: err = %v, want construction error", i, err)
		}
	}
}

func TestTranscodeOptionsFollowConfig(t *testing.T) {
	h := newHarness(t, t0, t0.Add(time.Minute), map[folders.ID][]float64{folderAt(t0): uniform(100, 1)})
	h.cfg.OverwriteOutput = true
	h.cfg.Quiet = true
	s := h.build(t)

	if res := s.Advance(context.Background()); res.Outcome != ClipReady {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
	if got := h.assembler.opts[0]; !got.Overwrite || !got.Quiet {
		t.Fatalf("options = %+v", got)
	}
}
