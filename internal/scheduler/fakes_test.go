package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/hydroclip/internal/folders"
	"github.com/friendsincode/hydroclip/internal/playlist"
	"github.com/friendsincode/hydroclip/internal/transcode"
)

const testStreamBase = "https://s3-us-west-2.amazonaws.com/streaming-orcasound-net/rpi_orcasound_lab"

type fakeIndex struct {
	ids []folders.ID
	err error
}

func (f *fakeIndex) ListFolders(context.Context) ([]folders.ID, error) {
	return f.ids, f.err
}

// fakePlaylists serves uniform playlists keyed by folder.
type fakePlaylists struct {
	durations map[folders.ID][]float64
	err       error
	loads     []folders.ID
}

func (f *fakePlaylists) Load(_ context.Context, folder folders.ID) ([]playlist.Segment, error) {
	f.loads = append(f.loads, folder)
	if f.err != nil {
		return nil, f.err
	}
	ds := f.durations[folder]
	segs := make([]playlist.Segment, len(ds))
	for i, d := range ds {
		segs[i] = playlist.Segment{
			URI:      fmt.Sprintf("live%03d.ts", i),
			Duration: d,
			BaseURI:  fmt.Sprintf("https://example.test/hls/%s/", folder),
		}
	}
	return segs, nil
}

// fakeFetcher writes the segment URL as the segment body.
type fakeFetcher struct {
	fail  map[string]bool // by base name
	dirs  []string
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, segmentURL, destDir string) (string, error) {
	f.calls++
	f.dirs = append(f.dirs, destDir)
	name := path.Base(segmentURL)
	if f.fail[name] || f.fail["*"] {
		return "", errors.New("connection reset by peer")
	}
	p := filepath.Join(destDir, name)
	if err := os.WriteFile(p, []byte(segmentURL+"\n"), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// fakeAssembler concatenates for real and "transcodes" by copying.
type fakeAssembler struct {
	failTranscode bool
	concatenated  [][]string
	opts          []transcode.Options
}

func (f *fakeAssembler) Concat(_ context.Context, files []string, dst string) error {
	names := make([]string, len(files))
	var body []byte
	for i, file := range files {
		names[i] = filepath.Base(file)
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		body = append(body, data...)
	}
	f.concatenated = append(f.concatenated, names)
	return os.WriteFile(dst, body, 0o644)
}

func (f *fakeAssembler) Transcode(_ context.Context, input, output string, opts transcode.Options) error {
	f.opts = append(f.opts, opts)
	if f.failTranscode {
		return &transcode.Error{Output: output, Stderr: "Invalid data found when processing input", Err: errors.New("exit status 1")}
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	return os.WriteFile(output, data, 0o644)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type harness struct {
	cfg       Config
	index     *fakeIndex
	playlists *fakePlaylists
	fetcher   *fakeFetcher
	assembler *fakeAssembler
	clock     *fakeClock
}

func newHarness(t *testing.T, start, end time.Time, folderDurations map[folders.ID][]float64) *harness {
	t.Helper()
	dir := t.TempDir()
	ids := make([]folders.ID, 0, len(folderDurations))
	for id := range folderDurations {
		ids = append(ids, id)
	}
	return &harness{
		cfg: Config{
			StreamBase:      testStreamBase,
			PollingInterval: time.Minute,
			Window:          Window{Start: start, End: end},
			OutputDir:       filepath.Join(dir, "wav"),
			ScratchDir:      filepath.Join(dir, "scratch"),
			Format:          "wav",
		},
		index:     &fakeIndex{ids: ids},
		playlists: &fakePlaylists{durations: folderDurations},
		fetcher:   &fakeFetcher{fail: map[string]bool{}},
		assembler: &fakeAssembler{},
		clock:     &fakeClock{now: end.Add(time.Hour)},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Folders:   h.index,
		Playlists: h.playlists,
		Fetcher:   h.fetcher,
		Assembler: h.assembler,
		Clock:     h.clock,
	}
}

func (h *harness) build(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(context.Background(), h.cfg, h.deps(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func folderAt(t time.Time) folders.ID { return folders.ID(t.Unix()) }

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected %s to be empty, found %s", dir, strings.Join(names, ", "))
	}
}
