package playlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/hydroclip/internal/folders"
)

const livePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.005333,
live000.ts
#EXTINF:10.005333,
live001.ts
#EXTINF:9.984000,
live002.ts
`

func TestHTTPSourceLoadsSegmentsInOrder(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "hydroclip/") {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(livePlaylist))
	}))
	defer srv.Close()

	root := folders.Root{Base: srv.URL + "/bucket/rpi_orcasound_lab", Bucket: "bucket", Node: "rpi_orcasound_lab"}
	src := NewHTTPSource(srv.Client(), root, zerolog.Nop())

	segments, err := src.Load(context.Background(), folders.ID(1600000000))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if requested != "/bucket/rpi_orcasound_lab/hls/1600000000/live.m3u8" {
		t.Fatalf("unexpected request path %q", requested)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	if segments[2].URI != "live002.ts" || segments[2].Duration != 9.984 {
		t.Fatalf("unexpected last segment: %+v", segments[2])
	}
	wantURL := srv.URL + "/bucket/rpi_orcasound_lab/hls/1600000000/live001.ts"
	if got := segments[1].URL(); got != wantURL {
		t.Fatalf("segment url = %q, want %q", got, wantURL)
	}
}

func TestHTTPSourceMissingPlaylistIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	root := folders.Root{Base: srv.URL + "/bucket/node", Bucket: "bucket", Node: "node"}
	segments, err := NewHTTPSource(srv.Client(), root, zerolog.Nop()).Load(context.Background(), 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected no segments, got %d", len(segments))
	}
}

func TestHTTPSourceServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	root := folders.Root{Base: srv.URL + "/bucket/node", Bucket: "bucket", Node: "node"}
	if _, err := NewHTTPSource(srv.Client(), root, zerolog.Nop()).Load(context.Background(), 1); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestDecodeHeaderOnlyPlaylistIsEmpty(t *testing.T) {
	segments, err := Decode([]byte("#EXTM3U\n#EXT-X-VERSION:3\n"), "https://example.com/")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected empty playlist, got %d segments", len(segments))
	}
}

func TestDecodeRejectsMasterPlaylist(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=128000\naudio/live.m3u8\n"
	if _, err := Decode([]byte(master), "https://example.com/"); err == nil {
		t.Fatal("expected master playlist to be rejected")
	}
}

func TestSegmentURLKeepsAbsoluteURI(t *testing.T) {
	seg := Segment{URI: "https://cdn.example.com/live000.ts", BaseURI: "https://example.com/hls/1/"}
	if got := seg.URL(); got != "https://cdn.example.com/live000.ts" {
		t.Fatalf("unexpected url %q", got)
	}
}
