package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"tilefetch/internal/ratelimit"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestFetcher(t *testing.T, handler http.Handler) (*Fetcher, *httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	root := t.TempDir()
	tm := TileMap{
		Name:   "test",
		URL:    srv.URL + "/{z}/{x}/{y}.png",
		Format: "png",
	}
	limiter := ratelimit.New(100, time.Second)
	t.Cleanup(limiter.Stop)

	f := New(tm, root, "tilefetch-test/1.0", limiter, srv.Client(), testLogger())
	return f, srv, root
}

func TestFetchDownloadsTile(t *testing.T) {
	body := []byte("fake png bytes")
	var gotUA atomic.Value
	f, _, root := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Write(body)
	}))

	tile := maptile.Tile{X: 12, Y: 7, Z: 5}
	res := f.Fetch(context.Background(), tile)
	if res.Outcome != Downloaded {
		t.Fatalf("outcome = %v, err = %v, want downloaded", res.Outcome, res.Err)
	}

	data, err := os.ReadFile(filepath.Join(root, "5", "12", "7.png"))
	if err != nil {
		t.Fatalf("cached tile: %v", err)
	}
	if string(data) != string(body) {
		t.Errorf("cached tile body = %q, want %q", data, body)
	}
	if ua := gotUA.Load(); ua != "tilefetch-test/1.0" {
		t.Errorf("User-Agent = %q, want tilefetch-test/1.0", ua)
	}
}

func TestFetchSkipsCachedTile(t *testing.T) {
	var requests atomic.Int64
	f, _, root := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("tile"))
	}))

	tile := maptile.Tile{X: 3, Y: 4, Z: 2}
	dest := filepath.Join(root, "2", "3", "4.png")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := f.Fetch(context.Background(), tile)
	if res.Outcome != Skipped {
		t.Fatalf("outcome = %v, want skipped", res.Outcome)
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("server saw %d requests for a cached tile, want 0", n)
	}

	data, _ := os.ReadFile(dest)
	if string(data) != "existing" {
		t.Errorf("cached file was rewritten: %q", data)
	}
}

func TestFetchServerErrorLeavesNoFile(t *testing.T) {
	f, _, root := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	tile := maptile.Tile{X: 1, Y: 2, Z: 3}
	res := f.Fetch(context.Background(), tile)
	if res.Outcome != Failed || res.Err == nil {
		t.Fatalf("outcome = %v, err = %v, want failed with error", res.Outcome, res.Err)
	}
	assertNoArtifacts(t, root, f.TilePath(tile))
}

func TestFetchTruncatedBodyLeavesNoFile(t *testing.T) {
	f, _, root := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more bytes than we send so the client sees a broken body.
		w.Header().Set("Content-Length", "1024")
		w.Write([]byte("short"))
	}))

	tile := maptile.Tile{X: 8, Y: 9, Z: 6}
	res := f.Fetch(context.Background(), tile)
	if res.Outcome != Failed || res.Err == nil {
		t.Fatalf("outcome = %v, err = %v, want failed with error", res.Outcome, res.Err)
	}
	assertNoArtifacts(t, root, f.TilePath(tile))
}

func TestFetchEmptyBodyFails(t *testing.T) {
	f, _, root := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tile := maptile.Tile{X: 0, Y: 0, Z: 0}
	res := f.Fetch(context.Background(), tile)
	if res.Outcome != Failed {
		t.Fatalf("outcome = %v, want failed", res.Outcome)
	}
	assertNoArtifacts(t, root, f.TilePath(tile))
}

func TestTilePath(t *testing.T) {
	f, _, root := newTestFetcher(t, http.NotFoundHandler())
	got := f.TilePath(maptile.Tile{X: 763, Y: 456, Z: 10})
	want := filepath.Join(root, "10", "763", "456.png")
	if got != want {
		t.Errorf("TilePath = %q, want %q", got, want)
	}
}

func TestTileURL(t *testing.T) {
	tm := TileMap{URL: "https://tile.openstreetmap.org/{z}/{x}/{y}.png", Format: "png"}
	got := tm.TileURL(maptile.Tile{X: 763, Y: 456, Z: 10})
	want := "https://tile.openstreetmap.org/10/763/456.png"
	if got != want {
		t.Errorf("TileURL = %q, want %q", got, want)
	}
}

// assertNoArtifacts checks that neither the cache file nor its temp file
// survived a failed fetch.
func assertNoArtifacts(t *testing.T, root, dest string) {
	t.Helper()
	for _, p := range []string{dest, dest + ".tmp"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("artifact %s exists after failed fetch", p)
		}
	}
	// Nothing else may have leaked into the cache tree either.
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			t.Errorf("unexpected file in cache tree: %s", path)
		}
		return nil
	})
}

