// Package fetch downloads single tiles into the on-disk cache.
//
// A tile's cache entry is the file {root}/{z}/{x}/{y}.{format}; its presence
// is the sole "already downloaded" marker, which is what makes whole-job
// re-runs resumable. Writes go through a temp file and a rename, so a
// half-written tile is never visible at the cache path.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"tilefetch/internal/ratelimit"
)

// ErrEmptyTile is returned when the server answers 200 with a zero-byte body.
var ErrEmptyTile = errors.New("fetch: empty tile body")

// Outcome classifies the result of fetching one tile.
type Outcome int

const (
	Downloaded Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return "downloaded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one tile fetch. Err is set only for Failed.
type Result struct {
	Tile    maptile.Tile
	Outcome Outcome
	Err     error
}

// Fetcher downloads tiles through a shared rate limiter into a file cache.
type Fetcher struct {
	client    *http.Client
	limiter   *ratelimit.Limiter
	tm        TileMap
	root      string
	userAgent string
	log       *logrus.Logger
}

// New creates a Fetcher writing under root.
func New(tm TileMap, root, userAgent string, limiter *ratelimit.Limiter, client *http.Client, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		limiter:   limiter,
		tm:        tm,
		root:      root,
		userAgent: userAgent,
		log:       log,
	}
}

// TilePath returns the cache path for a tile.
func (f *Fetcher) TilePath(t maptile.Tile) string {
	return filepath.Join(f.root,
		fmt.Sprintf("%d", t.Z),
		fmt.Sprintf("%d", t.X),
		fmt.Sprintf("%d.%s", t.Y, f.tm.Format))
}

// Fetch downloads one tile. If the cache entry already exists it returns
// Skipped without touching the network or consuming a rate-limit permit.
// All failures are local to this tile.
func (f *Fetcher) Fetch(ctx context.Context, t maptile.Tile) Result {
	dest := f.TilePath(t)

	if _, err := os.Stat(dest); err == nil {
		f.log.Debugf("tile(z:%d, x:%d, y:%d) already cached, skipping", t.Z, t.X, t.Y)
		return Result{Tile: t, Outcome: Skipped}
	}

	if err := f.limiter.Acquire(ctx); err != nil {
		return Result{Tile: t, Outcome: Failed, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return Result{Tile: t, Outcome: Failed, Err: fmt.Errorf("create tile dir: %w", err)}
	}

	start := time.Now()
	size, err := f.download(ctx, t, dest)
	if err != nil {
		f.log.Debugf("fetch tile(z:%d, x:%d, y:%d) error, details: %s", t.Z, t.X, t.Y, err)
		return Result{Tile: t, Outcome: Failed, Err: err}
	}

	cost := time.Since(start).Milliseconds()
	f.log.Debugf("tile(z:%d, x:%d, y:%d), %dms, %.2f kb", t.Z, t.X, t.Y, cost, float32(size)/1024.0)
	return Result{Tile: t, Outcome: Downloaded}
}

// download streams the tile body to dest+".tmp" and renames it into place.
// On any error the temp file is removed so no partial artifact remains.
func (f *Fetcher) download(ctx context.Context, t maptile.Tile, dest string) (int64, error) {
	url := f.tm.TileURL(t)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %s: status code %d", url, resp.StatusCode)
	}

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("read tile body: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("close %s: %w", tmp, err)
	}
	if n == 0 {
		os.Remove(tmp)
		return 0, ErrEmptyTile
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename tile file: %w", err)
	}
	return n, nil
}
