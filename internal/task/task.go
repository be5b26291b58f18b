// Package task drives a download job to completion: it expands the bounding
// box into per-zoom tile rectangles, fans the tiles out to a bounded worker
// pool, and aggregates per-tile outcomes into a final summary.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"
	pb "gopkg.in/cheggaaa/pb.v1"

	"tilefetch/internal/fetch"
	"tilefetch/internal/mercator"
)

// Options configures a download task.
type Options struct {
	BBox    mercator.BBox
	MinZoom int
	MaxZoom int

	// Workers is the worker pool size. Enumeration blocks when all workers
	// are busy, so at most Workers tiles are in flight and no unbounded
	// backlog builds up at high zoom levels.
	Workers int

	// Timeout is the overall wall-clock ceiling for the whole job.
	// Zero means no ceiling.
	Timeout time.Duration

	// Progress enables per-zoom progress bars on the terminal.
	Progress bool
}

// Summary is the aggregate result of a run. Outstanding counts tiles that
// were neither resolved nor failed, which happens only when the run was cut
// short; those tiles are still missing from cache and a re-run picks them up.
type Summary struct {
	Downloaded  int64
	Skipped     int64
	Failed      int64
	Outstanding int64
	Elapsed     time.Duration
	TimedOut    bool
	Interrupted bool
}

func (s Summary) String() string {
	return fmt.Sprintf("downloaded: %d, skipped: %d, failed: %d, outstanding: %d (%.3fs)",
		s.Downloaded, s.Skipped, s.Failed, s.Outstanding, s.Elapsed.Seconds())
}

// Task is one bounded download job.
type Task struct {
	ID      string
	opts    Options
	fetcher *fetch.Fetcher
	log     *logrus.Logger

	downloaded atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
}

// New creates a Task. Worker count defaults to 4 when unset.
func New(opts Options, fetcher *fetch.Fetcher, log *logrus.Logger) *Task {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	id, _ := shortid.Generate()

	return &Task{
		ID:      id,
		opts:    opts,
		fetcher: fetcher,
		log:     log,
	}
}

// Total returns the number of tiles the job covers across all zoom levels.
func (t *Task) Total() int64 {
	var total int64
	for z := t.opts.MinZoom; z <= t.opts.MaxZoom; z++ {
		total += mercator.RectForBBox(t.opts.BBox, z).Count()
	}
	return total
}

// Run executes the job: zoom levels ascending, x then y ascending within
// each rectangle, so enumeration order is deterministic. Per-tile failures
// are counted and never abort sibling tiles. Run returns once every
// submitted tile has resolved, the ceiling timeout fires, or ctx is
// cancelled; in the latter two cases the summary reports the outstanding
// count instead of hanging or crashing.
func (t *Task) Run(ctx context.Context) Summary {
	start := time.Now()
	total := t.Total()
	t.log.Infof("task %s starting, zoom %d-%d, %d tiles", t.ID, t.opts.MinZoom, t.opts.MaxZoom, total)

	runCtx := ctx
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	for z := t.opts.MinZoom; z <= t.opts.MaxZoom; z++ {
		if runCtx.Err() != nil {
			break
		}
		t.runZoom(runCtx, z)
	}

	sum := Summary{
		Downloaded:  t.downloaded.Load(),
		Skipped:     t.skipped.Load(),
		Failed:      t.failed.Load(),
		Elapsed:     time.Since(start),
		TimedOut:    errors.Is(runCtx.Err(), context.DeadlineExceeded),
		Interrupted: ctx.Err() != nil,
	}
	sum.Outstanding = total - sum.Downloaded - sum.Skipped - sum.Failed
	if sum.Outstanding < 0 {
		sum.Outstanding = 0
	}
	return sum
}

// runZoom downloads every tile of one zoom level through the worker pool.
func (t *Task) runZoom(ctx context.Context, zoom int) {
	rect := mercator.RectForBBox(t.opts.BBox, zoom)
	t.log.Infof("zoom: %d, tiles: %d", zoom, rect.Count())

	var bar *pb.ProgressBar
	if t.opts.Progress {
		bar = pb.New64(rect.Count()).Prefix(fmt.Sprintf("Zoom %d : ", zoom))
		bar.SetRefreshRate(time.Second)
		bar.Start()
	}

	var g errgroup.Group
	g.SetLimit(t.opts.Workers)

enumerate:
	for x := rect.XMin; x <= rect.XMax; x++ {
		for y := rect.YMin; y <= rect.YMax; y++ {
			if ctx.Err() != nil {
				break enumerate
			}
			tile := maptile.Tile{X: uint32(x), Y: uint32(y), Z: maptile.Zoom(zoom)}
			g.Go(func() error {
				t.record(ctx, t.fetcher.Fetch(ctx, tile))
				if bar != nil {
					bar.Increment()
				}
				return nil
			})
		}
	}

	g.Wait()
	if bar != nil {
		bar.FinishPrint(fmt.Sprintf("task %s zoom %d finished", t.ID, zoom))
	}
}

// record tallies one result. A fetch abandoned because the job is shutting
// down is left outstanding rather than counted as failed: the tile is still
// missing from cache and a re-run will retry it.
func (t *Task) record(ctx context.Context, res fetch.Result) {
	switch res.Outcome {
	case fetch.Downloaded:
		t.downloaded.Add(1)
	case fetch.Skipped:
		t.skipped.Add(1)
	case fetch.Failed:
		if ctx.Err() != nil && (errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)) {
			return
		}
		t.failed.Add(1)
		t.log.Warnf("tile(z:%d, x:%d, y:%d) failed: %s", res.Tile.Z, res.Tile.X, res.Tile.Y, res.Err)
	}
}
