// Command tilefetch downloads every map tile covering a configured bounding
// box across a zoom range, with bounded concurrency, rate limiting, and an
// idempotent on-disk cache: tiles already present are skipped, so re-running
// the job resumes where the last run stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tilefetch/internal/config"
	"tilefetch/internal/fetch"
	"tilefetch/internal/logging"
	"tilefetch/internal/ratelimit"
	"tilefetch/internal/task"
)

var (
	hf         bool
	configPath string
	logLevel   string
)

func main() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&configPath, "c", "./conf/conf.toml", "set config `file`")
	flag.StringVar(&logLevel, "l", "info", "set log level (default: info)")
	flag.Usage = usage
	flag.Parse()

	if hf {
		flag.Usage()
		os.Exit(0)
	}

	os.Exit(run())
}

func usage() {
	fmt.Fprintf(os.Stderr, `tilefetch version: tilefetch/v0.1.0
Usage: tilefetch [-h] [-c filename] [-l logLevel]
`)
	flag.PrintDefaults()
}

func run() int {
	conf, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := logging.New(logLevel, conf.Output.LogDir, conf.Output.OutputTerminal)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	bbox, err := conf.BBox()
	if err != nil {
		log.Errorf("resolve region: %s", err)
		return 1
	}

	// Stop submitting and release blocked workers on SIGINT/SIGTERM; the
	// run then drains and reports whatever is outstanding.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.New(conf.Permits(), conf.Task.RefillInterval)
	defer limiter.Stop()

	tm := fetch.TileMap{
		Name:   conf.Tm.Name,
		URL:    conf.Tm.URL,
		Format: conf.Tm.Format,
	}
	if err := os.MkdirAll(conf.Output.Directory, os.ModePerm); err != nil {
		log.Errorf("create output directory: %s", err)
		return 1
	}
	fetcher := fetch.New(tm, conf.Output.Directory, conf.Tm.UserAgent,
		limiter, fetch.NewClient(fetch.DefaultClientOptions()), log)

	tk := task.New(task.Options{
		BBox:     bbox,
		MinZoom:  conf.Tm.Min,
		MaxZoom:  conf.Tm.Max,
		Workers:  conf.Task.Workers,
		Timeout:  conf.Task.Timeout,
		Progress: conf.Output.OutputTerminal,
	}, fetcher, log)

	sum := tk.Run(ctx)

	switch {
	case sum.TimedOut:
		log.Warnf("task %s exceeded its time ceiling, %s", tk.ID, sum)
	case sum.Interrupted:
		log.Warnf("task %s interrupted, %s", tk.ID, sum)
	default:
		log.Infof("task %s finished, %s", tk.ID, sum)
	}

	if (sum.TimedOut || sum.Interrupted) && sum.Outstanding > 0 {
		return 1
	}
	return 0
}
