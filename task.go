package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/paulmach/orb"
	"github.com/spf13/pflag"

	"github.com/jsy96/satellite-downloader/internal/cache"
	"github.com/jsy96/satellite-downloader/internal/geotiff"
	"github.com/jsy96/satellite-downloader/internal/task"
	"github.com/jsy96/satellite-downloader/internal/tile"
)

// errNoArea is returned when none of bbox, extent or geojson is set.
var errNoArea = errors.New("an area is required: set one of --bbox, --extent or --geojson")

// areaOf resolves the configured area of interest.
func areaOf() (orb.Bound, error) {
	set := 0
	for _, s := range []string{conf.Aoi.BBox, conf.Aoi.Extent, conf.Aoi.Geojson} {
		if s != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return orb.Bound{}, errNoArea
	case set > 1:
		return orb.Bound{}, fmt.Errorf("only one of bbox, extent or geojson may be set")
	case conf.Aoi.BBox != "":
		return tile.ParseBBox(conf.Aoi.BBox)
	case conf.Aoi.Extent != "":
		return tile.ParseExtent(conf.Aoi.Extent)
	}
	c, err := task.LoadCollection(conf.Aoi.Geojson)
	if err != nil {
		return orb.Bound{}, err
	}
	return task.CollectionBound(c), nil
}

// buildRequest turns the loaded configuration into a task request.
func buildRequest() (task.Request, error) {
	bound, err := areaOf()
	if err != nil {
		return task.Request{}, err
	}
	compression, err := geotiff.ParseCompression(conf.Output.Compression)
	if err != nil {
		return task.Request{}, err
	}

	retries, maxMissing := conf.Task.Retries, conf.Task.MaxMissing
	req := task.Request{
		Bound:      bound,
		Resolution: conf.Aoi.Resolution,
		Source:     conf.Tm.Name,
		URL:        conf.Tm.URL,
		MinZoom:    conf.Tm.Min,
		MaxZoom:    conf.Tm.Max,

		Output:      conf.Output.File,
		OutputDir:   conf.Output.Directory,
		Compression: compression,
		BigTIFF:     conf.Output.BigTIFF,
		JPEGQuality: conf.Output.JPEGQuality,

		Workers:     conf.Task.Workers,
		Retries:     &retries,
		Delay:       time.Duration(conf.Task.Timedelay) * time.Millisecond,
		Jitter:      time.Duration(conf.Task.Jitter) * time.Millisecond,
		Rate:        conf.Task.Rate,
		Timeout:     conf.Task.Timeout,
		HTTPTimeout: conf.Task.HTTPTimeout,
		UserAgent:   conf.Tm.UserAgent,
		S3Region:    conf.Tm.S3Region,
		S3Endpoint:  conf.Tm.S3Endpoint,
		S3AccessKey: conf.Tm.S3AccessKey,
		S3SecretKey: conf.Tm.S3SecretKey,

		MaxTiles:       conf.Task.MaxTiles,
		MaxMissing:     &maxMissing,
		MaxCanvasBytes: conf.Task.MaxCanvasMB << 20,

		CacheDir:    conf.Cache.Directory,
		NoCache:     conf.Cache.Disabled,
		MetricsFile: conf.Output.MetricsFile,
	}
	if conf.Aoi.Zoom >= 0 {
		z := conf.Aoi.Zoom
		req.Zoom = &z
	}
	return req, nil
}

func newTask(flags *pflag.FlagSet) (*task.Task, error) {
	req, err := buildRequest()
	if err != nil {
		return nil, err
	}
	opts := []task.Option{task.WithLogger(log)}
	noBar, _ := flags.GetBool("no-progress")
	if conf.Output.Progress && !noBar && isatty.IsTerminal(os.Stdout.Fd()) {
		opts = append(opts, task.WithProgressBar())
	}
	return task.NewTask(req, opts...), nil
}

func runDownload(ctx context.Context, flags *pflag.FlagSet) error {
	start := time.Now()
	log.Infof("%s %s", conf.App.Title, conf.App.Version)

	t, err := newTask(flags)
	if err != nil {
		return err
	}

	if conf.Cache.Clear && !conf.Cache.Disabled {
		c, err := cache.Open(conf.Cache.Directory, cache.WithLogger(log))
		if err != nil {
			return err
		}
		err = c.Clear(conf.Tm.Name)
		c.Close()
		if err != nil {
			return err
		}
		log.Infof("cleared cached tiles of %s", conf.Tm.Name)
	}

	log.Infof("task %s started, source %s", t.ID, conf.Tm.Name)
	report, err := t.Run(ctx)
	if report != nil && err != nil {
		log.Warnf("%s", report)
	}
	if err != nil {
		return err
	}

	log.Printf("%.3fs finished...", time.Since(start).Seconds())
	return nil
}
