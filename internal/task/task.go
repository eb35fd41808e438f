// Package task runs one download: zoom selection, range planning, fetching
// through the cache, mosaic assembly and GeoTIFF encoding.
package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/jsy96/satellite-downloader/internal/cache"
	"github.com/jsy96/satellite-downloader/internal/fetch"
	"github.com/jsy96/satellite-downloader/internal/geotiff"
	"github.com/jsy96/satellite-downloader/internal/metrics"
	"github.com/jsy96/satellite-downloader/internal/mosaic"
	"github.com/jsy96/satellite-downloader/internal/tile"
)

// Software is recorded in the output metadata.
var Software = "satellite-downloader"

// maxListedMissing bounds the tile list written into the output metadata.
const maxListedMissing = 200

// Request describes one download.
type Request struct {
	Bound      orb.Bound
	Zoom       *int
	Resolution float64

	Source  string // cache namespace and metadata source id
	URL     string // tile template, http(s)://, file:// or s3://
	MinZoom int
	MaxZoom int

	Output      string // file path; generated inside OutputDir when empty
	OutputDir   string
	Compression geotiff.Compression
	BigTIFF     bool
	JPEGQuality int

	Workers     int
	Retries     *int // nil selects the pipeline default; 0 disables retrying
	Delay       time.Duration
	Jitter      time.Duration
	Rate        float64
	Timeout     time.Duration
	HTTPTimeout time.Duration
	UserAgent   string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	MaxTiles       int64
	MaxMissing     *float64 // nil selects the assembler default
	MaxCanvasBytes int64

	CacheDir    string
	NoCache     bool
	MetricsFile string
}

// Task 下载任务
type Task struct {
	ID      string
	Req     Request
	Bar     *pb.ProgressBar
	fetcher fetch.Fetcher
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	showBar bool
}

// Option configures a Task.
type Option func(*Task)

// WithFetcher replaces the fetcher built from Request.URL.
func WithFetcher(f fetch.Fetcher) Option {
	return func(t *Task) { t.fetcher = f }
}

// WithLogger sets the task logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Task) { t.log = l }
}

// WithProgressBar draws a terminal progress bar while fetching.
func WithProgressBar() Option {
	return func(t *Task) { t.showBar = true }
}

// NewTask 创建下载任务
func NewTask(req Request, opts ...Option) *Task {
	id, _ := shortid.Generate()
	t := &Task{ID: id, Req: req, log: logrus.StandardLogger(), metrics: metrics.New()}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.WithField("task", t.ID)
	if t.Req.Source == "" {
		t.Req.Source = "default"
	}
	if t.Req.MaxZoom == 0 {
		t.Req.MaxZoom = tile.ZoomMax
	}
	return t
}

// Metrics exposes the collectors of this task.
func (t *Task) Metrics() *metrics.Metrics { return t.metrics }

// resolve picks the zoom and plans the tile range.
func (t *Task) resolve() (tile.Range, error) {
	z, err := tile.ResolveZoom(tile.ZoomSpec{
		Zoom:       t.Req.Zoom,
		Resolution: t.Req.Resolution,
		Min:        maptile.Zoom(t.Req.MinZoom),
		Max:        maptile.Zoom(t.Req.MaxZoom),
	})
	if err != nil {
		return tile.Range{}, stageErr(StagePlan, err)
	}
	r, err := tile.Plan(t.Req.Bound, z, t.Req.MaxTiles)
	if err != nil {
		return tile.Range{}, stageErr(StagePlan, err)
	}
	return r, nil
}

// Run executes the whole download. A Report is returned whenever fetching
// started, including when a later stage fails.
func (t *Task) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	rng, err := t.resolve()
	if err != nil {
		return nil, err
	}
	t.log.Infof("zoom: %d, tiles: %d, range: %s", rng.Zoom, rng.Count(), rng)

	output := t.Req.Output
	if output == "" {
		output = filepath.Join(t.Req.OutputDir,
			fmt.Sprintf("%s_z%d_%s.tif", cache.SanitizeSource(t.Req.Source), rng.Zoom, t.ID))
	}
	if err := os.MkdirAll(filepath.Dir(output), os.ModePerm); err != nil {
		return nil, stageErr(StageEncode, err)
	}

	c, cleanup, err := t.openCache()
	if err != nil {
		return nil, stageErr(StageCache, err)
	}
	defer cleanup()

	f := t.fetcher
	if f == nil {
		f, err = fetch.New(t.Req.URL, fetch.SourceOptions{
			UserAgent:   t.Req.UserAgent,
			HTTPTimeout: t.Req.HTTPTimeout,
			S3Region:    t.Req.S3Region,
			S3Endpoint:  t.Req.S3Endpoint,
			S3AccessKey: t.Req.S3AccessKey,
			S3SecretKey: t.Req.S3SecretKey,
		})
		if err != nil {
			return nil, stageErr(StageFetch, err)
		}
	}

	if t.Req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Req.Timeout)
		defer cancel()
	}

	pipeOpts := []fetch.Option{fetch.WithLogger(t.log), fetch.WithMetrics(t.metrics)}
	if t.showBar {
		t.Bar = pb.New64(rng.Count()).Prefix(fmt.Sprintf("Zoom %d : ", rng.Zoom))
		t.Bar.SetRefreshRate(time.Second)
		t.Bar.Start()
		pipeOpts = append(pipeOpts, fetch.WithProgress(func(fetch.Result) { t.Bar.Increment() }))
	}
	pipeline := fetch.NewPipeline(f, c, fetch.Config{
		Source:     t.Req.Source,
		Workers:    t.Req.Workers,
		MaxRetries: t.maxRetries(),
		Delay:      t.Req.Delay,
		Jitter:     t.Req.Jitter,
		Rate:       t.Req.Rate,
	}, pipeOpts...)

	asmOpts := mosaic.DefaultOptions()
	if t.Req.MaxMissing != nil {
		asmOpts.MaxMissing = *t.Req.MaxMissing
	}
	asmOpts.Verify = func(tl maptile.Tile) bool { return c.Has(t.Req.Source, tl) }
	if t.Req.MaxCanvasBytes > 0 {
		asmOpts.MaxCanvasBytes = t.Req.MaxCanvasBytes
	}
	asmOpts.Log = t.log

	m, asmErr := mosaic.Assemble(rng, pipeline.Run(ctx, rng.Tiles()), t.loader(c), asmOpts)
	if t.Bar != nil {
		t.Bar.FinishPrint(fmt.Sprintf("Task %s Zoom %d finished ~", t.ID, rng.Zoom))
	}

	report := &Report{
		ID:        t.ID,
		Source:    t.Req.Source,
		Range:     rng,
		Transform: m.Transform,
		Total:     m.Total,
		Fetched:   m.Fetched,
		Cached:    m.Cached,
		Missing:   m.Missing,
		Strips:    m.Strips,
		CacheDir:  c.Root(),
	}
	defer t.writeMetrics()

	for _, fl := range m.Missing {
		t.log.Debugf("missing %s: %s", tile.Key(fl.Tile), fl.Err)
	}
	if asmErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			asmErr = fmt.Errorf("%w (deadline %s exceeded)", asmErr, t.Req.Timeout)
		}
		report.Elapsed = time.Since(start)
		return report, stageErr(StageAssemble, asmErr)
	}
	if len(m.Missing) > 0 {
		t.log.Warnf("%d of %d tiles missing, filled with sentinel", len(m.Missing), m.Total)
	}

	info, err := geotiff.Encode(output, m.Raster, m.Transform.GDAL(), geotiff.Options{
		Compression: t.Req.Compression,
		BigTIFF:     t.Req.BigTIFF,
		JPEGQuality: t.Req.JPEGQuality,
		Software:    Software,
		Metadata:    t.metadata(rng, m),
	})
	if err != nil {
		report.Elapsed = time.Since(start)
		return report, stageErr(StageEncode, err)
	}
	report.Output = info

	// Verify already moved unreadable tiles into Missing; a tile lost between
	// that check and encoding is only reported here, not in the metadata.
	if s, ok := m.Raster.(*mosaic.StripSource); ok {
		if late := s.LateMissing(); len(late) > 0 {
			t.log.Warnf("%d cached tiles unreadable during assembly, filled with sentinel", len(late))
			for _, lt := range late {
				report.Missing = append(report.Missing, mosaic.Failure{Tile: lt, Err: cache.ErrCacheRead})
			}
		}
	}

	report.Elapsed = time.Since(start)
	t.log.Infof("%s", report)
	return report, nil
}

// Plan resolves the request without fetching and counts what the cache
// already holds.
func (t *Task) Plan() (*PlanInfo, error) {
	rng, err := t.resolve()
	if err != nil {
		return nil, err
	}
	info := &PlanInfo{
		Range:      rng,
		Bound:      rng.Bound(),
		Resolution: tile.DegreesPerPixel(rng.Zoom),
		Width:      rng.Cols() * tile.Size,
		Height:     rng.Rows() * tile.Size,
	}
	info.EstimatedBytes = geotiff.EstimateSize(info.Width, info.Height)
	info.BigTIFF = t.Req.BigTIFF || geotiff.NeedsBigTIFF(info.Width, info.Height)
	info.Pending = rng.Count()

	if t.Req.NoCache || t.Req.CacheDir == "" {
		return info, nil
	}
	if _, err := os.Stat(t.Req.CacheDir); err != nil {
		return info, nil
	}
	c, err := cache.Open(t.Req.CacheDir, cache.WithLogger(t.log), cache.WithMetrics(t.metrics))
	if err != nil {
		return nil, stageErr(StageCache, err)
	}
	defer c.Close()
	for _, tl := range rng.Tiles() {
		if c.Has(t.Req.Source, tl) {
			info.Cached++
		}
	}
	info.Pending -= info.Cached
	return info, nil
}

func (t *Task) maxRetries() int {
	switch {
	case t.Req.Retries == nil:
		return 0
	case *t.Req.Retries <= 0:
		return fetch.NoRetries
	}
	return *t.Req.Retries
}

func (t *Task) openCache() (*cache.Cache, func(), error) {
	dir := t.Req.CacheDir
	temporary := t.Req.NoCache || dir == ""
	if temporary {
		var err error
		if dir, err = os.MkdirTemp("", "tiler-cache-"); err != nil {
			return nil, nil, err
		}
	}
	c, err := cache.Open(dir, cache.WithLogger(t.log), cache.WithMetrics(t.metrics))
	if err != nil {
		if temporary {
			os.RemoveAll(dir)
		}
		return nil, nil, err
	}
	return c, func() {
		c.Close()
		if temporary {
			os.RemoveAll(dir)
		}
	}, nil
}

// loader feeds strip assembly from the cache.
func (t *Task) loader(c *cache.Cache) mosaic.Loader {
	return func(tl maptile.Tile) ([]byte, bool) {
		data, ok := c.Get(t.Req.Source, tl)
		if !ok {
			return nil, false
		}
		img, err := fetch.Decode(tl, data)
		if err != nil {
			t.log.Warnf("cached tile %s unusable: %s", tile.Key(tl), err)
			return nil, false
		}
		return img.Pix, true
	}
}

func (t *Task) metadata(rng tile.Range, m *mosaic.Mosaic) map[string]string {
	b := rng.Bound()
	md := map[string]string{
		"SOURCE":        t.Req.Source,
		"ZOOM":          strconv.Itoa(int(rng.Zoom)),
		"TILE_COUNT":    strconv.Itoa(m.Total),
		"MISSING_TILES": strconv.Itoa(len(m.Missing)),
		"TILE_RANGE":    fmt.Sprintf("x=%d-%d,y=%d-%d", rng.MinX, rng.MaxX, rng.MinY, rng.MaxY),
		"BOUNDS":        fmt.Sprintf("%.8f,%.8f,%.8f,%.8f", b.Min[0], b.Min[1], b.Max[0], b.Max[1]),
		"TASK_ID":       t.ID,
	}
	if len(m.Missing) > 0 {
		keys := make([]string, 0, min(len(m.Missing), maxListedMissing))
		for _, f := range m.Missing[:min(len(m.Missing), maxListedMissing)] {
			keys = append(keys, tile.Key(f.Tile))
		}
		md["MISSING_TILE_LIST"] = strings.Join(keys, ",")
	}
	return md
}

func (t *Task) writeMetrics() {
	if t.Req.MetricsFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.Req.MetricsFile), os.ModePerm); err != nil {
		t.log.Warnf("metrics file: %s", err)
		return
	}
	if err := t.metrics.WriteTextfile(t.Req.MetricsFile); err != nil {
		t.log.Warnf("metrics file: %s", err)
	}
}
