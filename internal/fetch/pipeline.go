package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jsy96/satellite-downloader/internal/metrics"
	"github.com/jsy96/satellite-downloader/internal/tile"
)

const (
	DefaultWorkers    = 8
	MaxWorkers        = 16
	DefaultMaxRetries = 3
	// NoRetries as Config.MaxRetries gives every tile a single attempt.
	NoRetries = -1
	// DefaultJitter paces workers when neither Delay nor Jitter is set.
	DefaultJitter = 50 * time.Millisecond
)

// Store is the cache as seen by the pipeline.
type Store interface {
	Get(source string, t maptile.Tile) ([]byte, bool)
	Put(source string, t maptile.Tile, data []byte) error
	Invalidate(source string, t maptile.Tile) error
}

// Config tunes a Pipeline. Zero values select the defaults.
type Config struct {
	Source  string
	Workers int
	// MaxRetries is the number of retries after the first attempt; zero
	// selects DefaultMaxRetries and NoRetries disables retrying.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Delay plus a random share of Jitter is slept after every successful
	// network fetch. When both are zero Jitter becomes DefaultJitter; a
	// negative Jitter with no Delay turns pacing off.
	Delay  time.Duration
	Jitter time.Duration

	// Rate caps aggregate requests per second across workers; 0 disables it.
	Rate float64
}

// Result is the outcome for one tile. Image is set only when State is
// Succeeded.
type Result struct {
	Tile     maptile.Tile
	Image    *TileImage
	Cached   bool
	Attempts int
	State    State
	Err      error
}

// Pipeline fans tiles out to a fixed set of workers.
type Pipeline struct {
	cfg      Config
	fetcher  Fetcher
	store    Store
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	progress func(Result)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics records fetch and outcome counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithProgress registers fn to be called once per result. fn is called from
// worker goroutines and must be safe for concurrent use.
func WithProgress(fn func(Result)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// NewPipeline builds a pipeline. store may be nil to bypass caching.
func NewPipeline(f Fetcher, store Store, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{fetcher: f, store: store, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Workers > MaxWorkers {
		p.log.Warnf("workers %d exceeds limit, using %d", cfg.Workers, MaxWorkers)
		cfg.Workers = MaxWorkers
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.Delay == 0 && cfg.Jitter == 0 {
		cfg.Jitter = DefaultJitter
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Rate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Workers)
	}
	p.cfg = cfg
	return p
}

// Workers is the effective concurrency.
func (p *Pipeline) Workers() int { return p.cfg.Workers }

// Run fetches tiles and returns a channel carrying exactly one Result per
// distinct tile. The channel is closed once every tile is accounted for.
// After ctx is canceled no new requests start; remaining tiles are reported
// as Failed.
func (p *Pipeline) Run(ctx context.Context, tiles []maptile.Tile) <-chan Result {
	jobs := make(chan maptile.Tile)
	results := make(chan Result, p.cfg.Workers)

	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		seen := make(maptile.Set, len(tiles))
		for _, t := range tiles {
			if seen[t] {
				continue
			}
			seen[t] = true

			if ctx.Err() != nil {
				p.emit(results, p.canceled(ctx, t, 0))
				continue
			}
			select {
			case jobs <- t:
			case <-ctx.Done():
				p.emit(results, p.canceled(ctx, t, 0))
			}
		}
		return nil
	})

	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for t := range jobs {
				p.emit(results, p.process(ctx, t))
			}
			return nil
		})
	}

	go func() {
		g.Wait()
		close(results)
	}()
	return results
}

func (p *Pipeline) emit(results chan<- Result, r Result) {
	outcome := metrics.OutcomeFailed
	if r.State == Succeeded {
		outcome = metrics.OutcomeFetched
		if r.Cached {
			outcome = metrics.OutcomeCached
		}
	}
	p.metrics.TilesTotal.WithLabelValues(outcome).Inc()

	if p.progress != nil {
		p.progress(r)
	}
	results <- r
}

func (p *Pipeline) canceled(ctx context.Context, t maptile.Tile, attempts int) Result {
	return Result{
		Tile:     t,
		Attempts: attempts,
		State:    Failed,
		Err:      fmt.Errorf("%w: tile %s: %w", ErrFetchFailed, tile.Key(t), context.Cause(ctx)),
	}
}

// process drives one tile through its state machine.
func (p *Pipeline) process(ctx context.Context, t maptile.Tile) Result {
	log := p.log.WithField("tile", tile.Key(t))

	if img, ok := p.fromCache(t, log); ok {
		return Result{Tile: t, Image: img, Cached: true, State: Succeeded}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialBackoff
	bo.MaxInterval = p.cfg.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0
	bo.Reset()

	st, _ := Status{State: Pending}.Next(EventDispatch, p.cfg.MaxRetries)
	var lastErr error
	for {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return p.canceled(ctx, t, st.Attempt-1)
			}
		}

		start := time.Now()
		data, err := p.fetcher.Fetch(ctx, p.cfg.Source, t)
		class := Classify(err)
		if ctx.Err() != nil && class != ClassOK {
			class = ClassCanceled
		}

		var img *TileImage
		if class == ClassOK {
			img, err = Decode(t, data)
			if err != nil {
				class = ClassPermanent
			}
		}
		p.metrics.ObserveFetch(class.String(), time.Since(start), len(data))
		if err != nil {
			lastErr = err
		}

		st, _ = st.Next(eventFor(class), p.cfg.MaxRetries)
		switch st.State {
		case Succeeded:
			if p.store != nil {
				if err := p.store.Put(p.cfg.Source, t, data); err != nil {
					log.Warnf("cache write failed: %s", err)
				}
			}
			log.Debugf("fetched in %dms, %.2f kb, attempt %d", time.Since(start).Milliseconds(), float32(len(data))/1024.0, st.Attempt)
			p.pace(ctx)
			return Result{Tile: t, Image: img, Attempts: st.Attempt, State: Succeeded}

		case Failed:
			if class == ClassCanceled {
				return p.canceled(ctx, t, st.Attempt)
			}
			log.Warnf("giving up after %d attempts: %s", st.Attempt, lastErr)
			return Result{
				Tile:     t,
				Attempts: st.Attempt,
				State:    Failed,
				Err:      fmt.Errorf("%w: tile %s: %w", ErrFetchFailed, tile.Key(t), lastErr),
			}

		case Backoff:
			d := bo.NextBackOff()
			log.WithField("attempt", st.Attempt).Debugf("retrying in %s: %s", d, lastErr)
			if !sleep(ctx, d) {
				return p.canceled(ctx, t, st.Attempt)
			}
			st, _ = st.Next(EventWake, p.cfg.MaxRetries)
		}
	}
}

func (p *Pipeline) fromCache(t maptile.Tile, log logrus.FieldLogger) (*TileImage, bool) {
	if p.store == nil {
		return nil, false
	}
	data, ok := p.store.Get(p.cfg.Source, t)
	if !ok {
		return nil, false
	}
	img, err := Decode(t, data)
	if err != nil {
		log.Warnf("cached tile unusable, refetching: %s", err)
		if err := p.store.Invalidate(p.cfg.Source, t); err != nil {
			log.Warnf("cache invalidate failed: %s", err)
		}
		return nil, false
	}
	return img, true
}

// pace spaces out requests from one worker.
func (p *Pipeline) pace(ctx context.Context) {
	d := p.cfg.Delay
	if p.cfg.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.cfg.Jitter)))
	}
	sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
