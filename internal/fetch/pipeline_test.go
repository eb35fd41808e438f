package fetch

import (
	"context"
	"errors"
	"image/color"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsy96/satellite-downloader/internal/metrics"
)

func fastConfig() Config {
	return Config{
		Source:         "test",
		Workers:        4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Jitter:         -1,
	}
}

func TestPipelineFetchesEveryTile(t *testing.T) {
	payload := encodePNG(t, 256, color.RGBA{10, 20, 30, 255})
	f := &countingFetcher{payload: payload}
	store := newMemStore()
	m := metrics.New()

	p := NewPipeline(f, store, fastConfig(), WithMetrics(m))
	res := collect(p.Run(context.Background(), grid(4, 4)))

	require.Len(t, res, 16)
	for _, r := range res {
		assert.Equal(t, Succeeded, r.State)
		assert.False(t, r.Cached)
		assert.Equal(t, 1, r.Attempts)
		require.NotNil(t, r.Image)
		assert.Equal(t, []byte{10, 20, 30}, r.Image.Pix[:3])
	}
	assert.Equal(t, int64(16), f.calls.Load())
	assert.Len(t, store.data, 16)
	assert.Equal(t, 16.0, testutil.ToFloat64(m.TilesTotal.WithLabelValues(metrics.OutcomeFetched)))
}

func TestPipelineSecondRunUsesCache(t *testing.T) {
	payload := encodePNG(t, 256, color.White)
	store := newMemStore()

	first := &countingFetcher{payload: payload}
	collect(NewPipeline(first, store, fastConfig()).Run(context.Background(), grid(3, 3)))
	require.Equal(t, int64(9), first.calls.Load())

	second := &countingFetcher{payload: payload}
	res := collect(NewPipeline(second, store, fastConfig()).Run(context.Background(), grid(3, 3)))
	assert.Equal(t, int64(0), second.calls.Load())
	for _, r := range res {
		assert.True(t, r.Cached)
		assert.Equal(t, Succeeded, r.State)
	}
}

func TestPipelineRetriesTransientErrors(t *testing.T) {
	f := &countingFetcher{
		payload: encodePNG(t, 256, color.Black),
		fail: func(_ maptile.Tile, attempt int) error {
			if attempt < 3 {
				return &StatusError{Code: http.StatusServiceUnavailable}
			}
			return nil
		},
	}
	res := collect(NewPipeline(f, nil, fastConfig()).Run(context.Background(), grid(1, 1)))

	require.Len(t, res, 1)
	r := res[maptile.New(0, 0, 1)]
	assert.Equal(t, Succeeded, r.State)
	assert.Equal(t, 3, r.Attempts)
}

func TestPipelineGivesUpAfterRetries(t *testing.T) {
	f := &countingFetcher{fail: func(maptile.Tile, int) error {
		return &StatusError{Code: http.StatusBadGateway}
	}}
	cfg := fastConfig()
	cfg.MaxRetries = 2

	r := collect(NewPipeline(f, nil, cfg).Run(context.Background(), grid(0, 1)))[maptile.New(0, 0, 0)]
	assert.Equal(t, Failed, r.State)
	assert.Equal(t, 3, r.Attempts)
	assert.ErrorIs(t, r.Err, ErrFetchFailed)
	assert.Equal(t, int64(3), f.calls.Load())
}

func TestPipelineNoRetriesMakesOneAttempt(t *testing.T) {
	f := &countingFetcher{fail: func(maptile.Tile, int) error {
		return &StatusError{Code: http.StatusServiceUnavailable}
	}}
	cfg := fastConfig()
	cfg.MaxRetries = NoRetries

	r := collect(NewPipeline(f, nil, cfg).Run(context.Background(), grid(0, 1)))[maptile.New(0, 0, 0)]
	assert.Equal(t, Failed, r.State)
	assert.Equal(t, 1, r.Attempts)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestPipelineConfigDefaults(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantRetries int
		wantJitter  time.Duration
	}{
		{"zero value", Config{}, DefaultMaxRetries, DefaultJitter},
		{"no retries", Config{MaxRetries: NoRetries}, 0, DefaultJitter},
		{"explicit delay keeps jitter off", Config{Delay: time.Second}, DefaultMaxRetries, 0},
		{"pacing disabled", Config{Jitter: -1}, DefaultMaxRetries, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(&countingFetcher{}, nil, tt.cfg)
			assert.Equal(t, tt.wantRetries, p.cfg.MaxRetries)
			assert.Equal(t, tt.wantJitter, p.cfg.Jitter)
		})
	}
}

func TestPipelinePacesSuccessfulFetches(t *testing.T) {
	f := &countingFetcher{payload: encodePNG(t, 256, color.White)}
	cfg := fastConfig()
	cfg.Workers = 1
	cfg.Delay = 20 * time.Millisecond

	start := time.Now()
	res := collect(NewPipeline(f, nil, cfg).Run(context.Background(), grid(1, 2)))
	require.Len(t, res, 4)
	assert.GreaterOrEqual(t, time.Since(start), 4*cfg.Delay)
}

func TestPipelineDoesNotPaceCacheHits(t *testing.T) {
	payload := encodePNG(t, 256, color.White)
	store := newMemStore()
	collect(NewPipeline(&countingFetcher{payload: payload}, store, fastConfig()).Run(context.Background(), grid(1, 2)))

	cfg := fastConfig()
	cfg.Workers = 1
	cfg.Delay = time.Second
	start := time.Now()
	res := collect(NewPipeline(&countingFetcher{payload: payload}, store, cfg).Run(context.Background(), grid(1, 2)))
	require.Len(t, res, 4)
	assert.Less(t, time.Since(start), cfg.Delay)
}

func TestPipelineDoesNotRetryPermanentErrors(t *testing.T) {
	f := &countingFetcher{fail: func(maptile.Tile, int) error {
		return &StatusError{Code: http.StatusNotFound}
	}}
	r := collect(NewPipeline(f, nil, fastConfig()).Run(context.Background(), grid(0, 1)))[maptile.New(0, 0, 0)]

	assert.Equal(t, Failed, r.State)
	assert.Equal(t, 1, r.Attempts)
	var se *StatusError
	assert.True(t, errors.As(r.Err, &se))
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestPipelineRejectsInvalidPayload(t *testing.T) {
	store := newMemStore()
	f := &countingFetcher{payload: encodePNG(t, 512, color.White)}
	r := collect(NewPipeline(f, store, fastConfig()).Run(context.Background(), grid(0, 1)))[maptile.New(0, 0, 0)]

	assert.Equal(t, Failed, r.State)
	assert.Equal(t, 1, r.Attempts)
	assert.Empty(t, store.data)
}

func TestPipelineRefetchesUnusableCacheEntry(t *testing.T) {
	store := newMemStore()
	tl := maptile.New(0, 0, 0)
	store.data[tl] = []byte("not an image")

	f := &countingFetcher{payload: encodePNG(t, 256, color.White)}
	r := collect(NewPipeline(f, store, fastConfig()).Run(context.Background(), []maptile.Tile{tl}))[tl]

	assert.Equal(t, Succeeded, r.State)
	assert.False(t, r.Cached)
	assert.Equal(t, 1, store.invalidated)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestPipelineDeduplicates(t *testing.T) {
	f := &countingFetcher{payload: encodePNG(t, 256, color.White)}
	tiles := append(grid(2, 2), grid(2, 2)...)

	var n int
	for range NewPipeline(f, nil, fastConfig()).Run(context.Background(), tiles) {
		n++
	}
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(4), f.calls.Load())
}

func TestPipelineCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &countingFetcher{payload: encodePNG(t, 256, color.White)}
	res := collect(NewPipeline(f, nil, fastConfig()).Run(ctx, grid(3, 3)))

	require.Len(t, res, 9)
	for _, r := range res {
		assert.Equal(t, Failed, r.State)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Equal(t, int64(0), f.calls.Load())
}

func TestPipelineBoundsConcurrency(t *testing.T) {
	payload := encodePNG(t, 256, color.White)
	var inflight, peak atomic.Int64
	f := FetchFunc(func(ctx context.Context, _ string, _ maptile.Tile) ([]byte, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return payload, nil
	})

	cfg := fastConfig()
	cfg.Workers = 3
	var progressed atomic.Int64
	collect(NewPipeline(f, nil, cfg, WithProgress(func(Result) { progressed.Add(1) })).Run(context.Background(), grid(4, 5)))

	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Equal(t, int64(25), progressed.Load())
}

func TestPipelineWorkerLimits(t *testing.T) {
	assert.Equal(t, DefaultWorkers, NewPipeline(nil, nil, Config{}).Workers())
	assert.Equal(t, MaxWorkers, NewPipeline(nil, nil, Config{Workers: 64}).Workers())
}
