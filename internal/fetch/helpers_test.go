package fetch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, size int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type memStore struct {
	mu          sync.Mutex
	data        map[maptile.Tile][]byte
	invalidated int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[maptile.Tile][]byte)}
}

func (s *memStore) Get(source string, t maptile.Tile) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[t]
	return d, ok
}

func (s *memStore) Put(source string, t maptile.Tile, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[t] = data
	return nil
}

func (s *memStore) Invalidate(source string, t maptile.Tile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, t)
	s.invalidated++
	return nil
}

// countingFetcher serves the same payload for every tile unless fail says
// otherwise for a given attempt.
type countingFetcher struct {
	payload []byte
	calls   atomic.Int64
	fail    func(t maptile.Tile, attempt int) error

	mu       sync.Mutex
	attempts map[maptile.Tile]int
}

func (f *countingFetcher) Fetch(ctx context.Context, source string, t maptile.Tile) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[maptile.Tile]int)
	}
	f.attempts[t]++
	n := f.attempts[t]
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(t, n); err != nil {
			return nil, err
		}
	}
	return f.payload, nil
}

func collect(ch <-chan Result) map[maptile.Tile]Result {
	out := make(map[maptile.Tile]Result)
	for r := range ch {
		out[r.Tile] = r
	}
	return out
}

func grid(z maptile.Zoom, n uint32) []maptile.Tile {
	var tiles []maptile.Tile
	for y := uint32(0); y < n; y++ {
		for x := uint32(0); x < n; x++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}
