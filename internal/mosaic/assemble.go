package mosaic

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"github.com/jsy96/satellite-downloader/internal/fetch"
	"github.com/jsy96/satellite-downloader/internal/tile"
)

// ErrTooManyMissingTiles is returned when the share of failed tiles exceeds
// Options.MaxMissing.
var ErrTooManyMissingTiles = errors.New("too many missing tiles")

// ErrTileUnreadable marks a tile reported as succeeded whose stored copy
// cannot be read back for strip assembly.
var ErrTileUnreadable = errors.New("tile unreadable")

// Options controls assembly.
type Options struct {
	// MaxMissing is the largest tolerated fraction of missing tiles.
	MaxMissing float64
	Sentinel   [3]byte
	// MaxCanvasBytes switches to strip mode above this canvas size when a
	// Loader is available; 0 never switches.
	MaxCanvasBytes int64
	// Verify, in strip mode, confirms that a succeeded tile can be loaded
	// again. Tiles it rejects count as missing before the threshold check.
	Verify func(t maptile.Tile) bool
	Log    logrus.FieldLogger
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		MaxMissing:     0.2,
		Sentinel:       DefaultSentinel,
		MaxCanvasBytes: 1 << 30,
	}
}

// Failure records why a tile is missing.
type Failure struct {
	Tile maptile.Tile
	Err  error
}

// Mosaic is the assembled raster with its georeferencing and bookkeeping.
type Mosaic struct {
	Range     tile.Range
	Transform Affine
	Raster    Raster
	Strips    bool

	Total   int
	Fetched int
	Cached  int
	Missing []Failure
}

// Succeeded is the number of tiles placed from real data.
func (m *Mosaic) Succeeded() int { return m.Fetched + m.Cached }

// MissingFraction is Missing over Total.
func (m *Mosaic) MissingFraction() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(len(m.Missing)) / float64(m.Total)
}

// Assemble consumes results until the channel closes and composes the
// mosaic of r. Tiles that failed or were never reported are filled with the
// sentinel. The mosaic is returned alongside ErrTooManyMissingTiles so the
// caller can still report on it. load may be nil, which forces the
// in-memory canvas.
func Assemble(r tile.Range, results <-chan fetch.Result, load Loader, opts Options) (*Mosaic, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	m := &Mosaic{Range: r, Transform: TransformFor(r), Total: int(r.Count())}
	m.Strips = load != nil && opts.MaxCanvasBytes > 0 && CanvasBytes(r) > opts.MaxCanvasBytes

	var canvas *Canvas
	if m.Strips {
		log.Infof("canvas of %d MiB exceeds limit, assembling in strips", CanvasBytes(r)>>20)
	} else {
		canvas = NewCanvas(r.Cols(), r.Rows())
	}

	seen := make(maptile.Set, m.Total)
	failed := make(map[maptile.Tile]error)
	for res := range results {
		if !r.Contains(res.Tile) || seen[res.Tile] {
			log.Warnf("ignoring unexpected result for tile %s", tile.Key(res.Tile))
			continue
		}
		seen[res.Tile] = true

		if res.State != fetch.Succeeded || res.Image == nil {
			err := res.Err
			if err == nil {
				err = fmt.Errorf("%w: tile %s", fetch.ErrFetchFailed, tile.Key(res.Tile))
			}
			failed[res.Tile] = err
			continue
		}
		if m.Strips && opts.Verify != nil && !opts.Verify(res.Tile) {
			failed[res.Tile] = fmt.Errorf("%w: tile %s", ErrTileUnreadable, tile.Key(res.Tile))
			continue
		}
		if res.Cached {
			m.Cached++
		} else {
			m.Fetched++
		}
		if canvas != nil {
			px, py := Offset(r, res.Tile)
			canvas.Place(px, py, res.Image.Pix)
		}
	}

	for _, t := range r.Tiles() {
		if !seen[t] {
			failed[t] = fmt.Errorf("%w: tile %s was not reported", fetch.ErrFetchFailed, tile.Key(t))
		}
	}

	missing := make(maptile.Set, len(failed))
	for t, err := range failed {
		missing[t] = true
		m.Missing = append(m.Missing, Failure{Tile: t, Err: err})
		if canvas != nil {
			px, py := Offset(r, t)
			canvas.Fill(px, py, opts.Sentinel)
		}
	}
	sort.Slice(m.Missing, func(i, j int) bool {
		a, b := m.Missing[i].Tile, m.Missing[j].Tile
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})

	if canvas != nil {
		m.Raster = canvas
	} else {
		m.Raster = NewStripSource(r, load, missing, opts.Sentinel)
	}

	if m.MissingFraction() > opts.MaxMissing {
		return m, fmt.Errorf("%w: %d of %d tiles missing (limit %.0f%%)",
			ErrTooManyMissingTiles, len(m.Missing), m.Total, opts.MaxMissing*100)
	}
	return m, nil
}
