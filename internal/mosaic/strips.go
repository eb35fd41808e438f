package mosaic

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb/maptile"

	"github.com/jsy96/satellite-downloader/internal/tile"
)

// Loader returns the RGB pixels of a tile already held in the cache.
type Loader func(t maptile.Tile) (pix []byte, ok bool)

// StripSource rebuilds the mosaic one row of tiles at a time from a Loader,
// so only a single strip is ever held in memory.
type StripSource struct {
	rng      tile.Range
	load     Loader
	missing  maptile.Set
	sentinel [3]byte

	mu   sync.Mutex
	late []maptile.Tile
}

// NewStripSource serves r from load. Tiles in missing are filled with
// sentinel without consulting load.
func NewStripSource(r tile.Range, load Loader, missing maptile.Set, sentinel [3]byte) *StripSource {
	if missing == nil {
		missing = maptile.Set{}
	}
	return &StripSource{rng: r, load: load, missing: missing, sentinel: sentinel}
}

func (s *StripSource) Width() int  { return s.rng.Cols() * tile.Size }
func (s *StripSource) Height() int { return s.rng.Rows() * tile.Size }

// ReadStrip implements Raster.
func (s *StripSource) ReadStrip(i int, dst []byte) error {
	if i < 0 || i >= s.rng.Rows() {
		return fmt.Errorf("strip %d out of range", i)
	}
	stride := s.Width() * 3
	if len(dst) < stride*tile.Size {
		return fmt.Errorf("strip buffer too small: %d < %d", len(dst), stride*tile.Size)
	}

	for c, t := range s.rng.Row(i) {
		px := c * tile.Size * 3
		var pix []byte
		if !s.missing[t] {
			var ok bool
			if pix, ok = s.load(t); !ok {
				s.mu.Lock()
				s.late = append(s.late, t)
				s.mu.Unlock()
			}
		}
		for y := 0; y < tile.Size; y++ {
			row := dst[y*stride+px : y*stride+px+bytesPerTileRow]
			if pix == nil {
				fillRow(row, s.sentinel)
				continue
			}
			copy(row, pix[y*bytesPerTileRow:(y+1)*bytesPerTileRow])
		}
	}
	return nil
}

// LateMissing lists tiles reported as fetched that the loader could not
// produce when their strip was read.
func (s *StripSource) LateMissing() []maptile.Tile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]maptile.Tile(nil), s.late...)
}
