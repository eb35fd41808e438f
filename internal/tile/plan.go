package tile

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

var (
	// ErrEmptyRange is returned when the bounding box covers no area.
	ErrEmptyRange = errors.New("empty tile range")
	// ErrRangeTooLarge is returned when the range exceeds the tile ceiling.
	ErrRangeTooLarge = errors.New("tile range too large")
)

// DefaultMaxTiles is the tile ceiling used when the caller passes zero.
const DefaultMaxTiles = 10000

// Range is an inclusive rectangle of tiles at one zoom. Y grows southward so
// MinY is the northern edge.
type Range struct {
	Zoom maptile.Zoom
	MinX uint32
	MaxX uint32
	MinY uint32
	MaxY uint32
}

// Plan converts a bounding box into the tile range covering it. Corner
// ordering is normalized and latitudes are clamped to the Mercator limit
// before conversion. Nothing here touches the network.
func Plan(b orb.Bound, z maptile.Zoom, maxTiles int64) (Range, error) {
	if maxTiles <= 0 {
		maxTiles = DefaultMaxTiles
	}
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Range{}, fmt.Errorf("%w: non-finite bounds %v", ErrEmptyRange, b)
		}
	}

	b = Normalize(b)
	if b.Min[0] >= b.Max[0] || b.Min[1] >= b.Max[1] {
		return Range{}, fmt.Errorf("%w: bounds %v have no area", ErrEmptyRange, b)
	}

	// north-west corner gives the minimum indices, south-east the maximum
	minX, minY := LonLatToTile(b.Min[0], b.Max[1], z)
	maxX, maxY := LonLatToTile(b.Max[0], b.Min[1], z)

	r := Range{Zoom: z, MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY}
	if r.MinX > r.MaxX {
		r.MinX, r.MaxX = r.MaxX, r.MinX
	}
	if r.MinY > r.MaxY {
		r.MinY, r.MaxY = r.MaxY, r.MinY
	}

	if n := r.Count(); n > maxTiles {
		return Range{}, fmt.Errorf("%w: %d tiles at zoom %d exceeds %d", ErrRangeTooLarge, n, z, maxTiles)
	}
	return r, nil
}

// Normalize orders the corners of b and clamps it to the Web-Mercator world.
func Normalize(b orb.Bound) orb.Bound {
	minLon, maxLon := math.Min(b.Min[0], b.Max[0]), math.Max(b.Min[0], b.Max[0])
	minLat, maxLat := math.Min(b.Min[1], b.Max[1]), math.Max(b.Min[1], b.Max[1])
	return orb.Bound{
		Min: orb.Point{ClampLongitude(minLon), ClampLatitude(minLat)},
		Max: orb.Point{ClampLongitude(maxLon), ClampLatitude(maxLat)},
	}
}

// Cols is the number of tile columns.
func (r Range) Cols() int { return int(r.MaxX-r.MinX) + 1 }

// Rows is the number of tile rows.
func (r Range) Rows() int { return int(r.MaxY-r.MinY) + 1 }

// Count 瓦片总数
func (r Range) Count() int64 {
	return int64(r.MaxX-r.MinX+1) * int64(r.MaxY-r.MinY+1)
}

// Contains reports whether t lies inside the range.
func (r Range) Contains(t maptile.Tile) bool {
	return t.Z == r.Zoom && t.X >= r.MinX && t.X <= r.MaxX && t.Y >= r.MinY && t.Y <= r.MaxY
}

// Tiles enumerates the range row by row, north to south.
func (r Range) Tiles() []maptile.Tile {
	tiles := make([]maptile.Tile, 0, r.Count())
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			tiles = append(tiles, maptile.New(x, y, r.Zoom))
		}
	}
	return tiles
}

// Row returns the tiles of row i, counted from the northern edge.
func (r Range) Row(i int) []maptile.Tile {
	y := r.MinY + uint32(i)
	tiles := make([]maptile.Tile, 0, r.Cols())
	for x := r.MinX; x <= r.MaxX; x++ {
		tiles = append(tiles, maptile.New(x, y, r.Zoom))
	}
	return tiles
}

// Bound is the geographic extent covered by the whole range.
func (r Range) Bound() orb.Bound {
	west, north := TileToLonLat(r.MinX, r.MinY, r.Zoom)
	east, south := TileToLonLat(r.MaxX+1, r.MaxY+1, r.Zoom)
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
}

func (r Range) String() string {
	return fmt.Sprintf("z%d x[%d-%d] y[%d-%d] (%d tiles)", r.Zoom, r.MinX, r.MaxX, r.MinY, r.MaxY, r.Count())
}
