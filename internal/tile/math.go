package tile

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// LonLatToTile returns the tile containing the point at the given zoom.
// Indices are clamped into [0, 2^zoom-1] so lon=180 and latitudes beyond
// the Mercator limit land on the edge tiles.
func LonLatToTile(lon, lat float64, z maptile.Zoom) (x, y uint32) {
	n := math.Exp2(float64(z))
	latRad := lat * math.Pi / 180

	fx := math.Floor((lon + 180) / 360 * n)
	fy := math.Floor((1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * n)

	return clampIndex(fx, n), clampIndex(fy, n)
}

func clampIndex(v, n float64) uint32 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > n-1 {
		return uint32(n - 1)
	}
	return uint32(v)
}

// TileToLonLat returns the north-west corner of tile (x, y). The south-east
// corner of the same tile is TileToLonLat(x+1, y+1, z).
func TileToLonLat(x, y uint32, z maptile.Zoom) (lon, lat float64) {
	n := math.Exp2(float64(z))
	lon = float64(x)/n*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*float64(y)/n))) * 180 / math.Pi
	return lon, lat
}

// Bound returns the geographic extent of a tile.
func Bound(t maptile.Tile) orb.Bound {
	west, north := TileToLonLat(t.X, t.Y, t.Z)
	east, south := TileToLonLat(t.X+1, t.Y+1, t.Z)
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
}

// GroundResolution is the equatorial size of one pixel in meters.
func GroundResolution(z maptile.Zoom) float64 {
	return EarthCircumference / (Size * math.Exp2(float64(z)))
}

// DegreesPerPixel converts GroundResolution to degrees of longitude.
func DegreesPerPixel(z maptile.Zoom) float64 {
	return GroundResolution(z) * 360 / EarthCircumference
}

// ClampLatitude limits lat to the Web-Mercator square.
func ClampLatitude(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

// ClampLongitude limits lon to [-180, 180].
func ClampLongitude(lon float64) float64 {
	return math.Max(-180, math.Min(180, lon))
}
