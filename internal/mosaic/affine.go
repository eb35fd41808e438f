package mosaic

import (
	"github.com/jsy96/satellite-downloader/internal/tile"
)

// Affine maps pixel (col, row) to (lon, lat). There is no rotation term.
type Affine struct {
	OriginLon   float64
	OriginLat   float64
	PixelWidth  float64 // degrees, positive
	PixelHeight float64 // degrees, negative since rows grow southward
}

// TransformFor derives the transform of the canvas built from r. The origin
// is the north-west corner of the top-left tile. The column step is the
// zoom's ground resolution in degrees of longitude; the row step spreads the
// range's latitude span evenly over its rows so both corners land exactly.
func TransformFor(r tile.Range) Affine {
	west, north := tile.TileToLonLat(r.MinX, r.MinY, r.Zoom)
	_, south := tile.TileToLonLat(r.MaxX+1, r.MaxY+1, r.Zoom)
	rows := float64(r.Rows() * tile.Size)

	return Affine{
		OriginLon:   west,
		OriginLat:   north,
		PixelWidth:  tile.DegreesPerPixel(r.Zoom),
		PixelHeight: -(north - south) / rows,
	}
}

// Apply returns the coordinate of the top-left corner of pixel (col, row).
func (a Affine) Apply(col, row float64) (lon, lat float64) {
	return a.OriginLon + col*a.PixelWidth, a.OriginLat + row*a.PixelHeight
}

// GDAL returns the coefficients in GDAL geotransform order.
func (a Affine) GDAL() [6]float64 {
	return [6]float64{a.OriginLon, a.PixelWidth, 0, a.OriginLat, 0, a.PixelHeight}
}
