package tile

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb/maptile"
)

var (
	// ErrInvalidZoom is returned for an explicit zoom outside the source bounds.
	ErrInvalidZoom = errors.New("invalid zoom")
	// ErrMissingZoomSpec is returned when neither zoom nor resolution is set.
	ErrMissingZoomSpec = errors.New("either zoom or resolution is required")
	// ErrInvalidResolution is returned for a non-positive or non-finite resolution.
	ErrInvalidResolution = errors.New("invalid resolution")
)

// zoomLimit bounds the resolution search; 2^30 tiles is beyond any source.
const zoomLimit = 30

// ZoomSpec describes how the caller wants the zoom chosen. An explicit Zoom
// wins over Resolution.
type ZoomSpec struct {
	Zoom       *int
	Resolution float64 // degrees per pixel
	Min        maptile.Zoom
	Max        maptile.Zoom
}

// ResolveZoom picks the zoom level for zs.
func ResolveZoom(zs ZoomSpec) (maptile.Zoom, error) {
	if zs.Min > zs.Max {
		return 0, fmt.Errorf("%w: source bounds [%d, %d]", ErrInvalidZoom, zs.Min, zs.Max)
	}

	if zs.Zoom != nil {
		z := *zs.Zoom
		if z < int(zs.Min) || z > int(zs.Max) {
			return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidZoom, z, zs.Min, zs.Max)
		}
		return maptile.Zoom(z), nil
	}

	res := zs.Resolution
	if res == 0 {
		return 0, ErrMissingZoomSpec
	}
	if res < 0 || math.IsNaN(res) || math.IsInf(res, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidResolution, res)
	}

	z := maptile.Zoom(zoomLimit)
	for i := maptile.Zoom(0); i <= zoomLimit; i++ {
		// tolerate float noise when res was itself computed from a zoom
		if DegreesPerPixel(i) <= res*(1+1e-9) {
			z = i
			break
		}
	}

	if z < zs.Min {
		z = zs.Min
	}
	if z > zs.Max {
		z = zs.Max
	}
	return z, nil
}

