package tile

import (
	"math"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestResolveZoom(t *testing.T) {
	cases := []struct {
		name string
		spec ZoomSpec
		want maptile.Zoom
		err  error
	}{
		{"explicit", ZoomSpec{Zoom: intp(14), Max: 18}, 14, nil},
		{"explicit wins over resolution", ZoomSpec{Zoom: intp(5), Resolution: 1e-6, Max: 18}, 5, nil},
		{"explicit below min", ZoomSpec{Zoom: intp(2), Min: 3, Max: 18}, 0, ErrInvalidZoom},
		{"explicit above max", ZoomSpec{Zoom: intp(19), Max: 18}, 0, ErrInvalidZoom},
		{"missing", ZoomSpec{Max: 18}, 0, ErrMissingZoomSpec},
		{"negative resolution", ZoomSpec{Resolution: -1, Max: 18}, 0, ErrInvalidResolution},
		{"nan resolution", ZoomSpec{Resolution: math.NaN(), Max: 18}, 0, ErrInvalidResolution},
		{"exact resolution", ZoomSpec{Resolution: DegreesPerPixel(14), Max: 18}, 14, nil},
		{"between levels", ZoomSpec{Resolution: 1e-4, Max: 18}, 14, nil},
		{"coarse", ZoomSpec{Resolution: 1, Max: 18}, 1, nil},
		{"coarse clipped to min", ZoomSpec{Resolution: 1, Min: 3, Max: 18}, 3, nil},
		{"fine clipped to max", ZoomSpec{Resolution: 1e-12, Max: 18}, 18, nil},
		{"bad bounds", ZoomSpec{Resolution: 1, Min: 10, Max: 5}, 0, ErrInvalidZoom},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			z, err := ResolveZoom(tc.spec)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, z)
		})
	}
}

func TestResolveZoomMeetsResolution(t *testing.T) {
	for _, res := range []float64{1e-2, 3e-3, 5e-4, 2.5e-5, 1e-6} {
		z, err := ResolveZoom(ZoomSpec{Resolution: res, Max: 22})
		require.NoError(t, err)
		assert.LessOrEqual(t, DegreesPerPixel(z), res)
		if z > 0 {
			assert.Greater(t, DegreesPerPixel(z-1), res)
		}
	}
}
