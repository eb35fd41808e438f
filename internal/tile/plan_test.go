package tile

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSmallBox(t *testing.T) {
	b := orb.Bound{Min: orb.Point{110, 30}, Max: orb.Point{110.1, 30.1}}
	r, err := Plan(b, 14, 0)
	require.NoError(t, err)

	assert.Equal(t, maptile.Zoom(14), r.Zoom)
	assert.Equal(t, uint32(13198), r.MinX)
	assert.Equal(t, uint32(13202), r.MaxX)
	assert.LessOrEqual(t, r.MinY, r.MaxY)
	assert.Greater(t, r.Count(), int64(0))
	assert.LessOrEqual(t, r.Count(), int64(50))

	x, y := LonLatToTile(110.05, 30.05, 14)
	assert.True(t, r.Contains(maptile.New(x, y, 14)))

	// the range covers the requested box
	assert.True(t, r.Bound().Contains(b.Min))
	assert.True(t, r.Bound().Contains(b.Max))
}

func TestPlanNormalizesCorners(t *testing.T) {
	want, err := Plan(orb.Bound{Min: orb.Point{110, 30}, Max: orb.Point{110.1, 30.1}}, 12, 0)
	require.NoError(t, err)
	got, err := Plan(orb.Bound{Min: orb.Point{110.1, 30.1}, Max: orb.Point{110, 30}}, 12, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPlanErrors(t *testing.T) {
	cases := []struct {
		name string
		b    orb.Bound
		z    maptile.Zoom
		max  int64
		err  error
	}{
		{"degenerate point", orb.Bound{Min: orb.Point{110, 30}, Max: orb.Point{110, 30}}, 14, 0, ErrEmptyRange},
		{"zero height", orb.Bound{Min: orb.Point{110, 30}, Max: orb.Point{111, 30}}, 14, 0, ErrEmptyRange},
		{"beyond mercator", orb.Bound{Min: orb.Point{0, 86}, Max: orb.Point{1, 89}}, 5, 0, ErrEmptyRange},
		{"globe at 18", orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}, 18, 0, ErrRangeTooLarge},
		{"custom ceiling", orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}, 6, 4, ErrRangeTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan(tc.b, tc.z, tc.max)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestRangeTiles(t *testing.T) {
	r := Range{Zoom: 5, MinX: 3, MaxX: 5, MinY: 10, MaxY: 11}
	tiles := r.Tiles()
	require.Len(t, tiles, int(r.Count()))
	assert.Equal(t, 3, r.Cols())
	assert.Equal(t, 2, r.Rows())
	assert.Equal(t, maptile.New(3, 10, 5), tiles[0])
	assert.Equal(t, maptile.New(5, 10, 5), tiles[2])
	assert.Equal(t, maptile.New(3, 11, 5), tiles[3])
	assert.Equal(t, r.Tiles()[3:], r.Row(1))

	set := maptile.Set{}
	for _, tl := range tiles {
		set[tl] = true
	}
	assert.Len(t, set, len(tiles))
}
