// Package tile holds the Web-Mercator tile grid arithmetic: coordinate
// conversion, zoom selection and rectangular tile range planning.
package tile

import (
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// Size 瓦片边长(像素)
const Size = 256

// ZoomMin 最小级别
const ZoomMin = 0

// ZoomMax 最大级别
const ZoomMax = 22

// MaxLatitude is the latitude at which the square Web-Mercator world ends.
const MaxLatitude = 85.05112877980659

// EarthCircumference at the equator, in meters.
const EarthCircumference = 40075016.68

// Key formats a tile as "z/x/y", the form used in logs and metadata.
func Key(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}
