// Package mosaic composes fetched tiles into one georeferenced RGB raster.
package mosaic

import (
	"fmt"

	"github.com/paulmach/orb/maptile"

	"github.com/jsy96/satellite-downloader/internal/tile"
)

const bytesPerTileRow = tile.Size * 3

// DefaultSentinel is the fill for tiles that could not be fetched.
var DefaultSentinel = [3]byte{128, 128, 128}

// Raster yields an RGB image one strip of tile.Size rows at a time.
type Raster interface {
	Width() int
	Height() int
	// ReadStrip fills dst, of length Width()*tile.Size*3, with strip i.
	ReadStrip(i int, dst []byte) error
}

// Offset is the pixel position of t's top-left corner inside the canvas of r.
func Offset(r tile.Range, t maptile.Tile) (px, py int) {
	return int(t.X-r.MinX) * tile.Size, int(t.Y-r.MinY) * tile.Size
}

// Canvas is an in-memory packed RGB image sized to whole tiles.
type Canvas struct {
	width  int
	height int
	Pix    []byte
}

// NewCanvas allocates a canvas for cols x rows tiles.
func NewCanvas(cols, rows int) *Canvas {
	w, h := cols*tile.Size, rows*tile.Size
	return &Canvas{width: w, height: h, Pix: make([]byte, w*h*3)}
}

// CanvasBytes is the memory a full canvas for r needs.
func CanvasBytes(r tile.Range) int64 {
	return r.Count() * tile.Size * tile.Size * 3
}

func (c *Canvas) Width() int  { return c.width }
func (c *Canvas) Height() int { return c.height }

// Place copies a decoded tile to pixel offset (px, py).
func (c *Canvas) Place(px, py int, pix []byte) {
	stride := c.width * 3
	for y := 0; y < tile.Size; y++ {
		dst := (py+y)*stride + px*3
		copy(c.Pix[dst:dst+bytesPerTileRow], pix[y*bytesPerTileRow:(y+1)*bytesPerTileRow])
	}
}

// Fill paints one tile-sized block at (px, py) with rgb.
func (c *Canvas) Fill(px, py int, rgb [3]byte) {
	stride := c.width * 3
	for y := 0; y < tile.Size; y++ {
		fillRow(c.Pix[(py+y)*stride+px*3:(py+y)*stride+px*3+bytesPerTileRow], rgb)
	}
}

// ReadStrip implements Raster.
func (c *Canvas) ReadStrip(i int, dst []byte) error {
	stride := c.width * 3
	start := i * tile.Size * stride
	if i < 0 || start >= len(c.Pix) {
		return fmt.Errorf("strip %d out of range", i)
	}
	end := min(start+tile.Size*stride, len(c.Pix))
	copy(dst, c.Pix[start:end])
	return nil
}

func fillRow(row []byte, rgb [3]byte) {
	for i := 0; i+2 < len(row); i += 3 {
		row[i], row[i+1], row[i+2] = rgb[0], rgb[1], rgb[2]
	}
}
