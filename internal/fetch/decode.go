package fetch

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // decoder registration
	_ "image/jpeg" // decoder registration
	_ "image/png"  // decoder registration

	"github.com/paulmach/orb/maptile"
	_ "golang.org/x/image/webp" // decoder registration

	"github.com/jsy96/satellite-downloader/internal/tile"
)

// TileImage is a decoded 256x256 tile as packed 8-bit RGB.
type TileImage struct {
	Tile maptile.Tile
	Pix  []byte // len tile.Size*tile.Size*3, row-major
}

// Decode validates data as a tile image and converts it to RGB. Alpha is
// dropped and gray images are expanded.
func Decode(t maptile.Tile, data []byte) (*TileImage, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	if cfg.Width != tile.Size || cfg.Height != tile.Size {
		return nil, fmt.Errorf("%s tile is %dx%d, want %dx%d", format, cfg.Width, cfg.Height, tile.Size, tile.Size)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s tile: %w", format, err)
	}
	return &TileImage{Tile: t, Pix: toRGB(img)}, nil
}

func toRGB(img image.Image) []byte {
	b := img.Bounds()
	pix := make([]byte, 0, tile.Size*tile.Size*3)

	switch src := img.(type) {
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for i := 0; i < len(row); i += 4 {
				pix = append(pix, row[i], row[i+1], row[i+2])
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for _, g := range row {
				pix = append(pix, g, g, g)
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
				pix = append(pix, c.R, c.G, c.B)
			}
		}
	}
	return pix
}
