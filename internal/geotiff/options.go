// Package geotiff writes RGB rasters as tiled GeoTIFF or BigTIFF files
// georeferenced in EPSG:4326.
package geotiff

import (
	"fmt"
	"strings"
)

// Compression is the per-tile codec.
type Compression string

const (
	None    Compression = "none"
	LZW     Compression = "lzw"
	Deflate Compression = "deflate"
	JPEG    Compression = "jpeg"
)

// ParseCompression accepts the names used on the command line.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case None, LZW, Deflate, JPEG:
		return c, nil
	case "":
		return LZW, nil
	}
	return "", fmt.Errorf("unknown compression %q (none, lzw, deflate, jpeg)", s)
}

func (c Compression) tag() uint16 {
	switch c {
	case LZW:
		return 5
	case JPEG:
		return 7
	case Deflate:
		return 8
	}
	return 1
}

// Options controls Encode.
type Options struct {
	Compression Compression
	// BigTIFF forces 64-bit offsets; otherwise they are chosen from the
	// estimated file size.
	BigTIFF     bool
	JPEGQuality int
	Software    string
	// Metadata is written to the GDAL_METADATA tag as dataset items.
	Metadata map[string]string
}

// Info describes a written file.
type Info struct {
	Path        string
	Width       int
	Height      int
	BigTIFF     bool
	Compression Compression
	Size        int64
}
