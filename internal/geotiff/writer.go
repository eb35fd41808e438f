package geotiff

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/sync/errgroup"
)

// ErrEncodeFailed wraps every failure to produce the output file.
var ErrEncodeFailed = errors.New("encode failed")

// BlockSize is the TIFF tile edge and the strip height read from a Raster.
const BlockSize = 256

// classicLimit leaves headroom below 4 GiB for the IFD and tag data.
const classicLimit = math.MaxUint32 - 64<<20

// Raster yields an RGB image one strip of BlockSize rows at a time.
type Raster interface {
	Width() int
	Height() int
	ReadStrip(i int, dst []byte) error
}

// EstimateSize is an upper bound on the file size for an uncompressed or
// losslessly compressed w x h RGB image.
func EstimateSize(w, h int) int64 {
	across := int64((w + BlockSize - 1) / BlockSize)
	down := int64((h + BlockSize - 1) / BlockSize)
	raw := across * down * BlockSize * BlockSize * 3
	return raw + raw/100 + across*down*16 + 64<<10
}

// NeedsBigTIFF reports whether a w x h image cannot be stored with 32-bit
// offsets.
func NeedsBigTIFF(w, h int) bool {
	return EstimateSize(w, h) > classicLimit
}

// Encode writes src as a tiled GeoTIFF at path. gt is the GDAL geotransform
// (origin lon, pixel width, 0, origin lat, 0, pixel height). The file is
// written next to path under a temporary name and renamed on success.
func Encode(path string, src Raster, gt [6]float64, opts Options) (info Info, err error) {
	w, h := src.Width(), src.Height()
	if w <= 0 || h <= 0 {
		return Info{}, fmt.Errorf("%w: empty raster %dx%d", ErrEncodeFailed, w, h)
	}
	if opts.Compression == "" {
		opts.Compression = LZW
	}
	if gt[2] != 0 || gt[4] != 0 {
		return Info{}, fmt.Errorf("%w: rotated transforms are not supported", ErrEncodeFailed)
	}
	big := opts.BigTIFF || NeedsBigTIFF(w, h)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	enc := &encoder{f: f, bw: bufio.NewWriterSize(f, 1<<20), big: big, opts: opts, width: w, height: h, gt: gt}
	size, err := enc.write(src)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if err := f.Sync(); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if err := f.Close(); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}

	return Info{Path: path, Width: w, Height: h, BigTIFF: big, Compression: opts.Compression, Size: size}, nil
}

type encoder struct {
	f    *os.File
	bw   *bufio.Writer
	pos  uint64
	big  bool
	opts Options

	width, height int
	gt            [6]float64
}

func (e *encoder) writeBytes(b []byte) error {
	n, err := e.bw.Write(b)
	e.pos += uint64(n)
	if err != nil {
		return err
	}
	if !e.big && e.pos > math.MaxUint32 {
		return errors.New("output exceeds the classic TIFF 4 GiB limit, enable BigTIFF")
	}
	return nil
}

func (e *encoder) write(src Raster) (int64, error) {
	header := make([]byte, 8)
	if e.big {
		header = make([]byte, 16)
		copy(header, "II")
		le.PutUint16(header[2:], 43)
		le.PutUint16(header[4:], 8)
	} else {
		copy(header, "II")
		le.PutUint16(header[2:], 42)
	}
	if err := e.writeBytes(header); err != nil {
		return 0, err
	}

	across := (e.width + BlockSize - 1) / BlockSize
	down := (e.height + BlockSize - 1) / BlockSize
	tileOffsets := make([]uint64, 0, across*down)
	tileCounts := make([]uint64, 0, across*down)

	strip := make([]byte, e.width*BlockSize*3)
	blocks := make([][]byte, across)
	for i := 0; i < down; i++ {
		clear(strip)
		if err := src.ReadStrip(i, strip); err != nil {
			return 0, fmt.Errorf("read strip %d: %w", i, err)
		}

		var g errgroup.Group
		g.SetLimit(runtime.NumCPU())
		for j := 0; j < across; j++ {
			g.Go(func() error {
				b, err := e.compress(extractBlock(strip, e.width, j))
				blocks[j] = b
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return 0, fmt.Errorf("compress strip %d: %w", i, err)
		}

		for _, b := range blocks {
			tileOffsets = append(tileOffsets, e.pos)
			tileCounts = append(tileCounts, uint64(len(b)))
			if err := e.writeBytes(b); err != nil {
				return 0, err
			}
		}
	}

	ifdOffset, err := e.writeIFD(tileOffsets, tileCounts)
	if err != nil {
		return 0, err
	}
	if err := e.bw.Flush(); err != nil {
		return 0, err
	}

	// patch the first IFD offset into the header
	if e.big {
		b := make([]byte, 8)
		le.PutUint64(b, ifdOffset)
		_, err = e.f.WriteAt(b, 8)
	} else {
		b := make([]byte, 4)
		le.PutUint32(b, uint32(ifdOffset))
		_, err = e.f.WriteAt(b, 4)
	}
	return int64(e.pos), err
}

// extractBlock copies block j of a strip, zero padding past the right edge.
func extractBlock(strip []byte, width, j int) []byte {
	block := make([]byte, BlockSize*BlockSize*3)
	x0 := j * BlockSize
	n := min(BlockSize, width-x0) * 3
	stride := width * 3
	for y := 0; y < BlockSize; y++ {
		copy(block[y*BlockSize*3:y*BlockSize*3+n], strip[y*stride+x0*3:y*stride+x0*3+n])
	}
	return block
}

func (e *encoder) compress(block []byte) ([]byte, error) {
	switch e.opts.Compression {
	case None:
		return block, nil
	case LZW:
		return lzwEncode(block), nil
	case Deflate:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(block); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case JPEG:
		q := e.opts.JPEGQuality
		if q <= 0 || q > 100 {
			q = 90
		}
		img := image.NewRGBA(image.Rect(0, 0, BlockSize, BlockSize))
		for i, p := 0, 0; i < len(block); i, p = i+3, p+4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = block[i], block[i+1], block[i+2], 0xff
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression %q", e.opts.Compression)
}

func (e *encoder) entries(tileOffsets, tileCounts []uint64) []entry {
	software := e.opts.Software
	if software == "" {
		software = "satellite-downloader"
	}
	// image/jpeg always writes YCbCr with 2x2 chroma subsampling
	photometric := uint16(photometricRGB)
	if e.opts.Compression == JPEG {
		photometric = photometricYCbCr
	}
	list := []entry{
		longs(tagImageWidth, uint32(e.width)),
		longs(tagImageLength, uint32(e.height)),
		shorts(tagBitsPerSample, 8, 8, 8),
		shorts(tagCompression, e.opts.Compression.tag()),
		shorts(tagPhotometric, photometric),
		shorts(tagSamplesPerPixel, 3),
		shorts(tagPlanarConfig, planarConfigChunky),
		ascii(tagSoftware, software),
		shorts(tagTileWidth, BlockSize),
		shorts(tagTileLength, BlockSize),
		offsets(tagTileOffsets, tileOffsets, e.big),
		offsets(tagTileByteCounts, tileCounts, e.big),
		shorts(tagSampleFormat, sampleFormatUint, sampleFormatUint, sampleFormatUint),
	}
	if e.opts.Compression == JPEG {
		list = append(list, shorts(tagYCbCrSubSampling, 2, 2))
	}
	list = append(list,
		doubles(tagModelPixelScale, e.gt[1], -e.gt[5], 0),
		doubles(tagModelTiepoint, 0, 0, 0, e.gt[0], e.gt[3], 0),
		geoKeys(),
		ascii(tagGeoAsciiParams, wgs84Citation),
	)
	if len(e.opts.Metadata) > 0 {
		list = append(list, ascii(tagGDALMetadata, gdalMetadata(e.opts.Metadata)))
	}
	return list
}

// writeIFD writes the single image directory followed by the values that do
// not fit inline, and returns the directory offset.
func (e *encoder) writeIFD(tileOffsets, tileCounts []uint64) (uint64, error) {
	if e.pos%2 == 1 {
		if err := e.writeBytes([]byte{0}); err != nil {
			return 0, err
		}
	}
	list := e.entries(tileOffsets, tileCounts)

	inline, entrySize, countSize := 4, 12, 2
	if e.big {
		inline, entrySize, countSize = 8, 20, 8
	}
	ifdOffset := e.pos
	ifdSize := uint64(countSize + len(list)*entrySize + inline)

	var ifd, extra bytes.Buffer
	extraStart := ifdOffset + ifdSize
	putUint(&ifd, uint64(len(list)), countSize)
	for _, en := range list {
		putUint(&ifd, uint64(en.tag), 2)
		putUint(&ifd, uint64(en.typ), 2)
		putUint(&ifd, en.count, inline)
		if len(en.data) <= inline {
			val := make([]byte, inline)
			copy(val, en.data)
			ifd.Write(val)
			continue
		}
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
		putUint(&ifd, extraStart+uint64(extra.Len()), inline)
		extra.Write(en.data)
	}
	putUint(&ifd, 0, inline) // no further IFD

	if err := e.writeBytes(ifd.Bytes()); err != nil {
		return 0, err
	}
	if err := e.writeBytes(extra.Bytes()); err != nil {
		return 0, err
	}
	return ifdOffset, nil
}

func putUint(w io.Writer, v uint64, size int) {
	b := make([]byte, 8)
	le.PutUint64(b, v)
	w.Write(b[:size])
}
