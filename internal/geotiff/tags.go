package geotiff

import (
	"encoding/binary"
	"encoding/xml"
	"math"
	"sort"
	"strings"
)

// TIFF field types.
const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
	typeLong8  = 16
)

// Tag numbers and the values written for them.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagSamplesPerPixel  = 277
	tagPlanarConfig     = 284
	tagSoftware         = 305
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagSampleFormat     = 339
	tagYCbCrSubSampling = 530
	tagModelPixelScale  = 33550
	tagModelTiepoint    = 33922
	tagGeoKeyDirectory  = 34735
	tagGeoAsciiParams   = 34737
	tagGDALMetadata     = 42112
	photometricRGB      = 2
	photometricYCbCr    = 6
	planarConfigChunky  = 1
	sampleFormatUint    = 1
	geoKeyModelType     = 1024
	geoKeyRasterType    = 1025
	geoKeyGeographic    = 2048
	geoKeyGeogCitation  = 2049
	geoKeyAngularUnits  = 2054
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
	epsgWGS84           = 4326
	angularDegree       = 9102
)

const wgs84Citation = "WGS 84|"

var le = binary.LittleEndian

type entry struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
}

func shorts(tag uint16, v ...uint16) entry {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		le.PutUint16(b[2*i:], x)
	}
	return entry{tag, typeShort, uint64(len(v)), b}
}

func longs(tag uint16, v ...uint32) entry {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		le.PutUint32(b[4*i:], x)
	}
	return entry{tag, typeLong, uint64(len(v)), b}
}

func long8s(tag uint16, v ...uint64) entry {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		le.PutUint64(b[8*i:], x)
	}
	return entry{tag, typeLong8, uint64(len(v)), b}
}

func doubles(tag uint16, v ...float64) entry {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		le.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return entry{tag, typeDouble, uint64(len(v)), b}
}

func ascii(tag uint16, s string) entry {
	b := append([]byte(s), 0)
	return entry{tag, typeASCII, uint64(len(b)), b}
}

// offsets stores tile offsets or byte counts as LONG in classic files and
// LONG8 in BigTIFF.
func offsets(tag uint16, v []uint64, big bool) entry {
	if big {
		return long8s(tag, v...)
	}
	l := make([]uint32, len(v))
	for i, x := range v {
		l[i] = uint32(x)
	}
	return longs(tag, l...)
}

// geoKeys is the GeoKeyDirectory for geographic WGS 84 with pixel-is-area.
func geoKeys() entry {
	return shorts(tagGeoKeyDirectory,
		1, 1, 0, 5, // version, revision, minor, key count
		geoKeyModelType, 0, 1, modelTypeGeographic,
		geoKeyRasterType, 0, 1, rasterPixelIsArea,
		geoKeyGeographic, 0, 1, epsgWGS84,
		geoKeyGeogCitation, tagGeoAsciiParams, uint16(len(wgs84Citation)), 0,
		geoKeyAngularUnits, 0, 1, angularDegree,
	)
}

// gdalMetadata renders items the way GDAL stores dataset metadata.
func gdalMetadata(items map[string]string) string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("<GDALMetadata>\n")
	for _, k := range keys {
		sb.WriteString(`  <Item name="`)
		xml.EscapeText(&sb, []byte(k))
		sb.WriteString(`">`)
		xml.EscapeText(&sb, []byte(items[k]))
		sb.WriteString("</Item>\n")
	}
	sb.WriteString("</GDALMetadata>")
	return sb.String()
}
