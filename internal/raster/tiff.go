package raster

// TIFF and GeoTIFF tag numbers used by the encoder and decoder.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// TIFF field types.
const (
	typeByte   = 1
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
	typeLong8  = 16
)

// GeoKeys.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
)

// bigTIFFThreshold is the uncompressed payload size above which BigTIFF is
// written, leaving headroom for the IFD below the 4 GiB classic limit.
const bigTIFFThreshold = 0xF0000000

// stripTarget is the approximate uncompressed strip size for untiled output.
const stripTarget = 8192

func typeSize(t uint16) int {
	switch t {
	case typeByte, typeASCII:
		return 1
	case typeShort:
		return 2
	case typeLong:
		return 4
	case typeDouble, typeLong8:
		return 8
	default:
		return 0
	}
}

// isGeographic reports whether an EPSG code denotes a geographic 2D CRS.
// EPSG allocates geographic CRS codes in the 4000 block.
func isGeographic(epsg int) bool {
	return epsg >= 4000 && epsg < 5000
}

// layout describes how a raster is cut into TIFF blocks (tiles or strips).
type layout struct {
	width, height  int
	blockW, blockH int
	tiled          bool
}

func newLayout(m Meta, p Profile) layout {
	if p.Tiled {
		return layout{width: m.Width, height: m.Height, blockW: p.BlockSize, blockH: p.BlockSize, tiled: true}
	}
	rows := stripTarget / (2 * m.Width)
	if rows < 1 {
		rows = 1
	}
	if rows > m.Height {
		rows = m.Height
	}
	return layout{width: m.Width, height: m.Height, blockW: m.Width, blockH: rows}
}

func (l layout) across() int { return (l.width + l.blockW - 1) / l.blockW }
func (l layout) down() int   { return (l.height + l.blockH - 1) / l.blockH }
func (l layout) count() int  { return l.across() * l.down() }

// rect returns the raster window stored in block i. Tiles always have the
// full block size and are padded past the raster edge; the last strip is
// truncated to the remaining rows.
func (l layout) rect(i int) (x, y, w, h int) {
	x = (i % l.across()) * l.blockW
	y = (i / l.across()) * l.blockH
	w, h = l.blockW, l.blockH
	if !l.tiled && y+h > l.height {
		h = l.height - y
	}
	return x, y, w, h
}
