package raster

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Reader decodes single-band UInt16 GeoTIFFs, classic or BigTIFF, tiled or
// striped, as written by Encode or by GDAL with matching options.
type Reader struct {
	r      io.ReaderAt
	closer io.Closer

	order     binary.ByteOrder
	meta      Meta
	profile   Profile
	lay       layout
	offsets   []uint64
	counts    []uint64
	blockSize int
}

// Open opens the GeoTIFF at path. The caller must Close the reader.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader parses the first IFD of the TIFF in r.
func NewReader(r io.ReaderAt) (*Reader, error) {
	rd := &Reader{r: r}
	if err := rd.parse(); err != nil {
		return nil, err
	}
	return rd, nil
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Reader) Meta() Meta { return r.meta }

// Profile reports the layout and compression the file was written with.
func (r *Reader) Profile() Profile { return r.profile }

type field struct {
	ints   []uint64
	floats []float64
	text   string
}

func (r *Reader) parse() error {
	hdr := make([]byte, 16)
	if _, err := r.r.ReadAt(hdr[:8], 0); err != nil {
		return fmt.Errorf("reading TIFF header: %w", err)
	}
	switch string(hdr[:2]) {
	case "II":
		r.order = binary.LittleEndian
	case "MM":
		r.order = binary.BigEndian
	default:
		return errors.New("not a TIFF file")
	}

	var big bool
	var ifdPos uint64
	switch r.order.Uint16(hdr[2:]) {
	case 42:
		ifdPos = uint64(r.order.Uint32(hdr[4:]))
	case 43:
		if _, err := r.r.ReadAt(hdr[8:16], 8); err != nil {
			return fmt.Errorf("reading BigTIFF header: %w", err)
		}
		big = true
		ifdPos = r.order.Uint64(hdr[8:])
	default:
		return errors.New("not a TIFF file")
	}

	fields, err := r.readIFD(ifdPos, big)
	if err != nil {
		return err
	}
	return r.interpret(fields)
}

func (r *Reader) readIFD(pos uint64, big bool) (map[uint16]field, error) {
	countSize, entrySize, inline := 2, 12, 4
	if big {
		countSize, entrySize, inline = 8, 20, 8
	}
	cb := make([]byte, countSize)
	if _, err := r.r.ReadAt(cb, int64(pos)); err != nil {
		return nil, fmt.Errorf("reading IFD: %w", err)
	}
	var n uint64
	if big {
		n = r.order.Uint64(cb)
	} else {
		n = uint64(r.order.Uint16(cb))
	}
	if n == 0 || n > 4096 {
		return nil, fmt.Errorf("implausible IFD entry count %d", n)
	}
	buf := make([]byte, int(n)*entrySize)
	if _, err := r.r.ReadAt(buf, int64(pos)+int64(countSize)); err != nil {
		return nil, fmt.Errorf("reading IFD: %w", err)
	}

	fields := make(map[uint16]field, n)
	for i := 0; i < int(n); i++ {
		ent := buf[i*entrySize : (i+1)*entrySize]
		tag := r.order.Uint16(ent)
		typ := r.order.Uint16(ent[2:])
		var count uint64
		var value []byte
		if big {
			count = r.order.Uint64(ent[4:])
			value = ent[12:20]
		} else {
			count = uint64(r.order.Uint32(ent[4:]))
			value = ent[8:12]
		}
		size := typeSize(typ)
		if size == 0 {
			continue // types we never need
		}
		total := uint64(size) * count
		if total > 1<<30 {
			return nil, fmt.Errorf("tag %d too large", tag)
		}
		data := value[:min(int(total), inline)]
		if total > uint64(inline) {
			var off uint64
			if big {
				off = r.order.Uint64(value)
			} else {
				off = uint64(r.order.Uint32(value))
			}
			data = make([]byte, total)
			if _, err := r.r.ReadAt(data, int64(off)); err != nil {
				return nil, fmt.Errorf("reading tag %d: %w", tag, err)
			}
		}
		fields[tag] = r.decodeField(typ, count, data)
	}
	return fields, nil
}

func (r *Reader) decodeField(typ uint16, count uint64, data []byte) field {
	var f field
	switch typ {
	case typeByte:
		for _, b := range data {
			f.ints = append(f.ints, uint64(b))
		}
	case typeASCII:
		f.text = strings.TrimRight(string(data), "\x00")
	case typeShort:
		for i := uint64(0); i < count; i++ {
			f.ints = append(f.ints, uint64(r.order.Uint16(data[2*i:])))
		}
	case typeLong:
		for i := uint64(0); i < count; i++ {
			f.ints = append(f.ints, uint64(r.order.Uint32(data[4*i:])))
		}
	case typeLong8:
		for i := uint64(0); i < count; i++ {
			f.ints = append(f.ints, r.order.Uint64(data[8*i:]))
		}
	case typeDouble:
		for i := uint64(0); i < count; i++ {
			f.floats = append(f.floats, math.Float64frombits(r.order.Uint64(data[8*i:])))
		}
	}
	return f
}

func first(fields map[uint16]field, tag uint16, def uint64) uint64 {
	if f, ok := fields[tag]; ok && len(f.ints) > 0 {
		return f.ints[0]
	}
	return def
}

func (r *Reader) interpret(fields map[uint16]field) error {
	m := Meta{
		Width:  int(first(fields, tagImageWidth, 0)),
		Height: int(first(fields, tagImageLength, 0)),
		ResX:   1,
		ResY:   1,
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", m.Width, m.Height)
	}
	if bps := first(fields, tagBitsPerSample, 1); bps != 16 {
		return fmt.Errorf("unsupported BitsPerSample %d, want 16", bps)
	}
	if spp := first(fields, tagSamplesPerPixel, 1); spp != 1 {
		return fmt.Errorf("unsupported SamplesPerPixel %d, want 1", spp)
	}
	if sf := first(fields, tagSampleFormat, 1); sf != 1 {
		return fmt.Errorf("unsupported SampleFormat %d, want unsigned integer", sf)
	}

	codec, err := codecFromTag(uint32(first(fields, tagCompression, compressionNone)))
	if err != nil {
		return err
	}
	r.profile.Codec = codec
	switch pred := first(fields, tagPredictor, 1); pred {
	case 1:
	case 2:
		r.profile.Predictor = true
	default:
		return fmt.Errorf("unsupported Predictor %d", pred)
	}

	if f, ok := fields[tagModelPixelScale]; ok && len(f.floats) >= 2 {
		m.ResX, m.ResY = f.floats[0], f.floats[1]
	}
	if f, ok := fields[tagModelTiepoint]; ok && len(f.floats) >= 6 {
		// Tiepoint maps raster (i,j) to model (x,y).
		m.OriginX = f.floats[3] - f.floats[0]*m.ResX
		m.OriginY = f.floats[4] + f.floats[1]*m.ResY
	}
	if f, ok := fields[tagGDALNoData]; ok && f.text != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.text), 64)
		if err != nil || v < 0 || v > math.MaxUint16 || v != math.Trunc(v) {
			return fmt.Errorf("nodata %q is not a UInt16 value", f.text)
		}
		m.NoData = uint16(v)
	}
	if f, ok := fields[tagGeoKeyDirectory]; ok {
		m.EPSG = epsgFromGeoKeys(f.ints)
	}
	r.meta = m

	if _, ok := fields[tagTileWidth]; ok {
		r.profile.Tiled = true
		tw, th := int(first(fields, tagTileWidth, 0)), int(first(fields, tagTileLength, 0))
		if tw <= 0 || th <= 0 || tw != th {
			return fmt.Errorf("unsupported tile size %dx%d", tw, th)
		}
		r.profile.BlockSize = tw
		r.lay = layout{width: m.Width, height: m.Height, blockW: tw, blockH: th, tiled: true}
		r.offsets, r.counts = fields[tagTileOffsets].ints, fields[tagTileByteCounts].ints
	} else {
		rows := int(first(fields, tagRowsPerStrip, uint64(m.Height)))
		if rows <= 0 || rows > m.Height {
			rows = m.Height
		}
		r.lay = layout{width: m.Width, height: m.Height, blockW: m.Width, blockH: rows}
		r.offsets, r.counts = fields[tagStripOffsets].ints, fields[tagStripByteCounts].ints
	}
	if len(r.offsets) != r.lay.count() || len(r.counts) != r.lay.count() {
		return fmt.Errorf("have %d block offsets and %d byte counts, want %d", len(r.offsets), len(r.counts), r.lay.count())
	}
	r.blockSize = r.lay.blockW * r.lay.blockH
	return nil
}

func epsgFromGeoKeys(keys []uint64) int {
	if len(keys) < 4 {
		return 0
	}
	n := int(keys[3])
	for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
		k := keys[4+4*i:]
		if k[1] != 0 {
			continue // value stored in another tag
		}
		if k[0] == keyProjectedType || k[0] == keyGeographicType {
			return int(k[3])
		}
	}
	return 0
}

// readBlock decodes block i into dst, which must hold blockW*blockH samples.
func (r *Reader) readBlock(i int, dst []uint16) error {
	_, _, w, h := r.lay.rect(i)
	dst = dst[:w*h]
	if r.counts[i] == 0 {
		// GDAL omits blocks that are entirely nodata.
		fill(dst, r.meta.NoData)
		return nil
	}
	data := make([]byte, r.counts[i])
	if _, err := r.r.ReadAt(data, int64(r.offsets[i])); err != nil {
		return fmt.Errorf("reading block %d: %w", i, err)
	}
	if err := decodeBlock(r.profile.Codec, r.profile.Predictor, r.order, data, w, dst); err != nil {
		return fmt.Errorf("decoding block %d: %w", i, err)
	}
	return nil
}

func (r *Reader) ReadWindow(ctx context.Context, x, y, w, h int, dst []uint16) error {
	dst = dst[:w*h]
	fill(dst, r.meta.NoData)

	x0, y0 := max(x, 0), max(y, 0)
	x1, y1 := min(x+w, r.meta.Width), min(y+h, r.meta.Height)
	if x0 >= x1 || y0 >= y1 {
		return nil
	}

	block := make([]uint16, r.blockSize)
	for by := y0 / r.lay.blockH; by*r.lay.blockH < y1; by++ {
		for bx := x0 / r.lay.blockW; bx*r.lay.blockW < x1; bx++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			i := by*r.lay.across() + bx
			if err := r.readBlock(i, block); err != nil {
				return err
			}
			bx0, by0, bw, bh := r.lay.rect(i)
			for row := max(y0, by0); row < min(y1, by0+bh); row++ {
				c0, c1 := max(x0, bx0), min(x1, bx0+bw)
				src := block[(row-by0)*bw+(c0-bx0) : (row-by0)*bw+(c1-bx0)]
				copy(dst[(row-y)*w+(c0-x):], src)
			}
		}
	}
	return nil
}

// ReadAll decodes the whole raster into memory.
func (r *Reader) ReadAll(ctx context.Context) (*Raster, error) {
	out, err := New(r.meta)
	if err != nil {
		return nil, err
	}
	if err := r.ReadWindow(ctx, 0, 0, r.meta.Width, r.meta.Height, out.Pix); err != nil {
		return nil, err
	}
	return out, nil
}
