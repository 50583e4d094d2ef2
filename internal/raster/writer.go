package raster

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

var le = binary.LittleEndian

// Encode streams src into w as a single-band UInt16 GeoTIFF laid out and
// compressed according to p. Blocks are pulled from src one at a time, so
// src may be far larger than memory.
func Encode(ctx context.Context, w io.WriteSeeker, src Source, p Profile) error {
	return encode(ctx, w, src, p, bigTIFFThreshold)
}

// encode writes BigTIFF once the estimated payload exceeds bigAbove bytes.
func encode(ctx context.Context, w io.WriteSeeker, src Source, p Profile, bigAbove uint64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m := src.Meta()
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("cannot encode empty raster %dx%d", m.Width, m.Height)
	}

	enc := &encoder{w: w, meta: m, profile: p, lay: newLayout(m, p)}
	enc.big = uint64(m.Width)*uint64(m.Height)*2+uint64(enc.lay.count())*16 > bigAbove
	if err := enc.writeHeader(); err != nil {
		return err
	}

	buf := make([]uint16, enc.lay.blockW*enc.lay.blockH)
	var scratch []byte
	for i := 0; i < enc.lay.count(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		x, y, bw, bh := enc.lay.rect(i)
		samples := buf[:bw*bh]
		if err := src.ReadWindow(ctx, x, y, bw, bh, samples); err != nil {
			return fmt.Errorf("reading block %d: %w", i, err)
		}
		data, err := encodeBlock(p, samples, bw, scratch)
		if err != nil {
			return fmt.Errorf("encoding block %d: %w", i, err)
		}
		scratch = data
		if err := enc.writeBlock(data); err != nil {
			return err
		}
	}
	return enc.finish()
}

// WriteFile encodes src to path. The data is written under a temporary name
// in the same directory, synced, and renamed into place, so path either does
// not exist or holds a complete raster. The temporary file is removed on error.
func WriteFile(ctx context.Context, path string, src Source, p Profile) (err error) {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp-"+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err = Encode(ctx, f, src, p); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

type encoder struct {
	w       io.WriteSeeker
	meta    Meta
	profile Profile
	lay     layout
	big     bool

	pos     uint64
	offsets []uint64
	counts  []uint64
}

func (e *encoder) writeHeader() error {
	var hdr []byte
	if e.big {
		hdr = make([]byte, 16)
		copy(hdr, "II")
		le.PutUint16(hdr[2:], 43)
		le.PutUint16(hdr[4:], 8)
	} else {
		hdr = make([]byte, 8)
		copy(hdr, "II")
		le.PutUint16(hdr[2:], 42)
	}
	// The IFD offset is patched in by finish.
	return e.write(hdr)
}

func (e *encoder) write(b []byte) error {
	n, err := e.w.Write(b)
	e.pos += uint64(n)
	return err
}

func (e *encoder) writeBlock(data []byte) error {
	if !e.big && e.pos+uint64(len(data)) > math.MaxUint32 {
		return errors.New("raster exceeds the classic TIFF size limit")
	}
	e.offsets = append(e.offsets, e.pos)
	e.counts = append(e.counts, uint64(len(data)))
	return e.write(data)
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
}

func shorts(vs ...uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		le.PutUint16(b[2*i:], v)
	}
	return b
}

func longs(vs ...uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		le.PutUint32(b[4*i:], v)
	}
	return b
}

func doubles(vs ...float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		le.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

func (e *encoder) offsetEntry(tag uint16, vs []uint64) ifdEntry {
	if e.big {
		b := make([]byte, 8*len(vs))
		for i, v := range vs {
			le.PutUint64(b[8*i:], v)
		}
		return ifdEntry{tag, typeLong8, uint64(len(vs)), b}
	}
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		le.PutUint32(b[4*i:], uint32(v))
	}
	return ifdEntry{tag, typeLong, uint64(len(vs)), b}
}

func (e *encoder) entries() ([]ifdEntry, error) {
	m := e.meta
	ents := []ifdEntry{
		{tagImageWidth, typeLong, 1, longs(uint32(m.Width))},
		{tagImageLength, typeLong, 1, longs(uint32(m.Height))},
		{tagBitsPerSample, typeShort, 1, shorts(16)},
		{tagCompression, typeShort, 1, shorts(e.profile.Codec.tag())},
		{tagPhotometric, typeShort, 1, shorts(1)},
		{tagSamplesPerPixel, typeShort, 1, shorts(1)},
		{tagPlanarConfig, typeShort, 1, shorts(1)},
		{tagSampleFormat, typeShort, 1, shorts(1)},
		{tagModelPixelScale, typeDouble, 3, doubles(m.ResX, m.ResY, 0)},
		{tagModelTiepoint, typeDouble, 6, doubles(0, 0, 0, m.OriginX, m.OriginY, 0)},
	}
	nodata := fmt.Sprintf("%d\x00", m.NoData)
	ents = append(ents, ifdEntry{tagGDALNoData, typeASCII, uint64(len(nodata)), []byte(nodata)})

	if e.profile.Predictor {
		ents = append(ents, ifdEntry{tagPredictor, typeShort, 1, shorts(2)})
	}
	if e.lay.tiled {
		ents = append(ents,
			ifdEntry{tagTileWidth, typeLong, 1, longs(uint32(e.lay.blockW))},
			ifdEntry{tagTileLength, typeLong, 1, longs(uint32(e.lay.blockH))},
			e.offsetEntry(tagTileOffsets, e.offsets),
			e.offsetEntry(tagTileByteCounts, e.counts),
		)
	} else {
		ents = append(ents,
			ifdEntry{tagRowsPerStrip, typeLong, 1, longs(uint32(e.lay.blockH))},
			e.offsetEntry(tagStripOffsets, e.offsets),
			e.offsetEntry(tagStripByteCounts, e.counts),
		)
	}

	if m.EPSG > 0 {
		if m.EPSG > math.MaxUint16 {
			return nil, fmt.Errorf("EPSG code %d does not fit a GeoKey", m.EPSG)
		}
		keys := []uint16{1, 1, 0, 3, keyModelType, 0, 1, modelTypeProjected, keyRasterType, 0, 1, rasterPixelIsArea}
		if isGeographic(m.EPSG) {
			keys[7] = modelTypeGeographic
			keys = append(keys, keyGeographicType, 0, 1, uint16(m.EPSG))
		} else {
			keys = append(keys, keyProjectedType, 0, 1, uint16(m.EPSG))
		}
		ents = append(ents, ifdEntry{tagGeoKeyDirectory, typeShort, uint64(len(keys)), shorts(keys...)})
	}

	sort.Slice(ents, func(i, j int) bool { return ents[i].tag < ents[j].tag })
	return ents, nil
}

// finish writes the IFD after the last block and points the header at it.
func (e *encoder) finish() error {
	if len(e.offsets) != e.lay.count() {
		return fmt.Errorf("wrote %d of %d blocks", len(e.offsets), e.lay.count())
	}
	ents, err := e.entries()
	if err != nil {
		return err
	}

	if e.pos%2 == 1 {
		if err := e.write([]byte{0}); err != nil {
			return err
		}
	}
	ifdPos := e.pos

	countSize, entrySize, inline := 2, 12, 4
	if e.big {
		countSize, entrySize, inline = 8, 20, 8
	}
	ifdLen := uint64(countSize + entrySize*len(ents) + inline)
	extraPos := ifdPos + ifdLen

	var ifd, extra []byte
	if e.big {
		ifd = le.AppendUint64(ifd, uint64(len(ents)))
	} else {
		ifd = le.AppendUint16(ifd, uint16(len(ents)))
	}
	for _, ent := range ents {
		ifd = le.AppendUint16(ifd, ent.tag)
		ifd = le.AppendUint16(ifd, ent.typ)
		if e.big {
			ifd = le.AppendUint64(ifd, ent.count)
		} else {
			ifd = le.AppendUint32(ifd, uint32(ent.count))
		}
		value := make([]byte, inline)
		if len(ent.data) <= inline {
			copy(value, ent.data)
		} else {
			off := extraPos + uint64(len(extra))
			if e.big {
				le.PutUint64(value, off)
			} else {
				if off > math.MaxUint32 {
					return errors.New("raster exceeds the classic TIFF size limit")
				}
				le.PutUint32(value, uint32(off))
			}
			extra = append(extra, ent.data...)
			if len(extra)%2 == 1 {
				extra = append(extra, 0)
			}
		}
		ifd = append(ifd, value...)
	}
	ifd = append(ifd, make([]byte, inline)...) // no next IFD

	if !e.big && ifdPos > math.MaxUint32 {
		return errors.New("raster exceeds the classic TIFF size limit")
	}
	if err := e.write(ifd); err != nil {
		return err
	}
	if err := e.write(extra); err != nil {
		return err
	}

	var ptr []byte
	var at int64 = 4
	if e.big {
		ptr = le.AppendUint64(nil, ifdPos)
		at = 8
	} else {
		ptr = le.AppendUint32(nil, uint32(ifdPos))
	}
	if _, err := e.w.Seek(at, io.SeekStart); err != nil {
		return err
	}
	if _, err := e.w.Write(ptr); err != nil {
		return err
	}
	_, err = e.w.Seek(int64(e.pos), io.SeekStart)
	return err
}
