package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// zstdEncoders hands each caller its own single-threaded encoder, so
// concurrent tile writers never wait on one another.
var zstdEncoders = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		return enc
	},
}

// The decoder is safe for concurrent DecodeAll.
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

func zstdEncode(raw, dst []byte) []byte {
	enc := zstdEncoders.Get().(*zstd.Encoder)
	defer zstdEncoders.Put(enc)
	return enc.EncodeAll(raw, dst)
}

// encodeBlock serializes one block of samples (rows of width w) to its
// on-disk representation. samples is modified in place when the predictor
// is enabled.
func encodeBlock(p Profile, samples []uint16, w int, dst []byte) ([]byte, error) {
	if p.Predictor {
		differentiate(samples, w)
	}
	raw := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(raw[2*i:], v)
	}

	switch p.Codec {
	case CodecNone:
		return append(dst[:0], raw...), nil
	case CodecZSTD:
		return zstdEncode(raw, dst[:0]), nil
	case CodecDeflate:
		buf := bytes.NewBuffer(dst[:0])
		zw := zlib.NewWriter(buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported codec %v", p.Codec)
	}
}

// decodeBlock is the inverse of encodeBlock. dst must hold exactly the
// number of samples the block was encoded with.
func decodeBlock(codec Codec, predictor bool, order binary.ByteOrder, data []byte, w int, dst []uint16) error {
	var raw []byte
	switch codec {
	case CodecNone:
		raw = data
	case CodecZSTD:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, 2*len(dst)))
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		raw = out
	case CodecDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("deflate: %w", err)
		}
		out := make([]byte, 2*len(dst))
		if _, err := io.ReadFull(zr, out); err != nil {
			return fmt.Errorf("deflate: %w", err)
		}
		raw = out
	default:
		return fmt.Errorf("unsupported codec %v", codec)
	}
	if len(raw) < 2*len(dst) {
		return fmt.Errorf("block holds %d bytes, want %d", len(raw), 2*len(dst))
	}
	for i := range dst {
		dst[i] = order.Uint16(raw[2*i:])
	}
	if predictor {
		integrate(dst, w)
	}
	return nil
}

// differentiate applies TIFF horizontal differencing row by row.
func differentiate(samples []uint16, w int) {
	for row := 0; row+w <= len(samples); row += w {
		line := samples[row : row+w]
		for x := w - 1; x > 0; x-- {
			line[x] -= line[x-1]
		}
	}
}

func integrate(samples []uint16, w int) {
	for row := 0; row+w <= len(samples); row += w {
		line := samples[row : row+w]
		for x := 1; x < w; x++ {
			line[x] += line[x-1]
		}
	}
}
