package raster

import (
	"fmt"
	"strings"
)

// Codec identifies a TIFF compression scheme.
type Codec int

const (
	CodecNone Codec = iota
	CodecDeflate
	CodecZSTD
)

// TIFF Compression tag values. 50000 is the value GDAL and libtiff use for ZSTD.
const (
	compressionNone    = 1
	compressionDeflate = 8
	compressionZSTD    = 50000
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecDeflate:
		return "deflate"
	case CodecZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

func (c Codec) tag() uint16 {
	switch c {
	case CodecDeflate:
		return compressionDeflate
	case CodecZSTD:
		return compressionZSTD
	default:
		return compressionNone
	}
}

func codecFromTag(v uint32) (Codec, error) {
	switch v {
	case compressionNone:
		return CodecNone, nil
	case compressionDeflate, 32946:
		return CodecDeflate, nil
	case compressionZSTD:
		return CodecZSTD, nil
	default:
		return 0, fmt.Errorf("unsupported TIFF compression %d", v)
	}
}

// ParseCodec accepts the codec names used on the command line and in job files.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off", "disabled":
		return CodecNone, nil
	case "deflate", "zlib":
		return CodecDeflate, nil
	case "zstd":
		return CodecZSTD, nil
	default:
		return 0, fmt.Errorf("unknown codec %q: must be 'none', 'deflate' or 'zstd'", s)
	}
}

// Profile describes how a raster is laid out and compressed on disk.
type Profile struct {
	Codec     Codec
	Predictor bool // horizontal differencing (TIFF Predictor=2)
	Tiled     bool
	BlockSize int // tile edge length in pixels; ignored when Tiled is false
}

// DefaultFinalBlockSize is the internal tile size of the final artifact.
const DefaultFinalBlockSize = 1024

// FinalProfile is the production profile applied to the final mosaic.
func FinalProfile() Profile {
	return Profile{Codec: CodecZSTD, Predictor: true, Tiled: true, BlockSize: DefaultFinalBlockSize}
}

// DefaultTileProfile is applied to per-unit tiles unless configured otherwise.
func DefaultTileProfile() Profile {
	return Profile{Codec: CodecZSTD, Predictor: true, Tiled: true, BlockSize: 256}
}

// IntermediateProfile is used for the merged mosaic before final compression.
func IntermediateProfile() Profile {
	return Profile{Codec: CodecNone, Tiled: true, BlockSize: DefaultFinalBlockSize}
}

// Validate checks the profile against what TIFF readers accept.
func (p Profile) Validate() error {
	if p.Codec < CodecNone || p.Codec > CodecZSTD {
		return fmt.Errorf("invalid codec %v", p.Codec)
	}
	if p.Tiled {
		if p.BlockSize <= 0 || p.BlockSize%16 != 0 {
			return fmt.Errorf("block size %d must be a positive multiple of 16", p.BlockSize)
		}
	}
	return nil
}

func (p Profile) String() string {
	if !p.Tiled {
		return fmt.Sprintf("%s predictor=%t striped", p.Codec, p.Predictor)
	}
	return fmt.Sprintf("%s predictor=%t tiled=%dx%d", p.Codec, p.Predictor, p.BlockSize, p.BlockSize)
}
