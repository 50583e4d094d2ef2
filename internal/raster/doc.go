// Package raster implements the raster side of the mosaic pipeline: an
// in-memory single-band UInt16 raster, a polygon rasterizer, a streaming
// GeoTIFF encoder/decoder with ZSTD/Deflate compression, horizontal
// differencing and internal tiling, and a block-wise mosaic source that
// merges many tiles without holding them all in memory.
//
// Everything that produces pixels implements Source, so the three pipeline
// stages that write rasters (tile encode, merge, final re-encode) all go
// through the same Encode function.
package raster
