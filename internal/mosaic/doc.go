// Package mosaic implements the parallel rasterization pipeline: discovery
// of vector units, a bounded worker pool converting each unit into a
// compressed raster tile, a barrier, the merge of all tiles into one mosaic
// and the final re-compression pass, followed by cleanup of intermediates.
//
// The run moves through Discover, Dispatch, Barrier, Aggregate, Compress,
// Cleanup and Done; any stage can end it in Failed. Whether one failed unit
// stops the remaining workers is decided by the FailurePolicy.
package mosaic
