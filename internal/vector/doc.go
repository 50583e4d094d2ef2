// Package vector reads the polygon feature collections that feed the
// rasterizer and inspects their embedded spatial reference.
//
// Units are GeoJSON FeatureCollections. The CRS comes from the legacy
// GeoJSON "crs" member or, failing that, from a sidecar .prj file.
package vector
