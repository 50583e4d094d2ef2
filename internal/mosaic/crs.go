package mosaic

import (
	"github.com/vk/rastermosaic/internal/vector"
)

// Resolver determines the EPSG code of a unit.
type Resolver struct {
	Inspector vector.Inspector
}

// NewResolver returns a resolver that inspects GeoJSON metadata.
func NewResolver() *Resolver {
	return &Resolver{Inspector: vector.GeoJSONInspector{}}
}

// Resolve returns the unit's override verbatim when set, without checking
// it against the embedded metadata. Otherwise it returns the first EPSG
// code found in the unit's metadata.
func (r *Resolver) Resolve(u VectorUnit) (int, error) {
	if u.EPSGOverride > 0 {
		return u.EPSGOverride, nil
	}
	code, err := r.Inspector.EPSG(u.Path)
	if err != nil {
		return 0, &CRSResolutionError{Unit: u.Path, Err: err}
	}
	return code, nil
}
