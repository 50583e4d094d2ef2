package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoCRS is returned when a unit carries no recognizable EPSG code.
var ErrNoCRS = errors.New("vector: no EPSG code found")

var (
	epsgURN = regexp.MustCompile(`(?i)EPSG[:/](?:[0-9.]*[:/])?([0-9]+)`)
	wktAuth = regexp.MustCompile(`(?i)(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?([0-9]+)"?\s*\]`)
)

// crsMember is the pre-RFC 7946 "crs" object still written by GDAL and QGIS.
type crsMember struct {
	Type       string `json:"type"`
	Properties struct {
		Name string          `json:"name"`
		Code json.RawMessage `json:"code"`
	} `json:"properties"`
}

// epsgFromMember extracts the code from a named or EPSG-typed crs member.
func epsgFromMember(c *crsMember) (int, bool) {
	if c == nil {
		return 0, false
	}
	if len(c.Properties.Code) > 0 {
		s := strings.Trim(string(c.Properties.Code), `"`)
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n, true
		}
	}
	return ParseCRSName(c.Properties.Name)
}

// ParseCRSName returns the EPSG code named by s. It accepts "EPSG:25832",
// OGC URNs and URLs (versioned or not) and the OGC CRS84 alias.
func ParseCRSName(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "CRS84") {
		return 4326, true
	}
	m := epsgURN.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// EPSGFromWKT returns the outermost EPSG authority in a WKT1 or WKT2
// string. Nested authorities (datum, ellipsoid, unit) come first in WKT,
// so the last one belongs to the CRS itself.
func EPSGFromWKT(wkt string) (int, bool) {
	all := wktAuth.FindAllStringSubmatch(wkt, -1)
	if len(all) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(all[len(all)-1][1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// prjPath returns the sidecar projection file of a unit.
func prjPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
}

// Inspector answers metadata questions about a unit without rasterizing it.
type Inspector interface {
	EPSG(path string) (int, error)
}

// GeoJSONInspector reads only the top-level members of a GeoJSON file.
type GeoJSONInspector struct{}

// EPSG returns the unit's embedded EPSG code.
func (GeoJSONInspector) EPSG(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var head struct {
		CRS *crsMember `json:"crs"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if code, ok := epsgFromMember(head.CRS); ok {
		return code, nil
	}
	return epsgFromSidecar(path)
}

func epsgFromSidecar(path string) (int, error) {
	wkt, err := os.ReadFile(prjPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoCRS
		}
		return 0, err
	}
	if code, ok := EPSGFromWKT(string(wkt)); ok {
		return code, nil
	}
	return 0, ErrNoCRS
}
