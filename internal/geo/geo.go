// Package geo holds geometry encode/decode helpers and the per-column
// geometry statistics a GeoParquet writer needs to finalize its metadata.
package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	orbjson "github.com/paulmach/orb/geojson"
)

const (
	EncodingWKB = "WKB"
	EncodingWKT = "WKT"
)

// WGS84CRS is the PROJJSON representation of EPSG:4326, the CRS every
// GeoParquet geometry column in this package is written against.
const WGS84CRS = `{
	"$schema": "https://proj.org/schemas/v0.7/projjson.schema.json",
	"type": "GeographicCRS",
	"name": "WGS 84 (CRS84)",
	"datum_ensemble": {
		"name": "World Geodetic System 1984 ensemble",
		"members": [
			{"name": "World Geodetic System 1984 (Transit)"},
			{"name": "World Geodetic System 1984 (G730)"},
			{"name": "World Geodetic System 1984 (G873)"},
			{"name": "World Geodetic System 1984 (G1150)"},
			{"name": "World Geodetic System 1984 (G1674)"},
			{"name": "World Geodetic System 1984 (G1762)"},
			{"name": "World Geodetic System 1984 (G2139)"}
		],
		"ellipsoid": {
			"name": "WGS 84",
			"semi_major_axis": 6378137,
			"inverse_flattening": 298.257223563
		},
		"accuracy": "2.0"
	},
	"coordinate_system": {
		"subtype": "ellipsoidal",
		"axis": [
			{"name": "Geodetic longitude", "abbreviation": "Lon", "direction": "east", "unit": "degree"},
			{"name": "Geodetic latitude", "abbreviation": "Lat", "direction": "north", "unit": "degree"}
		]
	},
	"id": {"authority": "OGC", "code": "CRS84"}
}`

// DecodeGeometry decodes a WKB or WKT geometry value into GeoJSON. A nil
// value or empty WKB byte slice decodes to a nil geometry rather than an
// error, matching the STAC convention that a missing geometry path is not
// itself a failure.
func DecodeGeometry(value any, encoding string) (*orbjson.Geometry, error) {
	if value == nil {
		return nil, nil
	}
	if encoding == "" {
		if _, ok := value.([]byte); ok {
			encoding = EncodingWKB
		} else if _, ok := value.(string); ok {
			encoding = EncodingWKT
		}
	}
	if encoding == EncodingWKB {
		data, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected bytes for wkb geometry, got %T", value)
		}
		if len(data) == 0 {
			return nil, nil
		}
		g, err := wkb.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		return orbjson.NewGeometry(g), nil
	}
	if encoding == EncodingWKT {
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string for wkt geometry, got %T", value)
		}
		g, err := wkt.Unmarshal(str)
		if err != nil {
			return nil, err
		}
		return orbjson.NewGeometry(g), nil
	}
	return nil, fmt.Errorf("unsupported encoding: %s", encoding)
}

// EncodeGeometry marshals a decoded GeoJSON value (typically a
// map[string]any straight out of encoding/json) into ISO WKB bytes, the
// columnar encoding used for the primary geometry column and every
// registered proj:geometry path.
func EncodeGeometry(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal geometry: %w", err)
	}
	g := &orbjson.Geometry{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("failed to parse geometry: %w", err)
	}
	return wkb.Marshal(g.Geometry())
}

// GeometryStats accumulates the running bounds and distinct GeoJSON types
// seen for one geometry column, the data a GeoParquet writer needs to fill
// in the column's bbox and geometry_types metadata fields at Close time.
type GeometryStats struct {
	mutex *sync.RWMutex
	minX  float64
	maxX  float64
	minY  float64
	maxY  float64
	types map[string]bool
}

func NewGeometryStats(concurrent bool) *GeometryStats {
	var mutex *sync.RWMutex
	if concurrent {
		mutex = &sync.RWMutex{}
	}
	return &GeometryStats{
		mutex: mutex,
		types: map[string]bool{},
		minX:  math.MaxFloat64,
		maxX:  -math.MaxFloat64,
		minY:  math.MaxFloat64,
		maxY:  -math.MaxFloat64,
	}
}

func (i *GeometryStats) writeLock() {
	if i.mutex != nil {
		i.mutex.Lock()
	}
}

func (i *GeometryStats) writeUnlock() {
	if i.mutex != nil {
		i.mutex.Unlock()
	}
}

func (i *GeometryStats) readLock() {
	if i.mutex != nil {
		i.mutex.RLock()
	}
}

func (i *GeometryStats) readUnlock() {
	if i.mutex != nil {
		i.mutex.RUnlock()
	}
}

func (i *GeometryStats) AddBounds(bounds *orb.Bound) {
	i.writeLock()
	i.minX = math.Min(i.minX, bounds.Min[0])
	i.maxX = math.Max(i.maxX, bounds.Max[0])
	i.minY = math.Min(i.minY, bounds.Min[1])
	i.maxY = math.Max(i.maxY, bounds.Max[1])
	i.writeUnlock()
}

func (i *GeometryStats) Bounds() *orb.Bound {
	i.readLock()
	bounds := &orb.Bound{
		Min: orb.Point{i.minX, i.minY},
		Max: orb.Point{i.maxX, i.maxY},
	}
	i.readUnlock()
	return bounds
}

func (i *GeometryStats) AddType(typ string) {
	i.writeLock()
	i.types[typ] = true
	i.writeUnlock()
}

func (i *GeometryStats) Types() []string {
	i.readLock()
	types := make([]string, 0, len(i.types))
	for typ := range i.types {
		types = append(types, typ)
	}
	i.readUnlock()
	return types
}
