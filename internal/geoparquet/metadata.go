package geoparquet

import (
	"encoding/json"
	"fmt"

	"github.com/apache/arrow/go/v16/parquet/metadata"
	"github.com/stac-utils/stac-geoparquet/internal/geo"
)

const (
	Version                     = "1.0.0"
	MetadataKey                 = "geo"
	EdgesPlanar                 = "planar"
	EdgesSpherical              = "spherical"
	OrientationCounterClockwise = "counterclockwise"
	DefaultGeometryColumn       = "geometry"
	DefaultGeometryEncoding     = geo.EncodingWKB
)

var GeometryTypes = []string{
	"Point",
	"LineString",
	"Polygon",
	"MultiPoint",
	"MultiLineString",
	"MultiPolygon",
	"GeometryCollection",
	"Point Z",
	"LineString Z",
	"Polygon Z",
	"MultiPoint Z",
	"MultiLineString Z",
	"MultiPolygon Z",
	"GeometryCollection Z",
}

type Metadata struct {
	Version       string                     `json:"version"`
	PrimaryColumn string                     `json:"primary_column"`
	Columns       map[string]*GeometryColumn `json:"columns"`
}

func (m *Metadata) Clone() *Metadata {
	clone := &Metadata{}
	*clone = *m
	clone.Columns = make(map[string]*GeometryColumn, len(m.Columns))
	for i, v := range m.Columns {
		clone.Columns[i] = v.clone()
	}
	return clone
}

type ProjId struct {
	Authority string `json:"authority"`
	Code      any    `json:"code"`
}

type Proj struct {
	Name string  `json:"name"`
	Id   *ProjId `json:"id"`
}

func (p *Proj) String() string {
	id := ""
	if p.Id != nil {
		if code, ok := p.Id.Code.(string); ok {
			id = p.Id.Authority + ":" + code
		} else if code, ok := p.Id.Code.(float64); ok {
			id = fmt.Sprintf("%s:%g", p.Id.Authority, code)
		}
	}
	if p.Name != "" {
		return p.Name
	}
	if id == "" {
		return "Unknown"
	}
	return id
}

type coveringBbox struct {
	Xmin []string `json:"xmin"`
	Ymin []string `json:"ymin"`
	Xmax []string `json:"xmax"`
	Ymax []string `json:"ymax"`
}

type Covering struct {
	Bbox coveringBbox `json:"bbox"`
}

// GeometryColumn describes one geometry column in the "geo" metadata
// document. CRS carries the raw PROJJSON document: absent means the
// GeoParquet default (OGC:CRS84), an explicit JSON null means the CRS is
// unknown.
type GeometryColumn struct {
	Encoding      string          `json:"encoding"`
	GeometryType  any             `json:"geometry_type,omitempty"`
	GeometryTypes any             `json:"geometry_types"`
	CRS           json.RawMessage `json:"crs,omitempty"`
	Edges         string          `json:"edges,omitempty"`
	Orientation   string          `json:"orientation,omitempty"`
	Bounds        []float64       `json:"bbox,omitempty"`
	Epoch         float64         `json:"epoch,omitempty"`
	Covering      *Covering       `json:"covering,omitempty"`
}

// NullCRS is the explicit "crs": null document written for geometry columns
// whose CRS is unknown (e.g. proj:geometry columns).
var NullCRS = json.RawMessage("null")

// Proj parses the column's PROJJSON crs into the name/id subset used for
// display. Returns nil when the column has no crs, a null crs, or a crs
// that is not an object.
func (g *GeometryColumn) Proj() *Proj {
	if len(g.CRS) == 0 || string(g.CRS) == "null" {
		return nil
	}
	proj := &Proj{}
	if err := json.Unmarshal(g.CRS, proj); err != nil {
		return nil
	}
	return proj
}

func (g *GeometryColumn) clone() *GeometryColumn {
	clone := &GeometryColumn{}
	*clone = *g
	clone.Bounds = make([]float64, len(g.Bounds))
	copy(clone.Bounds, g.Bounds)
	clone.CRS = append(json.RawMessage(nil), g.CRS...)
	return clone
}

func (col *GeometryColumn) GetGeometryTypes() []string {
	if multiType, ok := col.GeometryTypes.([]any); ok {
		types := make([]string, len(multiType))
		for i, value := range multiType {
			geometryType, ok := value.(string)
			if !ok {
				return nil
			}
			types[i] = geometryType
		}
		return types
	}

	if singleType, ok := col.GeometryType.(string); ok {
		return []string{singleType}
	}

	values, ok := col.GeometryType.([]any)
	if !ok {
		return nil
	}

	types := make([]string, len(values))
	for i, value := range values {
		geometryType, ok := value.(string)
		if !ok {
			return nil
		}
		types[i] = geometryType
	}

	return types
}

func getDefaultGeometryColumn() *GeometryColumn {
	return &GeometryColumn{
		Encoding:      DefaultGeometryEncoding,
		GeometryTypes: []string{},
	}
}

func DefaultMetadata() *Metadata {
	return &Metadata{
		Version:       Version,
		PrimaryColumn: DefaultGeometryColumn,
		Columns: map[string]*GeometryColumn{
			DefaultGeometryColumn: getDefaultGeometryColumn(),
		},
	}
}

var ErrNoMetadata = fmt.Errorf("missing %s metadata key", MetadataKey)
var ErrDuplicateMetadata = fmt.Errorf("found more than one %s metadata key", MetadataKey)

func GetMetadata(keyValueMetadata metadata.KeyValueMetadata) (*Metadata, error) {
	value, err := GetMetadataValue(keyValueMetadata)
	if err != nil {
		return nil, err
	}
	geoFileMetadata := &Metadata{}
	jsonErr := json.Unmarshal([]byte(value), geoFileMetadata)
	if jsonErr != nil {
		return nil, fmt.Errorf("unable to parse %s metadata: %w", MetadataKey, jsonErr)
	}
	return geoFileMetadata, nil
}

func GetMetadataValue(keyValueMetadata metadata.KeyValueMetadata) (string, error) {
	return getKeyValue(keyValueMetadata, MetadataKey)
}

// StacMetadataKey is the schema-level key-value metadata key carrying the
// stac-geoparquet document (distinct from the GeoParquet geo key).
const StacMetadataKey = "stac-geoparquet"

// StacVersion is the stac-geoparquet metadata version written by this
// package.
const StacVersion = "1.0.0"

// StacMetadata is the contents of the stac-geoparquet schema metadata key.
// Collection is deprecated in favor of Collections; callers that populate
// both should expect a deprecation warning from the writer.
type StacMetadata struct {
	Version     string   `json:"version"`
	Collections []string `json:"collections,omitempty"`
	Collection  string   `json:"collection,omitempty"`
}

func GetStacMetadataValue(keyValueMetadata metadata.KeyValueMetadata) (string, error) {
	return getKeyValue(keyValueMetadata, StacMetadataKey)
}

func GetStacMetadata(keyValueMetadata metadata.KeyValueMetadata) (*StacMetadata, error) {
	value, err := GetStacMetadataValue(keyValueMetadata)
	if err != nil {
		return nil, err
	}
	stacMetadata := &StacMetadata{}
	if jsonErr := json.Unmarshal([]byte(value), stacMetadata); jsonErr != nil {
		return nil, fmt.Errorf("unable to parse %s metadata: %w", StacMetadataKey, jsonErr)
	}
	return stacMetadata, nil
}

func getKeyValue(keyValueMetadata metadata.KeyValueMetadata, key string) (string, error) {
	var value *string
	for _, kv := range keyValueMetadata {
		if kv.Key == key {
			if value != nil {
				return "", fmt.Errorf("found more than one %s metadata key", key)
			}
			value = kv.Value
		}
	}
	if value == nil {
		return "", fmt.Errorf("missing %s metadata key", key)
	}
	return *value, nil
}
