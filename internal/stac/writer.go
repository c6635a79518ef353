package stac

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"

	"github.com/stac-utils/stac-geoparquet/internal/geo"
	"github.com/stac-utils/stac-geoparquet/internal/geoparquet"
	"github.com/stac-utils/stac-geoparquet/internal/stacerr"
)

// SupportedGeoParquetVersions lists the GeoParquet "geo" metadata document
// versions this package knows how to write and read.
var SupportedGeoParquetVersions = map[string]bool{"1.0.0": true, "1.1.0": true}

// DefaultGeoParquetVersion is written when WriterOptions.GeoVersion is empty.
const DefaultGeoParquetVersion = "1.1.0"

// WriterOptions configures NewWriter. Collections/Collection populate the
// optional stac-geoparquet metadata key; both empty omits the key entirely.
type WriterOptions struct {
	GeoVersion         string
	Collections        []string
	Collection         string
	Warn               geoparquet.Warn
	ParquetWriterProps *parquet.WriterProperties
	ArrowWriterProps   *pqarrow.ArrowWriterProperties
}

// Writer writes a stream of canonical STAC-GeoParquet batches, already
// normalized by a Normalizer, to a single Parquet file with "geo" and
// "stac-geoparquet" schema-level metadata attached. The geometry types and
// bounds observed across every written batch fill in each geometry
// column's geometry_types and bbox metadata at Close time.
type Writer struct {
	inner    *geoparquet.RecordWriter
	metadata *geoparquet.Metadata
	stats    map[string]*geo.GeometryStats
	columns  map[string]int
}

// NewWriter derives the GeoParquet metadata document from schema (the fixed
// schema every batch written through this Writer must share) and opens the
// underlying file.
func NewWriter(dest io.Writer, schema *arrow.Schema, opts WriterOptions) (*Writer, error) {
	version := opts.GeoVersion
	if version == "" {
		version = DefaultGeoParquetVersion
	}
	if !SupportedGeoParquetVersions[version] {
		return nil, stacerr.Wrapf(stacerr.UnsupportedGeoParquetVersion, "unsupported GeoParquet version: %s", version)
	}

	geoMetadata, err := buildGeoMetadata(schema, version)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]*geo.GeometryStats, len(geoMetadata.Columns))
	columns := make(map[string]int, len(geoMetadata.Columns))
	for name := range geoMetadata.Columns {
		indices := schema.FieldIndices(name)
		if len(indices) == 0 {
			continue
		}
		stats[name] = geo.NewGeometryStats(false)
		columns[name] = indices[0]
	}

	var stacMetadata *geoparquet.StacMetadata
	if len(opts.Collections) > 0 || opts.Collection != "" {
		stacMetadata = &geoparquet.StacMetadata{
			Version:     geoparquet.StacVersion,
			Collections: opts.Collections,
			Collection:  opts.Collection,
		}
	}

	inner, err := geoparquet.NewRecordWriter(&geoparquet.WriterConfig{
		Writer:             dest,
		Metadata:           geoMetadata,
		StacMetadata:       stacMetadata,
		ParquetWriterProps: opts.ParquetWriterProps,
		ArrowWriterProps:   opts.ArrowWriterProps,
		ArrowSchema:        schema,
	})
	if err != nil {
		return nil, stacerr.Wrap(stacerr.IOError, err)
	}
	if opts.Warn != nil {
		inner.SetWarn(opts.Warn)
	}
	return &Writer{inner: inner, metadata: geoMetadata, stats: stats, columns: columns}, nil
}

func buildGeoMetadata(schema *arrow.Schema, version string) (*geoparquet.Metadata, error) {
	if len(schema.FieldIndices("geometry")) == 0 {
		return nil, stacerr.Wrapf(stacerr.SchemaConflict, `schema has no "geometry" column`)
	}

	geometryColumn := &geoparquet.GeometryColumn{
		Encoding:      geo.EncodingWKB,
		GeometryTypes: []string{},
		CRS:           json.RawMessage(geo.WGS84CRS),
		Edges:         geoparquet.EdgesPlanar,
	}
	if version == "1.1.0" {
		var covering geoparquet.Covering
		covering.Bbox.Xmin = []string{"bbox", "xmin"}
		covering.Bbox.Ymin = []string{"bbox", "ymin"}
		covering.Bbox.Xmax = []string{"bbox", "xmax"}
		covering.Bbox.Ymax = []string{"bbox", "ymax"}
		geometryColumn.Covering = &covering
	}

	columns := map[string]*geoparquet.GeometryColumn{
		"geometry": geometryColumn,
	}
	if len(schema.FieldIndices("proj:geometry")) > 0 {
		columns["proj:geometry"] = &geoparquet.GeometryColumn{
			Encoding:      geo.EncodingWKB,
			GeometryTypes: []string{},
			CRS:           geoparquet.NullCRS,
		}
	}

	return &geoparquet.Metadata{
		Version:       version,
		PrimaryColumn: "geometry",
		Columns:       columns,
	}, nil
}

// Write appends one normalized batch. Every batch written through this
// Writer must share the schema given to NewWriter.
func (w *Writer) Write(record arrow.Record) error {
	if err := w.accumulateStats(record); err != nil {
		return err
	}
	return w.inner.Write(record)
}

func (w *Writer) accumulateStats(record arrow.Record) error {
	for name, index := range w.columns {
		col, ok := record.Column(index).(*array.Binary)
		if !ok {
			continue
		}
		stats := w.stats[name]
		for row := 0; row < col.Len(); row++ {
			if col.IsNull(row) {
				continue
			}
			data := col.Value(row)
			if len(data) == 0 {
				continue
			}
			g, err := geo.DecodeGeometry(data, geo.EncodingWKB)
			if err != nil {
				return stacerr.Wrapf(stacerr.MalformedInput, "invalid geometry in column %q: %s", name, err)
			}
			geometry := g.Geometry()
			stats.AddType(geometry.GeoJSONType())
			bounds := geometry.Bound()
			stats.AddBounds(&bounds)
		}
	}
	return nil
}

// Close fills each geometry column's geometry_types and bbox metadata from
// the stats observed during Write, finalizes the file metadata, and closes
// the underlying file.
func (w *Writer) Close() error {
	for name, stats := range w.stats {
		types := stats.Types()
		if len(types) == 0 {
			continue
		}
		sort.Strings(types)
		column := w.metadata.Columns[name]
		column.GeometryTypes = types
		bounds := stats.Bounds()
		column.Bounds = []float64{bounds.Min[0], bounds.Min[1], bounds.Max[0], bounds.Max[1]}
	}
	return w.inner.Close()
}
