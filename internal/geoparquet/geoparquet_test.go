package geoparquet_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stac-utils/stac-geoparquet/internal/geo"
	"github.com/stac-utils/stac-geoparquet/internal/geoparquet"
)

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.BinaryTypes.String},
	{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: true},
}, nil)

// point is a minimal little-endian WKB encoding of POINT(1 2).
var point = []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf0, 0x3f, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40}

func buildTestRecord(t *testing.T) arrow.Record {
	t.Helper()
	builder := array.NewRecordBuilder(memory.DefaultAllocator, testSchema)
	defer builder.Release()
	builder.Field(0).(*array.StringBuilder).Append("one")
	builder.Field(1).(*array.BinaryBuilder).Append(point)
	return builder.NewRecord()
}

func TestMetadataMarshalCovering(t *testing.T) {
	column := &geoparquet.GeometryColumn{
		Encoding:      geo.EncodingWKB,
		GeometryTypes: []string{},
		Covering:      &geoparquet.Covering{},
	}
	column.Covering.Bbox.Xmin = []string{"bbox", "xmin"}
	column.Covering.Bbox.Ymin = []string{"bbox", "ymin"}
	column.Covering.Bbox.Xmax = []string{"bbox", "xmax"}
	column.Covering.Bbox.Ymax = []string{"bbox", "ymax"}

	data, err := json.Marshal(column)
	require.NoError(t, err)

	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	covering := decoded["covering"].(map[string]any)
	bbox, ok := covering["bbox"].(map[string]any)
	require.True(t, ok, "the covering key must nest a lowercase bbox object")
	assert.Equal(t, []any{"bbox", "xmin"}, bbox["xmin"])
	assert.Equal(t, []any{"bbox", "ymax"}, bbox["ymax"])
}

func TestMetadataMarshalNullCRS(t *testing.T) {
	column := &geoparquet.GeometryColumn{
		Encoding:      geo.EncodingWKB,
		GeometryTypes: []string{},
		CRS:           geoparquet.NullCRS,
	}
	data, err := json.Marshal(column)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"crs":null`)
}

func TestMetadataOmitsAbsentCRS(t *testing.T) {
	column := &geoparquet.GeometryColumn{
		Encoding:      geo.EncodingWKB,
		GeometryTypes: []string{},
	}
	data, err := json.Marshal(column)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "crs")
}

func TestGeometryColumnProj(t *testing.T) {
	column := &geoparquet.GeometryColumn{
		CRS: json.RawMessage(`{"name":"WGS 84 (CRS84)","id":{"authority":"OGC","code":"CRS84"}}`),
	}
	proj := column.Proj()
	require.NotNil(t, proj)
	assert.Equal(t, "WGS 84 (CRS84)", proj.Name)
	assert.Equal(t, "WGS 84 (CRS84)", proj.String())

	assert.Nil(t, (&geoparquet.GeometryColumn{}).Proj())
	assert.Nil(t, (&geoparquet.GeometryColumn{CRS: geoparquet.NullCRS}).Proj())
}

func TestMetadataClone(t *testing.T) {
	original := geoparquet.DefaultMetadata()
	original.Columns["geometry"].CRS = json.RawMessage(geo.WGS84CRS)

	clone := original.Clone()
	clone.Columns["geometry"].Encoding = "WKT"
	clone.Columns["geometry"].CRS = geoparquet.NullCRS

	assert.Equal(t, "WKB", original.Columns["geometry"].Encoding)
	assert.NotEqual(t, string(original.Columns["geometry"].CRS), string(clone.Columns["geometry"].CRS))
}

func TestRecordWriterRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	writer, err := geoparquet.NewRecordWriter(&geoparquet.WriterConfig{
		Writer:      buf,
		ArrowSchema: testSchema,
	})
	require.NoError(t, err)

	record := buildTestRecord(t)
	defer record.Release()
	require.NoError(t, writer.Write(record))
	require.NoError(t, writer.Close())

	reader, err := geoparquet.NewRecordReader(&geoparquet.ReaderConfig{
		Reader: bytes.NewReader(buf.Bytes()),
	})
	require.NoError(t, err)
	defer reader.Close()

	metadata := reader.Metadata()
	require.NotNil(t, metadata)
	assert.Equal(t, "geometry", metadata.PrimaryColumn)
	assert.Nil(t, reader.StacMetadata(), "a file written without stac metadata must read back none")

	got, err := reader.Read()
	require.NoError(t, err)
	defer got.Release()
	assert.EqualValues(t, 1, got.NumRows())
}

func TestRecordWriterStacMetadata(t *testing.T) {
	buf := &bytes.Buffer{}
	writer, err := geoparquet.NewRecordWriter(&geoparquet.WriterConfig{
		Writer:      buf,
		ArrowSchema: testSchema,
		StacMetadata: &geoparquet.StacMetadata{
			Collections: []string{"sentinel-2-l2a"},
		},
	})
	require.NoError(t, err)

	record := buildTestRecord(t)
	defer record.Release()
	require.NoError(t, writer.Write(record))
	require.NoError(t, writer.Close())

	reader, err := file.NewParquetReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer reader.Close()

	stacMetadata, err := geoparquet.GetStacMetadata(reader.MetaData().KeyValueMetadata())
	require.NoError(t, err)
	assert.Equal(t, geoparquet.StacVersion, stacMetadata.Version, "a missing version must be filled in at close time")
	assert.Equal(t, []string{"sentinel-2-l2a"}, stacMetadata.Collections)
}

func TestRecordWriterDeprecationWarning(t *testing.T) {
	var warned []string

	buf := &bytes.Buffer{}
	writer, err := geoparquet.NewRecordWriter(&geoparquet.WriterConfig{
		Writer:      buf,
		ArrowSchema: testSchema,
		StacMetadata: &geoparquet.StacMetadata{
			Collections: []string{"new"},
			Collection:  "old",
		},
	})
	require.NoError(t, err)
	writer.SetWarn(func(msg string, kv ...any) {
		warned = append(warned, msg)
	})

	record := buildTestRecord(t)
	defer record.Release()
	require.NoError(t, writer.Write(record))
	require.NoError(t, writer.Close())

	require.Len(t, warned, 1)
	assert.Contains(t, warned[0], "deprecated")
}
