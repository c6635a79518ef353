package stac_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stac-utils/stac-geoparquet/internal/geoparquet"
	"github.com/stac-utils/stac-geoparquet/internal/stac"
	"github.com/stac-utils/stac-geoparquet/internal/stacerr"
)

func writeSingleBatch(t *testing.T, items []stac.Item, opts stac.WriterOptions) []byte {
	t.Helper()
	record := encodeAndNormalize(t, items)
	defer record.Release()

	buf := &bytes.Buffer{}
	writer, err := stac.NewWriter(buf, record.Schema(), opts)
	require.NoError(t, err)
	require.NoError(t, writer.Write(record))
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

func rawGeoMetadata(t *testing.T, data []byte) map[string]any {
	t.Helper()
	reader, err := file.NewParquetReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer reader.Close()

	value, err := geoparquet.GetMetadataValue(reader.MetaData().KeyValueMetadata())
	require.NoError(t, err)

	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(value), &decoded))
	return decoded
}

func TestWriterGeoMetadata(t *testing.T) {
	data := writeSingleBatch(t, []stac.Item{pointItem("a", 1, 2)}, stac.WriterOptions{})
	metadata := rawGeoMetadata(t, data)

	assert.Equal(t, "1.1.0", metadata["version"])
	assert.Equal(t, "geometry", metadata["primary_column"])

	columns := metadata["columns"].(map[string]any)
	geometry := columns["geometry"].(map[string]any)
	assert.Equal(t, "WKB", geometry["encoding"])
	assert.Equal(t, "planar", geometry["edges"])
	assert.Equal(t, []any{"Point"}, geometry["geometry_types"], "the written geometry types must reflect the data")
	assert.Equal(t, []any{1.0, 2.0, 1.0, 2.0}, geometry["bbox"], "the written bounds must cover every row's geometry")

	crs, ok := geometry["crs"].(map[string]any)
	require.True(t, ok, "the primary geometry column must carry a PROJJSON crs document")
	assert.Equal(t, "WGS 84 (CRS84)", crs["name"])

	covering := geometry["covering"].(map[string]any)
	bbox := covering["bbox"].(map[string]any)
	assert.Equal(t, []any{"bbox", "xmin"}, bbox["xmin"])
	assert.Equal(t, []any{"bbox", "ymin"}, bbox["ymin"])
	assert.Equal(t, []any{"bbox", "xmax"}, bbox["xmax"])
	assert.Equal(t, []any{"bbox", "ymax"}, bbox["ymax"])
}

func TestWriterVersion10OmitsCovering(t *testing.T) {
	data := writeSingleBatch(t, []stac.Item{pointItem("a", 1, 2)}, stac.WriterOptions{GeoVersion: "1.0.0"})
	metadata := rawGeoMetadata(t, data)

	assert.Equal(t, "1.0.0", metadata["version"])
	geometry := metadata["columns"].(map[string]any)["geometry"].(map[string]any)
	_, hasCovering := geometry["covering"]
	assert.False(t, hasCovering, "version 1.0.0 has no covering mechanism")
}

func TestWriterProjGeometryColumn(t *testing.T) {
	item := pointItem("a", 1, 2)
	item["properties"].(map[string]any)["proj:geometry"] = map[string]any{"type": "Point", "coordinates": []any{3.0, 4.0}}

	data := writeSingleBatch(t, []stac.Item{item}, stac.WriterOptions{})
	metadata := rawGeoMetadata(t, data)

	columns := metadata["columns"].(map[string]any)
	projColumn, ok := columns["proj:geometry"].(map[string]any)
	require.True(t, ok, "a promoted proj:geometry column must be declared as a geometry column")

	assert.Equal(t, "WKB", projColumn["encoding"])
	assert.Equal(t, []any{"Point"}, projColumn["geometry_types"])

	crs, hasCRS := projColumn["crs"]
	assert.True(t, hasCRS, `the proj:geometry column must carry an explicit "crs" key`)
	assert.Nil(t, crs, "the proj:geometry column's crs is unknown and must be JSON null")

	_, hasCovering := projColumn["covering"]
	assert.False(t, hasCovering)
}

func TestWriterUnsupportedVersion(t *testing.T) {
	record := encodeAndNormalize(t, []stac.Item{pointItem("a", 1, 2)})
	defer record.Release()

	_, err := stac.NewWriter(&bytes.Buffer{}, record.Schema(), stac.WriterOptions{GeoVersion: "2.0.0"})
	require.Error(t, err)
	assert.True(t, stacerr.Is(err, stacerr.UnsupportedGeoParquetVersion))
}

func TestWriterStacMetadata(t *testing.T) {
	data := writeSingleBatch(t, []stac.Item{pointItem("a", 1, 2)}, stac.WriterOptions{
		Collections: []string{"test-collection"},
	})

	reader, err := file.NewParquetReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer reader.Close()

	stacMetadata, err := geoparquet.GetStacMetadata(reader.MetaData().KeyValueMetadata())
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", stacMetadata.Version)
	assert.Equal(t, []string{"test-collection"}, stacMetadata.Collections)
}

func TestWriterDeprecatedCollectionWarns(t *testing.T) {
	var warnings []string
	opts := stac.WriterOptions{
		Collections: []string{"new-style"},
		Collection:  "old-style",
		Warn: func(msg string, kv ...any) {
			warnings = append(warnings, msg)
		},
	}

	writeSingleBatch(t, []stac.Item{pointItem("a", 1, 2)}, opts)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "deprecated")
}
