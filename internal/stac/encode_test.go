package stac_test

import (
	"testing"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stac-utils/stac-geoparquet/internal/geo"
	"github.com/stac-utils/stac-geoparquet/internal/stac"
)

func pointItem(id string, x float64, y float64) stac.Item {
	return stac.Item{
		"id":       id,
		"geometry": map[string]any{"type": "Point", "coordinates": []any{x, y}},
		"bbox":     []any{x, y, x, y},
		"properties": map[string]any{
			"datetime": "2021-06-15T00:00:00Z",
		},
		"assets": map[string]any{
			"image": map[string]any{"href": "https://example.com/" + id + ".tif"},
		},
	}
}

func structFieldIndex(t *testing.T, structType *arrow.StructType, name string) int {
	t.Helper()
	index, ok := structType.FieldIdx(name)
	require.True(t, ok, "expected struct field %q", name)
	return index
}

func TestEncodeConvertsGeometryPathsToWKB(t *testing.T) {
	items := []stac.Item{
		{
			"id":       "with-proj",
			"geometry": map[string]any{"type": "Polygon", "coordinates": []any{[]any{[]any{0.0, 0.0}, []any{1.0, 0.0}, []any{1.0, 1.0}, []any{0.0, 0.0}}}},
			"properties": map[string]any{
				"proj:geometry": map[string]any{"type": "Point", "coordinates": []any{1.0, 2.0}},
			},
			"assets": map[string]any{
				"image": map[string]any{
					"href":          "https://example.com/with-proj.tif",
					"proj:geometry": map[string]any{"type": "Point", "coordinates": []any{3.0, 4.0}},
				},
			},
		},
	}

	encoder := &stac.Encoder{}
	record, err := encoder.Encode(items, nil)
	require.NoError(t, err)
	defer record.Release()

	schema := record.Schema()

	geomIndices := schema.FieldIndices("geometry")
	require.Len(t, geomIndices, 1)
	geomCol, ok := record.Column(geomIndices[0]).(*array.Binary)
	require.True(t, ok, "geometry must encode as a binary column, got %s", record.Column(geomIndices[0]).DataType())
	decoded, err := geo.DecodeGeometry(geomCol.Value(0), geo.EncodingWKB)
	require.NoError(t, err)
	assert.Equal(t, "Polygon", decoded.Geometry().GeoJSONType())

	propIndices := schema.FieldIndices("properties")
	require.Len(t, propIndices, 1)
	propType := schema.Field(propIndices[0]).Type.(*arrow.StructType)
	projField := propType.Field(structFieldIndex(t, propType, "proj:geometry"))
	assert.Equal(t, arrow.BINARY, projField.Type.ID(), "properties.proj:geometry must be WKB bytes")

	assetIndices := schema.FieldIndices("assets")
	require.Len(t, assetIndices, 1)
	assetsType := schema.Field(assetIndices[0]).Type.(*arrow.StructType)
	imageType := assetsType.Field(structFieldIndex(t, assetsType, "image")).Type.(*arrow.StructType)
	assetProj := imageType.Field(structFieldIndex(t, imageType, "proj:geometry"))
	assert.Equal(t, arrow.BINARY, assetProj.Type.ID(), "assets.image.proj:geometry must be WKB bytes")
}

func TestEncodeMixedGeometryTypes(t *testing.T) {
	items := []stac.Item{
		{
			"id":       "poly",
			"geometry": map[string]any{"type": "Polygon", "coordinates": []any{[]any{[]any{0.0, 0.0}, []any{1.0, 0.0}, []any{1.0, 1.0}, []any{0.0, 0.0}}}},
		},
		{
			"id":       "multi",
			"geometry": map[string]any{"type": "MultiPolygon", "coordinates": []any{[]any{[]any{[]any{0.0, 0.0}, []any{1.0, 0.0}, []any{1.0, 1.0}, []any{0.0, 0.0}}}}},
		},
	}

	encoder := &stac.Encoder{}
	record, err := encoder.Encode(items, nil)
	require.NoError(t, err)
	defer record.Release()

	geomCol := record.Column(record.Schema().FieldIndices("geometry")[0]).(*array.Binary)
	first, err := geo.DecodeGeometry(geomCol.Value(0), geo.EncodingWKB)
	require.NoError(t, err)
	second, err := geo.DecodeGeometry(geomCol.Value(1), geo.EncodingWKB)
	require.NoError(t, err)
	assert.Equal(t, "Polygon", first.Geometry().GeoJSONType())
	assert.Equal(t, "MultiPolygon", second.Geometry().GeoJSONType())
}

func TestEncodeDoesNotMutateInput(t *testing.T) {
	item := pointItem("immutable", 1, 2)

	encoder := &stac.Encoder{}
	record, err := encoder.Encode([]stac.Item{item}, nil)
	require.NoError(t, err)
	defer record.Release()

	geometry, ok := item["geometry"].(map[string]any)
	require.True(t, ok, "the input item's geometry must stay GeoJSON")
	assert.Equal(t, "Point", geometry["type"])
}

func TestEncodeAssetVariability(t *testing.T) {
	itemA := pointItem("a", 0, 0)
	itemA["assets"] = map[string]any{
		"image":     map[string]any{"href": "https://example.com/a.tif"},
		"metadata":  map[string]any{"href": "https://example.com/a.xml"},
		"thumbnail": map[string]any{"href": "https://example.com/a.png"},
	}
	itemB := pointItem("b", 1, 1)

	encoder := &stac.Encoder{}
	record, err := encoder.Encode([]stac.Item{itemA, itemB}, nil)
	require.NoError(t, err)
	defer record.Release()

	schema := record.Schema()
	assetIndices := schema.FieldIndices("assets")
	require.Len(t, assetIndices, 1)
	assetsType := schema.Field(assetIndices[0]).Type.(*arrow.StructType)
	assert.Equal(t, 3, assetsType.NumFields(), "the assets struct must union every asset key")

	assetsCol := record.Column(assetIndices[0]).(*array.Struct)
	metadataIdx := structFieldIndex(t, assetsType, "metadata")
	thumbnailIdx := structFieldIndex(t, assetsType, "thumbnail")
	imageIdx := structFieldIndex(t, assetsType, "image")

	assert.False(t, assetsCol.Field(imageIdx).IsNull(1))
	assert.True(t, assetsCol.Field(metadataIdx).IsNull(1), "item b never had a metadata asset")
	assert.True(t, assetsCol.Field(thumbnailIdx).IsNull(1), "item b never had a thumbnail asset")
}

func TestEncodeProvidedSchemaRejectsExtraFields(t *testing.T) {
	schemaItems := []stac.Item{{"id": "a"}}
	encoder := &stac.Encoder{}
	schema, err := encoder.InferSchema(schemaItems)
	require.NoError(t, err)

	_, err = encoder.Encode([]stac.Item{{"id": "b", "extra": "nope"}}, schema)
	assert.Error(t, err, "fields outside a provided schema must be rejected, not dropped")
}

func TestEncodeProvidedSchemaPadsMissingFields(t *testing.T) {
	encoder := &stac.Encoder{}
	schema, err := encoder.InferSchema([]stac.Item{{"id": "a", "value": 42}})
	require.NoError(t, err)

	record, err := encoder.Encode([]stac.Item{{"id": "b"}}, schema)
	require.NoError(t, err)
	defer record.Release()

	valueCol := record.Column(record.Schema().FieldIndices("value")[0])
	assert.True(t, valueCol.IsNull(0))
}

func TestEncodeEmptyListsAndNullFields(t *testing.T) {
	items := []stac.Item{
		{"id": "a", "links": []any{}, "note": nil},
		{"id": "b", "links": []any{}, "note": nil},
	}

	encoder := &stac.Encoder{}
	record, err := encoder.Encode(items, nil)
	require.NoError(t, err)
	defer record.Release()

	schema := record.Schema()
	linksField := schema.Field(schema.FieldIndices("links")[0])
	require.Equal(t, arrow.LIST, linksField.Type.ID())
	assert.Equal(t, arrow.NULL, linksField.Type.(*arrow.ListType).Elem().ID(), "a list never seen with elements stays a list of null")

	noteField := schema.Field(schema.FieldIndices("note")[0])
	assert.Equal(t, arrow.NULL, noteField.Type.ID(), "a field only ever seen null stays null-typed")
}
