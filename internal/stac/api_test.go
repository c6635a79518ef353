package stac_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stac-utils/stac-geoparquet/internal/stac"
	"github.com/stac-utils/stac-geoparquet/internal/stacerr"
)

const sampleNDJSON = `{"type":"Feature","stac_version":"1.0.0","id":"item-1","collection":"test-collection","geometry":{"type":"Point","coordinates":[1,2]},"bbox":[1,2,1,2],"properties":{"datetime":"2021-01-01T00:00:00Z","eo:cloud_cover":10},"assets":{"thumbnail":{"href":"https://example.com/1.png"}},"links":[{"rel":"self","href":"https://example.com/items/item-1"}]}
{"type":"Feature","stac_version":"1.0.0","id":"item-2","collection":"test-collection","geometry":{"type":"Point","coordinates":[3,4]},"bbox":[3,4,3,4],"properties":{"datetime":"2021-01-02T00:00:00Z"},"assets":{"thumbnail":{"href":"https://example.com/2.png"}},"links":[{"rel":"self","href":"https://example.com/items/item-2"}]}
`

func writeNDJSON(t *testing.T, dir string, name string, data string) string {
	t.Helper()
	path := dir + "/" + name
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func roundTrip(t *testing.T, strategy stac.SchemaStrategy) []map[string]any {
	t.Helper()
	dir := t.TempDir()
	path := writeNDJSON(t, dir, "items.ndjson", sampleNDJSON)

	pipeline := stac.Pipeline{}
	ctx := context.Background()

	var parquetBuf bytes.Buffer
	err := pipeline.NDJSONToParquet(ctx, []string{path}, &parquetBuf, strategy, 0, 0, "", stac.WriteParquetOptions{
		Collection: "test-collection",
	})
	require.NoError(t, err)

	reader, err := stac.NewReader(bytes.NewReader(parquetBuf.Bytes()), stac.ReaderOptions{Context: ctx})
	require.NoError(t, err)
	defer reader.Close()

	geoMetadata := reader.Metadata()
	require.NotNil(t, geoMetadata)
	assert.Equal(t, "geometry", geoMetadata.PrimaryColumn)

	stacMetadata := reader.StacMetadata()
	require.NotNil(t, stacMetadata)
	assert.Equal(t, "test-collection", stacMetadata.Collection)

	batches := &testBatchStream{reader: reader}
	var ndjsonOut bytes.Buffer
	require.NoError(t, pipeline.BatchesToNDJSON(ctx, batches, &ndjsonOut))

	var items []map[string]any
	dec := json.NewDecoder(bytes.NewReader(ndjsonOut.Bytes()))
	for {
		var item map[string]any
		if err := dec.Decode(&item); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
		items = append(items, item)
	}
	return items
}

func TestRoundTripFullFile(t *testing.T) {
	items := roundTrip(t, stac.FullFile)
	assertRoundTrippedItems(t, items)
}

func TestRoundTripFirstBatch(t *testing.T) {
	items := roundTrip(t, stac.FirstBatch)
	assertRoundTrippedItems(t, items)
}

func TestRoundTripChunksToDisk(t *testing.T) {
	items := roundTrip(t, stac.ChunksToDisk)
	assertRoundTrippedItems(t, items)
}

func assertRoundTrippedItems(t *testing.T, items []map[string]any) {
	t.Helper()
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "item-1", first["id"])
	assert.Equal(t, "test-collection", first["collection"])

	geometry, ok := first["geometry"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Point", geometry["type"])

	properties, ok := first["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2021-01-01T00:00:00Z", properties["datetime"])
	assert.EqualValues(t, 10, properties["eo:cloud_cover"])

	second := items[1]
	secondProps, ok := second["properties"].(map[string]any)
	require.True(t, ok)
	_, hasCloudCover := secondProps["eo:cloud_cover"]
	assert.False(t, hasCloudCover, "item-2 never had eo:cloud_cover and should not gain it from permissive schema unification")
}

func TestNDJSONToBatchesLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeNDJSON(t, dir, "items.ndjson", sampleNDJSON)

	pipeline := stac.Pipeline{}
	ctx := context.Background()

	batches, err := pipeline.NDJSONToBatches(ctx, []string{path}, stac.FullFile, 0, 1, "")
	require.NoError(t, err)
	defer batches.Close()

	record, err := batches.Next(ctx)
	require.NoError(t, err)
	defer record.Release()
	assert.EqualValues(t, 1, record.NumRows())

	_, err = batches.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPipelineCancellation(t *testing.T) {
	dir := t.TempDir()
	path := writeNDJSON(t, dir, "items.ndjson", sampleNDJSON)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pipeline := stac.Pipeline{}
	var buf bytes.Buffer
	err := pipeline.NDJSONToParquet(ctx, []string{path}, &buf, stac.FullFile, 0, 0, "", stac.WriteParquetOptions{})
	require.Error(t, err)
	assert.True(t, stacerr.Is(err, stacerr.Cancelled))
}

type testBatchStream struct {
	reader *stac.Reader
}

func (s *testBatchStream) Next(ctx context.Context) (arrow.Record, error) {
	return s.reader.Read()
}

func (s *testBatchStream) Schema() *arrow.Schema {
	return s.reader.ArrowSchema()
}

func (s *testBatchStream) Close() error {
	return nil
}
