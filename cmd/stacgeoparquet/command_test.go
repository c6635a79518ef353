package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNDJSON = `{"type":"Feature","stac_version":"1.0.0","id":"item-1","collection":"cli-test","geometry":{"type":"Point","coordinates":[1,2]},"bbox":[1,2,1,2],"properties":{"datetime":"2021-01-01T00:00:00Z"},"assets":{"data":{"href":"https://example.com/1.tif"}},"links":[{"rel":"self","href":"https://example.com/items/1"}]}
{"type":"Feature","stac_version":"1.0.0","id":"item-2","collection":"cli-test","geometry":{"type":"Point","coordinates":[3,4]},"bbox":[3,4,3,4],"properties":{"datetime":"2021-01-02T00:00:00Z"},"assets":{"data":{"href":"https://example.com/2.tif"}},"links":[{"rel":"self","href":"https://example.com/items/2"}]}
`

func TestToParquetAndBack(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "items.ndjson")
	parquetOut := filepath.Join(dir, "items.parquet")
	ndjsonOut := filepath.Join(dir, "roundtrip.ndjson")

	require.NoError(t, os.WriteFile(input, []byte(testNDJSON), 0o644))

	toParquet := &ToParquetCmd{
		Input:       []string{input},
		Output:      parquetOut,
		Strategy:    "full-file",
		ChunkSize:   1024,
		GeoVersion:  "1.1.0",
		Collections: []string{"cli-test"},
		Compression: "zstd",
	}
	require.NoError(t, toParquet.Run())

	info, err := os.Stat(parquetOut)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	toNDJSON := &ToNDJSONCmd{Input: parquetOut, Output: ndjsonOut}
	require.NoError(t, toNDJSON.Run())

	describe := &DescribeCmd{Input: parquetOut, Format: "schema"}
	require.NoError(t, describe.Run())

	f, err := os.Open(ndjsonOut)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		item := map[string]any{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &item))
		ids = append(ids, item["id"].(string))
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"item-1", "item-2"}, ids)
}

func TestToParquetUnknownStrategy(t *testing.T) {
	_, err := parseStrategy("guess")
	assert.Error(t, err)
}
