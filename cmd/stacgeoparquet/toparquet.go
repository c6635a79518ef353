// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow/go/v16/parquet"

	"github.com/stac-utils/stac-geoparquet/internal/pqutil"
	"github.com/stac-utils/stac-geoparquet/internal/stac"
)

type ToParquetCmd struct {
	Input       []string `arg:"" name:"input" help:"Input NDJSON/JSON-array/FeatureCollection file(s). Use \"-\" once to read from stdin." type:"path"`
	Output      string   `arg:"" name:"output" help:"Output GeoParquet file. Use \"-\" to write to stdout." type:"path"`
	Strategy    string   `help:"Schema discovery strategy. Possible values: ${enum}." enum:"full-file,first-batch,chunks-to-disk" default:"chunks-to-disk"`
	ChunkSize   int      `help:"Number of items per batch." default:"65536"`
	Limit       int      `help:"Maximum number of items to read across all inputs.  0 means unlimited." default:"0"`
	TmpDir      string   `help:"Directory for ChunksToDisk spill files.  Defaults to a new temporary directory, removed on completion."`
	GeoVersion  string   `help:"GeoParquet \"geo\" metadata version to write. Possible values: ${enum}." enum:"1.0.0, 1.1.0" default:"1.1.0"`
	Collection  string   `help:"stac-geoparquet \"collection\" value, when every item shares one collection."`
	Collections []string `help:"stac-geoparquet \"collections\" value, when items span multiple collections."`
	Compression string   `help:"Parquet compression codec. Possible values: ${enum}." enum:"uncompressed, snappy, gzip, brotli, zstd, lz4" default:"zstd"`
}

func parseStrategy(name string) (stac.SchemaStrategy, error) {
	switch name {
	case "full-file":
		return stac.FullFile, nil
	case "first-batch":
		return stac.FirstBatch, nil
	case "chunks-to-disk":
		return stac.ChunksToDisk, nil
	default:
		return stac.FullFile, fmt.Errorf("unknown schema strategy %q", name)
	}
}

// resolveInputs materializes a single "-" entry in paths to a temporary file
// holding the full contents of stdin, since the core API reads NDJSON
// sources by path. The returned cleanup function removes that file.
func resolveInputs(paths []string) ([]string, func(), error) {
	cleanup := func() {}
	resolved := make([]string, len(paths))
	copy(resolved, paths)

	for i, p := range resolved {
		if p != "-" {
			continue
		}
		tmp, err := os.CreateTemp("", "stacgeoparquet-stdin-*.ndjson")
		if err != nil {
			return nil, cleanup, err
		}
		if _, err := io.Copy(tmp, os.Stdin); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, cleanup, fmt.Errorf("failed to buffer stdin: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return nil, cleanup, err
		}
		resolved[i] = tmp.Name()
		cleanup = func() { os.Remove(tmp.Name()) }
	}
	return resolved, cleanup, nil
}

func (c *ToParquetCmd) Run() error {
	ctx := context.Background()

	strategy, err := parseStrategy(c.Strategy)
	if err != nil {
		return err
	}

	paths, cleanup, err := resolveInputs(c.Input)
	if err != nil {
		return err
	}
	defer cleanup()

	var dest io.Writer
	if c.Output == "-" {
		dest = os.Stdout
	} else {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create %q: %w", c.Output, err)
		}
		defer f.Close()
		dest = f
	}

	codec, err := pqutil.GetCompression(c.Compression)
	if err != nil {
		return err
	}
	writerProps := parquet.NewWriterProperties(parquet.WithCompression(codec))

	pipeline := stac.Pipeline{}
	opts := stac.WriteParquetOptions{
		GeoVersion:         c.GeoVersion,
		Collections:        c.Collections,
		Collection:         c.Collection,
		Warn:               func(msg string, kv ...any) { fmt.Fprintln(os.Stderr, "warning:", msg) },
		ParquetWriterProps: writerProps,
	}

	return pipeline.NDJSONToParquet(ctx, paths, dest, strategy, c.ChunkSize, c.Limit, c.TmpDir, opts)
}
