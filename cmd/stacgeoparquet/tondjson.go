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

	"github.com/apache/arrow/go/v16/arrow"

	"github.com/stac-utils/stac-geoparquet/internal/stac"
	"github.com/stac-utils/stac-geoparquet/internal/storage"
)

type ToNDJSONCmd struct {
	Input  string `arg:"" name:"input" help:"Path or URL to a GeoParquet file.  http(s):// and blob URLs (s3://, gs://, azblob://) are supported." type:"string"`
	Output string `arg:"" name:"output" optional:"" help:"Output NDJSON file.  Defaults to stdout." type:"path"`
}

func (c *ToNDJSONCmd) Run() error {
	ctx := context.Background()

	src, err := storage.NewReader(ctx, c.Input)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", c.Input, err)
	}
	defer src.Close()

	reader, err := stac.NewReader(src, stac.ReaderOptions{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to read %q as GeoParquet: %w", c.Input, err)
	}
	defer reader.Close()

	var dest io.Writer
	if c.Output == "" || c.Output == "-" {
		dest = os.Stdout
	} else {
		// Append rather than truncate, so repeated conversions into the
		// same NDJSON file accumulate items.
		f, err := os.OpenFile(c.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open %q: %w", c.Output, err)
		}
		defer f.Close()
		dest = f
	}

	pipeline := stac.Pipeline{}
	batches := &readerBatchStream{reader: reader}
	return pipeline.BatchesToNDJSON(ctx, batches, dest)
}

// readerBatchStream adapts a stac.Reader (which reads a GeoParquet file
// exactly as stored) to the stac.BatchStream interface BatchesToNDJSON
// expects.
type readerBatchStream struct {
	reader *stac.Reader
}

func (s *readerBatchStream) Next(ctx context.Context) (arrow.Record, error) {
	return s.reader.Read()
}

func (s *readerBatchStream) Schema() *arrow.Schema {
	return s.reader.ArrowSchema()
}

func (s *readerBatchStream) Close() error {
	return nil
}
