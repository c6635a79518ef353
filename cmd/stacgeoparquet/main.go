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
	"github.com/alecthomas/kong"

	// Registering these here (rather than relying solely on
	// internal/storage's own blank imports) keeps the set of supported
	// blob schemes visible from the binary's entry point.
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

var CLI struct {
	ToParquet ToParquetCmd `cmd:"" help:"Convert STAC items (NDJSON, a JSON array, or a FeatureCollection) to GeoParquet."`
	ToNDJSON  ToNDJSONCmd  `cmd:"" help:"Convert a GeoParquet file back to newline-delimited STAC item JSON."`
	Describe  DescribeCmd  `cmd:"" help:"Describe a GeoParquet file's schema and metadata."`
	Version   VersionCmd   `cmd:"" help:"Print the version of this program."`
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	info := &VersionInfo{Version: version, Commit: commit, Date: date}
	ctx := kong.Parse(&CLI, kong.Bind(info))
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
