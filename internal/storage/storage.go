// Package storage resolves a source or destination path given on the
// command line (a local file, an http(s) URL, or a gocloud.dev blob URL
// such as s3://, gs://, azblob://, file://) into a random-access reader, so the
// NDJSON and GeoParquet readers never care where their bytes came from.
package storage

import "io"

type ReaderAtSeeker interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}
