package stac

import (
	"context"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/parquet"

	"github.com/stac-utils/stac-geoparquet/internal/geoparquet"
)

// ReaderOptions configures NewReader.
type ReaderOptions struct {
	BatchSize       int
	Context         context.Context
	ExcludeColNames []string
	IncludeColNames []string
}

// Reader emits the normalized batches stored in a GeoParquet file as-is,
// in columnar form; conversion back to item JSON is a Denormalizer's job
// (wired together in api.go). Grounded on geoparquet.RecordReader.
type Reader struct {
	inner *geoparquet.RecordReader
}

// NewReader opens reader (an already-open Parquet file reader) for reading.
func NewReader(reader parquet.ReaderAtSeeker, opts ReaderOptions) (*Reader, error) {
	inner, err := geoparquet.NewRecordReader(&geoparquet.ReaderConfig{
		BatchSize:       opts.BatchSize,
		Reader:          reader,
		Context:         opts.Context,
		ExcludeColNames: opts.ExcludeColNames,
		IncludeColNames: opts.IncludeColNames,
	})
	if err != nil {
		return nil, err
	}
	return &Reader{inner: inner}, nil
}

// Read returns the next batch, or io.EOF at end of file.
func (r *Reader) Read() (arrow.Record, error) {
	return r.inner.Read()
}

// Metadata returns the file's "geo" GeoParquet metadata document.
func (r *Reader) Metadata() *geoparquet.Metadata {
	return r.inner.Metadata()
}

// StacMetadata returns the file's "stac-geoparquet" metadata document, or
// nil if the file carries none (e.g. a ChunksToDisk spill file).
func (r *Reader) StacMetadata() *geoparquet.StacMetadata {
	return r.inner.StacMetadata()
}

// ArrowSchema returns the file's Arrow schema.
func (r *Reader) ArrowSchema() *arrow.Schema {
	return r.inner.ArrowSchema()
}

// Close releases the record reader and closes the underlying file.
func (r *Reader) Close() error {
	return r.inner.Close()
}
