package geoparquet

import (
	"io"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
)

// WriterConfig configures a RecordWriter. StacMetadata is optional; when
// set, its JSON encoding is written under StacMetadataKey alongside the
// GeoParquet geo key.
type WriterConfig struct {
	Writer             io.Writer
	Metadata           *Metadata
	StacMetadata       *StacMetadata
	ParquetWriterProps *parquet.WriterProperties
	ArrowWriterProps   *pqarrow.ArrowWriterProperties
	ArrowSchema        *arrow.Schema
}
