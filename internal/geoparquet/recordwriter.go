package geoparquet

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
)

// Warn is called by RecordWriter for non-fatal deprecation signals (the
// collection-alongside-collections case). The default is a no-op; callers
// that want visibility should pass their own, e.g. one backed by log/slog.
type Warn func(msg string, kv ...any)

type RecordWriter struct {
	fileWriter        *pqarrow.FileWriter
	metadata          *Metadata
	stacMetadata      *StacMetadata
	warn              Warn
	wroteGeoMetadata  bool
	wroteStacMetadata bool
}

func NewRecordWriter(config *WriterConfig) (*RecordWriter, error) {
	parquetProps := config.ParquetWriterProps
	if parquetProps == nil {
		parquetProps = parquet.NewWriterProperties()
	}

	arrowProps := config.ArrowWriterProps
	if arrowProps == nil {
		defaults := pqarrow.DefaultWriterProps()
		arrowProps = &defaults
	}

	if config.ArrowSchema == nil {
		return nil, errors.New("schema is required")
	}

	if config.Writer == nil {
		return nil, errors.New("writer is required")
	}
	fileWriter, fileErr := pqarrow.NewFileWriter(config.ArrowSchema, config.Writer, parquetProps, *arrowProps)
	if fileErr != nil {
		return nil, fileErr
	}

	writer := &RecordWriter{
		fileWriter:   fileWriter,
		metadata:     config.Metadata,
		stacMetadata: config.StacMetadata,
	}

	return writer, nil
}

// SetWarn installs a callback for non-fatal deprecation signals.
func (w *RecordWriter) SetWarn(warn Warn) {
	w.warn = warn
}

func (w *RecordWriter) AppendKeyValueMetadata(key string, value string) error {
	if err := w.fileWriter.AppendKeyValueMetadata(key, value); err != nil {
		return err
	}
	switch key {
	case MetadataKey:
		w.wroteGeoMetadata = true
	case StacMetadataKey:
		w.wroteStacMetadata = true
	}
	return nil
}

func (w *RecordWriter) Write(record arrow.Record) error {
	return w.fileWriter.WriteBuffered(record)
}

func (w *RecordWriter) Close() error {
	if !w.wroteGeoMetadata {
		metadata := w.metadata
		if metadata == nil {
			metadata = DefaultMetadata()
		}
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode %s file metadata", MetadataKey)
		}
		if err := w.fileWriter.AppendKeyValueMetadata(MetadataKey, string(data)); err != nil {
			return fmt.Errorf("failed to append %s file metadata", MetadataKey)
		}
	}

	if !w.wroteStacMetadata && w.stacMetadata != nil {
		stacMetadata := w.stacMetadata
		if stacMetadata.Version == "" {
			stacMetadata.Version = StacVersion
		}
		if stacMetadata.Collection != "" && len(stacMetadata.Collections) > 0 {
			if w.warn != nil {
				w.warn("stac-geoparquet: \"collection\" is deprecated when \"collections\" is present", "collection", stacMetadata.Collection)
			}
		}
		data, err := json.Marshal(stacMetadata)
		if err != nil {
			return fmt.Errorf("failed to encode %s file metadata", StacMetadataKey)
		}
		if err := w.fileWriter.AppendKeyValueMetadata(StacMetadataKey, string(data)); err != nil {
			return fmt.Errorf("failed to append %s file metadata", StacMetadataKey)
		}
	}

	return w.fileWriter.Close()
}
