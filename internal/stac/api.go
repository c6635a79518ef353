package stac

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"

	"github.com/stac-utils/stac-geoparquet/internal/geompath"
	"github.com/stac-utils/stac-geoparquet/internal/stacerr"
	"github.com/stac-utils/stac-geoparquet/internal/timeset"
)

// Pipeline bundles the registries every entry point needs to thread
// through the encoder, normalizer, and denormalizer consistently. The zero
// value uses the default timestamp and geometry-path registries.
type Pipeline struct {
	Timestamps    timeset.Registry
	GeometryPaths geompath.Registry
}

func (p Pipeline) encoder() *Encoder {
	return &Encoder{GeometryPaths: p.GeometryPaths}
}

func (p Pipeline) normalizer() *Normalizer {
	return &Normalizer{Timestamps: p.Timestamps}
}

func (p Pipeline) denormalizer() *Denormalizer {
	return &Denormalizer{Timestamps: p.Timestamps, GeometryPaths: p.GeometryPaths}
}

// ItemsToBatches drives items through the schema strategy selected by opts
// and normalizes every resulting batch into canonical STAC-GeoParquet
// layout, returning a single fixed-schema BatchStream.
func (p Pipeline) ItemsToBatches(ctx context.Context, items ItemStream, opts OrchestratorOptions) (BatchStream, error) {
	if opts.Encoder == nil {
		opts.Encoder = p.encoder()
	}
	raw, err := Orchestrate(ctx, items, opts)
	if err != nil {
		return nil, err
	}
	return newNormalizingStream(ctx, raw, p.normalizer())
}

// NDJSONToBatches opens each path in turn (NDJSON, JSON array, or
// FeatureCollection, auto-detected per file), chains them into one item
// stream, and drives ItemsToBatches. limit caps the total number of items
// consumed across all paths; 0 means unlimited.
func (p Pipeline) NDJSONToBatches(ctx context.Context, paths []string, strategy SchemaStrategy, chunkSize int, limit int, tmpDir string) (BatchStream, error) {
	streams := make([]ItemStream, 0, len(paths))
	closers := make([]io.Closer, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll(closers)
			return nil, stacerr.Wrap(stacerr.IOError, err)
		}
		closers = append(closers, f)
		stream, err := NewItemReader(f)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		streams = append(streams, stream)
	}

	chained := ChainStreams(streams...)
	limited := chained
	if limit > 0 {
		limited = &limitStream{inner: chained, limit: limit}
	}

	batchStream, err := p.ItemsToBatches(ctx, limited, OrchestratorOptions{
		Strategy:  strategy,
		ChunkSize: chunkSize,
		TmpDir:    tmpDir,
	})
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	return &closingBatchStream{BatchStream: batchStream, closers: closers}, nil
}

type limitStream struct {
	inner ItemStream
	limit int
	taken int
}

func (s *limitStream) Next(ctx context.Context) (Item, error) {
	if s.taken >= s.limit {
		return nil, io.EOF
	}
	item, err := s.inner.Next(ctx)
	if err != nil {
		return nil, err
	}
	s.taken++
	return item, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

type closingBatchStream struct {
	BatchStream
	closers []io.Closer
}

func (s *closingBatchStream) Close() error {
	err := s.BatchStream.Close()
	closeAll(s.closers)
	return err
}

// BatchesToItems converts a normalized BatchStream back into an ItemStream,
// routing every batch through a Denormalizer and yielding its rows one at a
// time in order.
func (p Pipeline) BatchesToItems(batches BatchStream) ItemStream {
	return &denormalizingStream{batches: batches, denormalizer: p.denormalizer()}
}

type denormalizingStream struct {
	batches      BatchStream
	denormalizer *Denormalizer
	pending      []Item
	index        int
}

func (s *denormalizingStream) Next(ctx context.Context) (Item, error) {
	for s.index >= len(s.pending) {
		record, err := s.batches.Next(ctx)
		if err != nil {
			return nil, err
		}
		items, err := s.denormalizer.Denormalize(record)
		record.Release()
		if err != nil {
			return nil, err
		}
		s.pending = items
		s.index = 0
	}
	item := s.pending[s.index]
	s.index++
	return item, nil
}

// BatchesToNDJSON appends one compact JSON object per line to dest for
// every item produced by batches, via BatchesToItems. It never truncates
// dest; the caller controls the file's open mode.
func (p Pipeline) BatchesToNDJSON(ctx context.Context, batches BatchStream, dest io.Writer) error {
	items := p.BatchesToItems(batches)
	w := bufio.NewWriter(dest)
	for {
		item, err := items.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(item)
		if err != nil {
			return stacerr.Wrap(stacerr.MalformedInput, err)
		}
		if _, err := w.Write(encoded); err != nil {
			return stacerr.Wrap(stacerr.IOError, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return stacerr.Wrap(stacerr.IOError, err)
		}
	}
	if err := w.Flush(); err != nil {
		return stacerr.Wrap(stacerr.IOError, err)
	}
	return nil
}

// WriteParquetOptions configures WriteParquet.
type WriteParquetOptions struct {
	GeoVersion         string
	Collections        []string
	Collection         string
	Warn               func(msg string, kv ...any)
	ParquetWriterProps *parquet.WriterProperties
	ArrowWriterProps   *pqarrow.ArrowWriterProperties
}

// WriteParquet pulls every batch from batches and writes a single
// GeoParquet file to dest, deriving the "geo" and "stac-geoparquet" schema
// metadata from the stream's fixed schema.
func WriteParquet(ctx context.Context, batches BatchStream, dest io.Writer, opts WriteParquetOptions) error {
	writer, err := NewWriter(dest, batches.Schema(), WriterOptions{
		GeoVersion:         opts.GeoVersion,
		Collections:        opts.Collections,
		Collection:         opts.Collection,
		Warn:               opts.Warn,
		ParquetWriterProps: opts.ParquetWriterProps,
		ArrowWriterProps:   opts.ArrowWriterProps,
	})
	if err != nil {
		return err
	}

	for {
		record, err := batches.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			writer.Close()
			return err
		}
		writeErr := writer.Write(record)
		record.Release()
		if writeErr != nil {
			writer.Close()
			return writeErr
		}
	}
	return writer.Close()
}

// NDJSONToParquet reads paths, drives them through strategy, normalizes,
// and writes the result as a single GeoParquet file to dest.
func (p Pipeline) NDJSONToParquet(ctx context.Context, paths []string, dest io.Writer, strategy SchemaStrategy, chunkSize int, limit int, tmpDir string, opts WriteParquetOptions) error {
	batches, err := p.NDJSONToBatches(ctx, paths, strategy, chunkSize, limit, tmpDir)
	if err != nil {
		return err
	}
	defer batches.Close()
	return WriteParquet(ctx, batches, dest, opts)
}

// normalizingStream wraps a raw-encoded BatchStream (as C3/C7 produce it)
// and applies a Normalizer to every batch before handing it to the caller.
// Its own Schema is not fixed until the first batch is normalized (the
// inner stream's pre-normalize schema, e.g. for FirstBatch/ChunksToDisk, is
// not in the canonical STAC-GeoParquet layout), so the constructor eagerly
// pulls and normalizes the first batch to resolve it up front.
type normalizingStream struct {
	inner      BatchStream
	normalizer *Normalizer
	schema     *arrow.Schema
	pending    arrow.Record
	pendingSet bool
	done       bool
}

func newNormalizingStream(ctx context.Context, inner BatchStream, normalizer *Normalizer) (*normalizingStream, error) {
	s := &normalizingStream{inner: inner, normalizer: normalizer}
	record, err := inner.Next(ctx)
	if err == io.EOF {
		s.done = true
		s.schema = arrow.NewSchema(nil, nil)
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	normalized, err := normalizer.Normalize(record)
	if err != nil {
		return nil, err
	}
	s.pending = normalized
	s.pendingSet = true
	s.schema = normalized.Schema()
	return s, nil
}

func (s *normalizingStream) Schema() *arrow.Schema { return s.schema }
func (s *normalizingStream) Close() error {
	if s.pending != nil {
		s.pending.Release()
		s.pending = nil
	}
	return s.inner.Close()
}

func (s *normalizingStream) Next(ctx context.Context) (arrow.Record, error) {
	if s.pendingSet {
		s.pendingSet = false
		record := s.pending
		s.pending = nil
		return record, nil
	}
	if s.done {
		return nil, io.EOF
	}
	record, err := s.inner.Next(ctx)
	if err == io.EOF {
		s.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return s.normalizer.Normalize(record)
}
