package stac

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"

	"github.com/stac-utils/stac-geoparquet/internal/geoparquet"
	"github.com/stac-utils/stac-geoparquet/internal/schemainfer"
	"github.com/stac-utils/stac-geoparquet/internal/stacerr"
)

// SchemaStrategy selects how the orchestrator fixes a single schema across
// every batch of a pipeline.
type SchemaStrategy int

const (
	// FullFile materializes every item into one batch; its schema is the
	// schema.
	FullFile SchemaStrategy = iota
	// FirstBatch fixes the schema from the first produced batch; every
	// later batch must conform.
	FirstBatch
	// ChunksToDisk encodes and spills each chunk to a temporary Parquet
	// file, unifies every chunk's schema under permissive promotion, then
	// reads the spilled files back conformed to the unified schema.
	ChunksToDisk
	// Provided uses a schema supplied by the caller; no inference pass is
	// made over the items.
	Provided
)

// BatchStream is a pull-based sequence of fixed-schema record batches, the
// same shape geoparquet.RecordReader exposes.
type BatchStream interface {
	Next(ctx context.Context) (arrow.Record, error)
	Schema() *arrow.Schema
	// Close releases any resources held by the stream (e.g. ChunksToDisk
	// spill files). Safe to call more than once.
	Close() error
}

// OrchestratorOptions configures Orchestrate.
type OrchestratorOptions struct {
	Strategy       SchemaStrategy
	ChunkSize      int
	TmpDir         string
	ProvidedSchema *arrow.Schema
	Encoder        *Encoder
}

// Orchestrate drives items through the batcher and encoder under the
// selected schema strategy and returns a BatchStream with one fixed
// schema. For FullFile and ChunksToDisk, items are fully consumed before
// Orchestrate returns; for FirstBatch and Provided, consumption happens
// lazily as the caller pulls from the returned stream.
func Orchestrate(ctx context.Context, stream ItemStream, opts OrchestratorOptions) (BatchStream, error) {
	encoder := opts.Encoder
	if encoder == nil {
		encoder = &Encoder{}
	}

	batcher, err := NewBatcher(stream, opts.ChunkSize, 0)
	if err != nil {
		return nil, err
	}

	switch opts.Strategy {
	case Provided:
		if opts.ProvidedSchema == nil {
			return nil, stacerr.Wrapf(stacerr.SchemaConflict, "the Provided strategy requires a schema")
		}
		return &providedStream{batcher: batcher, encoder: encoder, schema: opts.ProvidedSchema}, nil
	case FullFile:
		return fullFileStream(ctx, batcher, encoder)
	case FirstBatch:
		return &firstBatchStream{batcher: batcher, encoder: encoder}, nil
	case ChunksToDisk:
		return chunksToDiskStream(ctx, batcher, encoder, opts.TmpDir)
	default:
		return nil, fmt.Errorf("unknown schema strategy: %d", opts.Strategy)
	}
}

type providedStream struct {
	batcher *Batcher
	encoder *Encoder
	schema  *arrow.Schema
}

func (s *providedStream) Schema() *arrow.Schema { return s.schema }
func (s *providedStream) Close() error          { return nil }

func (s *providedStream) Next(ctx context.Context) (arrow.Record, error) {
	items, err := s.batcher.Next(ctx)
	if err != nil {
		return nil, err
	}
	return s.encoder.Encode(items, s.schema)
}

type firstBatchStream struct {
	batcher *Batcher
	encoder *Encoder
	schema  *arrow.Schema
}

func (s *firstBatchStream) Schema() *arrow.Schema { return s.schema }
func (s *firstBatchStream) Close() error          { return nil }

func (s *firstBatchStream) Next(ctx context.Context) (arrow.Record, error) {
	items, err := s.batcher.Next(ctx)
	if err != nil {
		return nil, err
	}
	record, err := s.encoder.Encode(items, s.schema)
	if err != nil {
		return nil, err
	}
	if s.schema == nil {
		s.schema = record.Schema()
	}
	return record, nil
}

// singleRecordStream wraps one pre-built record as a one-shot BatchStream,
// used by FullFile.
type singleRecordStream struct {
	record arrow.Record
	schema *arrow.Schema
	taken  bool
}

func (s *singleRecordStream) Schema() *arrow.Schema { return s.schema }

func (s *singleRecordStream) Close() error {
	if s.record != nil {
		s.record.Release()
		s.record = nil
	}
	return nil
}

func (s *singleRecordStream) Next(ctx context.Context) (arrow.Record, error) {
	if err := stacerr.FromContext(ctx); err != nil {
		return nil, err
	}
	if s.taken {
		return nil, io.EOF
	}
	s.taken = true
	return s.record, nil
}

func fullFileStream(ctx context.Context, batcher *Batcher, encoder *Encoder) (BatchStream, error) {
	var all []Item
	for {
		if err := stacerr.FromContext(ctx); err != nil {
			return nil, err
		}
		batch, err := batcher.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	record, err := encoder.Encode(all, nil)
	if err != nil {
		return nil, err
	}
	return &singleRecordStream{record: record, schema: record.Schema()}, nil
}

// chunksToDiskStream materializes every chunk, encoding and spilling each
// one concurrently (bounded by maxSpillWorkers, in the manner of
// geoparquet's row-group bbox fan-out), then unifies the per-chunk schemas
// and returns a stream that reads the spill files back conformed to the
// unified schema.
const maxSpillWorkers = 8

func chunksToDiskStream(ctx context.Context, batcher *Batcher, encoder *Encoder, tmpDir string) (BatchStream, error) {
	ownsDir := tmpDir == ""
	if ownsDir {
		dir, err := os.MkdirTemp("", "stacgeoparquet-*")
		if err != nil {
			return nil, stacerr.Wrap(stacerr.IOError, err)
		}
		tmpDir = dir
	}

	var chunks [][]Item
	for {
		if err := stacerr.FromContext(ctx); err != nil {
			if ownsDir {
				os.RemoveAll(tmpDir)
			}
			return nil, err
		}
		batch, err := batcher.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ownsDir {
				os.RemoveAll(tmpDir)
			}
			return nil, err
		}
		chunks = append(chunks, batch)
	}

	type spillResult struct {
		index  int
		schema *arrow.Schema
		err    error
	}

	results := make(chan spillResult, len(chunks))
	sem := make(chan struct{}, maxSpillWorkers)
	for i, items := range chunks {
		sem <- struct{}{}
		go func(i int, items []Item) {
			defer func() { <-sem }()
			path := filepath.Join(tmpDir, fmt.Sprintf("%d.parquet", i))
			schema, err := spillChunk(encoder, items, path)
			results <- spillResult{index: i, schema: schema, err: err}
		}(i, items)
	}

	schemas := make([]*arrow.Schema, len(chunks))
	var firstErr error
	for range chunks {
		res := <-results
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
		schemas[res.index] = res.schema
	}
	if firstErr != nil {
		os.RemoveAll(tmpDir)
		return nil, firstErr
	}

	inferred := &schemainfer.InferredSchema{}
	for i, schema := range schemas {
		if schema == nil {
			continue
		}
		if err := inferred.Update(schema, int64(len(chunks[i]))); err != nil {
			os.RemoveAll(tmpDir)
			return nil, stacerr.Wrap(stacerr.SchemaConflict, err)
		}
	}
	if err := inferred.ManualUpdates(schemainfer.DefaultCoercions()...); err != nil {
		os.RemoveAll(tmpDir)
		return nil, stacerr.Wrap(stacerr.SchemaConflict, err)
	}
	unified := inferred.Schema
	if unified == nil {
		unified = arrow.NewSchema(nil, nil)
	}

	return &spillStream{tmpDir: tmpDir, ownsDir: ownsDir, numChunks: len(chunks), schema: unified}, nil
}

func spillChunk(encoder *Encoder, items []Item, path string) (*arrow.Schema, error) {
	record, err := encoder.Encode(items, nil)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	f, err := os.Create(path)
	if err != nil {
		return nil, stacerr.Wrap(stacerr.IOError, err)
	}
	defer f.Close()

	writer, err := geoparquet.NewRecordWriter(&geoparquet.WriterConfig{
		Writer:      f,
		ArrowSchema: record.Schema(),
	})
	if err != nil {
		return nil, stacerr.Wrap(stacerr.IOError, err)
	}
	if err := writer.Write(record); err != nil {
		return nil, stacerr.Wrap(stacerr.IOError, err)
	}
	if err := writer.Close(); err != nil {
		return nil, stacerr.Wrap(stacerr.IOError, err)
	}
	return record.Schema(), nil
}

type spillStream struct {
	tmpDir    string
	ownsDir   bool
	numChunks int
	schema    *arrow.Schema
	index     int
	current   *Reader
	file      *os.File
}

func (s *spillStream) Schema() *arrow.Schema { return s.schema }

func (s *spillStream) Next(ctx context.Context) (arrow.Record, error) {
	for {
		if err := stacerr.FromContext(ctx); err != nil {
			return nil, err
		}
		if s.current == nil {
			if s.index >= s.numChunks {
				return nil, io.EOF
			}
			path := filepath.Join(s.tmpDir, fmt.Sprintf("%d.parquet", s.index))
			f, err := os.Open(path)
			if err != nil {
				return nil, stacerr.Wrap(stacerr.IOError, err)
			}
			reader, err := NewReader(f, ReaderOptions{})
			if err != nil {
				f.Close()
				return nil, stacerr.Wrap(stacerr.IOError, err)
			}
			s.current = reader
			s.file = f
			s.index++
		}

		record, err := s.current.Read()
		if err == io.EOF {
			s.current.Close()
			s.file.Close()
			s.current = nil
			s.file = nil
			continue
		}
		if err != nil {
			return nil, stacerr.Wrap(stacerr.IOError, err)
		}
		return conformRecord(record, s.schema)
	}
}

func (s *spillStream) Close() error {
	if s.current != nil {
		s.current.Close()
		s.file.Close()
		s.current = nil
		s.file = nil
	}
	if s.ownsDir {
		return os.RemoveAll(s.tmpDir)
	}
	return nil
}

// conformRecord rebuilds record under target, padding any field target
// carries that record lacks with nulls and widening any numeric field that
// record carries at a narrower type, by routing every row back through the
// same item-oriented append logic the encoder uses.
func conformRecord(record arrow.Record, target *arrow.Schema) (arrow.Record, error) {
	if record.Schema().Equal(target) {
		return record, nil
	}

	schema := record.Schema()
	structArr := array.RecordToStructArray(record)
	defer structArr.Release()

	builder := array.NewRecordBuilder(memory.DefaultAllocator, target)
	defer builder.Release()

	numRows := int(record.NumRows())
	for row := 0; row < numRows; row++ {
		item := make(map[string]any, schema.NumFields())
		for col := 0; col < schema.NumFields(); col++ {
			value, err := decodeMarshaled(structArr.Field(col).GetOneForMarshal(row))
			if err != nil {
				record.Release()
				return nil, stacerr.Wrap(stacerr.SchemaConflict, err)
			}
			item[schema.Field(col).Name] = value
		}
		if err := appendStructFields(item, target.Fields(), builder.Fields()); err != nil {
			record.Release()
			return nil, stacerr.Wrap(stacerr.SchemaConflict, err)
		}
	}

	record.Release()
	return builder.NewRecord(), nil
}
