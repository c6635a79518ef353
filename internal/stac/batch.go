package stac

import (
	"context"
	"fmt"
	"io"
)

// Batcher groups an ItemStream into contiguous batches of up to N items.
// The final batch may be short; an empty final batch is never emitted.
type Batcher struct {
	stream ItemStream
	size   int
	limit  int
	taken  int
	done   bool
}

// NewBatcher builds a Batcher with batch size N (0 selects the default of
// 65536) and an optional global limit on the number of items consumed (0
// means unlimited). N < 0 is rejected.
func NewBatcher(stream ItemStream, n int, limit int) (*Batcher, error) {
	if n < 0 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", n)
	}
	if n == 0 {
		n = DefaultBatchSize
	}
	return &Batcher{stream: stream, size: n, limit: limit}, nil
}

// DefaultBatchSize is used when NewBatcher is given a size of zero.
const DefaultBatchSize = 65536

// Next returns the next batch of items, or io.EOF once the stream (or the
// configured limit) is exhausted.
func (b *Batcher) Next(ctx context.Context) ([]Item, error) {
	if b.done {
		return nil, io.EOF
	}

	batch := make([]Item, 0, b.size)
	for len(batch) < b.size {
		if b.limit > 0 && b.taken >= b.limit {
			b.done = true
			break
		}
		item, err := b.stream.Next(ctx)
		if err == io.EOF {
			b.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, item)
		b.taken++
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}
