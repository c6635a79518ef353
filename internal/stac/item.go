// Package stac implements the bidirectional, schema-unifying, streaming
// ETL between row-oriented STAC item JSON and columnar GeoParquet.
package stac

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/stac-utils/stac-geoparquet/internal/stacerr"
)

// Item is a single STAC item in its loosely-typed JSON form.
type Item = map[string]any

// ItemStream is a pull-based lazy sequence of items, the same shape
// geoparquet.RecordReader uses for record batches: Next returns io.EOF to
// signal a clean end of stream.
type ItemStream interface {
	Next(ctx context.Context) (Item, error)
}

// NewItemReader auto-detects the on-disk shape of r (NDJSON, a JSON array,
// or a GeoJSON FeatureCollection) and returns a stream over its items. It
// attempts a line-wise parse first and only buffers the whole input when
// that first attempt fails to recognize an item boundary.
func NewItemReader(r io.Reader) (ItemStream, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	for {
		peeked, err := br.Peek(1)
		if err == io.EOF {
			return &sliceStream{}, nil
		}
		if err != nil {
			return nil, stacerr.Wrap(stacerr.IOError, err)
		}
		switch peeked[0] {
		case ' ', '\t', '\n', '\r':
			if _, err := br.Discard(1); err != nil {
				return nil, stacerr.Wrap(stacerr.IOError, err)
			}
			continue
		}
		break
	}

	peeked, _ := br.Peek(1)
	if peeked[0] == '[' {
		decoder := json.NewDecoder(br)
		var items []Item
		if err := decoder.Decode(&items); err != nil {
			return nil, stacerr.Wrap(stacerr.MalformedInput, err)
		}
		return &sliceStream{items: items}, nil
	}

	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<26)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, stacerr.Wrap(stacerr.IOError, err)
		}
		return &sliceStream{}, nil
	}

	firstLine := append([]byte(nil), scanner.Bytes()...)

	var probe map[string]any
	if err := json.Unmarshal(firstLine, &probe); err == nil {
		if features, ok := probe["features"].([]any); ok {
			items, itemsErr := itemsFromAny(features)
			if itemsErr != nil {
				return nil, itemsErr
			}
			return &sliceStream{items: items}, nil
		}
		return &ndjsonStream{scanner: scanner, pending: probe, havePending: true}, nil
	}

	rest, err := io.ReadAll(br)
	if err != nil {
		return nil, stacerr.Wrap(stacerr.IOError, err)
	}
	whole := append(firstLine, rest...)

	var doc any
	if err := json.Unmarshal(whole, &doc); err != nil {
		return nil, stacerr.Wrap(stacerr.MalformedInput, err)
	}

	switch v := doc.(type) {
	case []any:
		items, itemsErr := itemsFromAny(v)
		if itemsErr != nil {
			return nil, itemsErr
		}
		return &sliceStream{items: items}, nil
	case map[string]any:
		if features, ok := v["features"].([]any); ok {
			items, itemsErr := itemsFromAny(features)
			if itemsErr != nil {
				return nil, itemsErr
			}
			return &sliceStream{items: items}, nil
		}
		return &sliceStream{items: []Item{v}}, nil
	default:
		return nil, stacerr.Wrapf(stacerr.MalformedInput, "expected a JSON object or array at the top level")
	}
}

func itemsFromAny(values []any) ([]Item, error) {
	items := make([]Item, 0, len(values))
	for _, value := range values {
		item, ok := value.(map[string]any)
		if !ok {
			return nil, stacerr.Wrapf(stacerr.MalformedInput, "expected an item object, got %T", value)
		}
		items = append(items, item)
	}
	return items, nil
}

type sliceStream struct {
	items []Item
	index int
}

func (s *sliceStream) Next(ctx context.Context) (Item, error) {
	if err := stacerr.FromContext(ctx); err != nil {
		return nil, err
	}
	if s.index >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.index]
	s.index++
	return item, nil
}

type ndjsonStream struct {
	scanner     *bufio.Scanner
	pending     Item
	havePending bool
}

func (s *ndjsonStream) Next(ctx context.Context) (Item, error) {
	if err := stacerr.FromContext(ctx); err != nil {
		return nil, err
	}
	if s.havePending {
		s.havePending = false
		return s.pending, nil
	}
	for {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, stacerr.Wrap(stacerr.IOError, err)
			}
			return nil, io.EOF
		}
		line := s.scanner.Bytes()
		trimmed := trimSpaceBytes(line)
		if len(trimmed) == 0 {
			continue
		}
		item := Item{}
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return nil, stacerr.Wrap(stacerr.MalformedInput, err)
		}
		return item, nil
	}
}

func trimSpaceBytes(b []byte) []byte {
	start := 0
	for start < len(b) && isJSONSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isJSONSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// ChainStreams concatenates streams in order, matching C1's "one or more
// file references" contract.
func ChainStreams(streams ...ItemStream) ItemStream {
	return &chainStream{streams: streams}
}

type chainStream struct {
	streams []ItemStream
	index   int
}

func (s *chainStream) Next(ctx context.Context) (Item, error) {
	for s.index < len(s.streams) {
		item, err := s.streams[s.index].Next(ctx)
		if err == io.EOF {
			s.index++
			continue
		}
		if err != nil {
			return nil, err
		}
		return item, nil
	}
	return nil, io.EOF
}
