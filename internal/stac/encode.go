package stac

import (
	"fmt"
	"time"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"

	"github.com/stac-utils/stac-geoparquet/internal/geo"
	"github.com/stac-utils/stac-geoparquet/internal/geompath"
	"github.com/stac-utils/stac-geoparquet/internal/pqutil"
	"github.com/stac-utils/stac-geoparquet/internal/stacerr"
)

// Encoder turns a batch of items into a single struct-typed Arrow record,
// with every registered geometry path converted from GeoJSON to WKB first.
// The zero value is ready to use and resolves geometry paths with
// geompath.Default().
type Encoder struct {
	GeometryPaths geompath.Registry
}

// Prepare returns a deep copy of items with every path in e.GeometryPaths
// converted in place from GeoJSON to WKB bytes. Inputs are never mutated.
func (e *Encoder) Prepare(items []Item) ([]Item, error) {
	prepared := make([]Item, len(items))
	for i, item := range items {
		copied, ok := deepCopy(item).(map[string]any)
		if !ok {
			return nil, stacerr.Wrapf(stacerr.MalformedInput, "item %d is not an object", i)
		}
		for _, path := range e.GeometryPaths.Find(copied) {
			value := path.Get()
			if value == nil {
				continue
			}
			data, err := geo.EncodeGeometry(value)
			if err != nil {
				return nil, stacerr.Wrapf(stacerr.MalformedInput, "invalid geometry at %s: %s", path.Name, err)
			}
			path.Set(data)
		}
		prepared[i] = copied
	}
	return prepared, nil
}

// InferSchema infers a struct schema from a WKB-preprocessed batch, with no
// prior schema assumption. Fields only ever seen null come back null-typed;
// a later unification or manual coercion resolves them.
func (e *Encoder) InferSchema(items []Item) (*arrow.Schema, error) {
	builder := pqutil.NewArrowSchemaBuilder()
	for _, item := range items {
		if err := builder.Add(item); err != nil {
			return nil, stacerr.Wrap(stacerr.SchemaConflict, err)
		}
	}
	return builder.Schema()
}

// Encode builds a record batch from items. When schema is nil, one is
// inferred from the batch alone; when supplied, every item must conform
// (missing fields become null, extra fields are rejected).
func (e *Encoder) Encode(items []Item, schema *arrow.Schema) (arrow.Record, error) {
	prepared, err := e.Prepare(items)
	if err != nil {
		return nil, err
	}

	if schema == nil {
		schema, err = e.InferSchema(prepared)
		if err != nil {
			return nil, err
		}
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for _, item := range prepared {
		if err := appendStructFields(item, schema.Fields(), builder.Fields()); err != nil {
			return nil, stacerr.Wrap(stacerr.SchemaConflict, err)
		}
	}

	return builder.NewRecord(), nil
}

func appendStructFields(item map[string]any, fields []arrow.Field, builders []array.Builder) error {
	known := make(map[string]bool, len(fields))
	for _, field := range fields {
		known[field.Name] = true
	}
	for key := range item {
		if !known[key] {
			return fmt.Errorf("field %q is not present in the schema", key)
		}
	}

	for i, field := range fields {
		value, ok := item[field.Name]
		if !ok || value == nil {
			if !field.Nullable {
				return fmt.Errorf("field %q is required but missing from the item", field.Name)
			}
			builders[i].AppendNull()
			continue
		}
		if err := appendValue(field.Name, value, builders[i]); err != nil {
			return err
		}
	}
	return nil
}

// appendValue appends one loosely-typed JSON value to the builder for its
// column, recursing through lists and structs.
func appendValue(name string, value any, builder array.Builder) error {
	switch b := builder.(type) {
	case *array.NullBuilder:
		// A null-typed field can only hold nulls. Empty composites collapse
		// to null; a concrete value means the item does not conform.
		switch v := value.(type) {
		case []any:
			if len(v) > 0 {
				return fmt.Errorf("field %q is null-typed but the item carries values", name)
			}
		case map[string]any:
			if len(v) > 0 {
				return fmt.Errorf("field %q is null-typed but the item carries values", name)
			}
		default:
			return fmt.Errorf("field %q is null-typed but the item carries a %T value", name, value)
		}
		b.AppendNull()
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected %q to be a boolean, got %T", name, value)
		}
		b.Append(v)
	case *array.StringBuilder:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected %q to be a string, got %T", name, value)
		}
		b.Append(v)
	case *array.BinaryBuilder:
		v, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("expected %q to be bytes, got %T", name, value)
		}
		b.Append(v)
	case *array.Int32Builder:
		v, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected %q to be a number, got %T", name, value)
		}
		b.Append(int32(v))
	case *array.Int64Builder:
		v, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected %q to be a number, got %T", name, value)
		}
		b.Append(int64(v))
	case *array.Float32Builder:
		v, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected %q to be a number, got %T", name, value)
		}
		b.Append(float32(v))
	case *array.Float64Builder:
		v, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected %q to be a number, got %T", name, value)
		}
		b.Append(v)
	case *array.TimestampBuilder:
		// Reached when a provided schema already types a timestamp column
		// (e.g. one produced by the manual schema coercions).
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected %q to be an RFC 3339 string, got %T", name, value)
		}
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("cannot parse %q as a timestamp: %w", name, err)
		}
		b.Append(arrow.Timestamp(parsed.UTC().UnixMicro()))
	case *array.ListBuilder:
		values, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected %q to be a list, got %T", name, value)
		}
		b.Append(true)
		valueBuilder := b.ValueBuilder()
		for _, element := range values {
			if element == nil {
				valueBuilder.AppendNull()
				continue
			}
			if err := appendValue(name, element, valueBuilder); err != nil {
				return err
			}
		}
	case *array.StructBuilder:
		v, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("expected %q to be an object, got %T", name, value)
		}
		t, ok := b.Type().(*arrow.StructType)
		if !ok {
			return fmt.Errorf("expected builder for %q to have a struct type, got %s", name, b.Type())
		}
		b.Append(true)
		fieldBuilders := make([]array.Builder, b.NumField())
		for i := 0; i < b.NumField(); i++ {
			fieldBuilders[i] = b.FieldBuilder(i)
		}
		if err := appendStructFields(v, t.Fields(), fieldBuilders); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported builder type %T for field %q", b, name)
	}
	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(v))
		for key, val := range v {
			copied[key] = deepCopy(val)
		}
		return copied
	case []any:
		copied := make([]any, len(v))
		for i, val := range v {
			copied[i] = deepCopy(val)
		}
		return copied
	default:
		return v
	}
}
