// Package pqutil holds Arrow/Parquet plumbing shared across the STAC
// encode, schema-inference, and GeoParquet framing stages: inferring an
// Arrow schema from loosely-typed JSON values, widening two schemas
// together under permissive promotion, reading back Parquet column
// metadata, and picking a compression codec by name.
package pqutil

import (
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/stac-utils/stac-geoparquet/internal/geo"
)

type ArrowSchemaBuilder struct {
	fields map[string]*arrow.Field
}

func NewArrowSchemaBuilder() *ArrowSchemaBuilder {
	return &ArrowSchemaBuilder{
		fields: map[string]*arrow.Field{},
	}
}

func (b *ArrowSchemaBuilder) Has(name string) bool {
	_, has := b.fields[name]
	return has
}

func (b *ArrowSchemaBuilder) AddGeometry(name string, encoding string) error {
	var dataType arrow.DataType
	switch encoding {
	case geo.EncodingWKB:
		dataType = arrow.BinaryTypes.Binary
	case geo.EncodingWKT:
		dataType = arrow.BinaryTypes.String
	default:
		return fmt.Errorf("unsupported geometry encoding: %s", encoding)
	}
	b.fields[name] = &arrow.Field{Name: name, Type: dataType, Nullable: true}
	return nil
}

func (b *ArrowSchemaBuilder) AddBbox(name string) {
	bboxFields := []arrow.Field{
		{Name: "xmin", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "ymin", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "xmax", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "ymax", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	}
	dataType := arrow.StructOf(bboxFields...)
	b.fields[name] = &arrow.Field{Name: name, Type: dataType, Nullable: true}
}

// Add folds one record's observed types into the running schema. A field
// seen before unifies with its previous type under permissive promotion:
// null-typed takes the concrete alternative, numerics widen, structs union
// their fields. A field only ever seen null stays null-typed, and a field
// only ever seen as an empty list stays a list of null, so downstream
// coercions (and manual updates) can resolve them later.
func (b *ArrowSchemaBuilder) Add(record map[string]any) error {
	for name, value := range record {
		field, err := fieldFromValue(name, value, true)
		if err != nil {
			return fmt.Errorf("error converting value for %s: %w", name, err)
		}
		if existing := b.fields[name]; existing != nil {
			merged, mergeErr := unifyFields(*existing, *field)
			if mergeErr != nil {
				return fmt.Errorf("cannot unify types for %s: %w", name, mergeErr)
			}
			field = &merged
		}
		b.fields[name] = field
	}
	return nil
}

func fieldFromValue(name string, value any, nullable bool) (*arrow.Field, error) {
	switch v := value.(type) {
	case nil:
		return &arrow.Field{Name: name, Type: arrow.Null, Nullable: true}, nil
	case bool:
		return &arrow.Field{Name: name, Type: arrow.FixedWidthTypes.Boolean, Nullable: nullable}, nil
	case int, int64:
		return &arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64, Nullable: nullable}, nil
	case int32:
		return &arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int32, Nullable: nullable}, nil
	case float32:
		return &arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float32, Nullable: nullable}, nil
	case float64:
		return &arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: nullable}, nil
	case []byte:
		return &arrow.Field{Name: name, Type: arrow.BinaryTypes.Binary, Nullable: nullable}, nil
	case string:
		return &arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: nullable}, nil
	case []any:
		var elemType arrow.DataType = arrow.Null
		for _, element := range v {
			elemField, err := fieldFromValue(name, element, nullable)
			if err != nil {
				return nil, err
			}
			merged, err := unifyFields(arrow.Field{Name: name, Type: elemType}, *elemField)
			if err != nil {
				return nil, fmt.Errorf("cannot unify element types for %q: %w", name, err)
			}
			elemType = merged.Type
		}
		return &arrow.Field{Name: name, Type: arrow.ListOf(elemType), Nullable: nullable}, nil
	case map[string]any:
		if len(v) == 0 {
			return &arrow.Field{Name: name, Type: arrow.Null, Nullable: true}, nil
		}
		return fieldFromMap(name, v, nullable)
	default:
		return nil, fmt.Errorf("cannot convert value: %v", v)
	}
}

func fieldFromMap(name string, value map[string]any, nullable bool) (*arrow.Field, error) {
	keys := sortedKeys(value)
	length := len(keys)
	fields := make([]arrow.Field, length)
	for i, key := range keys {
		field, err := fieldFromValue(key, value[key], nullable)
		if err != nil {
			return nil, fmt.Errorf("trouble generating schema for field %q: %w", key, err)
		}
		fields[i] = *field
	}
	return &arrow.Field{Name: name, Type: arrow.StructOf(fields...), Nullable: nullable}, nil
}

func (b *ArrowSchemaBuilder) Ready() bool {
	for _, field := range b.fields {
		if field == nil {
			return false
		}
	}
	return true
}

func (b *ArrowSchemaBuilder) Schema() (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(b.fields))
	for i, name := range sortedKeys(b.fields) {
		field := b.fields[name]
		if field == nil {
			return nil, fmt.Errorf("could not derive type for field: %s", name)
		}
		fields[i] = *field
	}
	return arrow.NewSchema(fields, nil), nil
}

// UnifySchemas merges two Arrow schemas under permissive promotion: a field
// present in only one schema is carried over as nullable, a field null-typed
// in one and concretely typed in the other takes the concrete type, numeric
// fields widen to the wider of the two types, and struct fields unify
// recursively with the same rules. Two incompatible concrete types (e.g.
// string vs. struct) are a SchemaConflict, surfaced to the caller as an
// error.
func UnifySchemas(a, b *arrow.Schema) (*arrow.Schema, error) {
	fields := map[string]arrow.Field{}
	order := []string{}
	for _, f := range a.Fields() {
		fields[f.Name] = f
		order = append(order, f.Name)
	}
	for _, f := range b.Fields() {
		existing, ok := fields[f.Name]
		if !ok {
			fields[f.Name] = f
			order = append(order, f.Name)
			continue
		}
		merged, err := unifyFields(existing, f)
		if err != nil {
			return nil, fmt.Errorf("cannot unify field %q: %w", f.Name, err)
		}
		fields[f.Name] = merged
	}
	sort.Strings(order)
	merged := make([]arrow.Field, len(order))
	for i, name := range order {
		field := fields[name]
		field.Nullable = true
		merged[i] = field
	}
	return arrow.NewSchema(merged, nil), nil
}

func unifyFields(a, b arrow.Field) (arrow.Field, error) {
	if arrow.TypeEqual(a.Type, b.Type) {
		return arrow.Field{Name: a.Name, Type: a.Type, Nullable: true}, nil
	}
	if arrow.TypeEqual(a.Type, arrow.Null) {
		return arrow.Field{Name: a.Name, Type: b.Type, Nullable: true}, nil
	}
	if arrow.TypeEqual(b.Type, arrow.Null) {
		return arrow.Field{Name: a.Name, Type: a.Type, Nullable: true}, nil
	}
	if widened, ok := widenNumeric(a.Type, b.Type); ok {
		return arrow.Field{Name: a.Name, Type: widened, Nullable: true}, nil
	}
	aStruct, aOk := a.Type.(*arrow.StructType)
	bStruct, bOk := b.Type.(*arrow.StructType)
	if aOk && bOk {
		aSchema := arrow.NewSchema(aStruct.Fields(), nil)
		bSchema := arrow.NewSchema(bStruct.Fields(), nil)
		unified, err := UnifySchemas(aSchema, bSchema)
		if err != nil {
			return arrow.Field{}, err
		}
		return arrow.Field{Name: a.Name, Type: arrow.StructOf(unified.Fields()...), Nullable: true}, nil
	}
	aList, aOk := a.Type.(*arrow.ListType)
	bList, bOk := b.Type.(*arrow.ListType)
	if aOk && bOk {
		elem, err := unifyFields(arrow.Field{Name: a.Name, Type: aList.Elem()}, arrow.Field{Name: a.Name, Type: bList.Elem()})
		if err != nil {
			return arrow.Field{}, err
		}
		return arrow.Field{Name: a.Name, Type: arrow.ListOf(elem.Type), Nullable: true}, nil
	}
	return arrow.Field{}, fmt.Errorf("incompatible types %s and %s", a.Type, b.Type)
}

var numericRank = map[arrow.Type]int{
	arrow.INT32:   1,
	arrow.INT64:   2,
	arrow.FLOAT32: 3,
	arrow.FLOAT64: 4,
}

func widenNumeric(a, b arrow.DataType) (arrow.DataType, bool) {
	ra, aOk := numericRank[a.ID()]
	rb, bOk := numericRank[b.ID()]
	if !aOk || !bOk {
		return nil, false
	}
	if ra >= rb {
		return a, true
	}
	return b, true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, len(m))
	i := 0
	for k := range m {
		keys[i] = k
		i += 1
	}
	sort.Strings(keys)
	return keys
}
