package stac

import (
	"fmt"
	"time"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"

	"github.com/stac-utils/stac-geoparquet/internal/geo"
	"github.com/stac-utils/stac-geoparquet/internal/stacerr"
	"github.com/stac-utils/stac-geoparquet/internal/timeset"
)

// TopLevelKeys is the canonical set of STAC item fields that are never
// nested inside properties; everything else is a property.
var TopLevelKeys = map[string]bool{
	"type":            true,
	"stac_version":    true,
	"stac_extensions": true,
	"id":              true,
	"bbox":            true,
	"geometry":        true,
	"collection":      true,
	"links":           true,
	"assets":          true,
}

// bboxFieldNames4 and bboxFieldNames6 give the canonical struct field order
// for the two supported bbox dimensions.
var bboxFieldNames4 = []string{"xmin", "ymin", "xmax", "ymax"}
var bboxFieldNames6 = []string{"xmin", "ymin", "zmin", "xmax", "ymax", "zmax"}

// Normalizer applies the STAC normalization transforms to a raw encoded
// batch: promote properties, type timestamps, bbox-to-struct, and
// GeoArrow geometry metadata, in that order. The zero value uses the
// default timestamp registry.
type Normalizer struct {
	Timestamps timeset.Registry
}

// Normalize transforms record in place from C3's flat-encoded layout into
// the canonical STAC-GeoParquet layout. The input record is released; the
// returned record is a fresh one the caller owns.
func (n *Normalizer) Normalize(record arrow.Record) (arrow.Record, error) {
	record, err := promoteProperties(record)
	if err != nil {
		return nil, err
	}
	record, err = typeTimestamps(record, n.Timestamps)
	if err != nil {
		return nil, err
	}
	record, err = bboxToStruct(record)
	if err != nil {
		return nil, err
	}
	return attachGeometryMetadata(record), nil
}

func promoteProperties(record arrow.Record) (arrow.Record, error) {
	schema := record.Schema()
	indices := schema.FieldIndices("properties")
	if len(indices) == 0 {
		return record, nil
	}
	propIdx := indices[0]

	propCol, ok := record.Column(propIdx).(*array.Struct)
	if !ok {
		return nil, stacerr.Wrapf(stacerr.SchemaConflict, `expected "properties" to be a struct column, got %s`, record.Column(propIdx).DataType())
	}
	propType, ok := schema.Field(propIdx).Type.(*arrow.StructType)
	if !ok {
		return nil, stacerr.Wrapf(stacerr.SchemaConflict, `expected "properties" field to have a struct type`)
	}

	existing := make(map[string]bool, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		if i == propIdx {
			continue
		}
		existing[schema.Field(i).Name] = true
	}

	fields := make([]arrow.Field, 0, schema.NumFields()-1+propType.NumFields())
	columns := make([]arrow.Array, 0, cap(fields))
	for i := 0; i < schema.NumFields(); i++ {
		if i == propIdx {
			continue
		}
		fields = append(fields, schema.Field(i))
		col := record.Column(i)
		col.Retain()
		columns = append(columns, col)
	}

	for i := 0; i < propType.NumFields(); i++ {
		field := propType.Field(i)
		if existing[field.Name] {
			for _, col := range columns {
				col.Release()
			}
			return nil, stacerr.Wrapf(stacerr.SchemaConflict, "property %q collides with a top-level STAC key", field.Name)
		}
		fields = append(fields, field)
		col := propCol.Field(i)
		col.Retain()
		columns = append(columns, col)
	}

	newSchema := arrow.NewSchema(fields, nil)
	newRecord := array.NewRecord(newSchema, columns, record.NumRows())
	for _, col := range columns {
		col.Release()
	}
	record.Release()
	return newRecord, nil
}

func typeTimestamps(record arrow.Record, registry timeset.Registry) (arrow.Record, error) {
	schema := record.Schema()
	fields := make([]arrow.Field, schema.NumFields())
	columns := make([]arrow.Array, schema.NumFields())

	for i := 0; i < schema.NumFields(); i++ {
		field := schema.Field(i)
		fields[i] = field
		col := record.Column(i)

		if !registry.Has(field.Name) {
			col.Retain()
			columns[i] = col
			continue
		}

		typed, newField, err := asTimestampColumn(field, col)
		if err != nil {
			for _, built := range columns[:i] {
				if built != nil {
					built.Release()
				}
			}
			return nil, err
		}
		fields[i] = newField
		columns[i] = typed
	}

	newSchema := arrow.NewSchema(fields, nil)
	newRecord := array.NewRecord(newSchema, columns, record.NumRows())
	for _, col := range columns {
		col.Release()
	}
	record.Release()
	return newRecord, nil
}

var microsecondUTC = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

func asTimestampColumn(field arrow.Field, col arrow.Array) (arrow.Array, arrow.Field, error) {
	switch t := col.(type) {
	case *array.Timestamp:
		col.Retain()
		return col, field, nil
	case *array.Null:
		builder := array.NewTimestampBuilder(memory.DefaultAllocator, microsecondUTC)
		defer builder.Release()
		for i := 0; i < t.Len(); i++ {
			builder.AppendNull()
		}
		newField := arrow.Field{Name: field.Name, Type: microsecondUTC, Nullable: true}
		return builder.NewArray(), newField, nil
	case *array.String:
		builder := array.NewTimestampBuilder(memory.DefaultAllocator, microsecondUTC)
		defer builder.Release()
		for i := 0; i < t.Len(); i++ {
			if t.IsNull(i) {
				builder.AppendNull()
				continue
			}
			value, err := time.Parse(time.RFC3339, t.Value(i))
			if err != nil {
				return nil, arrow.Field{}, stacerr.Wrapf(stacerr.UnsupportedTimestamp, "field %q: %s", field.Name, err)
			}
			builder.Append(arrow.Timestamp(value.UTC().UnixMicro()))
		}
		newField := arrow.Field{Name: field.Name, Type: microsecondUTC, Nullable: field.Nullable}
		return builder.NewArray(), newField, nil
	default:
		return nil, arrow.Field{}, stacerr.Wrapf(stacerr.UnsupportedTimestamp, "field %q has unsupported type %s for a timestamp", field.Name, field.Type)
	}
}

func bboxToStruct(record arrow.Record) (arrow.Record, error) {
	schema := record.Schema()
	indices := schema.FieldIndices("bbox")
	if len(indices) == 0 {
		return record, nil
	}
	bboxIdx := indices[0]

	listCol, ok := record.Column(bboxIdx).(*array.List)
	if !ok {
		if _, isStruct := record.Column(bboxIdx).(*array.Struct); isStruct {
			return record, nil
		}
		return nil, stacerr.Wrapf(stacerr.SchemaConflict, `expected "bbox" to be a list column, got %s`, record.Column(bboxIdx).DataType())
	}

	values, ok := listCol.ListValues().(*array.Float64)
	if !ok {
		return nil, stacerr.Wrapf(stacerr.SchemaConflict, `expected "bbox" elements to be float64, got %s`, listCol.ListValues().DataType())
	}

	numRows := int(record.NumRows())
	var dim int
	for i := 0; i < numRows; i++ {
		if listCol.IsNull(i) {
			continue
		}
		rowDim := int(listCol.Offsets()[i+1] - listCol.Offsets()[i])
		if dim == 0 {
			dim = rowDim
		} else if dim != rowDim {
			return nil, stacerr.Wrapf(stacerr.MalformedInput, "bbox rows do not share the same dimension: found both %d and %d", dim, rowDim)
		}
	}
	if dim == 0 {
		dim = 4
	}
	if dim != 4 && dim != 6 {
		return nil, stacerr.Wrapf(stacerr.MalformedInput, "bbox dimension must be 4 or 6, got %d", dim)
	}

	names := bboxFieldNames4
	if dim == 6 {
		names = bboxFieldNames6
	}

	builders := make([]*array.Float64Builder, dim)
	for i := range builders {
		builders[i] = array.NewFloat64Builder(memory.DefaultAllocator)
		defer builders[i].Release()
	}

	structFields := make([]arrow.Field, dim)
	for i, name := range names {
		structFields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64}
	}
	structType := arrow.StructOf(structFields...)
	structBuilder := array.NewStructBuilder(memory.DefaultAllocator, structType)
	defer structBuilder.Release()

	for i := 0; i < numRows; i++ {
		if listCol.IsNull(i) {
			structBuilder.AppendNull()
			continue
		}
		structBuilder.Append(true)
		start := listCol.Offsets()[i]
		for j := 0; j < dim; j++ {
			fb := structBuilder.FieldBuilder(j).(*array.Float64Builder)
			fb.Append(values.Value(int(start) + j))
		}
	}

	bboxArray := structBuilder.NewArray()

	fields := make([]arrow.Field, schema.NumFields())
	columns := make([]arrow.Array, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		if i == bboxIdx {
			fields[i] = arrow.Field{Name: "bbox", Type: structType, Nullable: schema.Field(i).Nullable}
			columns[i] = bboxArray
			continue
		}
		fields[i] = schema.Field(i)
		col := record.Column(i)
		col.Retain()
		columns[i] = col
	}

	newSchema := arrow.NewSchema(fields, nil)
	newRecord := array.NewRecord(newSchema, columns, record.NumRows())
	for _, col := range columns {
		col.Release()
	}
	record.Release()
	return newRecord, nil
}

// geoArrowExtensionMetadata is attached to the primary geometry column so
// GeoArrow-aware readers recognize the WKB encoding and its CRS without
// consulting the file-level "geo" metadata key.
var geoArrowExtensionMetadata = fmt.Sprintf(`{"crs":%s}`, geo.WGS84CRS)

func attachGeometryMetadata(record arrow.Record) arrow.Record {
	schema := record.Schema()
	indices := schema.FieldIndices("geometry")
	if len(indices) == 0 {
		return record
	}
	geomIdx := indices[0]

	fields := make([]arrow.Field, schema.NumFields())
	columns := make([]arrow.Array, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		fields[i] = schema.Field(i)
		col := record.Column(i)
		col.Retain()
		columns[i] = col
	}
	original := fields[geomIdx]
	fields[geomIdx] = arrow.Field{
		Name:     original.Name,
		Type:     original.Type,
		Nullable: original.Nullable,
		Metadata: arrow.NewMetadata(
			[]string{"ARROW:extension:name", "ARROW:extension:metadata"},
			[]string{"geoarrow.wkb", geoArrowExtensionMetadata},
		),
	}

	newSchema := arrow.NewSchema(fields, nil)
	newRecord := array.NewRecord(newSchema, columns, record.NumRows())
	for _, col := range columns {
		col.Release()
	}
	record.Release()
	return newRecord
}
