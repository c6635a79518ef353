// Package schemainfer incrementally unifies the Arrow schemas of successive
// item batches into one running schema, then applies a small set of manual
// coercions to null-typed properties that a unification pass alone cannot
// resolve. The coercion policy is a list of CoercionRule values rather than
// logic baked into the unifier, so collection-specific rules can be added
// without touching the unification algorithm.
package schemainfer

import (
	"fmt"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/stac-utils/stac-geoparquet/internal/pqutil"
)

// InferredSchema accumulates a unified schema across batches. The zero
// value is ready to use.
type InferredSchema struct {
	Schema *arrow.Schema
	Count  int64
}

// UpdateFromItems infers a schema from items (with no prior schema
// assumption) and unifies it into the running schema under permissive
// promotion.
func (s *InferredSchema) UpdateFromItems(items []map[string]any) error {
	builder := pqutil.NewArrowSchemaBuilder()
	for _, item := range items {
		if err := builder.Add(item); err != nil {
			return fmt.Errorf("failed to infer schema for batch: %w", err)
		}
	}
	batchSchema, err := builder.Schema()
	if err != nil {
		return err
	}
	return s.Update(batchSchema, int64(len(items)))
}

// Update unifies an already-inferred batch schema into the running schema,
// for callers that have encoded the batch themselves (e.g. the
// chunks-to-disk strategy, which infers each chunk's schema while spilling
// it).
func (s *InferredSchema) Update(batchSchema *arrow.Schema, count int64) error {
	if s.Schema == nil {
		s.Schema = batchSchema
	} else {
		unified, unifyErr := pqutil.UnifySchemas(s.Schema, batchSchema)
		if unifyErr != nil {
			return fmt.Errorf("failed to unify schema: %w", unifyErr)
		}
		s.Schema = unified
	}
	s.Count += count
	return nil
}

// CoercionRule names a field inside the "properties" struct that should be
// promoted from a null-inferred type to TargetType when the unified schema
// still carries it as null. Fields not matching any rule are left
// null-typed.
type CoercionRule struct {
	Path       string
	TargetType arrow.DataType
}

// DefaultCoercions returns the three standard rules: datetime promotes to
// a microsecond UTC timestamp, proj:epsg to int64, and proj:wkt2 to
// string. No collection-specific rules (e.g. naip:year) ship by default;
// add them by passing additional rules to ManualUpdates.
func DefaultCoercions() []CoercionRule {
	return []CoercionRule{
		{Path: "datetime", TargetType: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}},
		{Path: "proj:epsg", TargetType: arrow.PrimitiveTypes.Int64},
		{Path: "proj:wkt2", TargetType: arrow.BinaryTypes.String},
	}
}

// ManualUpdates rewrites any null-typed field inside the "properties"
// struct column that matches a rule's Path, replacing it with the rule's
// TargetType. A schema with no "properties" field is returned unchanged.
func (s *InferredSchema) ManualUpdates(rules ...CoercionRule) error {
	if s.Schema == nil {
		return nil
	}
	index := s.Schema.FieldIndices("properties")
	if len(index) == 0 {
		return nil
	}

	propertiesField := s.Schema.Field(index[0])
	structType, ok := propertiesField.Type.(*arrow.StructType)
	if !ok {
		return fmt.Errorf(`expected "properties" to be a struct, got %s`, propertiesField.Type)
	}

	byPath := make(map[string]arrow.DataType, len(rules))
	for _, rule := range rules {
		byPath[rule.Path] = rule.TargetType
	}

	fields := structType.Fields()
	updated := make([]arrow.Field, len(fields))
	for i, field := range fields {
		updated[i] = field
		if !arrow.TypeEqual(field.Type, arrow.Null) {
			continue
		}
		if target, ok := byPath[field.Name]; ok {
			updated[i] = arrow.Field{Name: field.Name, Type: target, Nullable: true}
		}
	}

	fieldsOut := make([]arrow.Field, s.Schema.NumFields())
	for i := 0; i < s.Schema.NumFields(); i++ {
		fieldsOut[i] = s.Schema.Field(i)
	}
	fieldsOut[index[0]] = arrow.Field{Name: "properties", Type: arrow.StructOf(updated...), Nullable: propertiesField.Nullable}
	s.Schema = arrow.NewSchema(fieldsOut, nil)
	return nil
}
