package pqutil_test

import (
	"fmt"
	"testing"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/stac-utils/stac-geoparquet/internal/pqutil"
	"github.com/stac-utils/stac-geoparquet/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	cases := []struct {
		name   string
		record map[string]any
		schema string
	}{
		{
			name: "flat map",
			record: map[string]any{
				"maybe":  true,
				"answer": 42,
				"small":  int32(32),
				"pi":     4.13,
				"data":   []byte{'a', 'b', 'c'},
				"good":   "yup",
			},
			schema: `
				message {
					optional int64 answer (INT (64, true));
					optional binary data;
					optional binary good (STRING);
					optional boolean maybe;
					optional double pi;
					optional int32 small (INT (32, true));
				}
			`,
		},
		{
			name: "with slices",
			record: map[string]any{
				"bools":   []any{true, false, true},
				"strings": []any{"chicken", "noodle", "soup"},
				"floats":  []any{1.23, 4.56, 7.89},
				"ints":    []any{3, 2, 1},
			},
			schema: `
				message {
					optional group bools (LIST) {
						repeated group list {
							optional boolean element;
						}
					}
					optional group floats (LIST) {
						repeated group list {
							optional double element;
						}
					}
					optional group ints (LIST) {
						repeated group list {
							optional int64 element (INT (64, true));
						}
					}
					optional group strings (LIST) {
						repeated group list {
							optional binary element (STRING);
						}
					}
				}
			`,
		},
		{
			name: "with maps",
			record: map[string]any{
				"complex": map[string]any{
					"maybe":  true,
					"answer": 42,
					"small":  int32(32),
					"pi":     4.13,
					"data":   []byte{'a', 'b', 'c'},
					"good":   "yup",
				},
			},
			schema: `
				message {
					optional group complex {
						optional int64 answer (INT (64, true));
						optional binary data;
						optional binary good (STRING);
						optional boolean maybe;
						optional double pi;
						optional int32 small (INT (32, true));
					}
				}
			`,
		},
		{
			name: "with slices of maps",
			record: map[string]any{
				"things": []any{
					map[string]any{
						"what": "soup",
						"cost": 1.00,
					},
					map[string]any{
						"what": "car",
						"cost": 40000.00,
					},
					map[string]any{
						"what": "house",
						"cost": 1000000.00,
					},
				},
			},
			schema: `
				message {
					optional group things (LIST) {
						repeated group list {
							optional group element {
								optional double cost;
								optional binary what (STRING);
							}
						}
					}
				}
			`,
		},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("%s (case %d)", c.name, i), func(t *testing.T) {
			b := pqutil.NewArrowSchemaBuilder()
			require.NoError(t, b.Add(c.record))
			s, err := b.Schema()
			require.NoError(t, err)
			require.NotNil(t, s)
			test.AssertArrowSchemaMatches(t, c.schema, s)
		})
	}
}

func fieldType(t *testing.T, s *arrow.Schema, name string) arrow.DataType {
	t.Helper()
	indices := s.FieldIndices(name)
	require.Len(t, indices, 1, "expected field %q", name)
	return s.Field(indices[0]).Type
}

func TestBuilderNullOnlyFields(t *testing.T) {
	b := pqutil.NewArrowSchemaBuilder()
	require.NoError(t, b.Add(map[string]any{
		"nothing": nil,
		"links":   []any{},
	}))
	require.NoError(t, b.Add(map[string]any{
		"nothing": nil,
		"links":   []any{},
	}))

	s, err := b.Schema()
	require.NoError(t, err)

	assert.Equal(t, arrow.NULL, fieldType(t, s, "nothing").ID())

	links, ok := fieldType(t, s, "links").(*arrow.ListType)
	require.True(t, ok)
	assert.Equal(t, arrow.NULL, links.Elem().ID())
}

func TestBuilderUnifiesAcrossRecords(t *testing.T) {
	b := pqutil.NewArrowSchemaBuilder()
	require.NoError(t, b.Add(map[string]any{
		"later":  nil,
		"number": 1,
		"nested": map[string]any{"a": "x"},
	}))
	require.NoError(t, b.Add(map[string]any{
		"later":  "resolved",
		"number": 2.5,
		"nested": map[string]any{"b": true},
	}))

	s, err := b.Schema()
	require.NoError(t, err)

	assert.Equal(t, arrow.STRING, fieldType(t, s, "later").ID(), "null-typed fields take the concrete alternative")
	assert.Equal(t, arrow.FLOAT64, fieldType(t, s, "number").ID(), "numeric types widen")

	nested, ok := fieldType(t, s, "nested").(*arrow.StructType)
	require.True(t, ok)
	assert.Equal(t, 2, nested.NumFields(), "struct fields union across records")
}

func TestBuilderRejectsIncompatibleTypes(t *testing.T) {
	b := pqutil.NewArrowSchemaBuilder()
	require.NoError(t, b.Add(map[string]any{"value": "text"}))
	assert.Error(t, b.Add(map[string]any{"value": map[string]any{"nested": true}}))
}

func TestUnifySchemas(t *testing.T) {
	a := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "count", Type: arrow.PrimitiveTypes.Int32},
	}, nil)
	b := arrow.NewSchema([]arrow.Field{
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
		{Name: "extra", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)

	unified, err := pqutil.UnifySchemas(a, b)
	require.NoError(t, err)

	assert.Equal(t, arrow.INT64, fieldType(t, unified, "count").ID())
	for _, field := range unified.Fields() {
		assert.True(t, field.Nullable, "every unified field must be nullable: %s", field.Name)
	}
	assert.Len(t, unified.FieldIndices("id"), 1)
	assert.Len(t, unified.FieldIndices("extra"), 1)
}

func TestUnifySchemasIncompatible(t *testing.T) {
	a := arrow.NewSchema([]arrow.Field{{Name: "value", Type: arrow.BinaryTypes.String}}, nil)
	b := arrow.NewSchema([]arrow.Field{{Name: "value", Type: arrow.StructOf(arrow.Field{Name: "x", Type: arrow.BinaryTypes.String})}}, nil)

	_, err := pqutil.UnifySchemas(a, b)
	assert.Error(t, err)
}
