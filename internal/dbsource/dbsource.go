// Package dbsource defines the interface a database cursor collaborator
// must satisfy to feed the core STAC-GeoParquet pipeline, and the pure
// rehydration function that reconstructs a full item from a dehydrated row
// and its collection's base item. It does not wire a database/sql driver:
// the cursor itself is supplied by the caller, the same "external
// collaborator" treatment the CLI and object-storage layers get.
package dbsource

// Row is one dehydrated item as a database cursor would yield it: enough
// to reconstruct a full STAC item given its collection's base item.
type Row struct {
	ID             string
	GeometryHexWKB string
	Collection     string
	Datetime       *string
	EndDatetime    *string
	// Content holds the dehydrated properties/assets/extensions map: only
	// the fields that differ from the collection's base item.
	Content map[string]any
}

// Rehydrate merges base into row's dehydrated Content, writing fields
// present in base into the result only where the dehydrated item lacks
// them. Neither argument is mutated.
func Rehydrate(row Row, base map[string]any) map[string]any {
	item := make(map[string]any, len(base)+len(row.Content)+4)
	for key, value := range base {
		item[key] = deepCopyValue(value)
	}
	for key, value := range row.Content {
		item[key] = deepCopyValue(value)
	}

	item["id"] = row.ID
	item["collection"] = row.Collection
	if row.Datetime != nil {
		item["datetime"] = *row.Datetime
	}
	if row.EndDatetime != nil {
		item["end_datetime"] = *row.EndDatetime
	}
	return item
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(v))
		for key, sub := range v {
			copied[key] = deepCopyValue(sub)
		}
		return copied
	case []any:
		copied := make([]any, len(v))
		for i, sub := range v {
			copied[i] = deepCopyValue(sub)
		}
		return copied
	default:
		return value
	}
}
