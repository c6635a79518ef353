package stac

import (
	"encoding/json"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"

	"github.com/stac-utils/stac-geoparquet/internal/geo"
	"github.com/stac-utils/stac-geoparquet/internal/geompath"
	"github.com/stac-utils/stac-geoparquet/internal/stacerr"
	"github.com/stac-utils/stac-geoparquet/internal/timeset"
)

// timestampFormat is the canonical STAC string format: no fractional
// seconds, a literal "Z" suffix.
const timestampFormat = "2006-01-02T15:04:05Z"

// Denormalizer inverts a Normalizer's transforms, turning canonical
// STAC-GeoParquet records back into loosely-typed item maps.
type Denormalizer struct {
	Timestamps    timeset.Registry
	GeometryPaths geompath.Registry
}

// Denormalize converts every row of record into an Item, in row order.
// record is not released; the caller retains ownership.
func (d *Denormalizer) Denormalize(record arrow.Record) ([]Item, error) {
	schema := record.Schema()
	structArr := array.RecordToStructArray(record)
	defer structArr.Release()

	timestampCols := make(map[string]*array.Timestamp, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		name := schema.Field(i).Name
		if !d.Timestamps.Has(name) {
			continue
		}
		if ts, ok := record.Column(i).(*array.Timestamp); ok {
			timestampCols[name] = ts
		}
	}

	items := make([]Item, structArr.Len())
	for row := 0; row < structArr.Len(); row++ {
		item := Item{}
		for col := 0; col < structArr.NumField(); col++ {
			name := schema.Field(col).Name
			value, err := decodeMarshaled(structArr.Field(col).GetOneForMarshal(row))
			if err != nil {
				return nil, stacerr.Wrapf(stacerr.MalformedInput, "cannot decode column %q: %s", name, err)
			}
			item[name] = value
		}

		for name, ts := range timestampCols {
			unit := ts.DataType().(*arrow.TimestampType).Unit
			if ts.IsNull(row) {
				item[name] = nil
				continue
			}
			item[name] = ts.Value(row).ToTime(unit).UTC().Format(timestampFormat)
		}

		renestProperties(item)

		if err := bboxToList(item); err != nil {
			return nil, err
		}

		if err := d.materializeGeometry(item); err != nil {
			return nil, err
		}

		items[row] = item
	}
	return items, nil
}

// decodeMarshaled turns the output of GetOneForMarshal into plain JSON
// values: list columns come back as json.RawMessage, which is decoded here,
// and nested maps are walked so no raw fragment survives. WKB bytes pass
// through untouched.
func decodeMarshaled(value any) (any, error) {
	switch v := value.(type) {
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	case map[string]any:
		for key, val := range v {
			decoded, err := decodeMarshaled(val)
			if err != nil {
				return nil, err
			}
			v[key] = decoded
		}
		return v, nil
	case []any:
		for i, val := range v {
			decoded, err := decodeMarshaled(val)
			if err != nil {
				return nil, err
			}
			v[i] = decoded
		}
		return v, nil
	default:
		return value, nil
	}
}

func renestProperties(item Item) {
	properties := map[string]any{}
	for name, value := range item {
		if TopLevelKeys[name] {
			continue
		}
		if value != nil {
			properties[name] = value
		}
		delete(item, name)
	}
	item["properties"] = properties
}

func bboxToList(item Item) error {
	value, ok := item["bbox"]
	if !ok || value == nil {
		return nil
	}
	box, ok := value.(map[string]any)
	if !ok {
		return stacerr.Wrapf(stacerr.SchemaConflict, `expected "bbox" to decode to an object, got %T`, value)
	}
	names := bboxFieldNames4
	if _, has6 := box["zmin"]; has6 {
		names = bboxFieldNames6
	}
	list := make([]any, len(names))
	for i, name := range names {
		list[i] = box[name]
	}
	item["bbox"] = list
	return nil
}

func (d *Denormalizer) materializeGeometry(item Item) error {
	for _, path := range d.GeometryPaths.Find(item) {
		value := path.Get()
		if value == nil {
			continue
		}
		g, err := geo.DecodeGeometry(value, geo.EncodingWKB)
		if err != nil {
			return stacerr.Wrapf(stacerr.MalformedInput, "invalid geometry at %s: %s", path.Name, err)
		}
		if g == nil {
			path.Set(nil)
			continue
		}
		path.Set(g)
	}
	cleanNullAssets(item)
	return nil
}

// cleanNullAssets removes asset map entries that decoded to nil (an entire
// struct row null in the columnar assets column), so denormalized JSON
// never advertises an asset that was never really set for this row.
func cleanNullAssets(item Item) {
	assets, ok := item["assets"].(map[string]any)
	if !ok {
		return
	}
	for key, value := range assets {
		if value == nil {
			delete(assets, key)
		}
	}
}
