// Package geompath holds the registry of item locations that carry a
// GeoJSON geometry value needing WKB conversion on encode and GeoJSON
// materialization on decode. A registry of path matchers, rather than
// hard-coded paths, lets a caller register further geometry-bearing
// locations introduced by future STAC extensions.
package geompath

// Path addresses one geometry-bearing location inside an item map. Get and
// Set operate directly on the underlying map/slice structure so the same
// Path works for both the encode-time GeoJSON-to-WKB substitution and the
// decode-time WKB-to-GeoJSON substitution.
type Path struct {
	// Name identifies the path for diagnostics, e.g. "geometry",
	// "properties.proj:geometry", "assets.thumbnail.proj:geometry".
	Name string
	// Primary marks the item's main geometry column (named "geometry" in
	// columnar form with CRS metadata); non-primary paths are written with
	// an unknown (null) CRS.
	Primary bool
	Get     func() any
	Set     func(value any)
}

// Matcher resolves zero or more Paths against a single item.
type Matcher func(item map[string]any) []Path

// Registry is an ordered list of Matchers. The zero value behaves as
// Default.
type Registry struct {
	matchers []Matcher
}

// Default returns the three standard geometry paths: the primary geometry,
// properties.proj:geometry, and assets.<k>.proj:geometry for every asset k
// that carries one.
func Default() Registry {
	return With(PrimaryMatcher, PropertiesMatcher, AssetsMatcher)
}

// With builds a registry from explicit matchers.
func With(matchers ...Matcher) Registry {
	return Registry{matchers: matchers}
}

// Find resolves every matcher against item and returns the combined set of
// Paths present in it.
func (r Registry) Find(item map[string]any) []Path {
	matchers := r.matchers
	if matchers == nil {
		matchers = Default().matchers
	}
	var paths []Path
	for _, matcher := range matchers {
		paths = append(paths, matcher(item)...)
	}
	return paths
}

// PrimaryMatcher always resolves the item's top-level "geometry" field,
// whether or not it is currently present (a missing field resolves to a
// Path whose Get returns nil).
func PrimaryMatcher(item map[string]any) []Path {
	return []Path{
		{
			Name:    "geometry",
			Primary: true,
			Get:     func() any { return item["geometry"] },
			Set:     func(value any) { item["geometry"] = value },
		},
	}
}

// PropertiesMatcher resolves properties.proj:geometry if the item has a
// properties map and that map carries the key.
func PropertiesMatcher(item map[string]any) []Path {
	properties, ok := item["properties"].(map[string]any)
	if !ok {
		return nil
	}
	if _, ok := properties["proj:geometry"]; !ok {
		return nil
	}
	return []Path{
		{
			Name: "properties.proj:geometry",
			Get:  func() any { return properties["proj:geometry"] },
			Set:  func(value any) { properties["proj:geometry"] = value },
		},
	}
}

// AssetsMatcher resolves assets.<k>.proj:geometry for every asset k that
// carries the key.
func AssetsMatcher(item map[string]any) []Path {
	assets, ok := item["assets"].(map[string]any)
	if !ok {
		return nil
	}
	var paths []Path
	for key, rawAsset := range assets {
		asset, ok := rawAsset.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := asset["proj:geometry"]; !ok {
			continue
		}
		name := "assets." + key + ".proj:geometry"
		a := asset
		paths = append(paths, Path{
			Name: name,
			Get:  func() any { return a["proj:geometry"] },
			Set:  func(value any) { a["proj:geometry"] = value },
		})
	}
	return paths
}
