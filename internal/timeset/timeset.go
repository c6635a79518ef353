// Package timeset holds the registry of STAC item fields that are coerced
// to typed timestamp columns during normalize and stringified back during
// denormalize. A registry rather than a hard-coded list, so a caller can
// extend it for the STAC timestamps extension without forking the
// normalizer.
package timeset

// Registry is a closed set of field names. The zero value behaves as
// Default.
type Registry struct {
	names map[string]struct{}
}

// defaultNames is the closed set of STAC-core timestamp fields.
var defaultNames = []string{
	"datetime",
	"start_datetime",
	"end_datetime",
	"created",
	"updated",
	"expires",
	"published",
	"unpublished",
}

// Default returns the registry of the eight STAC-core timestamp fields.
func Default() Registry {
	return With(defaultNames...)
}

// With builds a registry from an explicit name list, for callers extending
// the default set (e.g. for the STAC timestamps extension).
func With(names ...string) Registry {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return Registry{names: set}
}

// Has reports whether name is a member of the registry. A zero-value
// Registry behaves as Default, so callers that forget to construct one
// still get the closed eight-name set.
func (r Registry) Has(name string) bool {
	if r.names == nil {
		r = Default()
	}
	_, ok := r.names[name]
	return ok
}

// Names returns the registry's members in no particular order.
func (r Registry) Names() []string {
	if r.names == nil {
		r = Default()
	}
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	return names
}
