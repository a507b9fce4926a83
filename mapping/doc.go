// Package mapping translates between graph entities and STIX2 objects.
//
// Translation is table driven. Each supported entity type registers a
// TypeMapping listing its fields (attribute name, STIX field name and value
// kind) and reference slots. The Mapper looks the table up by type tag and
// applies a pure transform in either direction:
//
//	m := mapping.New(mapping.WithSpecVersion(stix.SpecVersion21))
//	obj, err := m.ToStix(entity)    // entity refs must already be STIX ids
//	rec, err := m.FromStix(obj)     // rec.Refs hold STIX ids
//
// Value kinds:
//   - KindString: string <-> JSON string
//   - KindStringList: []string <-> JSON array of strings (order kept)
//   - KindTimestamp: time.Time <-> RFC3339 string (UTC)
//   - KindInt, KindBool: int/bool <-> JSON number/boolean
//   - KindNested: map[string]any / []map[string]any <-> JSON objects
//
// Attributes without a native STIX slot are written as vendor extension
// fields "<prefix><attr>" (default prefix "x_opencti_"); attributes whose
// name already starts with "x_" are written verbatim unless they start with
// the prefix itself, in which case they are prefixed once more. Both directions are
// reversible for every attribute except the cases listed in LossyRules and
// in each TypeMapping's Lossy list. Unknown, non-extension fields found on
// import are reported in Record.Unmapped rather than dropped silently.
package mapping
