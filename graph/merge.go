package graph

import "slices"

// ApplyInput overwrites e with the attributes, labels and refs of in.
// Attribute keys not present in in are kept; refs are unioned.
// Stores use it to implement Upsert.
func (e *Entity) ApplyInput(in EntityInput) {
	if e.Attributes == nil {
		e.Attributes = make(Attributes)
	}
	e.Attributes.Merge(in.Attributes.Clone())
	if len(in.Labels) > 0 {
		e.Labels = append([]string(nil), in.Labels...)
	}
	e.Refs = MergeRefs(e.Refs, in.Refs)
}

// EntityFromInput builds a new entity from in with the given internal id.
func EntityFromInput(id string, in EntityInput) *Entity {
	e := &Entity{
		ID:         id,
		StixID:     in.StixID,
		Type:       in.Type,
		Attributes: in.Attributes.Clone(),
		Refs:       CloneRefs(in.Refs),
	}
	if e.Attributes == nil {
		e.Attributes = make(Attributes)
	}
	if len(in.Labels) > 0 {
		e.Labels = append([]string(nil), in.Labels...)
	}
	return e
}

// MergeRefs returns the union of base and add, preserving first-seen order.
// Single valued fields take the value from add when present.
func MergeRefs(base, add map[RefField][]string) map[RefField][]string {
	out := CloneRefs(base)
	if out == nil && len(add) > 0 {
		out = make(map[RefField][]string, len(add))
	}
	for field, ids := range add {
		if len(ids) == 0 {
			continue
		}
		if field.IsSingle() {
			out[field] = []string{ids[0]}
			continue
		}
		for _, id := range ids {
			if !slices.Contains(out[field], id) {
				out[field] = append(out[field], id)
			}
		}
	}
	return out
}
