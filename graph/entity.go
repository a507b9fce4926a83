package graph

import (
	"errors"
	"fmt"
)

// Entity is a domain object in the internal graph.
type Entity struct {
	// ID is the store-assigned internal identifier.
	ID string `json:"id"`

	// StixID is the stable external identifier ("<type>--<uuid>"). Immutable.
	StixID string `json:"stix_id"`

	// Type is the entity kind.
	Type EntityType `json:"type"`

	// Attributes holds the entity properties.
	Attributes Attributes `json:"attributes,omitempty"`

	// Labels are free-form label values, in order.
	Labels []string `json:"labels,omitempty"`

	// Refs holds references to other entities by internal id.
	Refs map[RefField][]string `json:"refs,omitempty"`
}

// NewEntity creates an Entity of the given type with an empty attribute map.
func NewEntity(t EntityType) *Entity {
	return &Entity{
		Type:       t,
		Attributes: make(Attributes),
	}
}

// WithID sets the internal id and returns the entity for method chaining.
func (e *Entity) WithID(id string) *Entity {
	e.ID = id
	return e
}

// WithStixID sets the STIX id and returns the entity for method chaining.
func (e *Entity) WithStixID(stixID string) *Entity {
	e.StixID = stixID
	return e
}

// WithAttribute sets a single attribute and returns the entity for method chaining.
func (e *Entity) WithAttribute(key string, value any) *Entity {
	if e.Attributes == nil {
		e.Attributes = make(Attributes)
	}
	e.Attributes[key] = value
	return e
}

// WithLabels replaces the labels and returns the entity for method chaining.
func (e *Entity) WithLabels(labels ...string) *Entity {
	e.Labels = labels
	return e
}

// WithRef appends references and returns the entity for method chaining.
// Single valued fields are replaced rather than appended.
func (e *Entity) WithRef(field RefField, ids ...string) *Entity {
	if e.Refs == nil {
		e.Refs = make(map[RefField][]string)
	}
	if field.IsSingle() {
		e.Refs[field] = ids[:min(len(ids), 1)]
		return e
	}
	e.Refs[field] = append(e.Refs[field], ids...)
	return e
}

// Name returns the "name" attribute.
func (e *Entity) Name() string {
	return e.Attributes.String("name")
}

// Validate checks that the entity has a known type and a STIX id.
func (e *Entity) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("unknown entity type %q", e.Type)
	}
	if e.StixID == "" {
		return errors.New("entity stix id is required")
	}
	return nil
}

// Clone returns a deep-enough copy that callers can mutate attributes,
// labels and refs without affecting the original.
func (e *Entity) Clone() *Entity {
	out := *e
	out.Attributes = e.Attributes.Clone()
	if e.Labels != nil {
		out.Labels = append([]string(nil), e.Labels...)
	}
	out.Refs = CloneRefs(e.Refs)
	return &out
}

// AllRefs returns every referenced id across all fields.
func (e *Entity) AllRefs() []string {
	var ids []string
	for _, field := range []RefField{RefCreatedBy, RefObjectMarking, RefObject} {
		ids = append(ids, e.Refs[field]...)
	}
	return ids
}

// CloneRefs copies a reference map.
func CloneRefs(refs map[RefField][]string) map[RefField][]string {
	if refs == nil {
		return nil
	}
	out := make(map[RefField][]string, len(refs))
	for k, v := range refs {
		out[k] = append([]string(nil), v...)
	}
	return out
}
