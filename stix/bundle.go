package stix

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Object type names with structural meaning.
const (
	TypeBundle       = "bundle"
	TypeRelationship = "relationship"
)

// SpecVersion is the STIX specification version emitted on export.
type SpecVersion string

const (
	// SpecVersion20 places spec_version on the bundle; the mapper still
	// writes it on every object.
	SpecVersion20 SpecVersion = "2.0"

	// SpecVersion21 places spec_version on every object.
	SpecVersion21 SpecVersion = "2.1"
)

// IsValid returns true for supported versions.
func (v SpecVersion) IsValid() bool {
	return v == SpecVersion20 || v == SpecVersion21
}

// Bundle is a STIX2 bundle.
type Bundle struct {
	Type        string   `json:"type"`
	ID          string   `json:"id"`
	SpecVersion string   `json:"spec_version,omitempty"`
	Objects     []Object `json:"objects"`

	index map[string]struct{}
}

// NewBundle creates an empty bundle with a fresh id.
func NewBundle(version SpecVersion) *Bundle {
	b := &Bundle{
		Type:    TypeBundle,
		ID:      NewID(TypeBundle),
		Objects: []Object{},
	}
	if version == SpecVersion20 {
		b.SpecVersion = string(SpecVersion20)
	}
	return b
}

// Add appends obj unless an object with the same id is already present.
// It returns false for duplicates.
func (b *Bundle) Add(obj Object) bool {
	if b.index == nil {
		b.index = make(map[string]struct{}, len(b.Objects))
		for _, o := range b.Objects {
			b.index[o.ID()] = struct{}{}
		}
	}
	id := obj.ID()
	if _, dup := b.index[id]; dup {
		return false
	}
	b.index[id] = struct{}{}
	b.Objects = append(b.Objects, obj)
	return true
}

// Contains reports whether an object with the given id is in the bundle.
func (b *Bundle) Contains(id string) bool {
	for _, o := range b.Objects {
		if o.ID() == id {
			return true
		}
	}
	return false
}

// ObjectIDs returns the ids of all objects in bundle order.
func (b *Bundle) ObjectIDs() []string {
	ids := make([]string, 0, len(b.Objects))
	for _, o := range b.Objects {
		ids = append(ids, o.ID())
	}
	return ids
}

// Validate checks the structural shape of the bundle: the bundle type tag,
// a non-empty object list and a type tag on every object.
func (b *Bundle) Validate() error {
	if b.Type != TypeBundle {
		return fmt.Errorf("bundle type must be %q, got %q", TypeBundle, b.Type)
	}
	if len(b.Objects) == 0 {
		return errors.New("bundle has no objects")
	}
	for i, obj := range b.Objects {
		if obj == nil {
			return fmt.Errorf("object %d is null", i)
		}
		if obj.Type() == "" {
			return fmt.Errorf("object %d has no type", i)
		}
	}
	return nil
}

// Decode reads a bundle from r. Numbers are decoded as json.Number.
// Decode checks JSON syntax only; call Validate for the shape.
func Decode(r io.Reader) (*Bundle, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to parse bundle JSON: %w", err)
	}
	return &b, nil
}

// Encode writes the bundle as JSON to w.
func (b *Bundle) Encode(w io.Writer, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "    ")
	}
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	return nil
}
