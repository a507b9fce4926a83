package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/stix"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

// DefaultExtensionPrefix is the prefix for attributes without a native STIX slot.
const DefaultExtensionPrefix = "x_opencti_"

// Fields every object carries that are derived, not mapped.
var reservedFields = map[string]struct{}{
	"type":         {},
	"id":           {},
	"spec_version": {},
	"labels":       {},
}

// Record is the internal form produced by FromStix. Refs hold STIX ids; the
// importer translates them to internal ids once they are resolved.
type Record struct {
	Type       graph.EntityType
	StixID     string
	Attributes graph.Attributes
	Labels     []string
	Refs       map[graph.RefField][]string

	// Unmapped lists top-level STIX fields that have no slot in the graph
	// model and were not carried over, sorted.
	Unmapped []string
}

// RefStixIDs returns every referenced STIX id, created_by first.
func (r *Record) RefStixIDs() []string {
	var out []string
	for _, field := range []graph.RefField{graph.RefCreatedBy, graph.RefObjectMarking, graph.RefObject} {
		out = append(out, r.Refs[field]...)
	}
	return out
}

// Entity converts the record into an entity whose refs are STIX ids.
func (r *Record) Entity() *graph.Entity {
	e := graph.NewEntity(r.Type).WithStixID(r.StixID)
	e.Attributes = r.Attributes.Clone()
	e.Labels = append([]string(nil), r.Labels...)
	e.Refs = graph.CloneRefs(r.Refs)
	return e
}

// Mapper converts between graph entities and STIX objects.
// A Mapper is immutable after construction and safe for concurrent use.
type Mapper struct {
	registry *Registry
	version  stix.SpecVersion
	prefix   string
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithRegistry replaces the default mapping table.
func WithRegistry(r *Registry) Option {
	return func(m *Mapper) {
		m.registry = r
	}
}

// WithSpecVersion sets the spec_version written on every object.
func WithSpecVersion(v stix.SpecVersion) Option {
	return func(m *Mapper) {
		m.version = v
	}
}

// WithExtensionPrefix sets the prefix for attributes without a native slot.
func WithExtensionPrefix(prefix string) Option {
	return func(m *Mapper) {
		m.prefix = prefix
	}
}

// New creates a mapper over the default registry, emitting STIX 2.1.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		version: stix.SpecVersion21,
		prefix:  DefaultExtensionPrefix,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = NewDefaultRegistry()
	}
	return m
}

// SpecVersion returns the version the mapper emits.
func (m *Mapper) SpecVersion() stix.SpecVersion {
	return m.version
}

// Registry returns the mapping table.
func (m *Mapper) Registry() *Registry {
	return m.registry
}

// Supports reports whether t has a registered mapping.
func (m *Mapper) Supports(t string) bool {
	return m.registry.IsRegistered(graph.EntityType(t))
}

// ToStix converts an entity into a STIX object. The entity's refs must
// already hold STIX ids. It fails with a mapping error when the type has no
// registration or an attribute does not fit its declared kind.
func (m *Mapper) ToStix(e *graph.Entity) (stix.Object, error) {
	const op = "Mapper.ToStix"
	if e == nil {
		return nil, stixerr.NewMappingError(op, fmt.Errorf("nil entity"))
	}
	c, ok := m.registry.lookup(e.Type)
	if !ok {
		return nil, stixerr.NewMappingError(op, fmt.Errorf("%w: %s", stixerr.ErrUnknownType, e.Type)).WithStixID(e.StixID)
	}
	if e.StixID == "" {
		return nil, stixerr.NewMappingError(op, fmt.Errorf("entity %s has no stix id", e.ID))
	}

	obj := stix.Object{
		"type":         string(e.Type),
		"id":           e.StixID,
		"spec_version": string(m.version),
	}

	for attr, value := range e.Attributes {
		if f, native := c.byAttr[attr]; native {
			out, present, err := encodeValue(f.Kind, value)
			if err != nil {
				return nil, stixerr.NewMappingError(op, fmt.Errorf("field %s: %w", attr, err)).WithStixID(e.StixID)
			}
			if present {
				obj[f.stixName()] = out
			}
			continue
		}
		if out, present := encodeExtension(value); present {
			obj[m.extensionKey(attr)] = out
		}
	}

	if len(e.Labels) > 0 {
		obj["labels"] = append([]string(nil), e.Labels...)
	}

	for field, ids := range e.Refs {
		if len(ids) == 0 {
			continue
		}
		if !c.hasRef(field) {
			return nil, stixerr.NewMappingError(op, fmt.Errorf("type %s has no %s reference slot", e.Type, field)).WithStixID(e.StixID)
		}
		if field.IsSingle() {
			obj[RefSlots[field]] = ids[0]
		} else {
			obj[RefSlots[field]] = dedupe(ids)
		}
	}
	return obj, nil
}

// FromStix converts a STIX object into a record. It fails with a mapping
// error wrapping stixerr.ErrUnknownType when the type has no registration.
func (m *Mapper) FromStix(obj stix.Object) (*Record, error) {
	const op = "Mapper.FromStix"
	objType := obj.Type()
	id := obj.ID()

	c, ok := m.registry.lookup(graph.EntityType(objType))
	if !ok {
		return nil, stixerr.NewMappingError(op, fmt.Errorf("%w: %q", stixerr.ErrUnknownType, objType)).WithStixID(id)
	}
	if id == "" {
		return nil, stixerr.NewMappingError(op, fmt.Errorf("%s object has no id", objType))
	}
	if idType, _, err := stix.ParseID(id); err != nil || idType != objType {
		return nil, stixerr.NewMappingError(op, fmt.Errorf("id %q does not match type %q", id, objType)).WithStixID(id)
	}

	rec := &Record{
		Type:       c.Type,
		StixID:     id,
		Attributes: graph.Attributes{},
		Refs:       map[graph.RefField][]string{},
	}

	for key, value := range obj {
		if _, reserved := reservedFields[key]; reserved {
			continue
		}
		if f, native := c.byStix[key]; native {
			out, err := decodeValue(f.Kind, value)
			if err != nil {
				return nil, stixerr.NewMappingError(op, fmt.Errorf("field %s: %w", key, err)).WithStixID(id)
			}
			rec.Attributes[f.Attr] = out
			continue
		}
		if field, isRef := c.refByStix[key]; isRef {
			ids, err := decodeRefs(field, value)
			if err != nil {
				return nil, stixerr.NewMappingError(op, fmt.Errorf("field %s: %w", key, err)).WithStixID(id)
			}
			if len(ids) > 0 {
				rec.Refs[field] = ids
			}
			continue
		}
		if attr, ext := m.extensionAttr(key); ext {
			rec.Attributes[attr] = graph.NormalizeValue(value)
			continue
		}
		rec.Unmapped = append(rec.Unmapped, key)
	}

	if labels, present := obj["labels"]; present {
		list, err := toStringList(normalizeList(labels))
		if err != nil {
			return nil, stixerr.NewMappingError(op, fmt.Errorf("field labels: %w", err)).WithStixID(id)
		}
		rec.Labels = list
	}
	sort.Strings(rec.Unmapped)
	return rec, nil
}

// extensionKey prefixes attributes that already carry the extension prefix,
// so that extensionAttr strips exactly one copy on the way back.
func (m *Mapper) extensionKey(attr string) string {
	if strings.HasPrefix(attr, "x_") && (m.prefix == "" || !strings.HasPrefix(attr, m.prefix)) {
		return attr
	}
	return m.prefix + attr
}

func (m *Mapper) extensionAttr(key string) (string, bool) {
	if m.prefix != "" && strings.HasPrefix(key, m.prefix) && len(key) > len(m.prefix) {
		return strings.TrimPrefix(key, m.prefix), true
	}
	if strings.HasPrefix(key, "x_") {
		return key, true
	}
	return "", false
}

func (c *compiled) hasRef(field graph.RefField) bool {
	for _, f := range c.refFields {
		if f == field {
			return true
		}
	}
	return false
}

func decodeRefs(field graph.RefField, value any) ([]string, error) {
	if field.IsSingle() {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected identifier string, got %T", value)
		}
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	}
	ids, err := toStringList(normalizeList(value))
	if err != nil {
		return nil, err
	}
	return dedupe(ids), nil
}

// normalizeList lets a bare string stand for a one-element list.
func normalizeList(v any) any {
	if s, ok := v.(string); ok {
		return []string{s}
	}
	return v
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
