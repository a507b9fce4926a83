package mapping

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zero-day-ai/stixgraph/graph"
)

// FieldKind is the value shape of a mapped field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindStringList
	KindTimestamp
	KindInt
	KindBool
	KindNested
)

// Field maps an entity attribute onto a STIX field.
type Field struct {
	// Attr is the internal attribute name.
	Attr string

	// Stix is the STIX2 field name. Defaults to Attr.
	Stix string

	// Kind is the value shape.
	Kind FieldKind
}

func (f Field) stixName() string {
	if f.Stix != "" {
		return f.Stix
	}
	return f.Attr
}

// TypeMapping is the registration entry for one entity type.
type TypeMapping struct {
	// Type is the entity type tag (also the STIX object type).
	Type graph.EntityType

	// Fields are the type's native STIX fields, in addition to CommonFields.
	Fields []Field

	// Omit lists common fields the type does not carry natively. Omitted
	// attributes are written as extension fields.
	Omit []string

	// Refs are the reference slots the type supports, in addition to the
	// created_by and object_marking slots every type has.
	Refs []graph.RefField

	// Lossy enumerates attributes that do not survive FromStix(ToStix(e))
	// unchanged for this type.
	Lossy []string
}

// RefSlots maps reference fields onto their STIX field names.
var RefSlots = map[graph.RefField]string{
	graph.RefCreatedBy:     "created_by_ref",
	graph.RefObjectMarking: "object_marking_refs",
	graph.RefObject:        "object_refs",
}

// CommonFields are mapped for every entity type.
var CommonFields = []Field{
	{Attr: "name", Kind: KindString},
	{Attr: "description", Kind: KindString},
	{Attr: "created", Kind: KindTimestamp},
	{Attr: "modified", Kind: KindTimestamp},
	{Attr: "confidence", Kind: KindInt},
	{Attr: "revoked", Kind: KindBool},
	{Attr: "lang", Kind: KindString},
	{Attr: "external_references", Kind: KindNested},
}

// LossyRules enumerates the global cases where FromStix(ToStix(e)) does not
// reproduce e exactly.
var LossyRules = []string{
	"empty string and empty list attributes are omitted from the STIX object",
	"time.Time values in attributes without a native slot come back as RFC3339 strings",
	"timestamps come back in UTC",
	"duplicate entries in multi-valued reference fields are collapsed",
	"relationship labels and object_refs have no slot and are reported in RelationshipRecord.Unmapped",
}

// ErrDuplicateMapping is returned when registering a type twice.
var ErrDuplicateMapping = errors.New("mapping already registered")

// Registry holds the per-type mapping table.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	mappings map[graph.EntityType]*compiled
}

type compiled struct {
	TypeMapping
	fields    []Field
	byAttr    map[string]Field
	byStix    map[string]Field
	refFields []graph.RefField
	refByStix map[string]graph.RefField
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappings: make(map[graph.EntityType]*compiled)}
}

// NewDefaultRegistry creates a registry pre-populated with every entity type
// of the closed graph.EntityType set.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, m := range defaultMappings() {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a mapping. Registering the same type twice is an error.
func (r *Registry) Register(m TypeMapping) error {
	if m.Type == "" {
		return errors.New("mapping type is required")
	}

	c := &compiled{
		TypeMapping: m,
		byAttr:      make(map[string]Field),
		byStix:      make(map[string]Field),
		refFields:   []graph.RefField{graph.RefCreatedBy, graph.RefObjectMarking},
		refByStix:   make(map[string]graph.RefField),
	}
	omit := make(map[string]struct{}, len(m.Omit))
	for _, attr := range m.Omit {
		omit[attr] = struct{}{}
	}
	for _, f := range append(append([]Field(nil), CommonFields...), m.Fields...) {
		if _, skip := omit[f.Attr]; skip {
			continue
		}
		if _, dup := c.byAttr[f.Attr]; dup {
			return fmt.Errorf("mapping %s: field %q declared twice", m.Type, f.Attr)
		}
		c.fields = append(c.fields, f)
		c.byAttr[f.Attr] = f
		c.byStix[f.stixName()] = f
	}
	for _, ref := range m.Refs {
		if _, ok := RefSlots[ref]; !ok {
			return fmt.Errorf("mapping %s: unknown reference field %q", m.Type, ref)
		}
		c.refFields = append(c.refFields, ref)
	}
	for _, ref := range c.refFields {
		c.refByStix[RefSlots[ref]] = ref
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mappings[m.Type]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMapping, m.Type)
	}
	r.mappings[m.Type] = c
	return nil
}

// IsRegistered reports whether t has a mapping.
func (r *Registry) IsRegistered(t graph.EntityType) bool {
	_, ok := r.lookup(t)
	return ok
}

// Lossy returns the per-type lossy attribute list for t.
func (r *Registry) Lossy(t graph.EntityType) []string {
	c, ok := r.lookup(t)
	if !ok {
		return nil
	}
	return append([]string(nil), c.Lossy...)
}

// Types returns the registered types, sorted.
func (r *Registry) Types() []graph.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]graph.EntityType, 0, len(r.mappings))
	for t := range r.mappings {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (r *Registry) lookup(t graph.EntityType) (*compiled, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.mappings[t]
	return c, ok
}
