package mapping

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/stix"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

// RelationshipFields are the native attribute fields of a STIX relationship.
var RelationshipFields = []Field{
	{Attr: "description", Kind: KindString},
	{Attr: "created", Kind: KindTimestamp},
	{Attr: "modified", Kind: KindTimestamp},
	{Attr: "revoked", Kind: KindBool},
	{Attr: "external_references", Kind: KindNested},
}

// RelationshipRefs are the reference fields a relationship carries.
var RelationshipRefs = []graph.RefField{graph.RefCreatedBy, graph.RefObjectMarking}

var relationshipSlots = map[string]struct{}{
	"relationship_type": {},
	"source_ref":        {},
	"target_ref":        {},
	"confidence":        {},
	"start_time":        {},
	"stop_time":         {},
}

// RelationshipRecord is the internal form of a STIX relationship. SourceRef,
// TargetRef and Refs hold STIX ids.
type RelationshipRecord struct {
	StixID     string
	Type       string
	SourceRef  string
	TargetRef  string
	Confidence *int
	StartTime  *time.Time
	StopTime   *time.Time
	Attributes graph.Attributes
	Refs       map[graph.RefField][]string
	Unmapped   []string
}

// Relationship builds a graph relationship between the given internal ids.
// Refs are left for the caller to translate.
func (r *RelationshipRecord) Relationship(sourceID, targetID string) *graph.Relationship {
	rel := graph.NewRelationship(sourceID, targetID, r.Type).WithStixID(r.StixID)
	rel.Confidence = r.Confidence
	rel.StartTime = r.StartTime
	rel.StopTime = r.StopTime
	rel.Attributes = r.Attributes.Clone()
	return rel
}

// RelationshipToStix converts a relationship. sourceStix and targetStix are
// the STIX ids of its endpoints; rel.Refs must already hold STIX ids.
func (m *Mapper) RelationshipToStix(rel *graph.Relationship, sourceStix, targetStix string) (stix.Object, error) {
	const op = "Mapper.RelationshipToStix"
	if rel == nil {
		return nil, stixerr.NewMappingError(op, fmt.Errorf("nil relationship"))
	}
	if sourceStix == "" || targetStix == "" {
		return nil, stixerr.NewMappingError(op, fmt.Errorf("relationship endpoints must have stix ids")).WithStixID(rel.StixID)
	}
	id := rel.StixID
	if id == "" {
		id = stix.DeterministicID(stix.TypeRelationship, sourceStix, targetStix, rel.Type)
	}

	obj := stix.Object{
		"type":              stix.TypeRelationship,
		"id":                id,
		"spec_version":      string(m.version),
		"relationship_type": rel.Type,
		"source_ref":        sourceStix,
		"target_ref":        targetStix,
	}
	if rel.Confidence != nil {
		obj["confidence"] = *rel.Confidence
	}
	if rel.StartTime != nil {
		obj["start_time"] = stix.FormatTime(*rel.StartTime)
	}
	if rel.StopTime != nil {
		obj["stop_time"] = stix.FormatTime(*rel.StopTime)
	}
	for field, ids := range rel.Refs {
		if len(ids) == 0 {
			continue
		}
		if !slices.Contains(RelationshipRefs, field) {
			return nil, stixerr.NewMappingError(op, fmt.Errorf("relationship has no %s reference slot", field)).WithStixID(id)
		}
		if field.IsSingle() {
			obj[RefSlots[field]] = ids[0]
		} else {
			obj[RefSlots[field]] = dedupe(ids)
		}
	}

	native := fieldsByAttr(RelationshipFields)
	for attr, value := range rel.Attributes {
		if f, ok := native[attr]; ok {
			out, present, err := encodeValue(f.Kind, value)
			if err != nil {
				return nil, stixerr.NewMappingError(op, fmt.Errorf("field %s: %w", attr, err)).WithStixID(id)
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
	return obj, nil
}

// RelationshipFromStix converts a STIX relationship object. The id may be
// empty; the importer derives one from the endpoints.
func (m *Mapper) RelationshipFromStix(obj stix.Object) (*RelationshipRecord, error) {
	const op = "Mapper.RelationshipFromStix"
	id := obj.ID()
	if obj.Type() != stix.TypeRelationship {
		return nil, stixerr.NewMappingError(op, fmt.Errorf("%w: %q is not a relationship", stixerr.ErrUnknownType, obj.Type())).WithStixID(id)
	}

	rec := &RelationshipRecord{
		StixID:     id,
		Type:       obj.String("relationship_type"),
		SourceRef:  obj.String("source_ref"),
		TargetRef:  obj.String("target_ref"),
		Attributes: graph.Attributes{},
		Refs:       map[graph.RefField][]string{},
	}
	if rec.Type == "" || rec.SourceRef == "" || rec.TargetRef == "" {
		return nil, stixerr.NewMappingError(op, fmt.Errorf("relationship requires relationship_type, source_ref and target_ref")).WithStixID(id)
	}
	if v, present := obj["confidence"]; present {
		n, ok := stix.ToInt(v)
		if !ok {
			return nil, stixerr.NewMappingError(op, fmt.Errorf("field confidence: expected integer, got %T", v)).WithStixID(id)
		}
		rec.Confidence = &n
	}
	for key, dst := range map[string]**time.Time{"start_time": &rec.StartTime, "stop_time": &rec.StopTime} {
		s := obj.String(key)
		if s == "" {
			continue
		}
		t, err := stix.ParseTime(s)
		if err != nil {
			return nil, stixerr.NewMappingError(op, fmt.Errorf("field %s: %w", key, err)).WithStixID(id)
		}
		*dst = &t
	}

	refs := make(map[string]graph.RefField, len(RelationshipRefs))
	for _, field := range RelationshipRefs {
		refs[RefSlots[field]] = field
	}

	native := fieldsByStix(RelationshipFields)
	for key, value := range obj {
		if _, reserved := reservedFields[key]; reserved {
			continue
		}
		if _, slot := relationshipSlots[key]; slot {
			continue
		}
		if field, isRef := refs[key]; isRef {
			ids, err := decodeRefs(field, value)
			if err != nil {
				return nil, stixerr.NewMappingError(op, fmt.Errorf("field %s: %w", key, err)).WithStixID(id)
			}
			if len(ids) > 0 {
				rec.Refs[field] = ids
			}
			continue
		}
		if f, ok := native[key]; ok {
			out, err := decodeValue(f.Kind, value)
			if err != nil {
				return nil, stixerr.NewMappingError(op, fmt.Errorf("field %s: %w", key, err)).WithStixID(id)
			}
			rec.Attributes[f.Attr] = out
			continue
		}
		if attr, ext := m.extensionAttr(key); ext {
			rec.Attributes[attr] = graph.NormalizeValue(value)
			continue
		}
		rec.Unmapped = append(rec.Unmapped, key)
	}
	if _, present := obj["labels"]; present {
		rec.Unmapped = append(rec.Unmapped, "labels")
	}
	sort.Strings(rec.Unmapped)
	return rec, nil
}

func fieldsByAttr(fields []Field) map[string]Field {
	out := make(map[string]Field, len(fields))
	for _, f := range fields {
		out[f.Attr] = f
	}
	return out
}

func fieldsByStix(fields []Field) map[string]Field {
	out := make(map[string]Field, len(fields))
	for _, f := range fields {
		out[f.stixName()] = f
	}
	return out
}
