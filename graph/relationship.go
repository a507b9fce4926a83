package graph

import (
	"fmt"
	"time"
)

// Relationship is a typed directed edge between two entities.
type Relationship struct {
	// ID is the store-assigned internal identifier.
	ID string `json:"id"`

	// StixID is the stable external identifier ("relationship--<uuid>").
	StixID string `json:"stix_id"`

	// Type is the relationship type (e.g., "uses", "attributed-to").
	Type string `json:"type"`

	// SourceID is the internal id of the source entity.
	SourceID string `json:"source_id"`

	// TargetID is the internal id of the target entity.
	TargetID string `json:"target_id"`

	// Confidence is the optional confidence score (0-100).
	Confidence *int `json:"confidence,omitempty"`

	// StartTime is when the relationship started being valid.
	StartTime *time.Time `json:"start_time,omitempty"`

	// StopTime is when the relationship stopped being valid.
	StopTime *time.Time `json:"stop_time,omitempty"`

	// Attributes holds the remaining properties (description, created, ...).
	Attributes Attributes `json:"attributes,omitempty"`

	// Refs holds created_by and object_marking references by internal id.
	Refs map[RefField][]string `json:"refs,omitempty"`
}

// NewRelationship creates a Relationship with the specified source, target, and type.
func NewRelationship(sourceID, targetID, relType string) *Relationship {
	return &Relationship{
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       relType,
		Attributes: make(Attributes),
	}
}

// WithStixID sets the STIX id and returns the relationship for chaining.
func (r *Relationship) WithStixID(stixID string) *Relationship {
	r.StixID = stixID
	return r
}

// WithConfidence sets the confidence and returns the relationship for chaining.
func (r *Relationship) WithConfidence(c int) *Relationship {
	r.Confidence = &c
	return r
}

// WithTimes sets start and stop times and returns the relationship for chaining.
func (r *Relationship) WithTimes(start, stop time.Time) *Relationship {
	r.StartTime = &start
	r.StopTime = &stop
	return r
}

// WithAttribute sets an attribute and returns the relationship for chaining.
func (r *Relationship) WithAttribute(key string, value any) *Relationship {
	if r.Attributes == nil {
		r.Attributes = make(Attributes)
	}
	r.Attributes[key] = value
	return r
}

// WithRef appends references and returns the relationship for chaining.
// Single valued fields are replaced rather than appended.
func (r *Relationship) WithRef(field RefField, ids ...string) *Relationship {
	if r.Refs == nil {
		r.Refs = make(map[RefField][]string)
	}
	if field.IsSingle() {
		r.Refs[field] = ids[:min(len(ids), 1)]
		return r
	}
	r.Refs[field] = append(r.Refs[field], ids...)
	return r
}

// Clone returns a deep copy of r.
func (r *Relationship) Clone() *Relationship {
	out := *r
	out.Attributes = r.Attributes.Clone()
	out.Refs = CloneRefs(r.Refs)
	if r.Confidence != nil {
		c := *r.Confidence
		out.Confidence = &c
	}
	if r.StartTime != nil {
		t := *r.StartTime
		out.StartTime = &t
	}
	if r.StopTime != nil {
		t := *r.StopTime
		out.StopTime = &t
	}
	return &out
}

// OtherEnd returns the endpoint opposite to id.
func (r *Relationship) OtherEnd(id string) string {
	if r.SourceID == id {
		return r.TargetID
	}
	return r.SourceID
}

// Validate checks that the relationship has all required fields populated.
func (r *Relationship) Validate() error {
	if r.SourceID == "" {
		return fmt.Errorf("relationship SourceID cannot be empty")
	}
	if r.TargetID == "" {
		return fmt.Errorf("relationship TargetID cannot be empty")
	}
	if r.Type == "" {
		return fmt.Errorf("relationship Type cannot be empty")
	}
	if len(r.Refs[RefObject]) > 0 {
		return fmt.Errorf("relationship cannot carry object references")
	}
	return nil
}
