package graph

import "context"

// Reader is the read side of the graph store.
//
// Implementations return an error wrapping stixerr.ErrNotFound when a
// lookup by id finds nothing.
type Reader interface {
	// GetEntity returns the entity with the given internal id.
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// FindEntityByStixID returns the entity with the given STIX id.
	FindEntityByStixID(ctx context.Context, stixID string) (*Entity, error)

	// ListEntities returns the entities of type t that satisfy filter, in a
	// stable order.
	ListEntities(ctx context.Context, t EntityType, filter Filter) ([]*Entity, error)

	// GetRelationships returns every relationship that has entityID as source
	// or target, in a stable order.
	GetRelationships(ctx context.Context, entityID string) ([]*Relationship, error)

	// FindRelationship returns the relationship with the given STIX id.
	FindRelationship(ctx context.Context, stixID string) (*Relationship, error)

	// FindRelationshipByEnds returns a relationship matching the
	// (source, target, type) triple.
	FindRelationshipByEnds(ctx context.Context, sourceID, targetID, relType string) (*Relationship, error)
}

// UpsertMode selects how writes treat an existing record with the same STIX id.
type UpsertMode int

const (
	// CreateIfAbsent leaves an existing record untouched.
	CreateIfAbsent UpsertMode = iota

	// Upsert overwrites the attributes of an existing record.
	Upsert
)

// Outcome reports what a write did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// WriteResult is returned by Writer operations.
type WriteResult struct {
	// ID is the internal id of the written (or pre-existing) record.
	ID string

	// Outcome reports whether the record was created, updated or left as is.
	Outcome Outcome
}

// EntityInput carries everything needed to write an entity.
// Refs hold internal ids.
type EntityInput struct {
	StixID     string
	Type       EntityType
	Attributes Attributes
	Labels     []string
	Refs       map[RefField][]string
}

// RelationshipInput carries everything needed to write a relationship.
type RelationshipInput struct {
	Relationship
}

// Writer is the write side of the graph store.
type Writer interface {
	// UpsertEntity writes the entity keyed by its STIX id.
	UpsertEntity(ctx context.Context, in EntityInput, mode UpsertMode) (WriteResult, error)

	// PatchEntityRefs adds references to an existing entity.
	PatchEntityRefs(ctx context.Context, id string, refs map[RefField][]string) error

	// CreateRelationship writes the relationship keyed by its STIX id.
	CreateRelationship(ctx context.Context, in RelationshipInput, mode UpsertMode) (WriteResult, error)
}

// Store combines Reader and Writer.
type Store interface {
	Reader
	Writer
}
