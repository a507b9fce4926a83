// Package memstore provides an in-memory graph store implementing
// graph.Reader and graph.Writer. It backs tests and one-shot CLI runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

// WriteHook is called before every write with the STIX id being written.
// A non-nil error aborts the write and is returned to the caller.
type WriteHook func(stixID string) error

// Option configures a Store.
type Option func(*Store)

// WithWriteHook installs a hook that can veto writes.
func WithWriteHook(hook WriteHook) Option {
	return func(s *Store) {
		s.hook = hook
	}
}

// Store is a thread-safe in-memory graph store.
type Store struct {
	mu sync.RWMutex

	entities     map[string]*graph.Entity
	entityByStix map[string]string
	entityOrder  []string

	rels      map[string]*graph.Relationship
	relByStix map[string]string
	relByEnds map[string]string
	adjacency map[string][]string

	hook WriteHook
}

var _ graph.Store = (*Store)(nil)

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entities:     make(map[string]*graph.Entity),
		entityByStix: make(map[string]string),
		rels:         make(map[string]*graph.Relationship),
		relByStix:    make(map[string]string),
		relByEnds:    make(map[string]string),
		adjacency:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetEntity returns the entity with the given internal id.
func (s *Store) GetEntity(_ context.Context, id string) (*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, stixerr.ErrNotFound)
	}
	return e.Clone(), nil
}

// FindEntityByStixID returns the entity with the given STIX id.
func (s *Store) FindEntityByStixID(_ context.Context, stixID string) (*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.entityByStix[stixID]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", stixID, stixerr.ErrNotFound)
	}
	return s.entities[id].Clone(), nil
}

// ListEntities returns matching entities in insertion order.
func (s *Store) ListEntities(_ context.Context, t graph.EntityType, filter graph.Filter) ([]*graph.Entity, error) {
	matcher, err := filter.Compile()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graph.Entity
	for _, id := range s.entityOrder {
		e := s.entities[id]
		if t != "" && e.Type != t {
			continue
		}
		ok, err := matcher.Match(e)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// GetRelationships returns the relationships touching entityID in insertion order.
func (s *Store) GetRelationships(_ context.Context, entityID string) ([]*graph.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[entityID]; !ok {
		return nil, fmt.Errorf("entity %s: %w", entityID, stixerr.ErrNotFound)
	}
	ids := s.adjacency[entityID]
	out := make([]*graph.Relationship, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.rels[id].Clone())
	}
	return out, nil
}

// FindRelationship returns the relationship with the given STIX id.
func (s *Store) FindRelationship(_ context.Context, stixID string) (*graph.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.relByStix[stixID]
	if !ok {
		return nil, fmt.Errorf("relationship %s: %w", stixID, stixerr.ErrNotFound)
	}
	return s.rels[id].Clone(), nil
}

// FindRelationshipByEnds returns the relationship matching the triple.
func (s *Store) FindRelationshipByEnds(_ context.Context, sourceID, targetID, relType string) (*graph.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.relByEnds[endsKey(sourceID, targetID, relType)]
	if !ok {
		return nil, fmt.Errorf("relationship %s-[%s]->%s: %w", sourceID, relType, targetID, stixerr.ErrNotFound)
	}
	return s.rels[id].Clone(), nil
}

// UpsertEntity writes the entity keyed by its STIX id.
func (s *Store) UpsertEntity(_ context.Context, in graph.EntityInput, mode graph.UpsertMode) (graph.WriteResult, error) {
	if in.StixID == "" {
		return graph.WriteResult{}, fmt.Errorf("entity stix id is required")
	}
	if err := s.runHook(in.StixID); err != nil {
		return graph.WriteResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRefs(in.Refs); err != nil {
		return graph.WriteResult{}, err
	}

	if id, ok := s.entityByStix[in.StixID]; ok {
		if mode == graph.CreateIfAbsent {
			return graph.WriteResult{ID: id, Outcome: graph.OutcomeUnchanged}, nil
		}
		s.entities[id].ApplyInput(in)
		return graph.WriteResult{ID: id, Outcome: graph.OutcomeUpdated}, nil
	}

	id := uuid.NewString()
	s.entities[id] = graph.EntityFromInput(id, in)
	s.entityByStix[in.StixID] = id
	s.entityOrder = append(s.entityOrder, id)
	return graph.WriteResult{ID: id, Outcome: graph.OutcomeCreated}, nil
}

// PatchEntityRefs adds references to an existing entity.
func (s *Store) PatchEntityRefs(_ context.Context, id string, refs map[graph.RefField][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("entity %s: %w", id, stixerr.ErrNotFound)
	}
	if err := s.runHook(e.StixID); err != nil {
		return err
	}
	if err := s.checkRefs(refs); err != nil {
		return err
	}
	e.Refs = graph.MergeRefs(e.Refs, refs)
	return nil
}

// CreateRelationship writes the relationship keyed by its STIX id.
func (s *Store) CreateRelationship(_ context.Context, in graph.RelationshipInput, mode graph.UpsertMode) (graph.WriteResult, error) {
	if err := in.Validate(); err != nil {
		return graph.WriteResult{}, err
	}
	if in.StixID == "" {
		return graph.WriteResult{}, fmt.Errorf("relationship stix id is required")
	}
	if err := s.runHook(in.StixID); err != nil {
		return graph.WriteResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, end := range []string{in.SourceID, in.TargetID} {
		if _, ok := s.entities[end]; !ok {
			return graph.WriteResult{}, fmt.Errorf("relationship endpoint %s: %w", end, stixerr.ErrNotFound)
		}
	}
	if err := s.checkRefs(in.Refs); err != nil {
		return graph.WriteResult{}, err
	}

	if id, ok := s.relByStix[in.StixID]; ok {
		if mode == graph.CreateIfAbsent {
			return graph.WriteResult{ID: id, Outcome: graph.OutcomeUnchanged}, nil
		}
		existing := s.rels[id]
		existing.Confidence = in.Confidence
		existing.StartTime = in.StartTime
		existing.StopTime = in.StopTime
		if existing.Attributes == nil {
			existing.Attributes = make(graph.Attributes)
		}
		existing.Attributes.Merge(in.Attributes.Clone())
		existing.Refs = graph.MergeRefs(existing.Refs, in.Refs)
		return graph.WriteResult{ID: id, Outcome: graph.OutcomeUpdated}, nil
	}

	rel := in.Relationship.Clone()
	rel.ID = uuid.NewString()
	s.rels[rel.ID] = rel
	s.relByStix[rel.StixID] = rel.ID
	s.relByEnds[endsKey(rel.SourceID, rel.TargetID, rel.Type)] = rel.ID
	s.adjacency[rel.SourceID] = append(s.adjacency[rel.SourceID], rel.ID)
	if rel.TargetID != rel.SourceID {
		s.adjacency[rel.TargetID] = append(s.adjacency[rel.TargetID], rel.ID)
	}
	return graph.WriteResult{ID: rel.ID, Outcome: graph.OutcomeCreated}, nil
}

// EntityCount returns the number of stored entities.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// RelationshipCount returns the number of stored relationships.
func (s *Store) RelationshipCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rels)
}

// StixIDs returns the STIX ids of all entities and relationships, sorted.
func (s *Store) StixIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entityByStix)+len(s.relByStix))
	for id := range s.entityByStix {
		ids = append(ids, id)
	}
	for id := range s.relByStix {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) runHook(stixID string) error {
	if s.hook == nil {
		return nil
	}
	return s.hook(stixID)
}

func (s *Store) checkRefs(refs map[graph.RefField][]string) error {
	for field, ids := range refs {
		for _, id := range ids {
			if _, ok := s.entities[id]; !ok {
				return fmt.Errorf("%s reference %s: %w", field, id, stixerr.ErrNotFound)
			}
		}
	}
	return nil
}

func endsKey(sourceID, targetID, relType string) string {
	return sourceID + "|" + relType + "|" + targetID
}
