package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/resolve"
	"github.com/zero-day-ai/stixgraph/stix"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

var refOrder = []graph.RefField{graph.RefCreatedBy, graph.RefObjectMarking, graph.RefObject}

// session is the state of a single export call.
type session struct {
	x  *Exporter
	op string

	// visited is keyed by STIX id and covers entities and relationships.
	visited *resolve.Cache
	bundle  *stix.Bundle

	entities map[string]*graph.Entity
	emitted  map[string]struct{}
	rels     []*graph.Relationship

	skipped int
	lastErr error
}

func (x *Exporter) newSession(op string) *session {
	return &session{
		x:        x,
		op:       op,
		visited:  resolve.New(),
		bundle:   stix.NewBundle(x.mapper.SpecVersion()),
		entities: make(map[string]*graph.Entity),
		emitted:  make(map[string]struct{}),
	}
}

func (s *session) remember(e *graph.Entity) {
	s.entities[e.ID] = e
}

// load returns the entity with internal id, reading through to the store once.
func (s *session) load(ctx context.Context, id string) (*graph.Entity, error) {
	if e, ok := s.entities[id]; ok {
		return e, nil
	}
	e, err := s.x.reader.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	s.entities[id] = e
	return e, nil
}

// emit maps e into the bundle once. With includeRefs, referenced entities
// are emitted first.
func (s *session) emit(ctx context.Context, e *graph.Entity, includeRefs bool) error {
	if !s.visited.Claim(e.StixID, e.ID) {
		return nil
	}

	refs := make(map[graph.RefField][]string)
	for _, field := range refOrder {
		for _, id := range e.Refs[field] {
			ref, err := s.load(ctx, id)
			if err != nil {
				if errors.Is(err, stixerr.ErrNotFound) {
					s.x.logger.Warn("dangling reference dropped",
						slog.String("stix_id", e.StixID),
						slog.String("field", string(field)),
						slog.String("ref_id", id),
					)
					continue
				}
				return fmt.Errorf("%s: load %s reference of %s: %w", s.op, field, e.StixID, err)
			}
			if includeRefs {
				if err := s.emit(ctx, ref, true); err != nil {
					return err
				}
			}
			refs[field] = append(refs[field], ref.StixID)
		}
	}

	out := e.Clone()
	out.Refs = refs
	obj, err := s.x.mapper.ToStix(out)
	if err != nil {
		return s.mappingFailed(e.StixID, err)
	}
	s.bundle.Add(obj)
	s.emitted[e.ID] = struct{}{}
	s.x.logger.Debug("object exported", slog.String("stix_id", e.StixID), slog.String("type", string(e.Type)))
	return nil
}

// walk visits the relationship neighbourhood of root breadth-first.
func (s *session) walk(ctx context.Context, root *graph.Entity) error {
	type item struct {
		entity *graph.Entity
		depth  int
	}

	queue := []item{{entity: root}}
	walked := map[string]struct{}{root.ID: {}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := queue[0]
		queue = queue[1:]

		rels, err := s.x.reader.GetRelationships(ctx, cur.entity.ID)
		if err != nil {
			return fmt.Errorf("%s: relationships of %s: %w", s.op, cur.entity.StixID, err)
		}

		for _, rel := range rels {
			other, err := s.load(ctx, rel.OtherEnd(cur.entity.ID))
			if err != nil {
				if errors.Is(err, stixerr.ErrNotFound) {
					s.x.logger.Warn("relationship endpoint missing",
						slog.String("stix_id", rel.StixID),
						slog.String("endpoint_id", rel.OtherEnd(cur.entity.ID)),
					)
					continue
				}
				return fmt.Errorf("%s: load endpoint of %s: %w", s.op, rel.StixID, err)
			}

			if _, ok := walked[other.ID]; !ok {
				if s.x.maxDepth > 0 && cur.depth+1 > s.x.maxDepth {
					if _, included := s.emitted[other.ID]; included {
						s.addRelationship(rel)
					}
					continue
				}
				walked[other.ID] = struct{}{}
				if err := s.emit(ctx, other, true); err != nil {
					return err
				}
				queue = append(queue, item{entity: other, depth: cur.depth + 1})
			}
			s.addRelationship(rel)
		}
	}
	return nil
}

func (s *session) addRelationship(rel *graph.Relationship) {
	key := rel.StixID
	if key == "" {
		key = rel.ID
	}
	if s.visited.Claim(key, rel.ID) {
		s.rels = append(s.rels, rel)
	}
}

// emitRelationships appends relationships whose endpoints are both in the
// bundle, after every entity. Entities the relationships reference are
// emitted first.
func (s *session) emitRelationships(ctx context.Context) error {
	included := make([]*graph.Relationship, 0, len(s.rels))
	for _, rel := range s.rels {
		_, srcOK := s.emitted[rel.SourceID]
		_, tgtOK := s.emitted[rel.TargetID]
		if !srcOK || !tgtOK {
			s.x.logger.Debug("relationship left out, endpoint not exported", slog.String("stix_id", rel.StixID))
			continue
		}
		included = append(included, rel)
	}

	refs := make([]map[graph.RefField][]string, len(included))
	for i, rel := range included {
		out, err := s.relationshipRefs(ctx, rel)
		if err != nil {
			return err
		}
		refs[i] = out
	}

	for i, rel := range included {
		out := rel.Clone()
		out.Refs = refs[i]
		obj, err := s.x.mapper.RelationshipToStix(out, s.entities[rel.SourceID].StixID, s.entities[rel.TargetID].StixID)
		if err != nil {
			if err := s.mappingFailed(rel.StixID, err); err != nil {
				return err
			}
			continue
		}
		s.bundle.Add(obj)
	}
	return nil
}

// relationshipRefs emits the entities rel references and returns its refs
// as STIX ids.
func (s *session) relationshipRefs(ctx context.Context, rel *graph.Relationship) (map[graph.RefField][]string, error) {
	out := make(map[graph.RefField][]string)
	for _, field := range refOrder {
		for _, id := range rel.Refs[field] {
			ref, err := s.load(ctx, id)
			if err != nil {
				if errors.Is(err, stixerr.ErrNotFound) {
					s.x.logger.Warn("dangling reference dropped",
						slog.String("stix_id", rel.StixID),
						slog.String("field", string(field)),
						slog.String("ref_id", id),
					)
					continue
				}
				return nil, fmt.Errorf("%s: load %s reference of %s: %w", s.op, field, rel.StixID, err)
			}
			if err := s.emit(ctx, ref, true); err != nil {
				return nil, err
			}
			out[field] = append(out[field], ref.StixID)
		}
	}
	return out, nil
}

func (s *session) mappingFailed(stixID string, err error) error {
	if s.x.policy == MappingFail {
		return err
	}
	s.skipped++
	s.lastErr = err
	s.x.logger.Warn("object skipped, mapping failed",
		slog.String("stix_id", stixID),
		slog.String("error", err.Error()),
	)
	return nil
}
