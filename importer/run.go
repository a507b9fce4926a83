package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/mapping"
	"github.com/zero-day-ai/stixgraph/resolve"
	"github.com/zero-day-ai/stixgraph/stix"
	"github.com/zero-day-ai/stixgraph/stixerr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var refOrder = []graph.RefField{graph.RefCreatedBy, graph.RefObjectMarking, graph.RefObject}

// run is the state of one ImportBundle call.
type run struct {
	im     *Importer
	update bool
	mode   graph.UpsertMode
	cache  *resolve.Cache
	plan   *plan

	mu     sync.Mutex
	result *Result
}

func newRun(im *Importer, updateExisting bool) *run {
	return &run{
		im:     im,
		update: updateExisting,
		mode:   im.upsertMode(updateExisting),
		cache:  resolve.New(),
		plan:   newPlan(nil),
		result: newResult(),
	}
}

func (r *run) execute(ctx context.Context, op string, b *stix.Bundle) error {
	if err := validateBundle(op, b); err != nil {
		return err
	}

	entities, rels, err := r.partition(b)
	if err != nil {
		return err
	}

	r.plan = newPlan(entities)
	for wave, nodes := 0, r.plan.next(); nodes != nil; wave, nodes = wave+1, r.plan.next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runWave(ctx, wave, nodes); err != nil {
			return err
		}
		r.plan.complete(nodes)
	}

	if err := r.patchDeferred(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.importRelationships(ctx, rels)
}

// partition maps every object and splits entities from relationships.
// It only returns an error under UnknownTypeFail.
func (r *run) partition(b *stix.Bundle) ([]*mapping.Record, []*mapping.RelationshipRecord, error) {
	var (
		entities []*mapping.Record
		rels     []*mapping.RelationshipRecord
		seen     = make(map[string]struct{}, len(b.Objects))
	)

	for _, obj := range b.Objects {
		if obj.Type() == stix.TypeRelationship {
			rec, err := r.im.mapper.RelationshipFromStix(obj)
			if err != nil {
				r.fail(obj.ID(), obj.Type(), err)
				continue
			}
			r.unmapped(relationshipID(rec), rec.Unmapped)
			rels = append(rels, rec)
			continue
		}

		rec, err := r.im.mapper.FromStix(obj)
		if err != nil {
			r.fail(obj.ID(), obj.Type(), err)
			if errors.Is(err, stixerr.ErrUnknownType) && r.im.unknownTypes == UnknownTypeFail {
				return nil, nil, err
			}
			continue
		}
		if _, dup := seen[rec.StixID]; dup {
			r.fail(rec.StixID, obj.Type(), stixerr.NewMappingError("Importer.partition",
				fmt.Errorf("duplicate object id in bundle")).WithStixID(rec.StixID))
			continue
		}
		seen[rec.StixID] = struct{}{}
		r.unmapped(rec.StixID, rec.Unmapped)
		entities = append(entities, rec)
	}
	return entities, rels, nil
}

func (r *run) runWave(ctx context.Context, wave int, nodes []*node) error {
	ctx, span := r.im.tracer.Start(ctx, "stixgraph.import_wave", trace.WithAttributes(
		attribute.Int("stixgraph.wave", wave),
		attribute.Int("stixgraph.size", len(nodes)),
	))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.im.concurrency)
	for _, n := range nodes {
		if len(n.deferred) > 0 {
			span.SetAttributes(attribute.Int("stixgraph.deferred_refs", len(n.deferred)))
			r.im.logger.Debug("cycle broken, references deferred",
				slog.String("stix_id", n.rec.StixID),
				slog.Int("deferred", len(n.deferred)),
			)
		}
		g.Go(func() error {
			return r.importEntity(gctx, n)
		})
	}
	err := g.Wait()
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *run) importEntity(ctx context.Context, n *node) error {
	const op = "Importer.importEntity"
	rec := n.rec
	if err := ctx.Err(); err != nil {
		return err
	}

	refs, err := r.translateRefs(ctx, rec, n.deferred)
	if err != nil {
		return r.objectError(ctx, op, rec.StixID, string(rec.Type), err)
	}
	in := graph.EntityInput{
		StixID:     rec.StixID,
		Type:       rec.Type,
		Attributes: rec.Attributes,
		Labels:     rec.Labels,
		Refs:       refs,
	}

	entry, err := r.cache.Resolve(ctx, rec.StixID, func(ctx context.Context) (resolve.Entry, error) {
		if !r.update {
			existing, err := r.im.store.FindEntityByStixID(ctx, rec.StixID)
			if err == nil {
				return resolve.Entry{InternalID: existing.ID, State: resolve.Resolved}, nil
			}
			if !errors.Is(err, stixerr.ErrNotFound) {
				return resolve.Entry{}, err
			}
		}
		wr, err := r.im.store.UpsertEntity(ctx, in, r.mode)
		if err != nil {
			return resolve.Entry{}, err
		}
		return entryFor(wr), nil
	})
	if err != nil {
		return r.objectError(ctx, op, rec.StixID, string(rec.Type), err)
	}
	r.settled(ctx, "entity", rec.StixID, entry)
	return nil
}

// translateRefs converts STIX refs into internal ids. Deferred refs are left
// out; unknown refs are reported and left out.
func (r *run) translateRefs(ctx context.Context, rec *mapping.Record, deferred map[string]struct{}) (map[graph.RefField][]string, error) {
	out := make(map[graph.RefField][]string)
	for _, field := range refOrder {
		for _, ref := range rec.Refs[field] {
			if _, later := deferred[ref]; later {
				continue
			}
			id, ok, err := r.resolveRef(ctx, ref)
			if err != nil {
				return nil, err
			}
			if !ok {
				r.skip(rec.StixID, mapping.RefSlots[field], ref)
				continue
			}
			out[field] = append(out[field], id)
		}
	}
	return out, nil
}

// resolveRef finds the internal id of stixID in the cache or the store.
// An in-bundle object that could not be written counts as unresolved.
func (r *run) resolveRef(ctx context.Context, stixID string) (string, bool, error) {
	if id, ok := r.cache.InternalID(stixID); ok {
		return id, true, nil
	}
	if r.plan.contains(stixID) {
		return "", false, nil
	}

	entry, err := r.cache.Resolve(ctx, stixID, func(ctx context.Context) (resolve.Entry, error) {
		e, err := r.im.store.FindEntityByStixID(ctx, stixID)
		if err != nil {
			return resolve.Entry{}, err
		}
		return resolve.Entry{InternalID: e.ID, State: resolve.Resolved}, nil
	})
	if err != nil {
		if errors.Is(err, stixerr.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return entry.InternalID, entry.Done(), nil
}

// patchDeferred adds the references deferred to break cycles, on entities
// written by this call.
func (r *run) patchDeferred(ctx context.Context) error {
	const op = "Importer.patchDeferred"

	for _, n := range r.plan.deferredNodes() {
		entry, ok := r.cache.Get(n.rec.StixID)
		if !ok || (entry.State != resolve.Created && entry.State != resolve.Updated) {
			continue
		}

		refs := make(map[graph.RefField][]string)
		for _, field := range refOrder {
			for _, ref := range n.rec.Refs[field] {
				if _, wasDeferred := n.deferred[ref]; !wasDeferred {
					continue
				}
				id, ok := r.cache.InternalID(ref)
				if !ok {
					r.skip(n.rec.StixID, mapping.RefSlots[field], ref)
					continue
				}
				refs[field] = append(refs[field], id)
			}
		}
		if len(refs) == 0 {
			continue
		}
		if err := r.im.store.PatchEntityRefs(ctx, entry.InternalID, refs); err != nil {
			if err := r.objectError(ctx, op, n.rec.StixID, string(n.rec.Type), err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) importRelationships(ctx context.Context, rels []*mapping.RelationshipRecord) error {
	if len(rels) == 0 {
		return nil
	}
	ctx, span := r.im.tracer.Start(ctx, "stixgraph.import_relationships", trace.WithAttributes(
		attribute.Int("stixgraph.size", len(rels)),
	))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.im.concurrency)
	for _, rec := range rels {
		g.Go(func() error {
			return r.importRelationship(gctx, rec)
		})
	}
	err := g.Wait()
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *run) importRelationship(ctx context.Context, rec *mapping.RelationshipRecord) error {
	const op = "Importer.importRelationship"
	if err := ctx.Err(); err != nil {
		return err
	}

	stixID := relationshipID(rec)
	derived := rec.StixID == ""

	src, srcOK, err := r.resolveRef(ctx, rec.SourceRef)
	if err != nil {
		return r.objectError(ctx, op, stixID, stix.TypeRelationship, err)
	}
	tgt, tgtOK, err := r.resolveRef(ctx, rec.TargetRef)
	if err != nil {
		return r.objectError(ctx, op, stixID, stix.TypeRelationship, err)
	}
	if !srcOK {
		r.skip(stixID, "source_ref", rec.SourceRef)
	}
	if !tgtOK {
		r.skip(stixID, "target_ref", rec.TargetRef)
	}
	if !srcOK || !tgtOK {
		r.im.metrics.object(ctx, "relationship", "skipped")
		return nil
	}

	refs := make(map[graph.RefField][]string)
	for _, field := range mapping.RelationshipRefs {
		for _, ref := range rec.Refs[field] {
			id, ok, err := r.resolveRef(ctx, ref)
			if err != nil {
				return r.objectError(ctx, op, stixID, stix.TypeRelationship, err)
			}
			if !ok {
				r.skip(stixID, mapping.RefSlots[field], ref)
				continue
			}
			refs[field] = append(refs[field], id)
		}
	}

	rel := rec.Relationship(src, tgt)
	rel.StixID = stixID
	if len(refs) > 0 {
		rel.Refs = refs
	}

	entry, err := r.cache.Resolve(ctx, stixID, func(ctx context.Context) (resolve.Entry, error) {
		var (
			existing *graph.Relationship
			err      error
		)
		if derived {
			existing, err = r.im.store.FindRelationshipByEnds(ctx, src, tgt, rec.Type)
		} else {
			existing, err = r.im.store.FindRelationship(ctx, stixID)
		}
		switch {
		case err == nil && !r.update:
			return resolve.Entry{InternalID: existing.ID, State: resolve.Resolved}, nil
		case err == nil:
			rel.StixID = existing.StixID
		case !errors.Is(err, stixerr.ErrNotFound):
			return resolve.Entry{}, err
		}

		wr, err := r.im.store.CreateRelationship(ctx, graph.RelationshipInput{Relationship: *rel}, r.mode)
		if err != nil {
			return resolve.Entry{}, err
		}
		return entryFor(wr), nil
	})
	if err != nil {
		return r.objectError(ctx, op, stixID, stix.TypeRelationship, err)
	}
	r.settled(ctx, "relationship", stixID, entry)
	return nil
}

// objectError records a per-object failure. It returns the error only when
// it must abort the import.
func (r *run) objectError(ctx context.Context, op, stixID, objType string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	werr := err
	if stixerr.KindOf(err) == "" {
		werr = stixerr.NewWriteFailureError(op, err).WithStixID(stixID)
	}
	r.fail(stixID, objType, werr)
	if stixerr.IsFatal(werr) {
		return werr
	}
	return nil
}

func (r *run) fail(stixID, objType string, err error) {
	kind := stixerr.KindOf(err)
	if kind == "" {
		kind = stixerr.KindWriteFailure
	}

	r.mu.Lock()
	r.result.Failures = append(r.result.Failures, Failure{
		StixID: stixID,
		Type:   objType,
		Kind:   kind,
		Reason: err.Error(),
	})
	r.mu.Unlock()

	r.im.metrics.object(context.Background(), objType, "failed")
	r.im.logger.Warn("object not imported",
		slog.String("stix_id", stixID),
		slog.String("type", objType),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
}

func (r *run) skip(stixID, field, ref string) {
	r.mu.Lock()
	r.result.SkippedRefs = append(r.result.SkippedRefs, SkippedRef{StixID: stixID, Field: field, Ref: ref})
	r.mu.Unlock()

	r.im.logger.Warn("unresolved reference skipped",
		slog.String("stix_id", stixID),
		slog.String("field", field),
		slog.String("ref", ref),
	)
}

// unmapped records fields of stixID that have no slot in the graph model.
func (r *run) unmapped(stixID string, fields []string) {
	if len(fields) == 0 {
		return
	}
	r.mu.Lock()
	r.result.Unmapped = append(r.result.Unmapped, UnmappedFields{StixID: stixID, Fields: fields})
	r.mu.Unlock()

	r.im.logger.Debug("fields without a graph slot ignored",
		slog.String("stix_id", stixID),
		slog.Any("fields", fields),
	)
}

// collectSettled adds writes that completed without being recorded, which
// happens when the deadline passes while a write is in flight.
func (r *run) collectSettled() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, stixID := range r.cache.StixIDs(resolve.Created, resolve.Updated) {
		if _, ok := r.result.IDs[stixID]; ok {
			continue
		}
		entry, ok := r.cache.Get(stixID)
		if !ok {
			continue
		}
		r.result.IDs[stixID] = entry.InternalID
		if entry.State == resolve.Created {
			r.result.CreatedIDs = append(r.result.CreatedIDs, entry.InternalID)
		} else {
			r.result.UpdatedIDs = append(r.result.UpdatedIDs, entry.InternalID)
		}
	}
}

func (r *run) settled(ctx context.Context, kind, stixID string, entry resolve.Entry) {
	r.mu.Lock()
	if _, dup := r.result.IDs[stixID]; dup {
		r.mu.Unlock()
		return
	}
	r.result.IDs[stixID] = entry.InternalID
	switch entry.State {
	case resolve.Created:
		r.result.CreatedIDs = append(r.result.CreatedIDs, entry.InternalID)
	case resolve.Updated:
		r.result.UpdatedIDs = append(r.result.UpdatedIDs, entry.InternalID)
	}
	r.mu.Unlock()

	r.im.metrics.object(ctx, kind, entry.State.String())
	r.im.logger.Debug("object imported",
		slog.String("stix_id", stixID),
		slog.String("id", entry.InternalID),
		slog.String("state", entry.State.String()),
	)
}

// relationshipID returns the STIX id of rec, derived from its endpoints when
// the object has none.
func relationshipID(rec *mapping.RelationshipRecord) string {
	if rec.StixID != "" {
		return rec.StixID
	}
	return stix.DeterministicID(stix.TypeRelationship, rec.SourceRef, rec.TargetRef, rec.Type)
}

func entryFor(wr graph.WriteResult) resolve.Entry {
	e := resolve.Entry{InternalID: wr.ID, State: resolve.Resolved}
	switch wr.Outcome {
	case graph.OutcomeCreated:
		e.State = resolve.Created
	case graph.OutcomeUpdated:
		e.State = resolve.Updated
	}
	return e
}
