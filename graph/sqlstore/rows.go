package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

const relSelect = `SELECT id, stix_id, type, source_id, target_id, confidence, start_time, stop_time, attributes FROM relationships`

// refTable names a reference table and its owner column.
type refTable struct {
	name  string
	owner string
}

var (
	entityRefs       = refTable{name: "entity_refs", owner: "entity_id"}
	relationshipRefs = refTable{name: "relationship_refs", owner: "relationship_id"}
)

type scanner interface {
	Scan(dest ...any) error
}

func getEntity(ctx context.Context, q querier, column, value string) (*graph.Entity, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, stix_id, type, attributes, labels FROM entities WHERE `+column+` = ?`, value)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", value, stixerr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if e.Refs, err = loadRefs(ctx, q, entityRefs, e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

// getRelationship returns the first relationship matching where, with refs.
func getRelationship(ctx context.Context, q querier, where string, args ...any) (*graph.Relationship, error) {
	rel, err := scanRelationship(q.QueryRowContext(ctx, relSelect+` WHERE `+where, args...))
	if err != nil {
		return nil, err
	}
	if rel.Refs, err = loadRefs(ctx, q, relationshipRefs, rel.ID); err != nil {
		return nil, err
	}
	return rel, nil
}

func scanEntity(row scanner) (*graph.Entity, error) {
	var (
		id, stixID, typ string
		attrs, labels   []byte
	)
	if err := row.Scan(&id, &stixID, &typ, &attrs, &labels); err != nil {
		return nil, err
	}

	e := &graph.Entity{ID: id, StixID: stixID, Type: graph.EntityType(typ)}
	var err error
	if e.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, err
	}
	if e.Labels, err = decodeLabels(labels); err != nil {
		return nil, err
	}
	return e, nil
}

func scanRelationship(row scanner) (*graph.Relationship, error) {
	var (
		rel         graph.Relationship
		confidence  sql.NullInt64
		start, stop sql.NullString
		attrs       []byte
	)
	if err := row.Scan(&rel.ID, &rel.StixID, &rel.Type, &rel.SourceID, &rel.TargetID, &confidence, &start, &stop, &attrs); err != nil {
		return nil, err
	}
	if confidence.Valid {
		c := int(confidence.Int64)
		rel.Confidence = &c
	}
	for _, pair := range []struct {
		src sql.NullString
		dst **time.Time
	}{{start, &rel.StartTime}, {stop, &rel.StopTime}} {
		if !pair.src.Valid {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, pair.src.String)
		if err != nil {
			return nil, fmt.Errorf("decode relationship time: %w", err)
		}
		t = t.UTC()
		*pair.dst = &t
	}
	var err error
	if rel.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, err
	}
	return &rel, nil
}

func entityExists(ctx context.Context, q querier, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("entity %s: %w", id, stixerr.ErrNotFound)
	}
	return err
}

func checkRefs(ctx context.Context, q querier, refs map[graph.RefField][]string) error {
	for field, ids := range refs {
		for _, id := range ids {
			if err := entityExists(ctx, q, id); err != nil {
				return fmt.Errorf("%s reference: %w", field, err)
			}
		}
	}
	return nil
}

func loadRefs(ctx context.Context, q querier, t refTable, ownerID string) (map[graph.RefField][]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT field, ref_id FROM `+t.name+` WHERE `+t.owner+` = ? ORDER BY field, position`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refs: %w", err)
	}
	defer rows.Close()

	var refs map[graph.RefField][]string
	for rows.Next() {
		var field, refID string
		if err := rows.Scan(&field, &refID); err != nil {
			return nil, fmt.Errorf("failed to scan ref: %w", err)
		}
		if refs == nil {
			refs = make(map[graph.RefField][]string)
		}
		refs[graph.RefField(field)] = append(refs[graph.RefField(field)], refID)
	}
	return refs, rows.Err()
}

func replaceRefs(ctx context.Context, tx *sql.Tx, t refTable, ownerID string, refs map[graph.RefField][]string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE `+t.owner+` = ?`, ownerID); err != nil {
		return fmt.Errorf("failed to clear refs: %w", err)
	}
	for field, ids := range refs {
		for pos, id := range ids {
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO `+t.name+` (`+t.owner+`, field, position, ref_id) VALUES (?, ?, ?, ?)`,
				ownerID, string(field), pos, id)
			if err != nil {
				return fmt.Errorf("failed to insert ref: %w", err)
			}
		}
	}
	return nil
}

func insertEntity(ctx context.Context, tx *sql.Tx, e *graph.Entity) error {
	attrs, err := encodeAttributes(e.Attributes)
	if err != nil {
		return err
	}
	labels, err := encodeLabels(e.Labels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entities (id, stix_id, type, attributes, labels) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.StixID, string(e.Type), attrs, labels)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	return replaceRefs(ctx, tx, entityRefs, e.ID, e.Refs)
}

func updateEntity(ctx context.Context, tx *sql.Tx, e *graph.Entity) error {
	attrs, err := encodeAttributes(e.Attributes)
	if err != nil {
		return err
	}
	labels, err := encodeLabels(e.Labels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE entities SET attributes = ?, labels = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		attrs, labels, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	return replaceRefs(ctx, tx, entityRefs, e.ID, e.Refs)
}
