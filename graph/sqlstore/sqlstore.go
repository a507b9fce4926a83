// Package sqlstore provides a SQLite-backed graph store implementing
// graph.Reader and graph.Writer.
//
// Entities and relationships live in two tables keyed by internal id with a
// unique STIX id column. Attributes are stored as a JSON document whose
// values carry a shape tag, so time.Time, int and []string values come back
// with the type they were written with. References are rows of entity_refs
// ordered by position.
//
// The database runs in WAL mode with a single open connection; SQLite only
// supports one writer at a time.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - entities, entity_refs, relationships
const currentSchemaVersion = 2

// Store is a SQLite graph store.
type Store struct {
	db *sql.DB
}

var _ graph.Store = (*Store)(nil)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens the database at path. Use ":memory:" for a
// throwaway database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: a single writer, and ":memory:" databases are
	// per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// GetEntity returns the entity with the given internal id.
func (s *Store) GetEntity(ctx context.Context, id string) (*graph.Entity, error) {
	return getEntity(ctx, s.db, "id", id)
}

// FindEntityByStixID returns the entity with the given STIX id.
func (s *Store) FindEntityByStixID(ctx context.Context, stixID string) (*graph.Entity, error) {
	return getEntity(ctx, s.db, "stix_id", stixID)
}

// ListEntities returns matching entities in insertion order.
func (s *Store) ListEntities(ctx context.Context, t graph.EntityType, filter graph.Filter) ([]*graph.Entity, error) {
	matcher, err := filter.Compile()
	if err != nil {
		return nil, err
	}

	query := `SELECT id, stix_id, type, attributes, labels FROM entities`
	var args []any
	if t != "" {
		query += ` WHERE type = ?`
		args = append(args, string(t))
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	var entities []*graph.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var out []*graph.Entity
	for _, e := range entities {
		if e.Refs, err = loadRefs(ctx, s.db, entityRefs, e.ID); err != nil {
			return nil, err
		}
		ok, err := matcher.Match(e)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetRelationships returns the relationships touching entityID in insertion order.
func (s *Store) GetRelationships(ctx context.Context, entityID string) ([]*graph.Relationship, error) {
	if err := entityExists(ctx, s.db, entityID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, relSelect+` WHERE source_id = ? OR target_id = ? ORDER BY rowid`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	var out []*graph.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Refs are loaded after the cursor is closed; the pool has one connection.
	for _, rel := range out {
		if rel.Refs, err = loadRefs(ctx, s.db, relationshipRefs, rel.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindRelationship returns the relationship with the given STIX id.
func (s *Store) FindRelationship(ctx context.Context, stixID string) (*graph.Relationship, error) {
	rel, err := getRelationship(ctx, s.db, `stix_id = ?`, stixID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationship %s: %w", stixID, stixerr.ErrNotFound)
	}
	return rel, err
}

// FindRelationshipByEnds returns a relationship matching the triple.
func (s *Store) FindRelationshipByEnds(ctx context.Context, sourceID, targetID, relType string) (*graph.Relationship, error) {
	rel, err := getRelationship(ctx, s.db,
		`source_id = ? AND target_id = ? AND type = ? ORDER BY rowid LIMIT 1`,
		sourceID, targetID, relType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationship %s-[%s]->%s: %w", sourceID, relType, targetID, stixerr.ErrNotFound)
	}
	return rel, err
}

// UpsertEntity writes the entity keyed by its STIX id.
func (s *Store) UpsertEntity(ctx context.Context, in graph.EntityInput, mode graph.UpsertMode) (graph.WriteResult, error) {
	if in.StixID == "" {
		return graph.WriteResult{}, fmt.Errorf("entity stix id is required")
	}

	var res graph.WriteResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkRefs(ctx, tx, in.Refs); err != nil {
			return err
		}

		existing, err := getEntity(ctx, tx, "stix_id", in.StixID)
		switch {
		case err == nil && mode == graph.CreateIfAbsent:
			res = graph.WriteResult{ID: existing.ID, Outcome: graph.OutcomeUnchanged}
			return nil

		case err == nil:
			existing.ApplyInput(in)
			if err := updateEntity(ctx, tx, existing); err != nil {
				return err
			}
			res = graph.WriteResult{ID: existing.ID, Outcome: graph.OutcomeUpdated}
			return nil

		case !errors.Is(err, stixerr.ErrNotFound):
			return err
		}

		e := graph.EntityFromInput(uuid.NewString(), in)
		if err := insertEntity(ctx, tx, e); err != nil {
			return err
		}
		res = graph.WriteResult{ID: e.ID, Outcome: graph.OutcomeCreated}
		return nil
	})
	return res, err
}

// PatchEntityRefs adds references to an existing entity.
func (s *Store) PatchEntityRefs(ctx context.Context, id string, refs map[graph.RefField][]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := entityExists(ctx, tx, id); err != nil {
			return err
		}
		if err := checkRefs(ctx, tx, refs); err != nil {
			return err
		}
		current, err := loadRefs(ctx, tx, entityRefs, id)
		if err != nil {
			return err
		}
		return replaceRefs(ctx, tx, entityRefs, id, graph.MergeRefs(current, refs))
	})
}

// CreateRelationship writes the relationship keyed by its STIX id.
func (s *Store) CreateRelationship(ctx context.Context, in graph.RelationshipInput, mode graph.UpsertMode) (graph.WriteResult, error) {
	if err := in.Validate(); err != nil {
		return graph.WriteResult{}, err
	}
	if in.StixID == "" {
		return graph.WriteResult{}, fmt.Errorf("relationship stix id is required")
	}
	attrs, err := encodeAttributes(in.Attributes)
	if err != nil {
		return graph.WriteResult{}, err
	}

	var res graph.WriteResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, end := range []string{in.SourceID, in.TargetID} {
			if err := entityExists(ctx, tx, end); err != nil {
				return fmt.Errorf("relationship endpoint: %w", err)
			}
		}
		if err := checkRefs(ctx, tx, in.Refs); err != nil {
			return err
		}

		existing, err := getRelationship(ctx, tx, `stix_id = ?`, in.StixID)
		switch {
		case err == nil && mode == graph.CreateIfAbsent:
			res = graph.WriteResult{ID: existing.ID, Outcome: graph.OutcomeUnchanged}
			return nil

		case err == nil:
			merged := existing.Attributes
			if merged == nil {
				merged = make(graph.Attributes)
			}
			merged.Merge(in.Attributes.Clone())
			mergedJSON, err := encodeAttributes(merged)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE relationships SET confidence = ?, start_time = ?, stop_time = ?, attributes = ? WHERE id = ?`,
				nullInt(in.Confidence), nullTime(in.StartTime), nullTime(in.StopTime), mergedJSON, existing.ID)
			if err != nil {
				return fmt.Errorf("failed to update relationship: %w", err)
			}
			if err := replaceRefs(ctx, tx, relationshipRefs, existing.ID, graph.MergeRefs(existing.Refs, in.Refs)); err != nil {
				return err
			}
			res = graph.WriteResult{ID: existing.ID, Outcome: graph.OutcomeUpdated}
			return nil

		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		id := uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO relationships (id, stix_id, type, source_id, target_id, confidence, start_time, stop_time, attributes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, in.StixID, in.Type, in.SourceID, in.TargetID,
			nullInt(in.Confidence), nullTime(in.StartTime), nullTime(in.StopTime), attrs)
		if err != nil {
			return fmt.Errorf("failed to insert relationship: %w", err)
		}
		if err := replaceRefs(ctx, tx, relationshipRefs, id, in.Refs); err != nil {
			return err
		}
		res = graph.WriteResult{ID: id, Outcome: graph.OutcomeCreated}
		return nil
	})
	return res, err
}

// Counts returns the number of stored entities and relationships.
func (s *Store) Counts(ctx context.Context) (entities, relationships int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&entities); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships`).Scan(&relationships); err != nil {
		return 0, 0, err
	}
	return entities, relationships, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
