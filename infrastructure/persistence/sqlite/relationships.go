package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/domain/services"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

const relationshipColumns = `id, from_id, to_id, type, properties, valid_from, valid_until, recorded_at, invalidated_by`

// queryer abstracts *sql.DB and *sql.Tx so the cycle check can run inside
// the insert transaction
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SaveRelationship inserts a relationship after verifying both endpoints
// exist and, unless cycles are allowed, that the edge does not close a cycle
// among current edges of the same type. Check and insert share one
// transaction so a concurrent writer cannot slip a cycle in between.
func (s *Store) SaveRelationship(ctx context.Context, rel *entities.Relationship) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	props, err := json.Marshal(rel.Properties)
	if err != nil {
		return pkgerrors.NewBackendError("save_relationship", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.NewBackendError("save_relationship", err)
	}
	defer tx.Rollback()

	for _, endpoint := range []valueobjects.MemoryID{rel.FromID, rel.ToID} {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM memories WHERE id = ?`, endpoint.String()).Scan(&exists)
		if err != nil {
			return pkgerrors.NewBackendError("save_relationship", err)
		}
		if exists == 0 {
			return pkgerrors.NewNotFoundError("memory", endpoint.String())
		}
	}

	if err := s.cycles.Check(ctx, &txSuccessors{q: tx}, rel.FromID, rel.ToID, rel.Type); err != nil {
		return err
	}

	var invalidatedBy interface{}
	if rel.InvalidatedBy != nil {
		invalidatedBy = rel.InvalidatedBy.String()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relationships (`+relationshipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rel.ID.String(), rel.FromID.String(), rel.ToID.String(), string(rel.Type),
		string(props), encodeTime(rel.ValidFrom), encodeTimePtr(rel.ValidUntil),
		encodeTime(rel.RecordedAt), invalidatedBy); err != nil {
		return pkgerrors.NewBackendError("save_relationship", err)
	}

	if err := tx.Commit(); err != nil {
		return pkgerrors.NewBackendError("save_relationship", err)
	}
	return nil
}

// GetRelationship fetches one relationship by id
func (s *Store) GetRelationship(ctx context.Context, id valueobjects.RelationshipID) (*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE id = ?`, id.String())
	rel, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.NewNotFoundError("relationship", id.String())
	}
	return rel, err
}

// InvalidateRelationship closes the validity interval of a current
// relationship. The row stays in place for history queries. Invalidating an
// already-closed relationship is a Conflict.
func (s *Store) InvalidateRelationship(ctx context.Context, id valueobjects.RelationshipID, at time.Time, successor *valueobjects.RelationshipID) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.NewBackendError("invalidate_relationship", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE id = ?`, id.String())
	rel, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return pkgerrors.NewNotFoundError("relationship", id.String())
	}
	if err != nil {
		return err
	}
	if err := rel.Invalidate(at, successor); err != nil {
		return err
	}

	var invalidatedBy interface{}
	if rel.InvalidatedBy != nil {
		invalidatedBy = rel.InvalidatedBy.String()
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE relationships SET valid_until = ?, invalidated_by = ? WHERE id = ?`,
		encodeTimePtr(rel.ValidUntil), invalidatedBy, id.String()); err != nil {
		return pkgerrors.NewBackendError("invalidate_relationship", err)
	}

	if err := tx.Commit(); err != nil {
		return pkgerrors.NewBackendError("invalidate_relationship", err)
	}
	return nil
}

// ListRelationships returns a filtered, paginated listing ordered by
// recording time
func (s *Store) ListRelationships(ctx context.Context, filter abstractions.RelationshipFilter, page common.PageRequest) (*abstractions.RelationshipPage, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	page = common.NewPageRequest(page.Limit, page.Offset)

	where, args := buildRelationshipFilter(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relationships`+where, args...).Scan(&total); err != nil {
		return nil, pkgerrors.NewBackendError("list_relationships", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships`+where+
			` ORDER BY recorded_at, id LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, pkgerrors.NewBackendError("list_relationships", err)
	}
	defer rows.Close()

	items, err := collectRelationships(rows)
	if err != nil {
		return nil, err
	}
	return &abstractions.RelationshipPage{
		Items:    items,
		PageInfo: common.NewPageInfo(page, total),
	}, nil
}

// CountRelationships returns the total relationship count, history included
func (s *Store) CountRelationships(ctx context.Context) (int64, error) {
	if err := s.requireConnection(); err != nil {
		return 0, err
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships`).Scan(&count); err != nil {
		return 0, pkgerrors.NewBackendError("count_relationships", err)
	}
	return count, nil
}

// Neighbors lists current relationships touching the memory in either
// direction, optionally narrowed by type
func (s *Store) Neighbors(ctx context.Context, id valueobjects.MemoryID, typeFilter []entities.RelationType) ([]services.Neighbor, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	query := `SELECT ` + relationshipColumns + ` FROM relationships
		WHERE (from_id = ? OR to_id = ?) AND valid_until IS NULL`
	args := []interface{}{id.String(), id.String()}
	if len(typeFilter) > 0 {
		query += ` AND type IN (` + placeholders(len(typeFilter)) + `)`
		for _, t := range typeFilter {
			args = append(args, string(t))
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.NewBackendError("neighbors", err)
	}
	defer rows.Close()

	rels, err := collectRelationships(rows)
	if err != nil {
		return nil, err
	}

	neighbors := make([]services.Neighbor, 0, len(rels))
	for _, rel := range rels {
		n := services.Neighbor{Relationship: rel}
		if rel.FromID.Equals(id) {
			n.MemoryID = rel.ToID
			n.Outgoing = true
		} else {
			n.MemoryID = rel.FromID
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, nil
}

// Successors lists targets of current outgoing edges of one type
func (s *Store) Successors(ctx context.Context, id valueobjects.MemoryID, relType entities.RelationType) ([]valueobjects.MemoryID, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	return (&txSuccessors{q: s.db}).Successors(ctx, id, relType)
}

// RelationshipsAsOf lists relationships touching the memory whose validity
// interval contained the given instant
func (s *Store) RelationshipsAsOf(ctx context.Context, id valueobjects.MemoryID, at time.Time) ([]*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	encoded := encodeTime(at)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		WHERE (from_id = ? OR to_id = ?)
		  AND valid_from <= ?
		  AND (valid_until IS NULL OR valid_until > ?)
		ORDER BY recorded_at, id`,
		id.String(), id.String(), encoded, encoded)
	if err != nil {
		return nil, pkgerrors.NewBackendError("relationships_as_of", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// RelationshipHistory lists every version ever recorded from the origin
// memory for one relation type, invalidated rows included, newest
// valid_from first
func (s *Store) RelationshipHistory(ctx context.Context, from valueobjects.MemoryID, relType entities.RelationType) ([]*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		WHERE from_id = ? AND type = ?
		ORDER BY valid_from DESC, id`,
		from.String(), string(relType))
	if err != nil {
		return nil, pkgerrors.NewBackendError("relationship_history", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// RelationshipsRecordedSince lists relationships whose immutable recorded_at
// is strictly after the given instant
func (s *Store) RelationshipsRecordedSince(ctx context.Context, since time.Time) ([]*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		WHERE recorded_at > ?
		ORDER BY recorded_at, id`,
		encodeTime(since))
	if err != nil {
		return nil, pkgerrors.NewBackendError("relationships_recorded_since", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// txSuccessors answers cycle-check queries against a db or an open
// transaction
type txSuccessors struct {
	q queryer
}

func (t *txSuccessors) Successors(ctx context.Context, id valueobjects.MemoryID, relType entities.RelationType) ([]valueobjects.MemoryID, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT to_id FROM relationships
		WHERE from_id = ? AND type = ? AND valid_until IS NULL`,
		id.String(), string(relType))
	if err != nil {
		return nil, pkgerrors.NewBackendError("successors", err)
	}
	defer rows.Close()

	var ids []valueobjects.MemoryID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, pkgerrors.NewBackendError("successors", err)
		}
		next, err := valueobjects.NewMemoryIDFromString(raw)
		if err != nil {
			return nil, pkgerrors.NewIntegrityError(fmt.Sprintf("malformed memory id %q", raw))
		}
		ids = append(ids, next)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewBackendError("successors", err)
	}
	return ids, nil
}

func buildRelationshipFilter(filter abstractions.RelationshipFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.FromID != nil {
		clauses = append(clauses, `from_id = ?`)
		args = append(args, filter.FromID.String())
	}
	if filter.ToID != nil {
		clauses = append(clauses, `to_id = ?`)
		args = append(args, filter.ToID.String())
	}
	if filter.Type != nil {
		clauses = append(clauses, `type = ?`)
		args = append(args, string(*filter.Type))
	}
	if filter.CurrentOnly {
		clauses = append(clauses, `valid_until IS NULL`)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}

func scanRelationship(row rowScanner) (*entities.Relationship, error) {
	var (
		id, fromID, toID, relType, props string
		validFrom, recordedAt            string
		validUntil, invalidatedBy        sql.NullString
	)
	if err := row.Scan(&id, &fromID, &toID, &relType, &props,
		&validFrom, &validUntil, &recordedAt, &invalidatedBy); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, pkgerrors.NewBackendError("scan_relationship", err)
	}

	relID, err := valueobjects.NewRelationshipIDFromString(id)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError(fmt.Sprintf("malformed relationship id %q", id))
	}
	from, err := valueobjects.NewMemoryIDFromString(fromID)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError(fmt.Sprintf("malformed memory id %q", fromID))
	}
	to, err := valueobjects.NewMemoryIDFromString(toID)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError(fmt.Sprintf("malformed memory id %q", toID))
	}

	vf, err := decodeTime(validFrom)
	if err != nil {
		return nil, err
	}
	recorded, err := decodeTime(recordedAt)
	if err != nil {
		return nil, err
	}
	until, err := decodeTimePtr(validUntil)
	if err != nil {
		return nil, err
	}

	rel := &entities.Relationship{
		ID:         relID,
		FromID:     from,
		ToID:       to,
		Type:       entities.RelationType(relType),
		ValidFrom:  vf,
		ValidUntil: until,
		RecordedAt: recorded,
	}
	if err := json.Unmarshal([]byte(props), &rel.Properties); err != nil {
		return nil, pkgerrors.NewIntegrityError(fmt.Sprintf("malformed properties for relationship %s", id))
	}
	if invalidatedBy.Valid {
		successor, err := valueobjects.NewRelationshipIDFromString(invalidatedBy.String)
		if err != nil {
			return nil, pkgerrors.NewIntegrityError(fmt.Sprintf("malformed relationship id %q", invalidatedBy.String))
		}
		rel.InvalidatedBy = &successor
	}
	return rel, nil
}

func collectRelationships(rows *sql.Rows) ([]*entities.Relationship, error) {
	items := make([]*entities.Relationship, 0)
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewBackendError("scan_relationships", err)
	}
	return items, nil
}
