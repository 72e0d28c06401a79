package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

const memoryColumns = `id, type, title, content, summary, tags, importance, context, created_at, updated_at`

// SaveMemory inserts or updates a memory
func (s *Store) SaveMemory(ctx context.Context, memory *entities.Memory) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	tags, err := json.Marshal(entities.NormalizeTags(memory.Tags))
	if err != nil {
		return pkgerrors.NewBackendError("save_memory", err)
	}
	memCtx, err := json.Marshal(memory.Context)
	if err != nil {
		return pkgerrors.NewBackendError("save_memory", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			content = excluded.content,
			summary = excluded.summary,
			tags = excluded.tags,
			importance = excluded.importance,
			context = excluded.context,
			updated_at = excluded.updated_at`,
		memory.ID.String(), string(memory.Type), memory.Title, memory.Content,
		memory.Summary, string(tags), memory.Importance, string(memCtx),
		encodeTime(memory.CreatedAt), encodeTime(memory.UpdatedAt))
	if err != nil {
		return pkgerrors.NewBackendError("save_memory", err)
	}
	return nil
}

// GetMemory fetches one memory by id
func (s *Store) GetMemory(ctx context.Context, id valueobjects.MemoryID) (*entities.Memory, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id.String())
	memory, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.NewNotFoundError("memory", id.String())
	}
	return memory, err
}

// DeleteMemory removes a memory and every relationship touching it, in one
// transaction
func (s *Store) DeleteMemory(ctx context.Context, id valueobjects.MemoryID) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.NewBackendError("delete_memory", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM relationships WHERE from_id = ? OR to_id = ?`,
		id.String(), id.String()); err != nil {
		return pkgerrors.NewBackendError("delete_memory", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id.String())
	if err != nil {
		return pkgerrors.NewBackendError("delete_memory", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return pkgerrors.NewNotFoundError("memory", id.String())
	}

	if err := tx.Commit(); err != nil {
		return pkgerrors.NewBackendError("delete_memory", err)
	}
	return nil
}

// ListMemories returns a filtered, paginated listing ordered by creation
// time descending, id as tiebreaker for stable pages
func (s *Store) ListMemories(ctx context.Context, filter abstractions.MemoryFilter, page common.PageRequest) (*abstractions.MemoryPage, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	page = common.NewPageRequest(page.Limit, page.Offset)

	where, args := buildMemoryFilter(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories`+where, args...).Scan(&total); err != nil {
		return nil, pkgerrors.NewBackendError("list_memories", err)
	}

	query := `SELECT ` + memoryColumns + ` FROM memories` + where +
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, pkgerrors.NewBackendError("list_memories", err)
	}
	defer rows.Close()

	items, err := collectMemories(rows)
	if err != nil {
		return nil, err
	}
	return &abstractions.MemoryPage{
		Items:    items,
		PageInfo: common.NewPageInfo(page, total),
	}, nil
}

// SearchMemories searches title, content, and summary. FTS5 ranks by match
// quality; the LIKE fallback orders by recency.
func (s *Store) SearchMemories(ctx context.Context, query string, page common.PageRequest) (*abstractions.MemoryPage, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	page = common.NewPageRequest(page.Limit, page.Offset)

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, pkgerrors.NewValidationError("search query cannot be empty")
	}

	if s.fts {
		return s.searchFTS(ctx, query, page)
	}
	return s.searchLike(ctx, query, page)
}

func (s *Store) searchFTS(ctx context.Context, query string, page common.PageRequest) (*abstractions.MemoryPage, error) {
	match := ftsQuery(query)

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories_fts WHERE memories_fts MATCH ?`, match).Scan(&total); err != nil {
		return nil, pkgerrors.NewBackendError("search_memories", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("m", memoryColumns)+`
		FROM memories_fts f
		JOIN memories m ON m.id = f.id
		WHERE memories_fts MATCH ?
		ORDER BY rank
		LIMIT ? OFFSET ?`, match, page.Limit, page.Offset)
	if err != nil {
		return nil, pkgerrors.NewBackendError("search_memories", err)
	}
	defer rows.Close()

	items, err := collectMemories(rows)
	if err != nil {
		return nil, err
	}
	return &abstractions.MemoryPage{Items: items, PageInfo: common.NewPageInfo(page, total)}, nil
}

func (s *Store) searchLike(ctx context.Context, query string, page common.PageRequest) (*abstractions.MemoryPage, error) {
	pattern := "%" + escapeLike(query) + "%"
	where := ` WHERE (title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\')`
	args := []interface{}{pattern, pattern, pattern}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories`+where, args...).Scan(&total); err != nil {
		return nil, pkgerrors.NewBackendError("search_memories", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories`+where+
			` ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, pkgerrors.NewBackendError("search_memories", err)
	}
	defer rows.Close()

	items, err := collectMemories(rows)
	if err != nil {
		return nil, err
	}
	return &abstractions.MemoryPage{Items: items, PageInfo: common.NewPageInfo(page, total)}, nil
}

// CountMemories returns the total memory count
func (s *Store) CountMemories(ctx context.Context) (int64, error) {
	if err := s.requireConnection(); err != nil {
		return 0, err
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return 0, pkgerrors.NewBackendError("count_memories", err)
	}
	return count, nil
}

func buildMemoryFilter(filter abstractions.MemoryFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.Type != nil {
		clauses = append(clauses, `type = ?`)
		args = append(args, string(*filter.Type))
	}
	if filter.Project != "" {
		clauses = append(clauses, `json_extract(context, '$.project') = ?`)
		args = append(args, filter.Project)
	}
	for _, tag := range entities.NormalizeTags(filter.Tags) {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM json_each(memories.tags) WHERE json_each.value = ?)`)
		args = append(args, tag)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ftsQuery quotes each term so user input cannot inject FTS5 query syntax
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + "." + p
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*entities.Memory, error) {
	var (
		id, memType, title, content, summary string
		tags, memCtx                         string
		importance                           float64
		createdAt, updatedAt                 string
	)
	if err := row.Scan(&id, &memType, &title, &content, &summary, &tags,
		&importance, &memCtx, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, pkgerrors.NewBackendError("scan_memory", err)
	}

	memoryID, err := valueobjects.NewMemoryIDFromString(id)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError(fmt.Sprintf("malformed memory id %q", id))
	}
	created, err := decodeTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := decodeTime(updatedAt)
	if err != nil {
		return nil, err
	}

	memory := &entities.Memory{
		ID:         memoryID,
		Type:       entities.MemoryType(memType),
		Title:      title,
		Content:    content,
		Summary:    summary,
		Importance: importance,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}
	if err := json.Unmarshal([]byte(tags), &memory.Tags); err != nil {
		return nil, pkgerrors.NewIntegrityError(fmt.Sprintf("malformed tags for memory %s", id))
	}
	if err := json.Unmarshal([]byte(memCtx), &memory.Context); err != nil {
		return nil, pkgerrors.NewIntegrityError(fmt.Sprintf("malformed context for memory %s", id))
	}
	return memory, nil
}

func collectMemories(rows *sql.Rows) ([]*entities.Memory, error) {
	items := make([]*entities.Memory, 0)
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewBackendError("scan_memories", err)
	}
	return items, nil
}
