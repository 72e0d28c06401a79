// Package sqlite is the embedded reference engine: a single-file database
// with WAL journaling, FTS5-backed search when available, and the full
// bi-temporal relationship model.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/engramdb/engram/domain/config"
	"github.com/engramdb/engram/domain/services"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

const engineName = "sqlite"

// Store implements abstractions.GraphStore over a local SQLite file
type Store struct {
	path   string
	cfg    *config.DomainConfig
	logger *zap.Logger
	cycles *services.CycleDetector

	db  *sql.DB
	fts bool
}

// New creates an unconnected store for the given database path. Use
// ":memory:" for an ephemeral database.
func New(path string, cfg *config.DomainConfig, logger *zap.Logger) *Store {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		cfg:    cfg,
		logger: logger,
		cycles: services.NewCycleDetector(cfg.AllowCycles),
	}
}

// Connect opens the database and switches it to WAL mode. Connecting an
// already-connected store is a no-op.
func (s *Store) Connect(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return pkgerrors.NewConnectionError(engineName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return pkgerrors.NewConnectionError(engineName, err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return pkgerrors.NewConnectionError(engineName, err)
		}
	}

	s.db = db
	s.logger.Info("sqlite store connected", zap.String("path", s.path))
	return nil
}

// Close releases the database handle. Closing twice is a no-op.
func (s *Store) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return pkgerrors.NewBackendError("close", err)
	}
	s.logger.Info("sqlite store closed", zap.String("path", s.path))
	return nil
}

// InitializeSchema creates tables, indexes, and the FTS table if the build
// supports it. Safe to call on every startup.
func (s *Store) InitializeSchema(ctx context.Context) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	for _, stmt := range append([]string{schemaMemories, schemaRelationships}, schemaIndexes...) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return pkgerrors.NewBackendError("initialize_schema", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, schemaFTS); err != nil {
		s.fts = false
		s.logger.Warn("fts5 unavailable, search degrades to LIKE", zap.Error(err))
		return nil
	}
	for _, stmt := range schemaFTSTriggers {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return pkgerrors.NewBackendError("initialize_schema", err)
		}
	}
	s.fts = true
	return nil
}

// Execute runs a raw SQL statement with bind parameters
func (s *Store) Execute(ctx context.Context, query string, params []interface{}, isWrite bool) (*abstractions.QueryResult, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	if isWrite {
		res, err := s.db.ExecContext(ctx, query, params...)
		if err != nil {
			return nil, pkgerrors.NewBackendError("execute", err)
		}
		affected, _ := res.RowsAffected()
		return &abstractions.QueryResult{RowsAffected: affected}, nil
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, pkgerrors.NewBackendError("execute", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, pkgerrors.NewBackendError("execute", err)
	}

	result := &abstractions.QueryResult{Columns: columns}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, pkgerrors.NewBackendError("execute", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewBackendError("execute", err)
	}
	return result, nil
}

// HealthCheck verifies liveness and reports entity counts
func (s *Store) HealthCheck(ctx context.Context) (*abstractions.HealthStatus, error) {
	status := &abstractions.HealthStatus{
		Engine: engineName,
		Diagnostics: map[string]interface{}{
			"path": s.path,
			"fts":  s.fts,
		},
	}
	if s.db == nil {
		return status, nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		status.Diagnostics["error"] = err.Error()
		return status, nil
	}
	status.Connected = true

	memories, err := s.CountMemories(ctx)
	if err != nil {
		return nil, err
	}
	relationships, err := s.CountRelationships(ctx)
	if err != nil {
		return nil, err
	}
	status.MemoryCount = memories
	status.RelationshipCount = relationships
	return status, nil
}

// SupportsFullTextSearch reports whether FTS5 was available at schema time
func (s *Store) SupportsFullTextSearch() bool { return s.fts }

// SupportsTransactions is always true for SQLite
func (s *Store) SupportsTransactions() bool { return true }

// ClearAll removes every row. Repeated calls succeed on an empty database.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.NewBackendError("clear_all", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships`); err != nil {
		return pkgerrors.NewBackendError("clear_all", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return pkgerrors.NewBackendError("clear_all", err)
	}
	if err := tx.Commit(); err != nil {
		return pkgerrors.NewBackendError("clear_all", err)
	}
	return nil
}

func (s *Store) requireConnection() error {
	if s.db == nil {
		return pkgerrors.NewConnectionError(engineName, fmt.Errorf("store is not connected"))
	}
	return nil
}

// Time encoding. Timestamps are stored as UTC strings with fixed-width
// fractional seconds so lexicographic comparison matches chronological
// order. RFC3339Nano would drop trailing zeros and break that property.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodeTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s) // accepts both fixed and trimmed fractions
	if err != nil {
		return time.Time{}, pkgerrors.NewIntegrityError(
			fmt.Sprintf("malformed timestamp %q", s))
	}
	return t, nil
}

func decodeTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := decodeTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// escapeLike escapes LIKE wildcards in user input for degraded search
func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

var _ abstractions.GraphStore = (*Store)(nil)
