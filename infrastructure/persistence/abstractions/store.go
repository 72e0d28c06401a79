// Package abstractions defines the storage contract every engine implements.
// Engines differ in capability (full-text search, transactions); callers
// discover capabilities through the contract instead of assuming them.
package abstractions

import (
	"context"
	"time"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/domain/services"
	"github.com/engramdb/engram/pkg/common"
)

// QueryResult is the engine-neutral shape of a raw query: column names plus
// rows of values. RowsAffected is set for writes.
type QueryResult struct {
	Columns      []string        `json:"columns"`
	Rows         [][]interface{} `json:"rows"`
	RowsAffected int64           `json:"rows_affected"`
}

// HealthStatus reports engine liveness and basic statistics
type HealthStatus struct {
	Connected         bool                   `json:"connected"`
	Engine            string                 `json:"engine"`
	MemoryCount       int64                  `json:"memory_count"`
	RelationshipCount int64                  `json:"relationship_count"`
	Diagnostics       map[string]interface{} `json:"diagnostics,omitempty"`
}

// Store is the minimal contract shared by all engines. Execute takes a raw
// engine-native query (SQL for SQLite, PartiQL for DynamoDB) with bind
// parameters; isWrite routes the statement to the write path. Writes through
// Execute on a closed store, or any call before Connect, yield a Connection
// error.
type Store interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Execute(ctx context.Context, query string, params []interface{}, isWrite bool) (*QueryResult, error)
	InitializeSchema(ctx context.Context) error
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	SupportsFullTextSearch() bool
	SupportsTransactions() bool
}

// MemoryFilter narrows memory listings
type MemoryFilter struct {
	Type    *entities.MemoryType
	Tags    []string
	Project string
}

// MemoryPage is one page of memories with pagination metadata
type MemoryPage struct {
	Items    []*entities.Memory `json:"items"`
	PageInfo common.PageInfo    `json:"page_info"`
}

// RelationshipFilter narrows relationship listings. Zero-value fields match
// everything; CurrentOnly restricts to open validity intervals.
type RelationshipFilter struct {
	FromID      *valueobjects.MemoryID
	ToID        *valueobjects.MemoryID
	Type        *entities.RelationType
	CurrentOnly bool
}

// RelationshipPage is one page of relationships with pagination metadata
type RelationshipPage struct {
	Items    []*entities.Relationship `json:"items"`
	PageInfo common.PageInfo          `json:"page_info"`
}

// GraphStore extends Store with the typed graph operations every engine
// provides. Bi-temporal reads follow the relationship validity model:
// current = open interval, as-of = interval containing the instant,
// history = every version ever recorded from an origin memory for one
// relation type, newest valid_from first, recorded-since = rows whose
// immutable recorded_at is strictly after the instant.
type GraphStore interface {
	Store
	services.NeighborLister
	services.SuccessorLister

	SaveMemory(ctx context.Context, memory *entities.Memory) error
	GetMemory(ctx context.Context, id valueobjects.MemoryID) (*entities.Memory, error)
	DeleteMemory(ctx context.Context, id valueobjects.MemoryID) error
	ListMemories(ctx context.Context, filter MemoryFilter, page common.PageRequest) (*MemoryPage, error)
	SearchMemories(ctx context.Context, query string, page common.PageRequest) (*MemoryPage, error)
	CountMemories(ctx context.Context) (int64, error)

	SaveRelationship(ctx context.Context, rel *entities.Relationship) error
	GetRelationship(ctx context.Context, id valueobjects.RelationshipID) (*entities.Relationship, error)
	InvalidateRelationship(ctx context.Context, id valueobjects.RelationshipID, at time.Time, successor *valueobjects.RelationshipID) error
	ListRelationships(ctx context.Context, filter RelationshipFilter, page common.PageRequest) (*RelationshipPage, error)
	CountRelationships(ctx context.Context) (int64, error)

	RelationshipsAsOf(ctx context.Context, id valueobjects.MemoryID, at time.Time) ([]*entities.Relationship, error)
	RelationshipHistory(ctx context.Context, from valueobjects.MemoryID, relType entities.RelationType) ([]*entities.Relationship, error)
	RelationshipsRecordedSince(ctx context.Context, since time.Time) ([]*entities.Relationship, error)

	// ClearAll removes every memory and relationship. Migration rollback
	// depends on it being safe to call repeatedly.
	ClearAll(ctx context.Context) error
}
