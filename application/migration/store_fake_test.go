package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/domain/services"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// fakeStore is an in-memory GraphStore for exercising the migration state
// machine without a real engine. Failure injection knobs simulate the
// interesting mid-run breakages.
type fakeStore struct {
	engine    string
	connected bool
	fts       bool
	tx        bool

	memories map[string]*entities.Memory
	memOrder []string
	rels     map[string]*entities.Relationship
	relOrder []string

	// failure injection
	failSaveAfter int  // fail the Nth SaveMemory call (1-based); 0 disables
	corruptOnSave bool // drop content on save so verification catches it
	clearAllErr   error

	saveCalls       int
	clearCalls      int
	initSchemaCalls int
}

func newFakeStore(engine string) *fakeStore {
	return &fakeStore{
		engine:   engine,
		fts:      true,
		tx:       true,
		memories: make(map[string]*entities.Memory),
		rels:     make(map[string]*entities.Relationship),
	}
}

func (s *fakeStore) Connect(ctx context.Context) error {
	s.connected = true
	return nil
}

func (s *fakeStore) Close(ctx context.Context) error {
	s.connected = false
	return nil
}

func (s *fakeStore) Execute(ctx context.Context, query string, params []interface{}, isWrite bool) (*abstractions.QueryResult, error) {
	return &abstractions.QueryResult{}, nil
}

func (s *fakeStore) InitializeSchema(ctx context.Context) error {
	s.initSchemaCalls++
	return nil
}

func (s *fakeStore) HealthCheck(ctx context.Context) (*abstractions.HealthStatus, error) {
	return &abstractions.HealthStatus{
		Connected:         s.connected,
		Engine:            s.engine,
		MemoryCount:       int64(len(s.memories)),
		RelationshipCount: int64(len(s.rels)),
	}, nil
}

func (s *fakeStore) SupportsFullTextSearch() bool { return s.fts }
func (s *fakeStore) SupportsTransactions() bool   { return s.tx }

func (s *fakeStore) SaveMemory(ctx context.Context, memory *entities.Memory) error {
	s.saveCalls++
	if s.failSaveAfter > 0 && s.saveCalls >= s.failSaveAfter {
		return pkgerrors.NewBackendError("save_memory", fmt.Errorf("injected failure"))
	}

	stored := *memory
	if s.corruptOnSave {
		stored.Content = strings.ToUpper(stored.Content) + " (corrupted)"
	}
	id := memory.ID.String()
	if _, exists := s.memories[id]; !exists {
		s.memOrder = append(s.memOrder, id)
	}
	s.memories[id] = &stored
	return nil
}

func (s *fakeStore) GetMemory(ctx context.Context, id valueobjects.MemoryID) (*entities.Memory, error) {
	memory, ok := s.memories[id.String()]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("memory", id.String())
	}
	copied := *memory
	return &copied, nil
}

func (s *fakeStore) DeleteMemory(ctx context.Context, id valueobjects.MemoryID) error {
	if _, ok := s.memories[id.String()]; !ok {
		return pkgerrors.NewNotFoundError("memory", id.String())
	}
	delete(s.memories, id.String())
	return nil
}

func (s *fakeStore) ListMemories(ctx context.Context, filter abstractions.MemoryFilter, page common.PageRequest) (*abstractions.MemoryPage, error) {
	page = common.NewPageRequest(page.Limit, page.Offset)
	total := len(s.memOrder)

	var items []*entities.Memory
	for i := page.Offset; i < total && len(items) < page.Limit; i++ {
		items = append(items, s.memories[s.memOrder[i]])
	}
	return &abstractions.MemoryPage{Items: items, PageInfo: common.NewPageInfo(page, int64(total))}, nil
}

func (s *fakeStore) SearchMemories(ctx context.Context, query string, page common.PageRequest) (*abstractions.MemoryPage, error) {
	return s.ListMemories(ctx, abstractions.MemoryFilter{}, page)
}

func (s *fakeStore) CountMemories(ctx context.Context) (int64, error) {
	return int64(len(s.memories)), nil
}

func (s *fakeStore) SaveRelationship(ctx context.Context, rel *entities.Relationship) error {
	stored := *rel
	id := rel.ID.String()
	if _, exists := s.rels[id]; !exists {
		s.relOrder = append(s.relOrder, id)
	}
	s.rels[id] = &stored
	return nil
}

func (s *fakeStore) GetRelationship(ctx context.Context, id valueobjects.RelationshipID) (*entities.Relationship, error) {
	rel, ok := s.rels[id.String()]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("relationship", id.String())
	}
	copied := *rel
	return &copied, nil
}

func (s *fakeStore) InvalidateRelationship(ctx context.Context, id valueobjects.RelationshipID, at time.Time, successor *valueobjects.RelationshipID) error {
	rel, ok := s.rels[id.String()]
	if !ok {
		return pkgerrors.NewNotFoundError("relationship", id.String())
	}
	return rel.Invalidate(at, successor)
}

func (s *fakeStore) ListRelationships(ctx context.Context, filter abstractions.RelationshipFilter, page common.PageRequest) (*abstractions.RelationshipPage, error) {
	page = common.NewPageRequest(page.Limit, page.Offset)
	total := len(s.relOrder)

	var items []*entities.Relationship
	for i := page.Offset; i < total && len(items) < page.Limit; i++ {
		items = append(items, s.rels[s.relOrder[i]])
	}
	return &abstractions.RelationshipPage{Items: items, PageInfo: common.NewPageInfo(page, int64(total))}, nil
}

func (s *fakeStore) CountRelationships(ctx context.Context) (int64, error) {
	return int64(len(s.rels)), nil
}

func (s *fakeStore) RelationshipsAsOf(ctx context.Context, id valueobjects.MemoryID, at time.Time) ([]*entities.Relationship, error) {
	return nil, nil
}

func (s *fakeStore) RelationshipHistory(ctx context.Context, from valueobjects.MemoryID, relType entities.RelationType) ([]*entities.Relationship, error) {
	var matched []*entities.Relationship
	for _, id := range s.relOrder {
		rel := s.rels[id]
		if rel.FromID.Equals(from) && rel.Type == relType {
			matched = append(matched, rel)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ValidFrom.After(matched[j].ValidFrom)
	})
	return matched, nil
}

func (s *fakeStore) RelationshipsRecordedSince(ctx context.Context, since time.Time) ([]*entities.Relationship, error) {
	var matched []*entities.Relationship
	for _, id := range s.relOrder {
		if rel := s.rels[id]; rel.RecordedAt.After(since) {
			matched = append(matched, rel)
		}
	}
	return matched, nil
}

func (s *fakeStore) Neighbors(ctx context.Context, id valueobjects.MemoryID, typeFilter []entities.RelationType) ([]services.Neighbor, error) {
	return nil, nil
}

func (s *fakeStore) Successors(ctx context.Context, id valueobjects.MemoryID, relType entities.RelationType) ([]valueobjects.MemoryID, error) {
	return nil, nil
}

func (s *fakeStore) ClearAll(ctx context.Context) error {
	s.clearCalls++
	if s.clearAllErr != nil {
		return s.clearAllErr
	}
	s.memories = make(map[string]*entities.Memory)
	s.memOrder = nil
	s.rels = make(map[string]*entities.Relationship)
	s.relOrder = nil
	return nil
}

var _ abstractions.GraphStore = (*fakeStore)(nil)
