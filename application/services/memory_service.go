// Package services holds the application-level use cases over a GraphStore.
package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/engramdb/engram/domain/config"
	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/validators"
	"github.com/engramdb/engram/domain/core/valueobjects"
	domainservices "github.com/engramdb/engram/domain/services"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	"github.com/engramdb/engram/pkg/observability"
)

// CreateMemoryInput carries everything needed to store a new memory
type CreateMemoryInput struct {
	Type       entities.MemoryType
	Title      string
	Content    string
	Summary    string
	Tags       []string
	Importance *float64
	Context    entities.MemoryContext
}

// UpdateMemoryInput carries a partial update; nil fields stay unchanged
type UpdateMemoryInput struct {
	Title      *string
	Content    *string
	Summary    *string
	Tags       []string
	Importance *float64
	Context    *entities.MemoryContext
}

// MemoryService implements memory use cases over any storage engine
type MemoryService struct {
	store     abstractions.GraphStore
	engine    string
	validator *validators.MemoryValidator
	traverser *domainservices.Traverser
	cache     *memoryCache
	cfg       *config.DomainConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// cacheTTL bounds read staleness when another process writes to the same
// backend
const cacheTTL = 30 * time.Second

// NewMemoryService creates a memory service. The engine name only labels
// metrics.
func NewMemoryService(store abstractions.GraphStore, engine string, cfg *config.DomainConfig, logger *zap.Logger, metrics *observability.Metrics) *MemoryService {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryService{
		store:     store,
		engine:    engine,
		validator: validators.NewMemoryValidator(cfg),
		traverser: domainservices.NewTraverser(store, cfg.MaxTraversalDepth),
		cache:     newMemoryCache(cacheTTL),
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// Create validates the input and stores a new memory
func (s *MemoryService) Create(ctx context.Context, input CreateMemoryInput) (*entities.Memory, error) {
	started := time.Now()

	memory, err := entities.NewMemory(input.Type, input.Title, input.Content, s.cfg)
	if err != nil {
		return nil, err
	}
	memory.Summary = input.Summary
	memory.Context = input.Context
	if err := s.validator.ValidateTags(input.Tags); err != nil {
		return nil, err
	}
	if err := memory.SetTags(input.Tags, s.cfg); err != nil {
		return nil, err
	}
	if input.Importance != nil {
		if err := memory.SetImportance(*input.Importance); err != nil {
			return nil, err
		}
	}

	err = s.store.SaveMemory(ctx, memory)
	s.observe("create_memory", err, started)
	if err != nil {
		return nil, err
	}
	s.cache.set(memory)

	s.logger.Info("memory created",
		zap.String("memory_id", memory.ID.String()),
		zap.String("type", string(memory.Type)))
	return memory, nil
}

// Get fetches one memory, serving repeated reads from the cache
func (s *MemoryService) Get(ctx context.Context, id valueobjects.MemoryID) (*entities.Memory, error) {
	if memory, ok := s.cache.get(id.String()); ok {
		return memory, nil
	}

	started := time.Now()
	memory, err := s.store.GetMemory(ctx, id)
	s.observe("get_memory", err, started)
	if err != nil {
		return nil, err
	}
	s.cache.set(memory)
	return memory, nil
}

// Update applies a partial update and stores the result
func (s *MemoryService) Update(ctx context.Context, id valueobjects.MemoryID, input UpdateMemoryInput) (*entities.Memory, error) {
	started := time.Now()

	memory, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	title := memory.Title
	content := memory.Content
	if input.Title != nil {
		title = *input.Title
	}
	if input.Content != nil {
		content = *input.Content
	}
	if input.Title != nil || input.Content != nil {
		if err := memory.UpdateContent(title, content, s.cfg); err != nil {
			return nil, err
		}
	}
	if input.Summary != nil {
		memory.Summary = *input.Summary
	}
	if input.Tags != nil {
		if err := memory.SetTags(input.Tags, s.cfg); err != nil {
			return nil, err
		}
	}
	if input.Importance != nil {
		if err := memory.SetImportance(*input.Importance); err != nil {
			return nil, err
		}
	}
	if input.Context != nil {
		memory.Context = *input.Context
	}

	err = s.store.SaveMemory(ctx, memory)
	s.observe("update_memory", err, started)
	if err != nil {
		return nil, err
	}
	s.cache.set(memory)
	return memory, nil
}

// Delete removes a memory and its relationships
func (s *MemoryService) Delete(ctx context.Context, id valueobjects.MemoryID) error {
	started := time.Now()
	err := s.store.DeleteMemory(ctx, id)
	s.observe("delete_memory", err, started)
	s.cache.evict(id.String())
	if err == nil {
		s.logger.Info("memory deleted", zap.String("memory_id", id.String()))
	}
	return err
}

// List returns a filtered page of memories
func (s *MemoryService) List(ctx context.Context, filter abstractions.MemoryFilter, page common.PageRequest) (*abstractions.MemoryPage, error) {
	started := time.Now()
	result, err := s.store.ListMemories(ctx, filter, page)
	s.observe("list_memories", err, started)
	return result, err
}

// Search returns a page of memories matching the query
func (s *MemoryService) Search(ctx context.Context, query string, page common.PageRequest) (*abstractions.MemoryPage, error) {
	started := time.Now()
	result, err := s.store.SearchMemories(ctx, query, page)
	s.observe("search_memories", err, started)
	return result, err
}

// Related walks the graph from a memory, bounded by depth
func (s *MemoryService) Related(ctx context.Context, id valueobjects.MemoryID, depth int, typeFilter []entities.RelationType) ([]domainservices.RelatedMemory, error) {
	started := time.Now()

	if _, err := s.store.GetMemory(ctx, id); err != nil {
		return nil, err
	}
	related, err := s.traverser.Related(ctx, id, depth, typeFilter)
	s.observe("related_memories", err, started)
	return related, err
}

func (s *MemoryService) observe(operation string, err error, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveStoreOperation(s.engine, operation, err, time.Since(started))
}
