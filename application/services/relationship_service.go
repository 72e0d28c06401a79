package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/validators"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/observability"
)

// CreateRelationshipInput carries everything needed to relate two memories
type CreateRelationshipInput struct {
	FromID     valueobjects.MemoryID
	ToID       valueobjects.MemoryID
	Type       entities.RelationType
	Properties entities.RelationshipProperties
}

// RelationshipService implements relationship use cases over any storage
// engine
type RelationshipService struct {
	store     abstractions.GraphStore
	engine    string
	validator *validators.RelationshipValidator
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewRelationshipService creates a relationship service
func NewRelationshipService(store abstractions.GraphStore, engine string, logger *zap.Logger, metrics *observability.Metrics) *RelationshipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationshipService{
		store:     store,
		engine:    engine,
		validator: validators.NewRelationshipValidator(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Create validates and stores a relationship; the engine enforces the cycle
// rule
func (s *RelationshipService) Create(ctx context.Context, input CreateRelationshipInput) (*entities.Relationship, error) {
	started := time.Now()

	if err := s.validator.ValidateRelation(input.FromID.String(), input.ToID.String(), input.Type); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateProperties(input.Properties); err != nil {
		return nil, err
	}

	rel, err := entities.NewRelationship(input.FromID, input.ToID, input.Type, input.Properties)
	if err != nil {
		return nil, err
	}

	err = s.store.SaveRelationship(ctx, rel)
	s.observe("create_relationship", err, started)
	if err != nil {
		return nil, err
	}

	s.logger.Info("relationship created",
		zap.String("relationship_id", rel.ID.String()),
		zap.String("type", string(rel.Type)))
	return rel, nil
}

// Get fetches one relationship
func (s *RelationshipService) Get(ctx context.Context, id valueobjects.RelationshipID) (*entities.Relationship, error) {
	started := time.Now()
	rel, err := s.store.GetRelationship(ctx, id)
	s.observe("get_relationship", err, started)
	return rel, err
}

// Invalidate closes a relationship's validity interval at the given instant
func (s *RelationshipService) Invalidate(ctx context.Context, id valueobjects.RelationshipID, at time.Time) error {
	started := time.Now()
	err := s.store.InvalidateRelationship(ctx, id, at, nil)
	s.observe("invalidate_relationship", err, started)
	if err == nil {
		s.logger.Info("relationship invalidated", zap.String("relationship_id", id.String()))
	}
	return err
}

// Supersede creates a replacement relationship and invalidates the old one,
// recording the succession
func (s *RelationshipService) Supersede(ctx context.Context, id valueobjects.RelationshipID, input CreateRelationshipInput) (*entities.Relationship, error) {
	started := time.Now()

	old, err := s.store.GetRelationship(ctx, id)
	if err != nil {
		return nil, err
	}
	if !old.IsCurrent() {
		return nil, s.observeErr("supersede_relationship", started,
			pkgerrors.NewConflictError("relationship "+id.String()+" is already invalidated"))
	}

	successor, err := s.Create(ctx, input)
	if err != nil {
		return nil, err
	}

	err = s.store.InvalidateRelationship(ctx, id, time.Now().UTC(), &successor.ID)
	s.observe("supersede_relationship", err, started)
	if err != nil {
		return nil, err
	}
	return successor, nil
}

// List returns a filtered page of relationships
func (s *RelationshipService) List(ctx context.Context, filter abstractions.RelationshipFilter, page common.PageRequest) (*abstractions.RelationshipPage, error) {
	started := time.Now()
	result, err := s.store.ListRelationships(ctx, filter, page)
	s.observe("list_relationships", err, started)
	return result, err
}

// AsOf lists relationships touching the memory that were valid at the
// given instant
func (s *RelationshipService) AsOf(ctx context.Context, id valueobjects.MemoryID, at time.Time) ([]*entities.Relationship, error) {
	started := time.Now()
	rels, err := s.store.RelationshipsAsOf(ctx, id, at)
	s.observe("relationships_as_of", err, started)
	return rels, err
}

// History lists every version ever recorded from the origin memory for one
// relation type, newest valid_from first
func (s *RelationshipService) History(ctx context.Context, from valueobjects.MemoryID, relType entities.RelationType) ([]*entities.Relationship, error) {
	started := time.Now()
	if !entities.IsValidRelationType(relType) {
		err := pkgerrors.NewValidationError("unknown relation type " + string(relType))
		s.observe("relationship_history", err, started)
		return nil, err
	}
	rels, err := s.store.RelationshipHistory(ctx, from, relType)
	s.observe("relationship_history", err, started)
	return rels, err
}

// RecordedSince lists relationships recorded strictly after the given instant
func (s *RelationshipService) RecordedSince(ctx context.Context, since time.Time) ([]*entities.Relationship, error) {
	started := time.Now()
	rels, err := s.store.RelationshipsRecordedSince(ctx, since)
	s.observe("relationships_recorded_since", err, started)
	return rels, err
}

func (s *RelationshipService) observe(operation string, err error, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveStoreOperation(s.engine, operation, err, time.Since(started))
}

func (s *RelationshipService) observeErr(operation string, started time.Time, err error) error {
	s.observe(operation, err, started)
	return err
}
