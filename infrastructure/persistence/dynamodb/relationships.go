package dynamodb

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/domain/services"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

type relationshipItem struct {
	PK            string                          `dynamodbav:"PK"`
	SK            string                          `dynamodbav:"SK"`
	GSI1PK        string                          `dynamodbav:"GSI1PK"`
	GSI1SK        string                          `dynamodbav:"GSI1SK"`
	GSI2PK        string                          `dynamodbav:"GSI2PK"`
	GSI2SK        string                          `dynamodbav:"GSI2SK"`
	EntityType    string                          `dynamodbav:"EntityType"`
	ID            string                          `dynamodbav:"ID"`
	FromID        string                          `dynamodbav:"FromID"`
	ToID          string                          `dynamodbav:"ToID"`
	Type          string                          `dynamodbav:"Type"`
	Properties    entities.RelationshipProperties `dynamodbav:"Properties"`
	ValidFrom     string                          `dynamodbav:"ValidFrom"`
	ValidUntil    *string                         `dynamodbav:"ValidUntil,omitempty"`
	RecordedAt    string                          `dynamodbav:"RecordedAt"`
	InvalidatedBy *string                         `dynamodbav:"InvalidatedBy,omitempty"`
}

func newRelationshipItem(rel *entities.Relationship) relationshipItem {
	item := relationshipItem{
		PK:         relationshipPK(rel.ID),
		SK:         "META",
		GSI1PK:     "FROM#" + rel.FromID.String(),
		GSI1SK:     rel.RecordedAt.UTC().Format(timeLayout) + "#" + rel.ID.String(),
		GSI2PK:     "TO#" + rel.ToID.String(),
		GSI2SK:     rel.RecordedAt.UTC().Format(timeLayout) + "#" + rel.ID.String(),
		EntityType: entityRelationship,
		ID:         rel.ID.String(),
		FromID:     rel.FromID.String(),
		ToID:       rel.ToID.String(),
		Type:       string(rel.Type),
		Properties: rel.Properties,
		ValidFrom:  rel.ValidFrom.UTC().Format(timeLayout),
		RecordedAt: rel.RecordedAt.UTC().Format(timeLayout),
	}
	if rel.ValidUntil != nil {
		until := rel.ValidUntil.UTC().Format(timeLayout)
		item.ValidUntil = &until
	}
	if rel.InvalidatedBy != nil {
		successor := rel.InvalidatedBy.String()
		item.InvalidatedBy = &successor
	}
	return item
}

func (i relationshipItem) toEntity() (*entities.Relationship, error) {
	id, err := valueobjects.NewRelationshipIDFromString(i.ID)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError("malformed relationship id " + i.ID)
	}
	from, err := valueobjects.NewMemoryIDFromString(i.FromID)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError("malformed memory id " + i.FromID)
	}
	to, err := valueobjects.NewMemoryIDFromString(i.ToID)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError("malformed memory id " + i.ToID)
	}
	validFrom, err := time.Parse(time.RFC3339Nano, i.ValidFrom)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError("malformed timestamp " + i.ValidFrom)
	}
	recordedAt, err := time.Parse(time.RFC3339Nano, i.RecordedAt)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError("malformed timestamp " + i.RecordedAt)
	}

	rel := &entities.Relationship{
		ID:         id,
		FromID:     from,
		ToID:       to,
		Type:       entities.RelationType(i.Type),
		Properties: i.Properties,
		ValidFrom:  validFrom,
		RecordedAt: recordedAt,
	}
	if i.ValidUntil != nil {
		until, err := time.Parse(time.RFC3339Nano, *i.ValidUntil)
		if err != nil {
			return nil, pkgerrors.NewIntegrityError("malformed timestamp " + *i.ValidUntil)
		}
		rel.ValidUntil = &until
	}
	if i.InvalidatedBy != nil {
		successor, err := valueobjects.NewRelationshipIDFromString(*i.InvalidatedBy)
		if err != nil {
			return nil, pkgerrors.NewIntegrityError("malformed relationship id " + *i.InvalidatedBy)
		}
		rel.InvalidatedBy = &successor
	}
	return rel, nil
}

// SaveRelationship verifies the endpoints, runs the cycle check, then puts
// the item. Without cross-item transactions the check-then-write is not
// atomic against concurrent writers; the engine reports that through
// SupportsTransactions.
func (s *Store) SaveRelationship(ctx context.Context, rel *entities.Relationship) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	for _, endpoint := range []valueobjects.MemoryID{rel.FromID, rel.ToID} {
		if _, err := s.GetMemory(ctx, endpoint); err != nil {
			return err
		}
	}

	if err := s.cycles.Check(ctx, s, rel.FromID, rel.ToID, rel.Type); err != nil {
		return err
	}

	av, err := attributevalue.MarshalMap(newRelationshipItem(rel))
	if err != nil {
		return pkgerrors.NewBackendError("save_relationship", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.opts.Table),
		Item:      av,
	})
	if err != nil {
		return pkgerrors.NewBackendError("save_relationship", err)
	}
	return nil
}

// GetRelationship fetches one relationship by id
func (s *Store) GetRelationship(ctx context.Context, id valueobjects.RelationshipID) (*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.opts.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: relationshipPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
	})
	if err != nil {
		return nil, pkgerrors.NewBackendError("get_relationship", err)
	}
	if out.Item == nil {
		return nil, pkgerrors.NewNotFoundError("relationship", id.String())
	}

	var item relationshipItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, pkgerrors.NewBackendError("get_relationship", err)
	}
	return item.toEntity()
}

// InvalidateRelationship closes the validity interval with a conditional
// update so a concurrent invalidation loses cleanly
func (s *Store) InvalidateRelationship(ctx context.Context, id valueobjects.RelationshipID, at time.Time, successor *valueobjects.RelationshipID) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	rel, err := s.GetRelationship(ctx, id)
	if err != nil {
		return err
	}
	if err := rel.Invalidate(at, successor); err != nil {
		return err
	}

	update := expression.Set(expression.Name("ValidUntil"),
		expression.Value(rel.ValidUntil.UTC().Format(timeLayout)))
	if successor != nil {
		update = update.Set(expression.Name("InvalidatedBy"), expression.Value(successor.String()))
	}
	cond := expression.AttributeNotExists(expression.Name("ValidUntil"))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return pkgerrors.NewBackendError("invalidate_relationship", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.opts.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: relationshipPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return pkgerrors.NewConflictError("relationship " + id.String() + " is already invalidated")
		}
		return pkgerrors.NewBackendError("invalidate_relationship", err)
	}
	return nil
}

// ListRelationships scans with a filter expression, then orders and pages in
// memory
func (s *Store) ListRelationships(ctx context.Context, filter abstractions.RelationshipFilter, page common.PageRequest) (*abstractions.RelationshipPage, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	page = common.NewPageRequest(page.Limit, page.Offset)

	filt := expression.Name("EntityType").Equal(expression.Value(entityRelationship))
	if filter.FromID != nil {
		filt = filt.And(expression.Name("FromID").Equal(expression.Value(filter.FromID.String())))
	}
	if filter.ToID != nil {
		filt = filt.And(expression.Name("ToID").Equal(expression.Value(filter.ToID.String())))
	}
	if filter.Type != nil {
		filt = filt.And(expression.Name("Type").Equal(expression.Value(string(*filter.Type))))
	}
	if filter.CurrentOnly {
		filt = filt.And(expression.AttributeNotExists(expression.Name("ValidUntil")))
	}

	rels, err := s.collectRelationships(ctx, filt)
	if err != nil {
		return nil, err
	}
	sortRelationshipsByRecording(rels)

	total := int64(len(rels))
	start := page.Offset
	if start > len(rels) {
		start = len(rels)
	}
	end := start + page.Limit
	if end > len(rels) {
		end = len(rels)
	}
	return &abstractions.RelationshipPage{
		Items:    rels[start:end],
		PageInfo: common.NewPageInfo(page, total),
	}, nil
}

// Neighbors lists current relationships touching the memory via both GSIs
func (s *Store) Neighbors(ctx context.Context, id valueobjects.MemoryID, typeFilter []entities.RelationType) ([]services.Neighbor, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	rels, err := s.relationshipsTouching(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := map[entities.RelationType]bool{}
	for _, t := range typeFilter {
		allowed[t] = true
	}

	neighbors := make([]services.Neighbor, 0, len(rels))
	for _, rel := range rels {
		if !rel.IsCurrent() {
			continue
		}
		if len(allowed) > 0 && !allowed[rel.Type] {
			continue
		}
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

// Successors lists targets of current outgoing edges of one type via GSI1
func (s *Store) Successors(ctx context.Context, id valueobjects.MemoryID, relType entities.RelationType) ([]valueobjects.MemoryID, error) {
	rels, err := s.queryRelationshipIndex(ctx, gsiFrom, "GSI1PK", "FROM#"+id.String())
	if err != nil {
		return nil, err
	}

	var ids []valueobjects.MemoryID
	for _, rel := range rels {
		if rel.Type != relType || !rel.IsCurrent() {
			continue
		}
		ids = append(ids, rel.ToID)
	}
	return ids, nil
}

// RelationshipsAsOf lists relationships touching the memory whose validity
// interval contained the given instant
func (s *Store) RelationshipsAsOf(ctx context.Context, id valueobjects.MemoryID, at time.Time) ([]*entities.Relationship, error) {
	rels, err := s.relationshipsTouching(ctx, id)
	if err != nil {
		return nil, err
	}

	var matched []*entities.Relationship
	for _, rel := range rels {
		if rel.ValidAt(at) {
			matched = append(matched, rel)
		}
	}
	sortRelationshipsByRecording(matched)
	return matched, nil
}

// RelationshipHistory lists every version ever recorded from the origin
// memory for one relation type, newest valid_from first
func (s *Store) RelationshipHistory(ctx context.Context, from valueobjects.MemoryID, relType entities.RelationType) ([]*entities.Relationship, error) {
	rels, err := s.queryRelationshipIndex(ctx, gsiFrom, "GSI1PK", "FROM#"+from.String())
	if err != nil {
		return nil, err
	}

	var matched []*entities.Relationship
	for _, rel := range rels {
		if rel.Type == relType {
			matched = append(matched, rel)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ValidFrom.After(matched[j].ValidFrom)
	})
	return matched, nil
}

// RelationshipsRecordedSince lists relationships recorded strictly after the
// given instant
func (s *Store) RelationshipsRecordedSince(ctx context.Context, since time.Time) ([]*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	filt := expression.Name("EntityType").Equal(expression.Value(entityRelationship)).
		And(expression.Name("RecordedAt").GreaterThan(
			expression.Value(since.UTC().Format(timeLayout))))
	rels, err := s.collectRelationships(ctx, filt)
	if err != nil {
		return nil, err
	}
	sortRelationshipsByRecording(rels)
	return rels, nil
}

// relationshipsTouching returns every relationship with the memory as either
// endpoint, history included
func (s *Store) relationshipsTouching(ctx context.Context, id valueobjects.MemoryID) ([]*entities.Relationship, error) {
	outgoing, err := s.queryRelationshipIndex(ctx, gsiFrom, "GSI1PK", "FROM#"+id.String())
	if err != nil {
		return nil, err
	}
	incoming, err := s.queryRelationshipIndex(ctx, gsiTo, "GSI2PK", "TO#"+id.String())
	if err != nil {
		return nil, err
	}
	return append(outgoing, incoming...), nil
}

func (s *Store) queryRelationshipIndex(ctx context.Context, index, keyName, keyValue string) ([]*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(keyName).Equal(expression.Value(keyValue))).
		Build()
	if err != nil {
		return nil, pkgerrors.NewBackendError("query_relationships", err)
	}

	var rels []*entities.Relationship
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.opts.Table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pkgerrors.NewBackendError("query_relationships", err)
		}
		for _, raw := range page.Items {
			var item relationshipItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, pkgerrors.NewBackendError("query_relationships", err)
			}
			rel, err := item.toEntity()
			if err != nil {
				return nil, err
			}
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

func (s *Store) collectRelationships(ctx context.Context, filt expression.ConditionBuilder) ([]*entities.Relationship, error) {
	items, err := s.scanEntities(ctx, filt)
	if err != nil {
		return nil, err
	}
	rels := make([]*entities.Relationship, 0, len(items))
	for _, raw := range items {
		var item relationshipItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, pkgerrors.NewBackendError("list_relationships", err)
		}
		rel, err := item.toEntity()
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

func sortRelationshipsByRecording(rels []*entities.Relationship) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].RecordedAt.Equal(rels[j].RecordedAt) {
			return rels[i].ID.String() < rels[j].ID.String()
		}
		return rels[i].RecordedAt.Before(rels[j].RecordedAt)
	})
}
