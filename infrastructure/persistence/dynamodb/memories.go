package dynamodb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type memoryItem struct {
	PK         string                 `dynamodbav:"PK"`
	SK         string                 `dynamodbav:"SK"`
	EntityType string                 `dynamodbav:"EntityType"`
	ID         string                 `dynamodbav:"ID"`
	Type       string                 `dynamodbav:"Type"`
	Title      string                 `dynamodbav:"Title"`
	Content    string                 `dynamodbav:"Content"`
	Summary    string                 `dynamodbav:"Summary,omitempty"`
	Tags       []string               `dynamodbav:"Tags,omitempty"`
	Importance float64                `dynamodbav:"Importance"`
	Context    entities.MemoryContext `dynamodbav:"Context"`
	CreatedAt  string                 `dynamodbav:"CreatedAt"`
	UpdatedAt  string                 `dynamodbav:"UpdatedAt"`
}

func newMemoryItem(memory *entities.Memory) memoryItem {
	return memoryItem{
		PK:         memoryPK(memory.ID),
		SK:         "META",
		EntityType: entityMemory,
		ID:         memory.ID.String(),
		Type:       string(memory.Type),
		Title:      memory.Title,
		Content:    memory.Content,
		Summary:    memory.Summary,
		Tags:       entities.NormalizeTags(memory.Tags),
		Importance: memory.Importance,
		Context:    memory.Context,
		CreatedAt:  memory.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:  memory.UpdatedAt.UTC().Format(timeLayout),
	}
}

func (i memoryItem) toEntity() (*entities.Memory, error) {
	id, err := valueobjects.NewMemoryIDFromString(i.ID)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError("malformed memory id " + i.ID)
	}
	created, err := time.Parse(time.RFC3339Nano, i.CreatedAt)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError("malformed timestamp " + i.CreatedAt)
	}
	updated, err := time.Parse(time.RFC3339Nano, i.UpdatedAt)
	if err != nil {
		return nil, pkgerrors.NewIntegrityError("malformed timestamp " + i.UpdatedAt)
	}
	return &entities.Memory{
		ID:         id,
		Type:       entities.MemoryType(i.Type),
		Title:      i.Title,
		Content:    i.Content,
		Summary:    i.Summary,
		Tags:       i.Tags,
		Importance: i.Importance,
		Context:    i.Context,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, nil
}

// SaveMemory puts the item; PutItem overwrites, so save doubles as update
func (s *Store) SaveMemory(ctx context.Context, memory *entities.Memory) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	av, err := attributevalue.MarshalMap(newMemoryItem(memory))
	if err != nil {
		return pkgerrors.NewBackendError("save_memory", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.opts.Table),
		Item:      av,
	})
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

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.opts.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: memoryPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
	})
	if err != nil {
		return nil, pkgerrors.NewBackendError("get_memory", err)
	}
	if out.Item == nil {
		return nil, pkgerrors.NewNotFoundError("memory", id.String())
	}

	var item memoryItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, pkgerrors.NewBackendError("get_memory", err)
	}
	return item.toEntity()
}

// DeleteMemory removes the memory and every relationship touching it. Without
// cross-item transactions the cascade is best effort: relationships go first
// so a partial failure never leaves a dangling edge without its memory.
func (s *Store) DeleteMemory(ctx context.Context, id valueobjects.MemoryID) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	if _, err := s.GetMemory(ctx, id); err != nil {
		return err
	}

	rels, err := s.relationshipsTouching(ctx, id)
	if err != nil {
		return err
	}
	for _, rel := range rels {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.opts.Table),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: relationshipPK(rel.ID)},
				"SK": &types.AttributeValueMemberS{Value: "META"},
			},
		})
		if err != nil {
			return pkgerrors.NewBackendError("delete_memory", err)
		}
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.opts.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: memoryPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
	})
	if err != nil {
		return pkgerrors.NewBackendError("delete_memory", err)
	}
	return nil
}

// ListMemories scans with a filter expression, then orders and pages in
// memory. Offset pagination over a scan is inherently O(total); acceptable
// for the dataset sizes this engine targets.
func (s *Store) ListMemories(ctx context.Context, filter abstractions.MemoryFilter, page common.PageRequest) (*abstractions.MemoryPage, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	page = common.NewPageRequest(page.Limit, page.Offset)

	filt := expression.Name("EntityType").Equal(expression.Value(entityMemory))
	if filter.Type != nil {
		filt = filt.And(expression.Name("Type").Equal(expression.Value(string(*filter.Type))))
	}
	if filter.Project != "" {
		filt = filt.And(expression.Name("Context.Project").Equal(expression.Value(filter.Project)))
	}
	for _, tag := range entities.NormalizeTags(filter.Tags) {
		filt = filt.And(expression.Name("Tags").Contains(tag))
	}

	memories, err := s.collectMemories(ctx, filt)
	if err != nil {
		return nil, err
	}
	sortMemoriesByCreation(memories)
	return pageMemories(memories, page), nil
}

// SearchMemories is the degraded search path: a scan filtered by substring
// match on title, content, and summary
func (s *Store) SearchMemories(ctx context.Context, query string, page common.PageRequest) (*abstractions.MemoryPage, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	page = common.NewPageRequest(page.Limit, page.Offset)

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, pkgerrors.NewValidationError("search query cannot be empty")
	}

	filt := expression.Name("EntityType").Equal(expression.Value(entityMemory)).
		And(expression.Name("Title").Contains(query).
			Or(expression.Name("Content").Contains(query)).
			Or(expression.Name("Summary").Contains(query)))

	memories, err := s.collectMemories(ctx, filt)
	if err != nil {
		return nil, err
	}
	sortMemoriesByCreation(memories)
	return pageMemories(memories, page), nil
}

// CountMemories counts memory items with a filtered scan
func (s *Store) CountMemories(ctx context.Context) (int64, error) {
	return s.countEntities(ctx, entityMemory)
}

// CountRelationships counts relationship items with a filtered scan
func (s *Store) CountRelationships(ctx context.Context) (int64, error) {
	return s.countEntities(ctx, entityRelationship)
}

func (s *Store) countEntities(ctx context.Context, entityType string) (int64, error) {
	if err := s.requireConnection(); err != nil {
		return 0, err
	}

	expr, err := expression.NewBuilder().
		WithFilter(expression.Name("EntityType").Equal(expression.Value(entityType))).
		Build()
	if err != nil {
		return 0, pkgerrors.NewBackendError("count", err)
	}

	var total int64
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.opts.Table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Select:                    types.SelectCount,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, pkgerrors.NewBackendError("count", err)
		}
		total += int64(page.Count)
	}
	return total, nil
}

func (s *Store) collectMemories(ctx context.Context, filt expression.ConditionBuilder) ([]*entities.Memory, error) {
	items, err := s.scanEntities(ctx, filt)
	if err != nil {
		return nil, err
	}
	memories := make([]*entities.Memory, 0, len(items))
	for _, raw := range items {
		var item memoryItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, pkgerrors.NewBackendError("list_memories", err)
		}
		memory, err := item.toEntity()
		if err != nil {
			return nil, err
		}
		memories = append(memories, memory)
	}
	return memories, nil
}

func sortMemoriesByCreation(memories []*entities.Memory) {
	sort.Slice(memories, func(i, j int) bool {
		if memories[i].CreatedAt.Equal(memories[j].CreatedAt) {
			return memories[i].ID.String() < memories[j].ID.String()
		}
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})
}

func pageMemories(memories []*entities.Memory, page common.PageRequest) *abstractions.MemoryPage {
	total := int64(len(memories))
	start := page.Offset
	if start > len(memories) {
		start = len(memories)
	}
	end := start + page.Limit
	if end > len(memories) {
		end = len(memories)
	}
	return &abstractions.MemoryPage{
		Items:    memories[start:end],
		PageInfo: common.NewPageInfo(page, total),
	}
}
