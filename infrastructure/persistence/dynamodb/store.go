// Package dynamodb is the managed remote engine: a single-table layout where
// memories and relationships live side by side, keyed by entity prefix. The
// engine reports no full-text search capability; SearchMemories degrades to
// a filtered scan.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	domaincfg "github.com/engramdb/engram/domain/config"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/domain/services"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

const (
	engineName = "dynamodb"

	entityMemory       = "MEMORY"
	entityRelationship = "RELATIONSHIP"

	gsiFrom = "GSI1"
	gsiTo   = "GSI2"
)

// Options configures the DynamoDB engine
type Options struct {
	Table    string
	Region   string
	Endpoint string
}

// Store implements abstractions.GraphStore over a single DynamoDB table
type Store struct {
	opts   Options
	cfg    *domaincfg.DomainConfig
	logger *zap.Logger
	cycles *services.CycleDetector

	client *dynamodb.Client
}

// New creates an unconnected store for the given table
func New(opts Options, cfg *domaincfg.DomainConfig, logger *zap.Logger) *Store {
	if cfg == nil {
		cfg = domaincfg.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
		cycles: services.NewCycleDetector(cfg.AllowCycles),
	}
}

// Connect loads AWS configuration and verifies the table is reachable. A
// missing table is not a connection failure; InitializeSchema creates it.
func (s *Store) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	if s.opts.Table == "" {
		return pkgerrors.NewValidationError("dynamodb table name is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if s.opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(s.opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return pkgerrors.NewConnectionError(engineName, err)
	}

	s.client = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if s.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.opts.Endpoint)
		}
	})

	_, err = s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.opts.Table),
	})
	if err != nil && !isTableMissing(err) {
		s.client = nil
		return pkgerrors.NewConnectionError(engineName, err)
	}

	s.logger.Info("dynamodb store connected",
		zap.String("table", s.opts.Table),
		zap.String("region", s.opts.Region))
	return nil
}

// Close drops the client. The SDK holds no persistent connections worth
// draining.
func (s *Store) Close(ctx context.Context) error {
	s.client = nil
	return nil
}

// InitializeSchema creates the table with both relationship GSIs when it
// does not exist yet, then waits for it to become active
func (s *Store) InitializeSchema(ctx context.Context) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.opts.Table),
	})
	if err == nil {
		return nil
	}
	if !isTableMissing(err) {
		return pkgerrors.NewBackendError("initialize_schema", err)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.opts.Table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI2PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI2SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String(gsiFrom),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("GSI1PK"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("GSI1SK"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
			{
				IndexName: aws.String(gsiTo),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("GSI2PK"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("GSI2SK"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
	})
	if err != nil {
		return pkgerrors.NewBackendError("initialize_schema", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.opts.Table),
	}, 2*time.Minute); err != nil {
		return pkgerrors.NewBackendError("initialize_schema", err)
	}
	return nil
}

// Execute runs a PartiQL statement with bind parameters
func (s *Store) Execute(ctx context.Context, query string, params []interface{}, isWrite bool) (*abstractions.QueryResult, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	var bound []types.AttributeValue
	for _, p := range params {
		av, err := attributevalue.Marshal(p)
		if err != nil {
			return nil, pkgerrors.NewValidationError(fmt.Sprintf("unbindable parameter: %v", err))
		}
		bound = append(bound, av)
	}

	out, err := s.client.ExecuteStatement(ctx, &dynamodb.ExecuteStatementInput{
		Statement:  aws.String(query),
		Parameters: bound,
	})
	if err != nil {
		return nil, pkgerrors.NewBackendError("execute", err)
	}

	result := &abstractions.QueryResult{}
	if isWrite {
		result.RowsAffected = 1
		return result, nil
	}

	columnSet := map[string]bool{}
	decoded := make([]map[string]interface{}, 0, len(out.Items))
	for _, item := range out.Items {
		row := map[string]interface{}{}
		if err := attributevalue.UnmarshalMap(item, &row); err != nil {
			return nil, pkgerrors.NewBackendError("execute", err)
		}
		for k := range row {
			columnSet[k] = true
		}
		decoded = append(decoded, row)
	}
	for k := range columnSet {
		result.Columns = append(result.Columns, k)
	}
	for _, row := range decoded {
		values := make([]interface{}, len(result.Columns))
		for i, col := range result.Columns {
			values[i] = row[col]
		}
		result.Rows = append(result.Rows, values)
	}
	return result, nil
}

// HealthCheck verifies the table is active and reports entity counts
func (s *Store) HealthCheck(ctx context.Context) (*abstractions.HealthStatus, error) {
	status := &abstractions.HealthStatus{
		Engine: engineName,
		Diagnostics: map[string]interface{}{
			"table":  s.opts.Table,
			"region": s.opts.Region,
		},
	}
	if s.client == nil {
		return status, nil
	}

	desc, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.opts.Table),
	})
	if err != nil {
		status.Diagnostics["error"] = err.Error()
		return status, nil
	}
	status.Connected = true
	status.Diagnostics["table_status"] = string(desc.Table.TableStatus)

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

// SupportsFullTextSearch is false: search is a filtered scan
func (s *Store) SupportsFullTextSearch() bool { return false }

// SupportsTransactions is false: the cycle check and insert cannot share an
// isolation scope the way SQLite's do
func (s *Store) SupportsTransactions() bool { return false }

// ClearAll scans and deletes every item in batches. Safe to repeat.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.requireConnection(); err != nil {
		return err
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.opts.Table),
		ProjectionExpression: aws.String("PK, SK"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return pkgerrors.NewBackendError("clear_all", err)
		}
		for start := 0; start < len(page.Items); start += 25 {
			end := start + 25
			if end > len(page.Items) {
				end = len(page.Items)
			}
			var writes []types.WriteRequest
			for _, item := range page.Items[start:end] {
				writes = append(writes, types.WriteRequest{
					DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
						"PK": item["PK"],
						"SK": item["SK"],
					}},
				})
			}
			if len(writes) == 0 {
				continue
			}
			_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.opts.Table: writes},
			})
			if err != nil {
				return pkgerrors.NewBackendError("clear_all", err)
			}
		}
	}
	return nil
}

func (s *Store) requireConnection() error {
	if s.client == nil {
		return pkgerrors.NewConnectionError(engineName, fmt.Errorf("store is not connected"))
	}
	return nil
}

func (s *Store) scanEntities(ctx context.Context, filt expression.ConditionBuilder) ([]map[string]types.AttributeValue, error) {
	expr, err := expression.NewBuilder().WithFilter(filt).Build()
	if err != nil {
		return nil, pkgerrors.NewBackendError("scan", err)
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.opts.Table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pkgerrors.NewBackendError("scan", err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func isTableMissing(err error) bool {
	var notFound *types.ResourceNotFoundException
	return errors.As(err, &notFound)
}

func memoryPK(id valueobjects.MemoryID) string {
	return "MEMORY#" + id.String()
}

func relationshipPK(id valueobjects.RelationshipID) string {
	return "REL#" + id.String()
}

var _ abstractions.GraphStore = (*Store)(nil)