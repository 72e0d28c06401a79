// Package remote forwards the storage contract to another engram server over
// its REST API. Transient failures retry with backoff and jitter behind a
// circuit breaker.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/domain/services"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

const engineName = "remote"

// Options configures the remote engine
type Options struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	Retry            RetryPolicy
	FailureThreshold int
	ResetTimeout     time.Duration
}

// capabilities mirrors the server's capability report
type capabilities struct {
	FullTextSearch bool `json:"full_text_search"`
	Transactions   bool `json:"transactions"`
}

// Store implements abstractions.GraphStore against a remote engram server
type Store struct {
	opts    Options
	logger  *zap.Logger
	client  *http.Client
	breaker *CircuitBreaker
	retry   RetryPolicy

	connected bool
	caps      capabilities
}

// New creates an unconnected remote store
func New(opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	return &Store{
		opts:    opts,
		logger:  logger,
		client:  &http.Client{Timeout: opts.Timeout},
		breaker: NewCircuitBreaker(opts.FailureThreshold, opts.ResetTimeout, logger),
		retry:   retry,
	}
}

// Connect verifies the server is reachable and learns its capabilities
func (s *Store) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}
	if s.opts.BaseURL == "" {
		return pkgerrors.NewValidationError("remote base url is required")
	}

	var caps capabilities
	if err := s.get(ctx, "/api/v1/admin/capabilities", &caps); err != nil {
		return err
	}
	s.caps = caps
	s.connected = true
	s.logger.Info("remote store connected",
		zap.String("base_url", s.opts.BaseURL),
		zap.Bool("full_text_search", caps.FullTextSearch))
	return nil
}

// Close drops the connection state
func (s *Store) Close(ctx context.Context) error {
	s.connected = false
	s.client.CloseIdleConnections()
	return nil
}

// Execute forwards a raw query to the server
func (s *Store) Execute(ctx context.Context, query string, params []interface{}, isWrite bool) (*abstractions.QueryResult, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"query":    query,
		"params":   params,
		"is_write": isWrite,
	}
	var result abstractions.QueryResult
	if err := s.post(ctx, "/api/v1/admin/query", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// InitializeSchema asks the server to run its own schema initialization
func (s *Store) InitializeSchema(ctx context.Context) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	return s.post(ctx, "/api/v1/admin/schema", nil, nil)
}

// HealthCheck proxies the server's health endpoint
func (s *Store) HealthCheck(ctx context.Context) (*abstractions.HealthStatus, error) {
	status := &abstractions.HealthStatus{
		Engine: engineName,
		Diagnostics: map[string]interface{}{
			"base_url":        s.opts.BaseURL,
			"circuit_breaker": s.breaker.State(),
		},
	}
	if !s.connected {
		return status, nil
	}

	var upstream abstractions.HealthStatus
	if err := s.get(ctx, "/health", &upstream); err != nil {
		status.Diagnostics["error"] = err.Error()
		return status, nil
	}
	status.Connected = upstream.Connected
	status.MemoryCount = upstream.MemoryCount
	status.RelationshipCount = upstream.RelationshipCount
	status.Diagnostics["upstream_engine"] = upstream.Engine
	return status, nil
}

// SupportsFullTextSearch reflects the upstream engine's capability
func (s *Store) SupportsFullTextSearch() bool { return s.caps.FullTextSearch }

// SupportsTransactions reflects the upstream engine's capability
func (s *Store) SupportsTransactions() bool { return s.caps.Transactions }

// SaveMemory creates or updates a memory upstream
func (s *Store) SaveMemory(ctx context.Context, memory *entities.Memory) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	return s.put(ctx, "/api/v1/memories/"+memory.ID.String(), memory, nil)
}

// GetMemory fetches one memory
func (s *Store) GetMemory(ctx context.Context, id valueobjects.MemoryID) (*entities.Memory, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	var memory entities.Memory
	if err := s.get(ctx, "/api/v1/memories/"+id.String(), &memory); err != nil {
		return nil, err
	}
	return &memory, nil
}

// DeleteMemory deletes a memory and its relationships
func (s *Store) DeleteMemory(ctx context.Context, id valueobjects.MemoryID) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	return s.delete(ctx, "/api/v1/memories/"+id.String())
}

// ListMemories lists memories with filters and pagination
func (s *Store) ListMemories(ctx context.Context, filter abstractions.MemoryFilter, page common.PageRequest) (*abstractions.MemoryPage, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	query := url.Values{}
	if filter.Type != nil {
		query.Set("type", string(*filter.Type))
	}
	if filter.Project != "" {
		query.Set("project", filter.Project)
	}
	if len(filter.Tags) > 0 {
		query.Set("tags", strings.Join(filter.Tags, ","))
	}
	setPage(query, page)

	var result abstractions.MemoryPage
	if err := s.get(ctx, "/api/v1/memories?"+query.Encode(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchMemories searches upstream
func (s *Store) SearchMemories(ctx context.Context, q string, page common.PageRequest) (*abstractions.MemoryPage, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("q", q)
	setPage(query, page)

	var result abstractions.MemoryPage
	if err := s.get(ctx, "/api/v1/memories/search?"+query.Encode(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CountMemories reads the memory count from upstream stats
func (s *Store) CountMemories(ctx context.Context) (int64, error) {
	status, err := s.stats(ctx)
	if err != nil {
		return 0, err
	}
	return status.MemoryCount, nil
}

// CountRelationships reads the relationship count from upstream stats
func (s *Store) CountRelationships(ctx context.Context) (int64, error) {
	status, err := s.stats(ctx)
	if err != nil {
		return 0, err
	}
	return status.RelationshipCount, nil
}

// SaveRelationship creates a relationship upstream; the server runs the
// cycle check
func (s *Store) SaveRelationship(ctx context.Context, rel *entities.Relationship) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	return s.put(ctx, "/api/v1/relationships/"+rel.ID.String(), rel, nil)
}

// GetRelationship fetches one relationship
func (s *Store) GetRelationship(ctx context.Context, id valueobjects.RelationshipID) (*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	var rel entities.Relationship
	if err := s.get(ctx, "/api/v1/relationships/"+id.String(), &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// InvalidateRelationship closes a relationship's validity interval upstream
func (s *Store) InvalidateRelationship(ctx context.Context, id valueobjects.RelationshipID, at time.Time, successor *valueobjects.RelationshipID) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	body := map[string]interface{}{"at": at.UTC().Format(time.RFC3339Nano)}
	if successor != nil {
		body["successor_id"] = successor.String()
	}
	return s.post(ctx, "/api/v1/relationships/"+id.String()+"/invalidate", body, nil)
}

// ListRelationships lists relationships with filters and pagination
func (s *Store) ListRelationships(ctx context.Context, filter abstractions.RelationshipFilter, page common.PageRequest) (*abstractions.RelationshipPage, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	query := url.Values{}
	if filter.FromID != nil {
		query.Set("from", filter.FromID.String())
	}
	if filter.ToID != nil {
		query.Set("to", filter.ToID.String())
	}
	if filter.Type != nil {
		query.Set("type", string(*filter.Type))
	}
	if filter.CurrentOnly {
		query.Set("current", "true")
	}
	setPage(query, page)

	var result abstractions.RelationshipPage
	if err := s.get(ctx, "/api/v1/relationships?"+query.Encode(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Neighbors lists current neighbors of a memory
func (s *Store) Neighbors(ctx context.Context, id valueobjects.MemoryID, typeFilter []entities.RelationType) ([]services.Neighbor, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	query := url.Values{}
	if len(typeFilter) > 0 {
		names := make([]string, len(typeFilter))
		for i, t := range typeFilter {
			names[i] = string(t)
		}
		query.Set("types", strings.Join(names, ","))
	}

	var neighbors []services.Neighbor
	path := "/api/v1/memories/" + id.String() + "/neighbors"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	if err := s.get(ctx, path, &neighbors); err != nil {
		return nil, err
	}
	return neighbors, nil
}

// Successors lists targets of current outgoing edges of one type
func (s *Store) Successors(ctx context.Context, id valueobjects.MemoryID, relType entities.RelationType) ([]valueobjects.MemoryID, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}

	var ids []valueobjects.MemoryID
	path := "/api/v1/memories/" + id.String() + "/successors?type=" + url.QueryEscape(string(relType))
	if err := s.get(ctx, path, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// RelationshipsAsOf lists relationships valid at the given instant
func (s *Store) RelationshipsAsOf(ctx context.Context, id valueobjects.MemoryID, at time.Time) ([]*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	var rels []*entities.Relationship
	path := "/api/v1/memories/" + id.String() + "/relationships/as-of?at=" +
		url.QueryEscape(at.UTC().Format(time.RFC3339Nano))
	if err := s.get(ctx, path, &rels); err != nil {
		return nil, err
	}
	return rels, nil
}

// RelationshipHistory lists every version from the origin memory for one
// relation type, newest valid_from first
func (s *Store) RelationshipHistory(ctx context.Context, from valueobjects.MemoryID, relType entities.RelationType) ([]*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	var rels []*entities.Relationship
	path := "/api/v1/relationships/history?from=" + from.String() +
		"&type=" + url.QueryEscape(string(relType))
	if err := s.get(ctx, path, &rels); err != nil {
		return nil, err
	}
	return rels, nil
}

// RelationshipsRecordedSince lists relationships recorded strictly after the
// given instant
func (s *Store) RelationshipsRecordedSince(ctx context.Context, since time.Time) ([]*entities.Relationship, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	var rels []*entities.Relationship
	path := "/api/v1/relationships/recorded-since?since=" +
		url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	if err := s.get(ctx, path, &rels); err != nil {
		return nil, err
	}
	return rels, nil
}

// ClearAll wipes the upstream store
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	return s.post(ctx, "/api/v1/admin/clear", nil, nil)
}

func (s *Store) stats(ctx context.Context) (*abstractions.HealthStatus, error) {
	if err := s.requireConnection(); err != nil {
		return nil, err
	}
	var status abstractions.HealthStatus
	if err := s.get(ctx, "/api/v1/admin/stats", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *Store) requireConnection() error {
	if !s.connected {
		return pkgerrors.NewConnectionError(engineName, fmt.Errorf("store is not connected"))
	}
	return nil
}

func (s *Store) get(ctx context.Context, path string, out interface{}) error {
	return s.do(ctx, http.MethodGet, path, nil, out)
}

func (s *Store) post(ctx context.Context, path string, body, out interface{}) error {
	return s.do(ctx, http.MethodPost, path, body, out)
}

func (s *Store) put(ctx context.Context, path string, body, out interface{}) error {
	return s.do(ctx, http.MethodPut, path, body, out)
}

func (s *Store) delete(ctx context.Context, path string) error {
	return s.do(ctx, http.MethodDelete, path, nil, nil)
}

// do runs one request through the circuit breaker and retry policy,
// unwrapping the server's response envelope
func (s *Store) do(ctx context.Context, method, path string, body, out interface{}) error {
	return s.retry.Do(ctx, func() error {
		if err := s.breaker.Allow(); err != nil {
			return err
		}

		err := s.doOnce(ctx, method, path, body, out)
		if err != nil && isRetryable(err) {
			s.breaker.RecordFailure()
		} else {
			s.breaker.RecordSuccess()
		}
		return err
	})
}

func (s *Store) doOnce(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.NewValidationError(fmt.Sprintf("unencodable request body: %v", err))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.opts.BaseURL, "/")+path, reader)
	if err != nil {
		return pkgerrors.NewConnectionError(engineName, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return pkgerrors.NewConnectionError(engineName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.NewConnectionError(engineName, err)
	}

	var envelope struct {
		Success bool              `json:"success"`
		Data    json.RawMessage   `json:"data"`
		Error   *common.ErrorInfo `json:"error"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return pkgerrors.NewBackendError("remote_decode",
				fmt.Errorf("status %d: %w", resp.StatusCode, err))
		}
	}

	if resp.StatusCode >= 400 || (len(raw) > 0 && !envelope.Success) {
		return remoteError(resp.StatusCode, envelope.Error)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return pkgerrors.NewBackendError("remote_decode", err)
		}
	}
	return nil
}

// remoteError reconstructs the upstream error kind so callers see the same
// taxonomy regardless of which side of the wire raised it
func remoteError(status int, info *common.ErrorInfo) error {
	message := "remote request failed with status " + strconv.Itoa(status)
	code := ""
	if info != nil {
		if info.Message != "" {
			message = info.Message
		}
		code = info.Code
	}

	switch pkgerrors.ErrorType(code) {
	case pkgerrors.ErrorTypeValidation:
		return pkgerrors.NewValidationError(message)
	case pkgerrors.ErrorTypeNotFound:
		err := pkgerrors.NewNotFoundError("resource", "")
		err.Message = message
		return err
	case pkgerrors.ErrorTypeConflict:
		return pkgerrors.NewConflictError(message)
	case pkgerrors.ErrorTypeUnauthorized:
		return pkgerrors.NewUnauthorizedError(message)
	case pkgerrors.ErrorTypeIntegrity:
		return pkgerrors.NewIntegrityError(message)
	}

	switch {
	case status == http.StatusNotFound:
		err := pkgerrors.NewNotFoundError("resource", "")
		err.Message = message
		return err
	case status == http.StatusBadRequest:
		return pkgerrors.NewValidationError(message)
	case status == http.StatusConflict:
		return pkgerrors.NewConflictError(message)
	case status == http.StatusUnauthorized:
		return pkgerrors.NewUnauthorizedError(message)
	case status == http.StatusServiceUnavailable:
		return pkgerrors.NewConnectionError(engineName, fmt.Errorf("%s", message))
	default:
		return pkgerrors.NewBackendError("remote", fmt.Errorf("%s", message))
	}
}

func setPage(query url.Values, page common.PageRequest) {
	if page.Limit > 0 {
		query.Set("limit", strconv.Itoa(page.Limit))
	}
	if page.Offset > 0 {
		query.Set("offset", strconv.Itoa(page.Offset))
	}
}

var _ abstractions.GraphStore = (*Store)(nil)
