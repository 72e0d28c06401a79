// Package handlers implements the REST surface over the application
// services. Responses use the envelope from pkg/common; errors flow through
// the shared error handler so every engine failure maps to the same status.
package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/engramdb/engram/application/services"
	"github.com/engramdb/engram/domain/core/entities"
	"github.com/engramdb/engram/domain/core/valueobjects"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/utils"
)

const maxBodyBytes = 1 << 20

// MemoryHandler serves memory endpoints
type MemoryHandler struct {
	service *services.MemoryService
	store   abstractions.GraphStore
	errors  *pkgerrors.ErrorHandler
}

// NewMemoryHandler creates a memory handler
func NewMemoryHandler(service *services.MemoryService, store abstractions.GraphStore, errorHandler *pkgerrors.ErrorHandler) *MemoryHandler {
	return &MemoryHandler{service: service, store: store, errors: errorHandler}
}

type createMemoryRequest struct {
	Type       string                 `json:"type" validate:"required"`
	Title      string                 `json:"title" validate:"required,max=255"`
	Content    string                 `json:"content" validate:"max=50000"`
	Summary    string                 `json:"summary,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	Importance *float64               `json:"importance,omitempty"`
	Context    entities.MemoryContext `json:"context,omitempty"`
}

type updateMemoryRequest struct {
	Title      *string                 `json:"title,omitempty"`
	Content    *string                 `json:"content,omitempty"`
	Summary    *string                 `json:"summary,omitempty"`
	Tags       []string                `json:"tags,omitempty"`
	Importance *float64                `json:"importance,omitempty"`
	Context    *entities.MemoryContext `json:"context,omitempty"`
}

// Create handles POST /api/v1/memories
func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	memory, err := h.service.Create(r.Context(), services.CreateMemoryInput{
		Type:       entities.MemoryType(req.Type),
		Title:      req.Title,
		Content:    req.Content,
		Summary:    req.Summary,
		Tags:       req.Tags,
		Importance: req.Importance,
		Context:    req.Context,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, memory)
}

// Put handles PUT /api/v1/memories/{memoryID}: a full upsert preserving the
// caller's id and timestamps. The remote engine and migrations depend on it.
func (h *MemoryHandler) Put(w http.ResponseWriter, r *http.Request) {
	id, err := memoryIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var memory entities.Memory
	if err := common.ParseJSONBody(r, &memory, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if !memory.ID.Equals(id) {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("body id does not match path id"))
		return
	}
	if !entities.IsValidMemoryType(memory.Type) {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("unknown memory type"))
		return
	}

	if err := h.store.SaveMemory(r.Context(), &memory); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, memory)
}

// Get handles GET /api/v1/memories/{memoryID}
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := memoryIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	memory, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, memory)
}

// Update handles PATCH /api/v1/memories/{memoryID}
func (h *MemoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := memoryIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var req updateMemoryRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	memory, err := h.service.Update(r.Context(), id, services.UpdateMemoryInput{
		Title:      req.Title,
		Content:    req.Content,
		Summary:    req.Summary,
		Tags:       req.Tags,
		Importance: req.Importance,
		Context:    req.Context,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, memory)
}

// Delete handles DELETE /api/v1/memories/{memoryID}
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := memoryIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/v1/memories
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := abstractions.MemoryFilter{
		Project: r.URL.Query().Get("project"),
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		memType := entities.MemoryType(raw)
		if !entities.IsValidMemoryType(memType) {
			h.errors.Handle(w, r, pkgerrors.NewValidationError("unknown memory type "+raw))
			return
		}
		filter.Type = &memType
	}
	if raw := r.URL.Query().Get("tags"); raw != "" {
		filter.Tags = strings.Split(raw, ",")
	}

	page, err := h.service.List(r.Context(), filter, common.ExtractPageRequest(r))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusOK, page, &common.MetaInfo{Pagination: &page.PageInfo})
}

// Search handles GET /api/v1/memories/search
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	page, err := h.service.Search(r.Context(), query, common.ExtractPageRequest(r))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusOK, page, &common.MetaInfo{Pagination: &page.PageInfo})
}

// Related handles GET /api/v1/memories/{memoryID}/related
func (h *MemoryHandler) Related(w http.ResponseWriter, r *http.Request) {
	id, err := memoryIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	depth := 1
	if raw := r.URL.Query().Get("depth"); raw != "" {
		depth, err = strconv.Atoi(raw)
		if err != nil || depth < 1 {
			h.errors.Handle(w, r, pkgerrors.NewValidationError("depth must be a positive integer"))
			return
		}
	}
	typeFilter, err := relationTypesParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	related, err := h.service.Related(r.Context(), id, depth, typeFilter)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, related)
}

// Neighbors handles GET /api/v1/memories/{memoryID}/neighbors
func (h *MemoryHandler) Neighbors(w http.ResponseWriter, r *http.Request) {
	id, err := memoryIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	typeFilter, err := relationTypesParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	neighbors, err := h.store.Neighbors(r.Context(), id, typeFilter)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, neighbors)
}

// Successors handles GET /api/v1/memories/{memoryID}/successors
func (h *MemoryHandler) Successors(w http.ResponseWriter, r *http.Request) {
	id, err := memoryIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	relType := entities.RelationType(r.URL.Query().Get("type"))
	if !entities.IsValidRelationType(relType) {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("unknown relation type "+string(relType)))
		return
	}

	ids, err := h.store.Successors(r.Context(), id, relType)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, ids)
}

// AsOf handles GET /api/v1/memories/{memoryID}/relationships/as-of
func (h *MemoryHandler) AsOf(w http.ResponseWriter, r *http.Request) {
	id, err := memoryIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	at, err := timeParam(r, "at")
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	rels, err := h.store.RelationshipsAsOf(r.Context(), id, at)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, rels)
}

func memoryIDParam(r *http.Request) (valueobjects.MemoryID, error) {
	raw := chi.URLParam(r, "memoryID")
	id, err := valueobjects.NewMemoryIDFromString(raw)
	if err != nil {
		return valueobjects.MemoryID{}, pkgerrors.NewValidationError("invalid memory id")
	}
	return id, nil
}

func relationTypesParam(r *http.Request) ([]entities.RelationType, error) {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil, nil
	}
	var typeFilter []entities.RelationType
	for _, name := range strings.Split(raw, ",") {
		relType := entities.RelationType(strings.TrimSpace(name))
		if !entities.IsValidRelationType(relType) {
			return nil, pkgerrors.NewValidationError("unknown relation type " + string(relType))
		}
		typeFilter = append(typeFilter, relType)
	}
	return typeFilter, nil
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, pkgerrors.NewValidationError(name + " parameter is required")
	}
	at, err := utils.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, pkgerrors.NewValidationError(name + " must be an RFC3339 timestamp")
	}
	return at, nil
}
