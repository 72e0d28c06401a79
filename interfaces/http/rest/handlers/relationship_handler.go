package handlers

import (
	"net/http"
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

// RelationshipHandler serves relationship endpoints
type RelationshipHandler struct {
	service *services.RelationshipService
	store   abstractions.GraphStore
	errors  *pkgerrors.ErrorHandler
}

// NewRelationshipHandler creates a relationship handler
func NewRelationshipHandler(service *services.RelationshipService, store abstractions.GraphStore, errorHandler *pkgerrors.ErrorHandler) *RelationshipHandler {
	return &RelationshipHandler{service: service, store: store, errors: errorHandler}
}

type createRelationshipRequest struct {
	FromID     string  `json:"from_id" validate:"required,uuid"`
	ToID       string  `json:"to_id" validate:"required,uuid"`
	Type       string  `json:"type" validate:"required"`
	Strength   float64 `json:"strength,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Note       string  `json:"note,omitempty"`
}

type invalidateRequest struct {
	At          string `json:"at,omitempty"`
	SuccessorID string `json:"successor_id,omitempty"`
}

func (req createRelationshipRequest) toInput() (services.CreateRelationshipInput, error) {
	from, err := valueobjects.NewMemoryIDFromString(req.FromID)
	if err != nil {
		return services.CreateRelationshipInput{}, pkgerrors.NewValidationError("invalid from_id")
	}
	to, err := valueobjects.NewMemoryIDFromString(req.ToID)
	if err != nil {
		return services.CreateRelationshipInput{}, pkgerrors.NewValidationError("invalid to_id")
	}
	return services.CreateRelationshipInput{
		FromID: from,
		ToID:   to,
		Type:   entities.RelationType(req.Type),
		Properties: entities.RelationshipProperties{
			Strength:   req.Strength,
			Confidence: req.Confidence,
			Note:       req.Note,
		},
	}, nil
}

// Create handles POST /api/v1/relationships
func (h *RelationshipHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	input, err := req.toInput()
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	rel, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, rel)
}

// Put handles PUT /api/v1/relationships/{relationshipID}: a full upsert
// preserving the caller's id and bi-temporal fields
func (h *RelationshipHandler) Put(w http.ResponseWriter, r *http.Request) {
	id, err := relationshipIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var rel entities.Relationship
	if err := common.ParseJSONBody(r, &rel, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if !rel.ID.Equals(id) {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("body id does not match path id"))
		return
	}
	if !entities.IsValidRelationType(rel.Type) {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("unknown relation type"))
		return
	}

	if err := h.store.SaveRelationship(r.Context(), &rel); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, rel)
}

// Get handles GET /api/v1/relationships/{relationshipID}
func (h *RelationshipHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := relationshipIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	rel, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, rel)
}

// Invalidate handles POST /api/v1/relationships/{relationshipID}/invalidate
func (h *RelationshipHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	id, err := relationshipIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var req invalidateRequest
	if r.ContentLength > 0 {
		if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
			h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body: "+err.Error()))
			return
		}
	}

	at := time.Now().UTC()
	if req.At != "" {
		at, err = utils.ParseTimestamp(req.At)
		if err != nil {
			h.errors.Handle(w, r, pkgerrors.NewValidationError("at must be an RFC3339 timestamp"))
			return
		}
	}

	if req.SuccessorID != "" {
		successor, err := valueobjects.NewRelationshipIDFromString(req.SuccessorID)
		if err != nil {
			h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid successor_id"))
			return
		}
		if err := h.store.InvalidateRelationship(r.Context(), id, at, &successor); err != nil {
			h.errors.Handle(w, r, err)
			return
		}
	} else if err := h.service.Invalidate(r.Context(), id, at); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Supersede handles POST /api/v1/relationships/{relationshipID}/supersede
func (h *RelationshipHandler) Supersede(w http.ResponseWriter, r *http.Request) {
	id, err := relationshipIDParam(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var req createRelationshipRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	input, err := req.toInput()
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	successor, err := h.service.Supersede(r.Context(), id, input)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, successor)
}

// List handles GET /api/v1/relationships
func (h *RelationshipHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter abstractions.RelationshipFilter
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := valueobjects.NewMemoryIDFromString(raw)
		if err != nil {
			h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid from parameter"))
			return
		}
		filter.FromID = &from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := valueobjects.NewMemoryIDFromString(raw)
		if err != nil {
			h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid to parameter"))
			return
		}
		filter.ToID = &to
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		relType := entities.RelationType(raw)
		if !entities.IsValidRelationType(relType) {
			h.errors.Handle(w, r, pkgerrors.NewValidationError("unknown relation type "+raw))
			return
		}
		filter.Type = &relType
	}
	filter.CurrentOnly = r.URL.Query().Get("current") == "true"

	page, err := h.service.List(r.Context(), filter, common.ExtractPageRequest(r))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusOK, page, &common.MetaInfo{Pagination: &page.PageInfo})
}

// History handles GET /api/v1/relationships/history
func (h *RelationshipHandler) History(w http.ResponseWriter, r *http.Request) {
	from, err := valueobjects.NewMemoryIDFromString(r.URL.Query().Get("from"))
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid from parameter"))
		return
	}
	relType := entities.RelationType(r.URL.Query().Get("type"))
	if !entities.IsValidRelationType(relType) {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("unknown relation type "+string(relType)))
		return
	}

	rels, err := h.service.History(r.Context(), from, relType)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, rels)
}

// RecordedSince handles GET /api/v1/relationships/recorded-since
func (h *RelationshipHandler) RecordedSince(w http.ResponseWriter, r *http.Request) {
	since, err := timeParam(r, "since")
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	rels, err := h.service.RecordedSince(r.Context(), since)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, rels)
}

func relationshipIDParam(r *http.Request) (valueobjects.RelationshipID, error) {
	raw := chi.URLParam(r, "relationshipID")
	id, err := valueobjects.NewRelationshipIDFromString(raw)
	if err != nil {
		return valueobjects.RelationshipID{}, pkgerrors.NewValidationError("invalid relationship id")
	}
	return id, nil
}
