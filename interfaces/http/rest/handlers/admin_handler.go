package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/engramdb/engram/application/migration"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/pkg/common"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// AdminHandler serves health, stats, capability, raw query, and backup
// endpoints. It talks to the store directly; these operations bypass the
// domain services on purpose.
type AdminHandler struct {
	store    abstractions.GraphStore
	migrator *migration.Manager
	errors   *pkgerrors.ErrorHandler
	logger   *zap.Logger
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(store abstractions.GraphStore, migrator *migration.Manager, errorHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{store: store, migrator: migrator, errors: errorHandler, logger: logger}
}

// audit logs a destructive admin operation with the authenticated subject,
// when there is one
func (h *AdminHandler) audit(ctx context.Context, operation string) {
	fields := []zap.Field{zap.String("operation", operation)}
	if subject, ok := common.GetSubject(ctx); ok {
		fields = append(fields, zap.String("subject", subject))
	}
	h.logger.Info("admin operation", fields...)
}

type queryRequest struct {
	Query   string        `json:"query"`
	Params  []interface{} `json:"params,omitempty"`
	IsWrite bool          `json:"is_write"`
}

// Health handles GET /health
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.store.HealthCheck(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	code := http.StatusOK
	if !status.Connected {
		code = http.StatusServiceUnavailable
	}
	common.RespondJSON(w, code, status)
}

// Stats handles GET /api/v1/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	status, err := h.store.HealthCheck(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, status)
}

// Capabilities handles GET /api/v1/admin/capabilities
func (h *AdminHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]bool{
		"full_text_search": h.store.SupportsFullTextSearch(),
		"transactions":     h.store.SupportsTransactions(),
	})
}

// Query handles POST /api/v1/admin/query: raw engine-native statements
func (h *AdminHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if req.Query == "" {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("query cannot be empty"))
		return
	}

	result, err := h.store.Execute(r.Context(), req.Query, req.Params, req.IsWrite)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

// Schema handles POST /api/v1/admin/schema
func (h *AdminHandler) Schema(w http.ResponseWriter, r *http.Request) {
	if err := h.store.InitializeSchema(r.Context()); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles POST /api/v1/admin/clear
func (h *AdminHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.audit(r.Context(), "clear")
	if err := h.store.ClearAll(r.Context()); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backup handles GET /api/v1/admin/backup: streams a full archive
func (h *AdminHandler) Backup(w http.ResponseWriter, r *http.Request) {
	archive, err := migration.Export(r.Context(), h.store, 0)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="engram-backup.json"`)
	if err := archive.Write(w); err != nil {
		h.errors.Handle(w, r, err)
	}
}

// Restore handles POST /api/v1/admin/restore: loads an archive, upgrading
// old format versions, and imports it
func (h *AdminHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.audit(r.Context(), "restore")
	archive, err := migration.Load(r.Body)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	opts := migration.DefaultOptions()
	opts.SkipDuplicates = r.URL.Query().Get("skip_duplicates") == "true"

	result, err := h.migrator.Restore(r.Context(), h.store, archive, opts)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}
