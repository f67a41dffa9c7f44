package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/logging"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
	"github.com/dbower44022/CRMExtender-sub005/pkg/services"
)

// DataSourceHandler handles data source HTTP requests.
type DataSourceHandler struct {
	dataSources services.DataSourceService
	logger      *zap.Logger
}

// NewDataSourceHandler creates a new data source handler.
func NewDataSourceHandler(dataSources services.DataSourceService, logger *zap.Logger) *DataSourceHandler {
	return &DataSourceHandler{dataSources: dataSources, logger: logger}
}

// RegisterRoutes registers the data source routes on the given mux.
func (h *DataSourceHandler) RegisterRoutes(mux *http.ServeMux, tenant TenantMiddleware) {
	base := "/api/workspaces/{wid}/datasources"

	mux.HandleFunc("POST "+base, tenant(h.Create))
	mux.HandleFunc("GET "+base, tenant(h.List))
	mux.HandleFunc("GET "+base+"/{id}", tenant(h.Get))
	mux.HandleFunc("PATCH "+base+"/{id}", tenant(h.Edit))
	mux.HandleFunc("DELETE "+base+"/{id}", tenant(h.Delete))
	mux.HandleFunc("POST "+base+"/{id}/activate", tenant(h.Activate))
	mux.HandleFunc("GET "+base+"/{id}/columns", tenant(h.ColumnRegistry))
	mux.HandleFunc("GET "+base+"/{id}/preview-config", tenant(h.PreviewConfig))
	mux.HandleFunc("POST "+base+"/{id}/execute", tenant(h.Execute))
	mux.HandleFunc("POST "+base+"/{id}/preview", tenant(h.ResolvePreview))
	mux.HandleFunc("POST "+base+"/{id}/edits", tenant(h.TraceBackEdit))
	mux.HandleFunc("POST "+base+"/{id}/cache/invalidate", tenant(h.InvalidateCache))
	mux.HandleFunc("POST "+base+"/dry-run", tenant(h.DryRun))
}

func (h *DataSourceHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_data_source_id", "Invalid data source ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /api/workspaces/{wid}/datasources
func (h *DataSourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := ParseWorkspaceID(w, r, h.logger)
	if !ok {
		return
	}

	var input services.CreateDataSourceInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ds, err := h.dataSources.Create(r.Context(), workspaceID, input)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: ds}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/workspaces/{wid}/datasources
func (h *DataSourceHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.dataSources.List(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if list == nil {
		list = make([]*models.DataSource, 0)
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: list}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/workspaces/{wid}/datasources/{id}
func (h *DataSourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	ds, err := h.dataSources.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ds}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type editResponse struct {
	DataSource      *models.DataSource    `json:"data_source"`
	BreakingChanges []models.ColumnChange `json:"breaking_changes"`
}

// Edit handles PATCH /api/workspaces/{wid}/datasources/{id}
func (h *DataSourceHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var input services.EditDataSourceInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ds, breaking, err := h.dataSources.Edit(r.Context(), id, input)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if breaking == nil {
		breaking = make([]models.ColumnChange, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    editResponse{DataSource: ds, BreakingChanges: breaking},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/workspaces/{wid}/datasources/{id}
func (h *DataSourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.dataSources.Delete(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activate handles POST /api/workspaces/{wid}/datasources/{id}/activate
func (h *DataSourceHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	ds, err := h.dataSources.Activate(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ds}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ColumnRegistry handles GET /api/workspaces/{wid}/datasources/{id}/columns
func (h *DataSourceHandler) ColumnRegistry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	ds, err := h.dataSources.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]any{
		"columns":        ds.ColumnRegistry,
		"schema_version": ds.SchemaVersion,
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// PreviewConfig handles GET /api/workspaces/{wid}/datasources/{id}/preview-config
func (h *DataSourceHandler) PreviewConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	ds, err := h.dataSources.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]any{
		"preview_config":    ds.PreviewConfig,
		"preview_overrides": ds.PreviewOverrides,
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Execute handles POST /api/workspaces/{wid}/datasources/{id}/execute
func (h *DataSourceHandler) Execute(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := ParseWorkspaceID(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req services.ExecuteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
	}

	h.logger.Debug("executing data source",
		zap.String("data_source_id", id.String()),
		zap.Strings("params", logging.SanitizeParamNames(req.ParamValues)))

	result, err := h.dataSources.Execute(r.Context(), id, principalFrom(r, workspaceID), req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if result.Rows == nil {
		result.Rows = make([]map[string]any, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type previewRequest struct {
	Row map[string]any `json:"row"`
}

// ResolvePreview handles POST /api/workspaces/{wid}/datasources/{id}/preview
func (h *DataSourceHandler) ResolvePreview(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := ParseWorkspaceID(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	refs, err := h.dataSources.ResolvePreview(r.Context(), id, req.Row, principalFrom(r, workspaceID))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if refs == nil {
		refs = make([]services.PreviewRef, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: refs}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type traceBackRequest struct {
	Column   string         `json:"column"`
	Row      map[string]any `json:"row"`
	NewValue any            `json:"new_value"`
}

// TraceBackEdit handles POST /api/workspaces/{wid}/datasources/{id}/edits
func (h *DataSourceHandler) TraceBackEdit(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := ParseWorkspaceID(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req traceBackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Column == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_column", "column is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	target, err := h.dataSources.TraceBackEdit(r.Context(), id, req.Column, req.Row, req.NewValue, principalFrom(r, workspaceID))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: target}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type dryRunRequest struct {
	QueryText  string                  `json:"query_text"`
	Parameters []models.QueryParameter `json:"parameters,omitempty"`
}

// DryRun handles POST /api/workspaces/{wid}/datasources/dry-run
func (h *DataSourceHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	var req dryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	columns, err := h.dataSources.DryRun(r.Context(), req.QueryText, req.Parameters)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]any{
		"columns": columns,
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// InvalidateCache handles POST /api/workspaces/{wid}/datasources/{id}/cache/invalidate
func (h *DataSourceHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.dataSources.InvalidateCache(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
