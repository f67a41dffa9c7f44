package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/database"
	"github.com/dbower44022/CRMExtender-sub005/pkg/services"
)

// TenantMiddleware wraps a handler with a workspace-scoped database
// connection derived from the {wid} path segment.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// NewTenantMiddleware builds the middleware from a scope function. The
// scoped connection is released when the request finishes, resetting the
// workspace context before the connection returns to the pool.
func NewTenantMiddleware(scopeFn database.ScopeFunc, logger *zap.Logger) TenantMiddleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			workspaceID, ok := ParseWorkspaceID(w, r, logger)
			if !ok {
				return
			}

			ctx, cleanup, err := scopeFn(r.Context(), workspaceID)
			if err != nil {
				logger.Error("Failed to acquire workspace scope", zap.Error(err))
				if err := ErrorResponse(w, http.StatusServiceUnavailable, "database_unavailable", "could not acquire a database connection"); err != nil {
					logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}
			defer cleanup()

			next(w, r.WithContext(ctx))
		}
	}
}

// ParseWorkspaceID reads and validates the {wid} path segment, writing the
// error response itself on failure.
func ParseWorkspaceID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	raw := r.PathValue("wid")
	id, err := uuid.Parse(raw)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_workspace_id", "Invalid workspace ID format"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// principalFrom builds the requesting principal. Authentication is an
// external collaborator; the gateway in front of this service sets the user
// header after verifying the session.
func principalFrom(r *http.Request, workspaceID uuid.UUID) services.Principal {
	p := services.Principal{WorkspaceID: workspaceID}
	if raw := r.Header.Get("X-User-ID"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			p.UserID = id
		}
	}
	return p
}
