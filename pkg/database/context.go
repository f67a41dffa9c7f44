package database

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

// WorkspaceScopeKey is the context key for the workspace-scoped connection.
const WorkspaceScopeKey contextKey = "workspaceScope"

// GetWorkspaceScope retrieves the workspace-scoped connection from context.
func GetWorkspaceScope(ctx context.Context) (*WorkspaceScope, bool) {
	scope, ok := ctx.Value(WorkspaceScopeKey).(*WorkspaceScope)
	return scope, ok
}

// SetWorkspaceScope stores the workspace-scoped connection in context.
func SetWorkspaceScope(ctx context.Context, scope *WorkspaceScope) context.Context {
	return context.WithValue(ctx, WorkspaceScopeKey, scope)
}

// ScopeFunc acquires a workspace-scoped context for database operations.
// Returns the scoped context, a cleanup function (MUST be called), and any
// error.
type ScopeFunc func(ctx context.Context, workspaceID uuid.UUID) (context.Context, func(), error)

// NewScopeFunc creates a ScopeFunc backed by the given database.
func NewScopeFunc(db *DB) ScopeFunc {
	return func(ctx context.Context, workspaceID uuid.UUID) (context.Context, func(), error) {
		scope, err := db.WithWorkspace(ctx, workspaceID)
		if err != nil {
			return nil, nil, err
		}
		return SetWorkspaceScope(ctx, scope), func() { scope.Close() }, nil
	}
}
