package services

import (
	"context"

	"github.com/google/uuid"
)

// Principal identifies the requester of an execution, preview, or edit.
type Principal struct {
	UserID      uuid.UUID
	WorkspaceID uuid.UUID
}

// PermissionChecker answers record-level access questions. Checks are made
// fresh per request; no result is held longer than the request that asked.
type PermissionChecker interface {
	// CanReadRecord reports whether the principal may view the record.
	CanReadRecord(ctx context.Context, p Principal, entityType, entityID string) bool
	// CanWriteRecord reports whether the principal may mutate the record.
	CanWriteRecord(ctx context.Context, p Principal, entityType, entityID string) bool
}

// OpenPermissions grants everything. Deployments without record-level
// permissions use it as the default checker.
type OpenPermissions struct{}

func (OpenPermissions) CanReadRecord(context.Context, Principal, string, string) bool  { return true }
func (OpenPermissions) CanWriteRecord(context.Context, Principal, string, string) bool { return true }
