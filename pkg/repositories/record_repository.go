package repositories

import (
	"context"
	"fmt"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/database"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// recordRepository applies traced-back cell edits to entity storage tables.
// Table and field names come from the catalog, never from request text; the
// only request-supplied values are the identifier and the new value, both
// bound.
type recordRepository struct{}

func NewRecordRepository() *recordRepository {
	return &recordRepository{}
}

func (r *recordRepository) UpdateField(ctx context.Context, entity models.EntityType, entityID, field string, value any) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	if _, found := entity.Field(field); !found {
		return apperrors.NewValidationError(field, "unknown field on entity type")
	}

	query := fmt.Sprintf(
		`UPDATE %q SET %q = $1, updated_at = now() WHERE %s = $2`,
		entity.Table, field, models.IdentifierColumn,
	)

	tag, err := scope.Conn.Exec(ctx, query, value, entityID)
	if err != nil {
		return fmt.Errorf("failed to update %s.%s: %w", entity.Name, field, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
