package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/catalog"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// RecordMutator applies a single traced-back field mutation. Each edited
// cell is one isolated mutation; when a row carries editable columns from
// several entities there is no transaction spanning them.
type RecordMutator interface {
	UpdateField(ctx context.Context, entity models.EntityType, entityID, field string, value any) error
}

// TraceBackResolver maps a (row, column, new value) edit request to the
// concrete (entity type, entity id, field) mutation target, or rejects it
// naming the first permit condition that failed.
type TraceBackResolver struct {
	catalog *catalog.Catalog
	mutator RecordMutator
	logger  *zap.Logger
}

func NewTraceBackResolver(cat *catalog.Catalog, mutator RecordMutator, logger *zap.Logger) *TraceBackResolver {
	return &TraceBackResolver{catalog: cat, mutator: mutator, logger: logger}
}

// Resolve checks every permit condition and, when all hold, reads the row's
// identifier column for the entry's source entity and returns the mutation
// target. No mutation is issued here.
func (t *TraceBackResolver) Resolve(
	ctx context.Context,
	ds *models.DataSource,
	column string,
	row map[string]any,
	newValue any,
	principal Principal,
	perms PermissionChecker,
) (*models.MutationTarget, error) {
	entry, ok := ds.RegistryEntry(column)
	if !ok {
		return nil, &apperrors.StaleReference{Kind: "column", Column: column}
	}

	if entry.SourceEntity == "" || entry.SourceField == "" {
		return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionSourceUnknown}
	}

	et, err := t.catalog.ResolveTable(entry.SourceEntity)
	if err != nil {
		return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionSourceUnknown}
	}
	field, found := et.Field(entry.SourceField)
	if !found {
		return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionSourceUnknown}
	}

	if field.IsFormula || entry.Kind != models.ColumnKindDirect {
		return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionNotDirectField}
	}
	if !field.Editable || !field.Type.SupportsInlineEdit() {
		return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionTypeNotEditable}
	}

	if entry.EntityIDColumn == "" {
		return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionNoIdentifier}
	}
	raw, present := row[entry.EntityIDColumn]
	if !present || raw == nil {
		return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionNoIdentifier}
	}
	entityID := fmt.Sprintf("%v", raw)

	if !perms.CanWriteRecord(ctx, principal, entry.SourceEntity, entityID) {
		return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionNoWritePermission}
	}

	for _, ov := range ds.ColumnOverrides {
		if ov.ColumnName == column && ov.ForceReadOnly {
			return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionForcedReadOnly}
		}
	}

	if entry.IsAggregate {
		return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionAggregate}
	}
	if !entry.Editable {
		return nil, &apperrors.EditNotAllowed{Column: column, Condition: apperrors.EditConditionNotDirectField}
	}

	return &models.MutationTarget{
		EntityType: entry.SourceEntity,
		EntityID:   entityID,
		Field:      entry.SourceField,
		NewValue:   newValue,
	}, nil
}

// Apply issues the single mutation for a resolved target.
func (t *TraceBackResolver) Apply(ctx context.Context, target *models.MutationTarget) error {
	et, err := t.catalog.ResolveTable(target.EntityType)
	if err != nil {
		return err
	}
	t.logger.Info("applying traced-back edit",
		zap.String("entity_type", target.EntityType),
		zap.String("field", target.Field))
	return t.mutator.UpdateField(ctx, et, target.EntityID, target.Field, target.NewValue)
}
