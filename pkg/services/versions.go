package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// SchemaSubscriber is the dependent-notification interface. The engine
// never edits a consumer's configuration; it names the damage and the
// consumer decides what to do about it.
type SchemaSubscriber interface {
	OnSchemaBreakingChange(ctx context.Context, dataSourceID uuid.UUID, changes []models.ColumnChange)
	OnDataSourceOrphaned(ctx context.Context, dataSourceID uuid.UUID)
}

// SchemaNotifier fans breaking-change and orphan events out to subscribers.
// Notices are advisory: delivery never blocks or fails the author's edit.
type SchemaNotifier struct {
	subscribers []SchemaSubscriber
	logger      *zap.Logger
}

func NewSchemaNotifier(logger *zap.Logger) *SchemaNotifier {
	return &SchemaNotifier{logger: logger}
}

func (n *SchemaNotifier) Subscribe(s SchemaSubscriber) {
	n.subscribers = append(n.subscribers, s)
}

func (n *SchemaNotifier) NotifyBreaking(ctx context.Context, id uuid.UUID, changes []models.ColumnChange) {
	if len(changes) == 0 {
		return
	}
	n.logger.Info("schema breaking change",
		zap.String("data_source_id", id.String()),
		zap.Int("changes", len(changes)))
	for _, s := range n.subscribers {
		s.OnSchemaBreakingChange(ctx, id, changes)
	}
}

func (n *SchemaNotifier) NotifyOrphaned(ctx context.Context, id uuid.UUID) {
	n.logger.Info("data source orphaned", zap.String("data_source_id", id.String()))
	for _, s := range n.subscribers {
		s.OnDataSourceOrphaned(ctx, id)
	}
}

// DiffRegistries compares two registries by column name. A removed column
// whose source entity and field reappear under a new name is reported as a
// rename, not a remove plus an add. Everything except a pure addition is
// breaking.
func DiffRegistries(prev, next []models.ColumnRegistryEntry) []models.ColumnChange {
	prevByName := make(map[string]models.ColumnRegistryEntry, len(prev))
	for _, e := range prev {
		prevByName[e.ColumnName] = e
	}
	nextByName := make(map[string]models.ColumnRegistryEntry, len(next))
	for _, e := range next {
		nextByName[e.ColumnName] = e
	}

	// Added columns indexed by source so removals can pair up as renames.
	type sourceKey struct{ entity, field string }
	added := make(map[sourceKey]string)
	for _, e := range next {
		if _, existed := prevByName[e.ColumnName]; existed {
			continue
		}
		if e.SourceEntity != "" && e.SourceField != "" {
			added[sourceKey{e.SourceEntity, e.SourceField}] = e.ColumnName
		}
	}

	var changes []models.ColumnChange
	claimed := make(map[string]bool)

	for _, e := range prev {
		if cur, still := nextByName[e.ColumnName]; still {
			if cur.DataType != e.DataType {
				changes = append(changes, models.ColumnChange{
					Column:  e.ColumnName,
					Kind:    models.ColumnTypeChanged,
					OldType: e.DataType,
					NewType: cur.DataType,
				})
			}
			continue
		}
		if e.SourceEntity != "" && e.SourceField != "" {
			if newName, ok := added[sourceKey{e.SourceEntity, e.SourceField}]; ok && !claimed[newName] {
				claimed[newName] = true
				changes = append(changes, models.ColumnChange{
					Column:    e.ColumnName,
					Kind:      models.ColumnRenamed,
					RenamedTo: newName,
				})
				continue
			}
		}
		changes = append(changes, models.ColumnChange{Column: e.ColumnName, Kind: models.ColumnRemoved})
	}

	for _, e := range next {
		if _, existed := prevByName[e.ColumnName]; existed || claimed[e.ColumnName] {
			continue
		}
		changes = append(changes, models.ColumnChange{Column: e.ColumnName, Kind: models.ColumnAdded})
	}

	return changes
}

// BreakingChanges filters a diff down to the changes that invalidate
// consumers. The schema version advances exactly when this is non-empty.
func BreakingChanges(changes []models.ColumnChange) []models.ColumnChange {
	var out []models.ColumnChange
	for _, c := range changes {
		if c.Breaking() {
			out = append(out, c)
		}
	}
	return out
}
