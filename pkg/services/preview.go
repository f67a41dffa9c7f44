package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/catalog"
	"github.com/dbower44022/CRMExtender-sub005/pkg/identity"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// PreviewResolver builds and resolves the ranked previewable-entity
// configuration of a data source. Three layered passes: structural
// detection, inference rules, then the author's stored overrides, which win
// and are never overwritten by re-running the automatic passes.
type PreviewResolver struct {
	catalog *catalog.Catalog
	ids     *identity.Registry
	logger  *zap.Logger
}

func NewPreviewResolver(cat *catalog.Catalog, ids *identity.Registry, logger *zap.Logger) *PreviewResolver {
	return &PreviewResolver{catalog: cat, ids: ids, logger: logger}
}

// PreviewRef is one resolved navigation target for a single result row.
type PreviewRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Label      string `json:"label"`
}

// Build produces the merged preview configuration for a plan and its
// registry. Overrides whose identifier column vanished are flagged stale
// with a diagnosis naming the missing column, never deleted.
func (r *PreviewResolver) Build(
	plan *models.QueryPlan,
	registry []models.ColumnRegistryEntry,
	overrides []models.PreviewOverride,
) ([]models.PreviewEntry, []models.PreviewOverride) {
	registered := make(map[string]models.ColumnRegistryEntry, len(registry))
	for _, e := range registry {
		registered[e.ColumnName] = e
	}
	idColumns := identifierColumns(plan)

	typeCount := make(map[string]int)
	for _, pe := range plan.Entities() {
		typeCount[pe.TypeName]++
	}

	var entries []models.PreviewEntry
	rank := 0
	for _, pe := range plan.Entities() {
		idCol, ok := idColumns[pe.Alias]
		if !ok {
			continue
		}
		if _, inRegistry := registered[idCol]; !inRegistry {
			continue
		}
		// A structural many-to-many junction is plumbing, not a record the
		// author navigates to.
		if et, err := r.catalog.ResolveTable(pe.TypeName); err == nil && et.IsJunction {
			continue
		}
		entries = append(entries, models.PreviewEntry{
			EntityType:       pe.TypeName,
			JoinAlias:        pe.Alias,
			IdentifierColumn: idCol,
			PriorityRank:     rank,
			Label:            entityLabel(pe.TypeName, pe.Alias, typeCount[pe.TypeName] > 1),
			Source:           models.PreviewSourceAuto,
		})
		rank++
	}

	merged := make([]models.PreviewOverride, len(overrides))
	for i, ov := range overrides {
		merged[i] = ov
		merged[i].Stale = false
		merged[i].StaleDiagnosis = ""

		idx := matchOverride(entries, ov)
		if idx < 0 && ov.ForceInclude {
			if _, ok := registered[ov.IdentifierColumn]; !ok {
				merged[i].Stale = true
				merged[i].StaleDiagnosis = fmt.Sprintf("column %q is no longer in the registry", ov.IdentifierColumn)
				continue
			}
			entries = append(entries, forcedEntry(ov, rank))
			rank++
			continue
		}
		if idx < 0 {
			merged[i].Stale = true
			merged[i].StaleDiagnosis = fmt.Sprintf("no previewable occurrence of %q remains", ov.EntityType)
			continue
		}
		applyPreviewOverride(&entries[idx], ov)
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].PriorityRank < entries[b].PriorityRank
	})
	return entries, merged
}

func matchOverride(entries []models.PreviewEntry, ov models.PreviewOverride) int {
	for i, e := range entries {
		if e.EntityType != ov.EntityType {
			continue
		}
		if ov.JoinAlias != "" && e.JoinAlias != ov.JoinAlias {
			continue
		}
		return i
	}
	return -1
}

func forcedEntry(ov models.PreviewOverride, rank int) models.PreviewEntry {
	e := models.PreviewEntry{
		EntityType:       ov.EntityType,
		JoinAlias:        ov.JoinAlias,
		IdentifierColumn: ov.IdentifierColumn,
		PriorityRank:     rank,
		Label:            ov.EntityType,
		Source:           models.PreviewSourceManual,
	}
	applyPreviewOverride(&e, ov)
	return e
}

func applyPreviewOverride(e *models.PreviewEntry, ov models.PreviewOverride) {
	e.Source = models.PreviewSourceManual
	if ov.PriorityRank != nil {
		e.PriorityRank = *ov.PriorityRank
	}
	if ov.Label != nil {
		e.Label = *ov.Label
	}
	if ov.Excluded != nil {
		e.Excluded = *ov.Excluded
	}
}

// Resolve walks the priority-ordered preview list for one result row.
// Entries with a null identifier for this row are skipped, as are entries
// the principal cannot read; the permission check runs per request and is
// never cached across rows of different requests.
func (r *PreviewResolver) Resolve(
	ctx context.Context,
	entries []models.PreviewEntry,
	row map[string]any,
	principal Principal,
	perms PermissionChecker,
) []PreviewRef {
	var out []PreviewRef
	for _, e := range entries {
		if e.Excluded || e.Stale {
			continue
		}
		raw, ok := row[e.IdentifierColumn]
		if !ok || raw == nil {
			continue
		}
		id := fmt.Sprintf("%v", raw)
		if id == "" {
			continue
		}
		// When the value carries a known prefix, it must agree with the
		// entry's type; a mismatch means the column holds something else.
		if et, _, found := r.ids.Detect(id); found && et.Name != e.EntityType {
			continue
		}
		if !perms.CanReadRecord(ctx, principal, e.EntityType, id) {
			continue
		}
		out = append(out, PreviewRef{EntityType: e.EntityType, EntityID: id, Label: e.Label})
	}
	return out
}
