package services

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/catalog"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// RegistryGenerator derives the column registry from a translated plan. It
// consumes the translator's projection analysis exhaustively rather than
// re-inferring anything at render time, so generation is idempotent: the
// same plan always yields a byte-identical registry.
type RegistryGenerator struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

func NewRegistryGenerator(cat *catalog.Catalog, logger *zap.Logger) *RegistryGenerator {
	return &RegistryGenerator{catalog: cat, logger: logger}
}

// Generate builds the registry in projection order and applies the author's
// stored overrides on top. Overrides whose column no longer exists are
// returned flagged stale with a diagnosis; they are never dropped here.
func (g *RegistryGenerator) Generate(
	plan *models.QueryPlan,
	overrides []models.ColumnOverride,
) ([]models.ColumnRegistryEntry, []models.ColumnOverride) {
	idColumns := identifierColumns(plan)

	entries := make([]models.ColumnRegistryEntry, 0, len(plan.Projections))
	for _, p := range plan.Projections {
		entries = append(entries, g.entryFor(p, idColumns))
	}

	merged := make([]models.ColumnOverride, len(overrides))
	byName := make(map[string]int, len(entries))
	for i, e := range entries {
		byName[e.ColumnName] = i
	}
	for i, ov := range overrides {
		merged[i] = ov
		idx, ok := byName[ov.ColumnName]
		if !ok {
			merged[i].Stale = true
			merged[i].StaleDiagnosis = fmt.Sprintf("column %q is no longer produced by the query", ov.ColumnName)
			continue
		}
		merged[i].Stale = false
		merged[i].StaleDiagnosis = ""
		applyOverride(&entries[idx], ov)
	}

	return entries, merged
}

// identifierColumns maps each plan alias to the output column carrying that
// entity's identifier. The translator guarantees one exists per entity.
func identifierColumns(plan *models.QueryPlan) map[string]string {
	out := make(map[string]string, len(plan.Joins)+1)
	for _, p := range plan.Projections {
		if p.Kind == models.ColumnKindDirect && p.SourceField == models.IdentifierColumn {
			if _, seen := out[p.SourceAlias]; !seen {
				out[p.SourceAlias] = p.ColumnName
			}
		}
	}
	return out
}

func (g *RegistryGenerator) entryFor(p models.Projection, idColumns map[string]string) models.ColumnRegistryEntry {
	entry := models.ColumnRegistryEntry{
		ColumnName:   p.ColumnName,
		DisplayLabel: displayLabel(p.ColumnName),
		DataType:     p.DataType,
		Kind:         p.Kind,
		Hidden:       p.Implicit,
	}

	switch p.Kind {
	case models.ColumnKindDirect:
		entry.SourceEntity = p.SourceEntity
		entry.SourceField = p.SourceField
		entry.EntityIDColumn = idColumns[p.SourceAlias]
		entry.Editable = g.fieldEditable(p) && entry.EntityIDColumn != ""
	case models.ColumnKindAggregate:
		entry.IsAggregate = true
	}

	return entry
}

// fieldEditable checks the source field against the catalog: direct,
// non-formula, and a type that supports inline editing. The identifier
// itself is never editable.
func (g *RegistryGenerator) fieldEditable(p models.Projection) bool {
	if p.SourceField == models.IdentifierColumn {
		return false
	}
	et, err := g.catalog.ResolveTable(p.SourceEntity)
	if err != nil {
		return false
	}
	field, ok := et.Field(p.SourceField)
	if !ok {
		return false
	}
	return field.Editable && !field.IsFormula && field.Type.SupportsInlineEdit()
}

// applyOverride folds one author correction into a generated entry. A
// corrected source that no longer names a direct editable field drops
// editability rather than trusting the stored override blindly.
func applyOverride(entry *models.ColumnRegistryEntry, ov models.ColumnOverride) {
	if ov.DataType != nil {
		entry.DataType = *ov.DataType
	}
	if ov.DisplayLabel != nil {
		entry.DisplayLabel = *ov.DisplayLabel
	}
	if ov.SourceEntity != nil {
		entry.SourceEntity = *ov.SourceEntity
	}
	if ov.SourceField != nil {
		entry.SourceField = *ov.SourceField
	}
	if ov.ForceReadOnly {
		entry.Editable = false
	}
}

// displayLabel humanizes a column name: underscores to spaces, each word
// title-cased, trailing "id" kept upper. Singularizes nothing; the label
// mirrors what the author named, not what we guess they meant.
func displayLabel(columnName string) string {
	words := strings.Split(columnName, "_")
	for i, w := range words {
		switch {
		case w == "":
		case strings.EqualFold(w, "id"):
			words[i] = "ID"
		default:
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// entityLabel is the display name for a previewable entity occurrence. When
// a type appears once its singular name is enough; repeated occurrences get
// the join alias so the author can tell them apart.
func entityLabel(typeName, alias string, repeated bool) string {
	label := inflection.Singular(typeName)
	if repeated && alias != "" {
		label = label + " (" + alias + ")"
	}
	return label
}
