package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

func threeEntityPlan(t *testing.T) (*models.QueryPlan, []models.ColumnRegistryEntry, *PreviewResolver) {
	t.Helper()
	tr, cat, ids := newTestTranslator()
	gen := NewRegistryGenerator(cat, zap.NewNop())
	resolver := NewPreviewResolver(cat, ids, zap.NewNop())

	plan, err := tr.TranslateStructured(&models.StructuredQuery{
		RootEntity: "Conversation",
		Joins: []models.JoinClause{
			{RelationField: "contact_id"},
			{RelationField: "company_id", SourceAlias: "cont"},
		},
		Columns: []models.ColumnSelection{
			{Field: "con.subject"},
			{Field: "cont.name", Alias: "contact_name"},
			{Field: "com.name", Alias: "company_name"},
		},
	})
	require.NoError(t, err)

	registry, _ := gen.Generate(plan, nil)
	return plan, registry, resolver
}

func TestPreviewBuild_RankedByPlanOrder(t *testing.T) {
	plan, registry, resolver := threeEntityPlan(t)

	entries, _ := resolver.Build(plan, registry, nil)
	require.Len(t, entries, 3)

	assert.Equal(t, "Conversation", entries[0].EntityType)
	assert.Equal(t, 0, entries[0].PriorityRank)
	assert.Equal(t, "con_id", entries[0].IdentifierColumn)
	assert.Equal(t, "Contact", entries[1].EntityType)
	assert.Equal(t, "Company", entries[2].EntityType)
	for _, e := range entries {
		assert.Equal(t, models.PreviewSourceAuto, e.Source)
		assert.False(t, e.Excluded)
	}
}

func TestPreviewBuild_ExcludesJunctions(t *testing.T) {
	tr, cat, ids := newTestTranslator()
	gen := NewRegistryGenerator(cat, zap.NewNop())
	resolver := NewPreviewResolver(cat, ids, zap.NewNop())

	plan, err := tr.TranslateStructured(&models.StructuredQuery{
		RootEntity: "Conversation",
		Joins:      []models.JoinClause{{RelationField: "tag_link_id"}},
		Columns: []models.ColumnSelection{
			{Field: "con.subject"},
			{Field: "ctag.label"},
		},
	})
	require.NoError(t, err)
	registry, _ := gen.Generate(plan, nil)

	entries, _ := resolver.Build(plan, registry, nil)
	require.Len(t, entries, 1)
	assert.Equal(t, "Conversation", entries[0].EntityType)
}

func TestPreviewBuild_RepeatedTypeLabels(t *testing.T) {
	tr, cat, ids := newTestTranslator()
	gen := NewRegistryGenerator(cat, zap.NewNop())
	resolver := NewPreviewResolver(cat, ids, zap.NewNop())

	plan, err := tr.TranslateStructured(&models.StructuredQuery{
		RootEntity: "Conversation",
		Joins: []models.JoinClause{
			{RelationField: "contact_id"},
			{RelationField: "contact_id"},
		},
		Columns: []models.ColumnSelection{
			{Field: "cont.name"},
			{Field: "cont2.name"},
		},
	})
	require.NoError(t, err)
	registry, _ := gen.Generate(plan, nil)

	entries, _ := resolver.Build(plan, registry, nil)
	require.Len(t, entries, 3)
	assert.Equal(t, "Contact (cont)", entries[1].Label)
	assert.Equal(t, "Contact (cont2)", entries[2].Label)
}

func TestPreviewBuild_OverridesWin(t *testing.T) {
	plan, registry, resolver := threeEntityPlan(t)

	excluded := true
	topRank := -1
	overrides := []models.PreviewOverride{
		{EntityType: "Contact", Excluded: &excluded},
		{EntityType: "Company", PriorityRank: &topRank},
	}
	entries, merged := resolver.Build(plan, registry, overrides)

	require.Len(t, entries, 3)
	assert.Equal(t, "Company", entries[0].EntityType, "override rank reorders")
	for _, e := range entries {
		if e.EntityType == "Contact" {
			assert.True(t, e.Excluded)
			assert.Equal(t, models.PreviewSourceManual, e.Source)
		}
	}
	for _, ov := range merged {
		assert.False(t, ov.Stale)
	}
}

func TestPreviewBuild_StaleOverride(t *testing.T) {
	plan, registry, resolver := threeEntityPlan(t)

	overrides := []models.PreviewOverride{{EntityType: "Lead"}}
	_, merged := resolver.Build(plan, registry, overrides)

	require.Len(t, merged, 1)
	assert.True(t, merged[0].Stale)
	assert.Contains(t, merged[0].StaleDiagnosis, "Lead")
}

func TestPreviewBuild_ForceInclude(t *testing.T) {
	plan, registry, resolver := threeEntityPlan(t)

	overrides := []models.PreviewOverride{
		{EntityType: "ConversationTag", ForceInclude: true, IdentifierColumn: "con_id"},
	}
	entries, merged := resolver.Build(plan, registry, overrides)

	require.Len(t, entries, 4)
	assert.False(t, merged[0].Stale)
	last := entries[3]
	assert.Equal(t, "ConversationTag", last.EntityType)
	assert.Equal(t, models.PreviewSourceManual, last.Source)

	// Forcing a column that is not in the registry flags the override stale.
	overrides = []models.PreviewOverride{
		{EntityType: "ConversationTag", ForceInclude: true, IdentifierColumn: "gone"},
	}
	_, merged = resolver.Build(plan, registry, overrides)
	assert.True(t, merged[0].Stale)
	assert.Contains(t, merged[0].StaleDiagnosis, "gone")
}

type readDenier struct {
	denied map[string]bool
}

func (d readDenier) CanReadRecord(_ context.Context, _ Principal, entityType, _ string) bool {
	return !d.denied[entityType]
}

func (d readDenier) CanWriteRecord(_ context.Context, _ Principal, _, _ string) bool {
	return true
}

func TestPreviewResolve(t *testing.T) {
	plan, registry, resolver := threeEntityPlan(t)
	entries, _ := resolver.Build(plan, registry, nil)

	conID := "con_" + strings.Repeat("0", 26)
	contID := "cont_" + strings.Repeat("1", 26)
	row := map[string]any{
		"con_id":  conID,
		"cont_id": contID,
		"com_id":  nil, // left-joined company absent on this row
	}

	refs := resolver.Resolve(context.Background(), entries, row, Principal{}, OpenPermissions{})
	require.Len(t, refs, 2)
	assert.Equal(t, "Conversation", refs[0].EntityType)
	assert.Equal(t, conID, refs[0].EntityID)
	assert.Equal(t, "Contact", refs[1].EntityType)
}

func TestPreviewResolve_PermissionFiltered(t *testing.T) {
	plan, registry, resolver := threeEntityPlan(t)
	entries, _ := resolver.Build(plan, registry, nil)

	row := map[string]any{
		"con_id":  "con_" + strings.Repeat("0", 26),
		"cont_id": "cont_" + strings.Repeat("1", 26),
	}
	perms := readDenier{denied: map[string]bool{"Contact": true}}

	refs := resolver.Resolve(context.Background(), entries, row, Principal{}, perms)
	require.Len(t, refs, 1)
	assert.Equal(t, "Conversation", refs[0].EntityType)
}

func TestPreviewResolve_PrefixMismatchSkipped(t *testing.T) {
	plan, registry, resolver := threeEntityPlan(t)
	entries, _ := resolver.Build(plan, registry, nil)

	// The conversation identifier column somehow holds a contact identifier;
	// the known prefix disagrees with the entry's type, so no link is offered.
	row := map[string]any{"con_id": "cont_" + strings.Repeat("1", 26)}

	refs := resolver.Resolve(context.Background(), entries, row, Principal{}, OpenPermissions{})
	assert.Empty(t, refs)
}

func TestPreviewResolve_ExcludedAndStaleSkipped(t *testing.T) {
	_, _, resolver := threeEntityPlan(t)

	entries := []models.PreviewEntry{
		{EntityType: "Conversation", IdentifierColumn: "con_id", Excluded: true},
		{EntityType: "Contact", IdentifierColumn: "cont_id", Stale: true},
	}
	row := map[string]any{
		"con_id":  "con_" + strings.Repeat("0", 26),
		"cont_id": "cont_" + strings.Repeat("1", 26),
	}

	refs := resolver.Resolve(context.Background(), entries, row, Principal{}, OpenPermissions{})
	assert.Empty(t, refs)
}
