package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/catalog"
	"github.com/dbower44022/CRMExtender-sub005/pkg/identity"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

func testSchema() []models.EntityType {
	return []models.EntityType{
		{
			Name:       "Conversation",
			TypePrefix: "con",
			Table:      "tbl_conversation",
			Fields: []models.FieldSpec{
				{Name: "id", Type: models.FieldTypeText},
				{Name: "subject", Type: models.FieldTypeText, Editable: true},
				{Name: "started_at", Type: models.FieldTypeTimestamp, Editable: true},
				{Name: "closed", Type: models.FieldTypeBoolean, Editable: true},
				{Name: "health", Type: models.FieldTypeDecimal, IsFormula: true},
				{Name: "payload", Type: models.FieldTypeJSON, Editable: true},
				{Name: "contact_id", Type: models.FieldTypeEntityRef, RelatedEntity: "Contact"},
				{Name: "tag_link_id", Type: models.FieldTypeEntityRef, RelatedEntity: "ConversationTag"},
			},
		},
		{
			Name:       "Contact",
			TypePrefix: "cont",
			Table:      "tbl_contact",
			Fields: []models.FieldSpec{
				{Name: "id", Type: models.FieldTypeText},
				{Name: "name", Type: models.FieldTypeText, Editable: true},
				{Name: "email", Type: models.FieldTypeText, Editable: true},
				{Name: "company_id", Type: models.FieldTypeEntityRef, RelatedEntity: "Company"},
			},
		},
		{
			Name:       "Company",
			TypePrefix: "com",
			Table:      "tbl_company",
			Fields: []models.FieldSpec{
				{Name: "id", Type: models.FieldTypeText},
				{Name: "name", Type: models.FieldTypeText, Editable: true},
				{Name: "employee_count", Type: models.FieldTypeInteger, Editable: true},
			},
		},
		{
			Name:       "ConversationTag",
			TypePrefix: "ctag",
			Table:      "tbl_conversation_tag",
			IsJunction: true,
			Fields: []models.FieldSpec{
				{Name: "id", Type: models.FieldTypeText},
				{Name: "label", Type: models.FieldTypeText, Editable: true},
			},
		},
	}
}

func newTestTranslator() (*Translator, *catalog.Catalog, *identity.Registry) {
	types := testSchema()
	cat := catalog.New(types)
	ids := identity.NewRegistry()
	for _, et := range types {
		ids.Load(et)
	}
	return NewTranslator(cat, ids, zap.NewNop()), cat, ids
}

func basicStructured() *models.StructuredQuery {
	return &models.StructuredQuery{
		RootEntity: "Conversation",
		Joins:      []models.JoinClause{{RelationField: "contact_id"}},
		Columns: []models.ColumnSelection{
			{Field: "con.subject"},
			{Field: "cont.name", Alias: "contact_name"},
		},
	}
}

func TestTranslateStructured_Basic(t *testing.T) {
	tr, _, _ := newTestTranslator()

	plan, err := tr.TranslateStructured(basicStructured())
	require.NoError(t, err)

	assert.Equal(t, models.QueryModeStructured, plan.Mode)
	assert.Equal(t, "con", plan.Root.Alias)
	require.Len(t, plan.Joins, 1)
	assert.Equal(t, "cont", plan.Joins[0].Entity.Alias)
	assert.Equal(t, models.JoinLeft, plan.Joins[0].Kind)
	assert.Equal(t, "con.contact_id = cont.id", plan.Joins[0].Condition)

	// Two selected columns plus one implicit identifier per entity.
	require.Len(t, plan.Projections, 4)
	assert.Equal(t, "subject", plan.Projections[0].ColumnName)
	assert.Equal(t, "Conversation", plan.Projections[0].SourceEntity)
	assert.Equal(t, "contact_name", plan.Projections[1].ColumnName)
	assert.Equal(t, "Contact", plan.Projections[1].SourceEntity)
	assert.True(t, plan.Projections[2].Implicit)
	assert.Equal(t, "con_id", plan.Projections[2].ColumnName)
	assert.True(t, plan.Projections[3].Implicit)
	assert.Equal(t, "cont_id", plan.Projections[3].ColumnName)

	want := "SELECT con.subject AS subject, cont.name AS contact_name\n" +
		"FROM Conversation AS con\n" +
		"LEFT JOIN Contact AS cont ON con.contact_id = cont.id"
	assert.Equal(t, want, plan.SQL)
}

func TestTranslateStructured_Deterministic(t *testing.T) {
	tr, _, _ := newTestTranslator()

	first, err := tr.TranslateStructured(basicStructured())
	require.NoError(t, err)
	second, err := tr.TranslateStructured(basicStructured())
	require.NoError(t, err)

	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, first.Projections, second.Projections)
}

func TestTranslateStructured_PhysicalForm(t *testing.T) {
	tr, _, _ := newTestTranslator()

	plan, err := tr.TranslateStructured(basicStructured())
	require.NoError(t, err)

	assert.Contains(t, plan.ExecSQL, "FROM tbl_conversation AS con")
	assert.Contains(t, plan.ExecSQL, "LEFT JOIN tbl_contact AS cont")
	assert.Contains(t, plan.ExecSQL, "con.id AS con_id")
	assert.Contains(t, plan.ExecSQL, "cont.id AS cont_id")
	assert.Contains(t, plan.ExecSQL,
		"cont.workspace_id = current_setting('app.current_workspace_id')::uuid")
	assert.Contains(t, plan.ExecSQL,
		"WHERE con.workspace_id = current_setting('app.current_workspace_id')::uuid")

	// The author-visible text carries none of it.
	assert.NotContains(t, plan.SQL, "tbl_")
	assert.NotContains(t, plan.SQL, "workspace_id")
	assert.NotContains(t, plan.SQL, "con_id")
}

func TestTranslateStructured_AggregateSkipsImplicitColumns(t *testing.T) {
	tr, _, _ := newTestTranslator()

	plan, err := tr.TranslateStructured(&models.StructuredQuery{
		RootEntity: "Conversation",
		Columns: []models.ColumnSelection{
			{Expr: "COUNT(con.id)", Alias: "total"},
		},
	})
	require.NoError(t, err)

	require.Len(t, plan.Projections, 2)
	assert.Equal(t, models.ColumnKindAggregate, plan.Projections[0].Kind)
	assert.Equal(t, models.FieldTypeInteger, plan.Projections[0].DataType)
	assert.True(t, plan.Projections[1].Implicit)

	// A bare identifier next to an aggregate would be invalid SQL.
	assert.NotContains(t, plan.ExecSQL, "con_id")
	assert.Contains(t, plan.ExecSQL, "COUNT(con.id) AS total")
}

func TestTranslateStructured_DuplicateJoinAliases(t *testing.T) {
	tr, _, _ := newTestTranslator()

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

	assert.Equal(t, "cont", plan.Joins[0].Entity.Alias)
	assert.Equal(t, "cont2", plan.Joins[1].Entity.Alias)
	assert.Equal(t, "name", plan.Projections[0].ColumnName)
	assert.Equal(t, "name_2", plan.Projections[1].ColumnName)
}

func TestTranslateStructured_JoinFieldNotARelation(t *testing.T) {
	tr, _, _ := newTestTranslator()

	_, err := tr.TranslateStructured(&models.StructuredQuery{
		RootEntity: "Conversation",
		Joins:      []models.JoinClause{{RelationField: "subject"}},
		Columns:    []models.ColumnSelection{{Field: "con.subject"}},
	})
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "subject", ve.Identifier)
}

func TestTranslateStructured_UnknownColumnAlias(t *testing.T) {
	tr, _, _ := newTestTranslator()

	_, err := tr.TranslateStructured(&models.StructuredQuery{
		RootEntity: "Conversation",
		Columns:    []models.ColumnSelection{{Field: "zzz.name"}},
	})
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "zzz", ve.Identifier)
}

func TestTranslateStructured_FilterOnUnknownOutputColumn(t *testing.T) {
	tr, _, _ := newTestTranslator()

	cfg := basicStructured()
	cfg.Filters = []models.Filter{{Column: "nonexistent", Op: models.FilterOpEq, Value: "x"}}
	_, err := tr.TranslateStructured(cfg)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "nonexistent", ve.Identifier)
}

func TestTranslateStructured_ParameterizedFilter(t *testing.T) {
	tr, _, _ := newTestTranslator()

	cfg := basicStructured()
	cfg.Filters = []models.Filter{{Column: "subject", Op: models.FilterOpEq, Value: "{needle}"}}
	cfg.Parameters = []models.QueryParameter{{Name: "needle", Type: models.FieldTypeText, Required: true}}

	plan, err := tr.TranslateStructured(cfg)
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "WHERE con.subject = {needle}")
}

func TestEjectEquivalence(t *testing.T) {
	tr, cat, _ := newTestTranslator()

	structured, err := tr.TranslateStructured(basicStructured())
	require.NoError(t, err)

	// Pasting the rendered text into free-form mode must produce the same
	// columns with the same provenance.
	freeText, err := tr.TranslateFreeText(structured.SQL, nil)
	require.NoError(t, err)

	gen := NewRegistryGenerator(cat, zap.NewNop())
	fromStructured, _ := gen.Generate(structured, nil)
	fromFreeText, _ := gen.Generate(freeText, nil)
	assert.Equal(t, fromStructured, fromFreeText)
}

func TestTranslateFreeText_Basic(t *testing.T) {
	tr, _, _ := newTestTranslator()

	query := "SELECT con.subject AS subject, cont.name AS contact_name\n" +
		"FROM Conversation AS con\n" +
		"LEFT JOIN Contact AS cont ON con.contact_id = cont.id"
	plan, err := tr.TranslateFreeText(query, nil)
	require.NoError(t, err)

	assert.Equal(t, models.QueryModeFreeText, plan.Mode)
	assert.Equal(t, query, plan.SQL)
	assert.Equal(t, "Conversation", plan.Root.TypeName)
	require.Len(t, plan.Joins, 1)
	assert.Equal(t, models.JoinKind("LEFT"), plan.Joins[0].Kind)

	// The executable form swaps table names only; the text is otherwise the
	// author's, so implicit identifiers are plan-level, not textual.
	assert.Contains(t, plan.ExecSQL, "FROM tbl_conversation AS con")
	assert.Contains(t, plan.ExecSQL, "LEFT JOIN tbl_contact AS cont")
	assert.NotContains(t, plan.ExecSQL, "Conversation")
}

func TestTranslateFreeText_RejectsSelectStar(t *testing.T) {
	tr, _, _ := newTestTranslator()

	_, err := tr.TranslateFreeText("SELECT * FROM Conversation", nil)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "column registry")
}

func TestTranslateFreeText_UnknownTableSuggestion(t *testing.T) {
	tr, _, _ := newTestTranslator()

	query := "SELECT c.id FROM Converstion c"
	_, err := tr.TranslateFreeText(query, nil)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Converstion", ve.Identifier)
	assert.Equal(t, "Conversation", ve.Suggestion)
	assert.Equal(t, strings.Index(query, "Converstion"), ve.Position)
}

func TestTranslateFreeText_UnknownColumnSuggestion(t *testing.T) {
	tr, _, _ := newTestTranslator()

	query := "SELECT c.sujbect FROM Conversation c"
	_, err := tr.TranslateFreeText(query, nil)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "sujbect", ve.Identifier)
	assert.Equal(t, "subject", ve.Suggestion)
	assert.Equal(t, strings.Index(query, "c.sujbect"), ve.Position)
}

func TestTranslateFreeText_TypoInWhereClause(t *testing.T) {
	tr, _, _ := newTestTranslator()

	query := "SELECT c.subject FROM Conversation c WHERE c.sujbect = 'x'"
	_, err := tr.TranslateFreeText(query, nil)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "sujbect", ve.Identifier)
	assert.Equal(t, "subject", ve.Suggestion)
}

func TestTranslateFreeText_AmbiguousUnqualifiedColumn(t *testing.T) {
	tr, _, _ := newTestTranslator()

	query := "SELECT id FROM Conversation con JOIN Contact cont ON con.contact_id = cont.id"
	_, err := tr.TranslateFreeText(query, nil)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "ambiguous")
}

func TestTranslateFreeText_ParameterInStringLiteral(t *testing.T) {
	tr, _, _ := newTestTranslator()

	params := []models.QueryParameter{{Name: "who", Type: models.FieldTypeText}}
	_, err := tr.TranslateFreeText(
		"SELECT con.subject FROM Conversation con WHERE con.subject = '{who}'", params)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "string literal")
}

func TestTranslateFreeText_UndefinedParameter(t *testing.T) {
	tr, _, _ := newTestTranslator()

	_, err := tr.TranslateFreeText(
		"SELECT con.subject FROM Conversation con WHERE con.subject = {who}", nil)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "who")
}

func TestTranslateFreeText_RejectsMutations(t *testing.T) {
	tr, _, _ := newTestTranslator()

	_, err := tr.TranslateFreeText("DELETE FROM Conversation", nil)
	require.Error(t, err)
}

func TestTranslateFreeText_ConditionalColumn(t *testing.T) {
	tr, _, _ := newTestTranslator()

	plan, err := tr.TranslateFreeText(
		"SELECT CASE WHEN con.closed THEN 'done' ELSE 'open' END AS state FROM Conversation con", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnKindConditional, plan.Projections[0].Kind)
	assert.Equal(t, models.FieldTypeText, plan.Projections[0].DataType)
}
