package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

func testCatalog() *Catalog {
	return New([]models.EntityType{
		{
			Name:  "Conversation",
			Table: "conversations",
			Fields: []models.FieldSpec{
				{Name: "id", Type: models.FieldTypeText},
				{Name: "subject", Type: models.FieldTypeText, Editable: true},
				{Name: "started_at", Type: models.FieldTypeTimestamp},
			},
		},
		{
			Name:  "Contact",
			Table: "contacts",
			Fields: []models.FieldSpec{
				{Name: "id", Type: models.FieldTypeText},
				{Name: "name", Type: models.FieldTypeText, Editable: true},
			},
		},
	})
}

func TestResolveTable(t *testing.T) {
	c := testCatalog()

	t.Run("exact", func(t *testing.T) {
		et, err := c.ResolveTable("Conversation")
		require.NoError(t, err)
		assert.Equal(t, "conversations", et.Table)
	})

	t.Run("case insensitive", func(t *testing.T) {
		et, err := c.ResolveTable("conversation")
		require.NoError(t, err)
		assert.Equal(t, "Conversation", et.Name)
	})

	t.Run("unknown with suggestion", func(t *testing.T) {
		_, err := c.ResolveTable("Converstion")
		var ve *apperrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "Converstion", ve.Identifier)
		assert.Equal(t, "Conversation", ve.Suggestion)
	})

	t.Run("unknown with nothing close", func(t *testing.T) {
		_, err := c.ResolveTable("Invoice")
		var ve *apperrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Empty(t, ve.Suggestion)
	})
}

func TestResolveField(t *testing.T) {
	c := testCatalog()
	conversation, err := c.ResolveTable("Conversation")
	require.NoError(t, err)

	t.Run("exact", func(t *testing.T) {
		f, err := c.ResolveField(conversation, "subject")
		require.NoError(t, err)
		assert.True(t, f.Editable)
	})

	t.Run("typo suggestion", func(t *testing.T) {
		_, err := c.ResolveField(conversation, "sujbect")
		var ve *apperrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "subject", ve.Suggestion)
	})
}
