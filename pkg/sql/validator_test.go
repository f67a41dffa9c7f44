package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
)

func TestValidateReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"plain select", "SELECT id FROM conversation", false},
		{"lowercase select", "select id from conversation", false},
		{"trailing semicolon stripped", "SELECT id FROM conversation;", false},
		{"cte select", "WITH recent AS (SELECT id FROM conversation) SELECT * FROM recent", false},
		{"insert", "INSERT INTO conversation VALUES (1)", true},
		{"update", "UPDATE conversation SET subject = 'x'", true},
		{"delete", "DELETE FROM conversation", true},
		{"drop", "DROP TABLE conversation", true},
		{"create", "CREATE TABLE t (id int)", true},
		{"truncate", "TRUNCATE conversation", true},
		{"modifying cte", "WITH del AS (DELETE FROM conversation RETURNING id) SELECT * FROM del", true},
		{"stacked statements", "SELECT 1; DELETE FROM conversation", true},
		{"empty", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateReadOnly(tt.query)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateReadOnly_SemicolonInsideString(t *testing.T) {
	normalized, err := ValidateReadOnly("SELECT id FROM conversation WHERE subject = 'a; b'")
	require.NoError(t, err)
	assert.Contains(t, normalized, "'a; b'")
}

func TestValidateReadOnly_PositionalDiagnostic(t *testing.T) {
	_, err := ValidateReadOnly("SELECT 1; DELETE FROM conversation")
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 8, ve.Position)
}

func TestValidateReadOnly_RejectsKeywordWithName(t *testing.T) {
	_, err := ValidateReadOnly("MERGE INTO conversation USING contact ON true")
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "MERGE", ve.Identifier)
}
