package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

func TestExtractParameters(t *testing.T) {
	params := ExtractParameters("SELECT id FROM c WHERE owner = {owner} AND status = {status} OR owner = {owner}")
	assert.Equal(t, []string{"owner", "status"}, params)
}

func TestValidateParameterDefinitions(t *testing.T) {
	defs := []models.QueryParameter{{Name: "owner", Type: models.FieldTypeText, Required: true}}

	t.Run("exact match", func(t *testing.T) {
		err := ValidateParameterDefinitions("SELECT 1 WHERE o = {owner}", defs)
		assert.NoError(t, err)
	})

	t.Run("undefined placeholder", func(t *testing.T) {
		err := ValidateParameterDefinitions("SELECT 1 WHERE o = {owner} AND s = {status}", defs)
		assert.ErrorContains(t, err, "{status}")
	})

	t.Run("unused definition", func(t *testing.T) {
		err := ValidateParameterDefinitions("SELECT 1", defs)
		assert.ErrorContains(t, err, "defined but not used")
	})
}

func TestFindParametersInStringLiterals(t *testing.T) {
	problems := FindParametersInStringLiterals("SELECT id FROM c WHERE subject = 'hello {owner}' AND o = {other}")
	assert.Equal(t, []string{"owner"}, problems)
}

func TestBindParameters(t *testing.T) {
	defs := []models.QueryParameter{
		{Name: "owner", Type: models.FieldTypeText, Required: true},
		{Name: "limit", Type: models.FieldTypeInteger, Default: 10},
	}

	t.Run("positions and ordered values", func(t *testing.T) {
		prepared, values, err := BindParameters(
			"SELECT id FROM c WHERE o = {owner} AND n < {limit} AND o2 = {owner}",
			defs,
			map[string]any{"owner": "usr_1", "limit": 5},
		)
		require.NoError(t, err)
		assert.Equal(t, "SELECT id FROM c WHERE o = $1 AND n < $2 AND o2 = $1", prepared)
		assert.Equal(t, []any{"usr_1", 5}, values)
	})

	t.Run("default applied", func(t *testing.T) {
		_, values, err := BindParameters(
			"SELECT id FROM c WHERE o = {owner} AND n < {limit}",
			defs,
			map[string]any{"owner": "usr_1"},
		)
		require.NoError(t, err)
		assert.Equal(t, []any{"usr_1", 10}, values)
	})

	t.Run("missing required", func(t *testing.T) {
		_, _, err := BindParameters("SELECT 1 WHERE o = {owner}", defs, nil)
		assert.ErrorContains(t, err, "required")
	})
}

func TestCheckParameterForInjection(t *testing.T) {
	t.Run("benign value", func(t *testing.T) {
		assert.Nil(t, CheckParameterForInjection("owner", "Ada Lovelace"))
	})

	t.Run("non-string value skipped", func(t *testing.T) {
		assert.Nil(t, CheckParameterForInjection("limit", 42))
	})

	t.Run("injection attempt", func(t *testing.T) {
		result := CheckParameterForInjection("owner", "' OR 1=1 --")
		require.NotNil(t, result)
		assert.Equal(t, "owner", result.ParamName)
	})
}
