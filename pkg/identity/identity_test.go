package identity

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

func TestRegisterType_DerivationSequence(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name     string
		typeName string
		want     string
	}{
		{"first three letters", "Conversation", "con"},
		{"collision extends to four", "Contact", "cont"},
		{"second collision gets digit", "Contour", "con2"},
		{"digits advance", "Contract", "con3"},
		{"independent base unaffected", "Company", "com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.RegisterType(tt.typeName)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegisterType_Immutable(t *testing.T) {
	r := NewRegistry()

	first, err := r.RegisterType("Conversation")
	require.NoError(t, err)

	again, err := r.RegisterType("Conversation")
	require.NoError(t, err)
	assert.Equal(t, first, again, "re-registering the same name must return the assigned prefix")
}

func TestRegisterType_Uniqueness(t *testing.T) {
	r := NewRegistry()

	names := []string{"Conversation", "Contact", "Company", "Contract", "Contour", "Console", "Computation"}
	seen := make(map[string]string)
	for _, n := range names {
		p, err := r.RegisterType(n)
		require.NoError(t, err)
		if prev, dup := seen[p]; dup {
			t.Fatalf("prefix %q assigned to both %q and %q", p, prev, n)
		}
		seen[p] = n
	}
}

func TestRegisterType_NamespaceExhaustion(t *testing.T) {
	r := NewRegistry()

	// Names sharing the first four letters compete for the same ten
	// candidates: con, cons, con2..con9.
	for i := 0; i < 10; i++ {
		_, err := r.RegisterType("cons" + string(rune('a'+i)))
		require.NoError(t, err)
	}

	_, err := r.RegisterType("cons" + string(rune('a'+10)))
	require.Error(t, err)
	var re *apperrors.RegistrationError
	require.ErrorAs(t, err, &re)
}

func TestRegisterType_TooShort(t *testing.T) {
	r := NewRegistry()
	_, err := r.RegisterType("X1")
	var re *apperrors.RegistrationError
	require.ErrorAs(t, err, &re)
}

func TestGenerateID_PrefixMatchesType(t *testing.T) {
	r := NewRegistry()
	prefix, err := r.RegisterType("Conversation")
	require.NoError(t, err)

	id, err := r.GenerateID(prefix)
	require.NoError(t, err)

	gotPrefix, suffix, ok := SplitID(id)
	require.True(t, ok)
	assert.Equal(t, prefix, gotPrefix)
	assert.Len(t, suffix, SuffixLength)

	et, ok := r.Lookup(gotPrefix)
	require.True(t, ok)
	assert.Equal(t, "Conversation", et.Name)
}

func TestGenerateID_UnknownPrefix(t *testing.T) {
	r := NewRegistry()
	_, err := r.GenerateID("zzz")
	assert.Error(t, err)
}

func TestGenerateID_SortsByCreationOrder(t *testing.T) {
	r := NewRegistry()
	prefix, err := r.RegisterType("Conversation")
	require.NoError(t, err)

	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		id, err := r.GenerateID(prefix)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted, "identifiers must sort lexicographically by creation order")
}

func TestSplitID(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"valid", "con_0123456789abcdefghijklmn", true},
		{"four char prefix", "cont_0123456789abcdefghijklmn", true},
		{"prefix too short", "co_0123456789abcdefghijklmn", false},
		{"suffix too short", "con_0123456789", false},
		{"invalid suffix alphabet", "con_0123456789ABCDEFGHIJKLMN", false},
		{"no separator", "con0123456789abcdefghijklmn", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := SplitID(tt.value)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestDetect(t *testing.T) {
	r := NewRegistry()
	prefix, err := r.RegisterType("Conversation")
	require.NoError(t, err)
	r.Attach(models.EntityType{Name: "Conversation", TypePrefix: prefix})

	id, err := r.GenerateID(prefix)
	require.NoError(t, err)

	t.Run("exact match", func(t *testing.T) {
		et, confidence, ok := r.Detect(id)
		require.True(t, ok)
		assert.Equal(t, "Conversation", et.Name)
		assert.Equal(t, ConfidenceExact, confidence)
	})

	t.Run("embedded match", func(t *testing.T) {
		et, confidence, ok := r.Detect("follow up on " + id + " today")
		require.True(t, ok)
		assert.Equal(t, "Conversation", et.Name)
		assert.Equal(t, ConfidenceEmbedded, confidence)
	})

	t.Run("unknown prefix", func(t *testing.T) {
		_, _, ok := r.Detect("zzz_0123456789abcdefghijklmn")
		assert.False(t, ok)
	})

	t.Run("plain text", func(t *testing.T) {
		_, _, ok := r.Detect("no identifiers here")
		assert.False(t, ok)
	})
}
