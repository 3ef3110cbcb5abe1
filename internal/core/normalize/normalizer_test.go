package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/model"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer()

	t.Run("trims display values and keeps case", func(t *testing.T) {
		ne, err := n.Normalize(model.RawEntity{Name: "  Chris   Ballinger ", Category: " PERSON"})
		require.NoError(t, err)
		assert.Equal(t, "Chris   Ballinger", ne.Name)
		assert.Equal(t, "PERSON", ne.Category)
		assert.Equal(t, "person|chris ballinger", ne.DedupKey)
	})

	t.Run("case and whitespace variants share a key", func(t *testing.T) {
		a, err := n.Normalize(model.RawEntity{Name: "Ford", Category: "ORG"})
		require.NoError(t, err)
		b, err := n.Normalize(model.RawEntity{Name: " FORD ", Category: "org"})
		require.NoError(t, err)
		assert.Equal(t, a.DedupKey, b.DedupKey)
	})

	t.Run("unicode case folding", func(t *testing.T) {
		a, err := n.Normalize(model.RawEntity{Name: "Straße", Category: "GPE"})
		require.NoError(t, err)
		b, err := n.Normalize(model.RawEntity{Name: "STRASSE", Category: "GPE"})
		require.NoError(t, err)
		assert.Equal(t, a.DedupKey, b.DedupKey)
	})

	t.Run("separator inside a part stays unambiguous", func(t *testing.T) {
		a, err := n.Normalize(model.RawEntity{Name: "a|b", Category: "C"})
		require.NoError(t, err)
		b, err := n.Normalize(model.RawEntity{Name: "b", Category: "C|a"})
		require.NoError(t, err)
		assert.NotEqual(t, a.DedupKey, b.DedupKey)
		assert.Equal(t, `c|a\|b`, a.DedupKey)
		assert.Equal(t, `c\|a|b`, b.DedupKey)

		c, err := n.Normalize(model.RawEntity{Name: `a\|b`, Category: "C"})
		require.NoError(t, err)
		assert.NotEqual(t, a.DedupKey, c.DedupKey)
	})

	t.Run("cleans attribute bag", func(t *testing.T) {
		ne, err := n.Normalize(model.RawEntity{
			Name:     "Dubai",
			Category: "GPE",
			Attributes: model.Attributes{
				EntityType:       []string{" City ", "", "Place"},
				WikiClasses:      []string{"  "},
				ReferenceURL:     model.StringPtr("   "),
				KnowledgeBaseURI: model.StringPtr(" http://dbpedia.org/resource/Dubai "),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"City", "Place"}, ne.Attributes.EntityType)
		assert.NotNil(t, ne.Attributes.WikiClasses)
		assert.Empty(t, ne.Attributes.WikiClasses)
		assert.Nil(t, ne.Attributes.ReferenceURL)
		require.NotNil(t, ne.Attributes.KnowledgeBaseURI)
		assert.Equal(t, "http://dbpedia.org/resource/Dubai", *ne.Attributes.KnowledgeBaseURI)
	})

	t.Run("keeps absent fields absent", func(t *testing.T) {
		ne, err := n.Normalize(model.RawEntity{Name: "Ford", Category: "ORG"})
		require.NoError(t, err)
		assert.True(t, ne.Attributes.IsEmpty())
	})
}

func TestNormalize_Rejects(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		name string
		raw  model.RawEntity
		msg  string
	}{
		{"empty name", model.RawEntity{Name: "", Category: "ORG"}, "name is empty"},
		{"whitespace name", model.RawEntity{Name: " \t ", Category: "ORG"}, "name is empty"},
		{"empty category", model.RawEntity{Name: "Ford", Category: ""}, "category is empty"},
		{"bad url", model.RawEntity{Name: "Ford", Category: "ORG", Attributes: model.Attributes{ReferenceURL: model.StringPtr("not a url")}}, "not a valid URI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.raw)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestNormalizeBatch_FailsFast(t *testing.T) {
	n := NewNormalizer()

	out, err := n.NormalizeBatch([]model.RawEntity{
		{Name: "Ford", Category: "ORG"},
		{Name: "", Category: "PERSON"},
		{Name: "Dubai", Category: ""},
	})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "entity 1")
}

func TestValidateAttributes(t *testing.T) {
	n := NewNormalizer()

	attrs, err := n.ValidateAttributes(model.Attributes{ReferenceURL: model.StringPtr("http://en.wikipedia.org/wiki/Dubai")})
	require.NoError(t, err)
	assert.NotNil(t, attrs.ReferenceURL)

	_, err = n.ValidateAttributes(model.Attributes{KnowledgeBaseURI: model.StringPtr("dubai")})
	assert.True(t, apperr.IsValidation(err))
}
