// Package storetest holds the behaviour every store.GraphStore adapter must
// share. Adapter packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/model"
	"github.com/agenthands/entitynet/internal/core/normalize"
	"github.com/agenthands/entitynet/internal/store"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.GraphStore

func entity(t *testing.T, name, category string, attrs model.Attributes) model.NormalizedEntity {
	t.Helper()
	ne, err := normalize.NewNormalizer().Normalize(model.RawEntity{Name: name, Category: category, Attributes: attrs})
	require.NoError(t, err)
	return ne
}

func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("CreateAndFind", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateNode(ctx, entity(t, "Ford", "ORG", model.Attributes{
			EntityType:   []string{"Company"},
			ReferenceURL: model.StringPtr("http://en.wikipedia.org/wiki/Ford"),
		}))
		require.NoError(t, err)
		require.NotEmpty(t, created.UID)
		assert.Equal(t, "Ford", created.Name)
		assert.Equal(t, "ORG", created.Category)
		assert.False(t, created.CreatedAt.IsZero())

		found, err := s.FindByDedupKey(ctx, "org|ford")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, created.UID, found.UID)
		assert.Equal(t, []string{"Company"}, found.Attributes.EntityType)
		assert.Nil(t, found.Attributes.WikiClasses)
		require.NotNil(t, found.Attributes.ReferenceURL)
		assert.Equal(t, "http://en.wikipedia.org/wiki/Ford", *found.Attributes.ReferenceURL)
		assert.Nil(t, found.Attributes.KnowledgeBaseURI)

		missing, err := s.FindByDedupKey(ctx, "org|nobody")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("CreateDuplicateKeyConflicts", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateNode(ctx, entity(t, "Ford", "ORG", model.Attributes{}))
		require.NoError(t, err)

		_, err = s.CreateNode(ctx, entity(t, "FORD", "org", model.Attributes{}))
		require.Error(t, err)
		assert.True(t, apperr.IsConflict(err), "got %v", err)

		nodes, err := s.ListNodes(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, nodes, 1)
	})

	t.Run("PresentEmptyListSurvivesRoundTrip", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateNode(ctx, entity(t, "Dubai", "GPE", model.Attributes{WikiClasses: []string{}}))
		require.NoError(t, err)

		got, err := s.GetNode(ctx, created.UID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.NotNil(t, got.Attributes.WikiClasses)
		assert.Empty(t, got.Attributes.WikiClasses)
		assert.Nil(t, got.Attributes.EntityType)
	})

	t.Run("MergeKeepsAbsentFields", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateNode(ctx, entity(t, "Dubai", "GPE", model.Attributes{
			EntityType:  []string{"City"},
			WikiClasses: []string{"Place"},
		}))
		require.NoError(t, err)

		merged, err := s.MergeAttributes(ctx, created.UID, model.Attributes{
			KnowledgeBaseURI: model.StringPtr("http://dbpedia.org/resource/Dubai"),
			WikiClasses:      []string{"City", "Place"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"City"}, merged.Attributes.EntityType)
		assert.Equal(t, []string{"City", "Place"}, merged.Attributes.WikiClasses)
		require.NotNil(t, merged.Attributes.KnowledgeBaseURI)
		assert.Equal(t, "http://dbpedia.org/resource/Dubai", *merged.Attributes.KnowledgeBaseURI)
		assert.Equal(t, created.UID, merged.UID)
		assert.Equal(t, "Dubai", merged.Name)

		got, err := s.GetNode(ctx, created.UID)
		require.NoError(t, err)
		assert.True(t, merged.Attributes.Equal(got.Attributes))
	})

	t.Run("OverwriteClearsAbsentFields", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateNode(ctx, entity(t, "Dubai", "GPE", model.Attributes{
			EntityType:   []string{"City"},
			ReferenceURL: model.StringPtr("http://en.wikipedia.org/wiki/Dubai"),
		}))
		require.NoError(t, err)

		got, err := s.OverwriteAttributes(ctx, created.UID, model.Attributes{WikiClasses: []string{"Place"}})
		require.NoError(t, err)
		assert.Nil(t, got.Attributes.EntityType)
		assert.Nil(t, got.Attributes.ReferenceURL)
		assert.Equal(t, []string{"Place"}, got.Attributes.WikiClasses)
	})

	t.Run("UpdateMissingNodeIsNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.MergeAttributes(ctx, "missing", model.Attributes{EntityType: []string{"x"}})
		assert.True(t, apperr.IsNotFound(err), "got %v", err)

		_, err = s.OverwriteAttributes(ctx, "missing", model.Attributes{})
		assert.True(t, apperr.IsNotFound(err), "got %v", err)
	})

	t.Run("RelationshipIsIdempotentAndUnordered", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateNode(ctx, entity(t, "Ford", "ORG", model.Attributes{}))
		require.NoError(t, err)
		b, err := s.CreateNode(ctx, entity(t, "Dubai", "GPE", model.Attributes{}))
		require.NoError(t, err)

		created, err := s.CreateRelationshipIfAbsent(ctx, a.UID, b.UID)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.CreateRelationshipIfAbsent(ctx, b.UID, a.UID)
		require.NoError(t, err)
		assert.False(t, created)

		rels, err := s.ListRelationships(ctx, nil)
		require.NoError(t, err)
		require.Len(t, rels, 1)
		lo, hi := model.CanonicalPair(a.UID, b.UID)
		assert.Equal(t, lo, rels[0].UIDA)
		assert.Equal(t, hi, rels[0].UIDB)
	})

	t.Run("RelationshipToMissingNodeIsNotFound", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateNode(ctx, entity(t, "Ford", "ORG", model.Attributes{}))
		require.NoError(t, err)

		_, err = s.CreateRelationshipIfAbsent(ctx, a.UID, "missing")
		assert.True(t, apperr.IsNotFound(err), "got %v", err)

		rels, err := s.ListRelationships(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, rels)
	})

	t.Run("ListNodesFiltersByExactCategory", func(t *testing.T) {
		s := newStore(t)
		for _, e := range [][2]string{{"Ford", "ORG"}, {"Dubai", "GPE"}, {"Shell", "ORG"}, {"Oslo", "gpe"}} {
			_, err := s.CreateNode(ctx, entity(t, e[0], e[1], model.Attributes{}))
			require.NoError(t, err)
		}

		org := "ORG"
		nodes, err := s.ListNodes(ctx, &org)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"Ford", "Shell"}, names(nodes))

		gpe := "GPE"
		nodes, err = s.ListNodes(ctx, &gpe)
		require.NoError(t, err)
		assert.Equal(t, []string{"Dubai"}, names(nodes))

		none := "EVENT"
		nodes, err = s.ListNodes(ctx, &none)
		require.NoError(t, err)
		assert.Empty(t, nodes)

		nodes, err = s.ListNodes(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, nodes, 4)
	})

	t.Run("DeleteCascadesRelationships", func(t *testing.T) {
		s := newStore(t)
		var uids []string
		for _, name := range []string{"A", "B", "C"} {
			n, err := s.CreateNode(ctx, entity(t, name, "ORG", model.Attributes{}))
			require.NoError(t, err)
			uids = append(uids, n.UID)
		}
		for i := 0; i < len(uids); i++ {
			for j := i + 1; j < len(uids); j++ {
				_, err := s.CreateRelationshipIfAbsent(ctx, uids[i], uids[j])
				require.NoError(t, err)
			}
		}

		deleted, err := s.DeleteNode(ctx, uids[0])
		require.NoError(t, err)
		assert.True(t, deleted)

		got, err := s.GetNode(ctx, uids[0])
		require.NoError(t, err)
		assert.Nil(t, got)

		rels, err := s.ListRelationships(ctx, nil)
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.False(t, rels[0].Touches(uids[0]))

		incident, err := s.ListRelationships(ctx, &uids[0])
		require.NoError(t, err)
		assert.Empty(t, incident)

		found, err := s.FindByDedupKey(ctx, "org|a")
		require.NoError(t, err)
		assert.Nil(t, found, "dedup key must be released")

		deleted, err = s.DeleteNode(ctx, uids[0])
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("RecreatedNodeGetsFreshUID", func(t *testing.T) {
		s := newStore(t)
		first, err := s.CreateNode(ctx, entity(t, "Ford", "ORG", model.Attributes{}))
		require.NoError(t, err)
		_, err = s.DeleteNode(ctx, first.UID)
		require.NoError(t, err)

		second, err := s.CreateNode(ctx, entity(t, "Ford", "ORG", model.Attributes{}))
		require.NoError(t, err)
		assert.NotEqual(t, first.UID, second.UID)
	})

	t.Run("ListRelationshipsForNode", func(t *testing.T) {
		s := newStore(t)
		a, _ := s.CreateNode(ctx, entity(t, "A", "ORG", model.Attributes{}))
		b, _ := s.CreateNode(ctx, entity(t, "B", "ORG", model.Attributes{}))
		c, _ := s.CreateNode(ctx, entity(t, "C", "ORG", model.Attributes{}))
		_, err := s.CreateRelationshipIfAbsent(ctx, a.UID, b.UID)
		require.NoError(t, err)
		_, err = s.CreateRelationshipIfAbsent(ctx, b.UID, c.UID)
		require.NoError(t, err)

		rels, err := s.ListRelationships(ctx, &a.UID)
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.True(t, rels[0].Touches(b.UID))

		rels, err = s.ListRelationships(ctx, &b.UID)
		require.NoError(t, err)
		assert.Len(t, rels, 2)
	})

	t.Run("ConcurrentCreateSameKey", func(t *testing.T) {
		s := newStore(t)
		const writers = 8
		ford := entity(t, "Ford", "ORG", model.Attributes{})

		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.CreateNode(ctx, ford)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, apperr.IsConflict(err), "got %v", err)
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("ConcurrentRelationshipSamePair", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateNode(ctx, entity(t, "A", "ORG", model.Attributes{}))
		require.NoError(t, err)
		b, err := s.CreateNode(ctx, entity(t, "B", "ORG", model.Attributes{}))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				x, y := a.UID, b.UID
				if i%2 == 1 {
					x, y = y, x
				}
				_, err := s.CreateRelationshipIfAbsent(ctx, x, y)
				assert.NoError(t, err, fmt.Sprintf("writer %d", i))
			}(i)
		}
		wg.Wait()

		rels, err := s.ListRelationships(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, rels, 1)
	})
}

func names(nodes []model.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}
