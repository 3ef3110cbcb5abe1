package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/community"
	"github.com/agenthands/entitynet/internal/core/model"
)

func TestListNodes_FilterByCategory(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.Construct(ctx, []model.RawEntity{
		raw("Chris Ballinger", "PERSON", model.Attributes{}),
		raw("Ford", "ORG", model.Attributes{}),
		raw("Shell", "ORG", model.Attributes{}),
	})
	require.NoError(t, err)

	org := "ORG"
	nodes, err := e.ListNodes(ctx, &org)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	for _, n := range nodes {
		assert.Equal(t, "ORG", n.Category)
	}

	lower := "org"
	nodes, err = e.ListNodes(ctx, &lower)
	require.NoError(t, err)
	assert.NotNil(t, nodes)
	assert.Empty(t, nodes, "category match is case-sensitive")

	nodes, err = e.ListNodes(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
}

func TestGetNode(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	res, err := e.Construct(ctx, []model.RawEntity{raw("Ford", "ORG", model.Attributes{})})
	require.NoError(t, err)

	n, err := e.GetNode(ctx, res.Created[0].UID)
	require.NoError(t, err)
	assert.Equal(t, "Ford", n.Name)

	_, err = e.GetNode(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestUpdateNode(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	res, err := e.Construct(ctx, []model.RawEntity{raw("Dubai", "GPE", model.Attributes{EntityType: []string{"City"}})})
	require.NoError(t, err)
	uid := res.Created[0].UID

	t.Run("merges present fields", func(t *testing.T) {
		n, err := e.UpdateNode(ctx, uid, model.Attributes{
			KnowledgeBaseURI: model.StringPtr("http://dbpedia.org/resource/Dubai"),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"City"}, n.Attributes.EntityType)
		require.NotNil(t, n.Attributes.KnowledgeBaseURI)
	})

	t.Run("rejects invalid url", func(t *testing.T) {
		_, err := e.UpdateNode(ctx, uid, model.Attributes{ReferenceURL: model.StringPtr("nope")})
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("unknown uid", func(t *testing.T) {
		_, err := e.UpdateNode(ctx, "missing", model.Attributes{EntityType: []string{"x"}})
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestReplaceAttributes(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	res, err := e.Construct(ctx, []model.RawEntity{raw("Dubai", "GPE", model.Attributes{
		EntityType:  []string{"City"},
		WikiClasses: []string{"Place"},
	})})
	require.NoError(t, err)

	n, err := e.ReplaceAttributes(ctx, res.Created[0].UID, model.Attributes{EntityType: []string{"Emirate"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Emirate"}, n.Attributes.EntityType)
	assert.Nil(t, n.Attributes.WikiClasses)

	_, err = e.ReplaceAttributes(ctx, "missing", model.Attributes{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestDeleteNode_Cascades(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	res, err := e.Construct(ctx, []model.RawEntity{
		raw("A", "ORG", model.Attributes{}),
		raw("B", "ORG", model.Attributes{}),
		raw("C", "ORG", model.Attributes{}),
	})
	require.NoError(t, err)
	victim := res.Created[1].UID

	deleted, err := e.DeleteNode(ctx, victim)
	require.NoError(t, err)
	assert.True(t, deleted)

	nodes, rels := snapshot(t, e)
	assert.Len(t, nodes, 2)
	require.Len(t, rels, 1)
	for _, r := range rels {
		assert.False(t, r.Touches(victim))
	}

	deleted, err = e.DeleteNode(ctx, victim)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = e.GetNode(ctx, victim)
	assert.True(t, apperr.IsNotFound(err))

	// Resubmitting recreates the entity under a new uid and relinks it.
	again, err := e.Construct(ctx, []model.RawEntity{raw("B", "ORG", model.Attributes{}), raw("A", "ORG", model.Attributes{})})
	require.NoError(t, err)
	require.Len(t, again.Created, 1)
	assert.NotEqual(t, victim, again.Created[0].UID)
	assert.Len(t, again.Relationships, 1)
}

func TestDeleteRacingUpdateNeverResurrects(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	res, err := e.Construct(ctx, []model.RawEntity{raw("Ford", "ORG", model.Attributes{})})
	require.NoError(t, err)
	uid := res.Created[0].UID

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.UpdateNode(ctx, uid, model.Attributes{EntityType: []string{"Company"}})
			if err != nil {
				assert.True(t, apperr.IsNotFound(err), "got %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := e.DeleteNode(ctx, uid)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err = e.GetNode(ctx, uid)
	assert.True(t, apperr.IsNotFound(err))
	nodes, _ := snapshot(t, e)
	assert.Empty(t, nodes)
}

func TestListRelationships_ForNode(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.Construct(ctx, []model.RawEntity{raw("A", "ORG", model.Attributes{}), raw("B", "ORG", model.Attributes{})})
	require.NoError(t, err)
	res, err := e.Construct(ctx, []model.RawEntity{raw("B", "ORG", model.Attributes{}), raw("C", "ORG", model.Attributes{})})
	require.NoError(t, err)

	b := res.Merged[0].UID
	rels, err := e.ListRelationships(ctx, &b)
	require.NoError(t, err)
	assert.Len(t, rels, 2)

	missing := "missing"
	rels, err = e.ListRelationships(ctx, &missing)
	require.NoError(t, err)
	assert.NotNil(t, rels)
	assert.Empty(t, rels)
}

func TestCommunities(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.Construct(ctx, []model.RawEntity{
		raw("Chris Ballinger", "PERSON", model.Attributes{}),
		raw("Ford", "ORG", model.Attributes{}),
	})
	require.NoError(t, err)
	_, err = e.Construct(ctx, []model.RawEntity{
		raw("Shell", "ORG", model.Attributes{}),
		raw("Dubai", "GPE", model.Attributes{}),
		raw("BP", "ORG", model.Attributes{}),
	})
	require.NoError(t, err)

	groups, err := e.Communities(ctx, nil, community.Components{})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 3)
	assert.Len(t, groups[1], 2)

	org := "ORG"
	groups, err = e.Communities(ctx, &org, community.Components{})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	for _, n := range groups[0] {
		assert.Equal(t, "ORG", n.Category)
	}

	lower := "person"
	groups, err = e.Communities(ctx, &lower, community.NewLabelPropagation())
	require.NoError(t, err)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)
}
