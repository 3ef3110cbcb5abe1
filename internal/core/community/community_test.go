package community

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/entitynet/internal/core/model"
)

func nodes(uids ...string) []model.Node {
	out := make([]model.Node, len(uids))
	for i, uid := range uids {
		out[i] = model.Node{UID: uid, Name: "n" + uid}
	}
	return out
}

func rel(a, b string) model.Relationship {
	a, b = model.CanonicalPair(a, b)
	return model.Relationship{UIDA: a, UIDB: b}
}

func uids(community []model.Node) []string {
	out := make([]string, len(community))
	for i, n := range community {
		out[i] = n.UID
	}
	return out
}

// Two triangles joined by the 3-4 edge.
var bridged = []model.Relationship{
	rel("1", "2"), rel("2", "3"), rel("1", "3"),
	rel("4", "5"), rel("5", "6"), rel("4", "6"),
	rel("3", "4"),
}

func TestComponents(t *testing.T) {
	t.Run("disconnected triangles", func(t *testing.T) {
		got := Components{}.Detect(nodes("1", "2", "3", "4", "5", "6"), bridged[:6])
		require.Len(t, got, 2)
		assert.Equal(t, []string{"1", "2", "3"}, uids(got[0]))
		assert.Equal(t, []string{"4", "5", "6"}, uids(got[1]))
	})

	t.Run("bridge joins everything", func(t *testing.T) {
		got := Components{}.Detect(nodes("1", "2", "3", "4", "5", "6"), bridged)
		require.Len(t, got, 1)
		assert.Len(t, got[0], 6)
	})

	t.Run("singletons and dangling edges are dropped", func(t *testing.T) {
		got := Components{}.Detect(nodes("a", "b", "c"), []model.Relationship{rel("a", "b"), rel("c", "gone")})
		require.Len(t, got, 1)
		assert.Equal(t, []string{"a", "b"}, uids(got[0]))
	})

	t.Run("largest first", func(t *testing.T) {
		got := Components{}.Detect(nodes("a", "b", "x", "y", "z"), []model.Relationship{rel("a", "b"), rel("x", "y"), rel("y", "z")})
		require.Len(t, got, 2)
		assert.Equal(t, []string{"x", "y", "z"}, uids(got[0]))
		assert.Equal(t, []string{"a", "b"}, uids(got[1]))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Components{}.Detect(nil, nil))
	})
}

func TestLabelPropagation(t *testing.T) {
	t.Run("splits bridged triangles", func(t *testing.T) {
		got := NewLabelPropagation().Detect(nodes("1", "2", "3", "4", "5", "6"), bridged)
		require.Len(t, got, 2)
		assert.Equal(t, []string{"1", "2", "3"}, uids(got[0]))
		assert.Equal(t, []string{"4", "5", "6"}, uids(got[1]))
	})

	t.Run("clique stays whole", func(t *testing.T) {
		got := NewLabelPropagation().Detect(nodes("a", "b", "c"), []model.Relationship{rel("a", "b"), rel("b", "c"), rel("a", "c")})
		require.Len(t, got, 1)
		assert.Len(t, got[0], 3)
	})

	t.Run("deterministic", func(t *testing.T) {
		first := NewLabelPropagation().Detect(nodes("1", "2", "3", "4", "5", "6"), bridged)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, NewLabelPropagation().Detect(nodes("6", "5", "4", "3", "2", "1"), bridged))
		}
	})
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "components", "lpa", "label_propagation"} {
		_, ok := ByName(name)
		assert.True(t, ok, name)
	}
	_, ok := ByName("louvain")
	assert.False(t, ok)
}
