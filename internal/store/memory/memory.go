// Package memory is the reference GraphStore. It keeps everything in maps
// guarded by a single RWMutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/google/uuid"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/model"
)

type Store struct {
	mu     sync.RWMutex
	nodes  map[string]*model.Node
	byKey  map[string]string
	edges  map[string]model.Relationship
	byNode map[string]map[string]struct{}

	NewID func() string
	Now   func() time.Time
}

func New() *Store {
	return &Store{
		nodes:  make(map[string]*model.Node),
		byKey:  make(map[string]string),
		edges:  make(map[string]model.Relationship),
		byNode: make(map[string]map[string]struct{}),
		NewID:  uuid.NewString,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) FindByDedupKey(ctx context.Context, key string) (*model.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "find node")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	uid, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	n := s.nodes[uid].Clone()
	return &n, nil
}

func (s *Store) CreateNode(ctx context.Context, e model.NormalizedEntity) (*model.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "create node")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[e.DedupKey]; ok {
		return nil, apperr.Conflict(nil, "node with key %q already exists", e.DedupKey)
	}

	uid := s.NewID()
	for s.nodes[uid] != nil {
		uid = s.NewID()
	}
	n := &model.Node{
		UID:        uid,
		Name:       e.Name,
		Category:   e.Category,
		DedupKey:   e.DedupKey,
		Attributes: e.Attributes.Clone(),
		CreatedAt:  s.Now(),
	}
	s.nodes[uid] = n
	s.byKey[e.DedupKey] = uid

	out := n.Clone()
	return &out, nil
}

func (s *Store) MergeAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error) {
	return s.mutate(ctx, uid, func(n *model.Node) { n.Attributes.MergeFrom(attrs) })
}

func (s *Store) OverwriteAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error) {
	return s.mutate(ctx, uid, func(n *model.Node) { n.Attributes = attrs.Clone() })
}

func (s *Store) mutate(ctx context.Context, uid string, fn func(*model.Node)) (*model.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "update node")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[uid]
	if !ok {
		return nil, apperr.NotFound("node", uid)
	}
	fn(n)
	out := n.Clone()
	return &out, nil
}

func (s *Store) CreateRelationshipIfAbsent(ctx context.Context, uidA, uidB string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperr.Unavailable(err, "create relationship")
	}
	if uidA == uidB {
		return false, apperr.Validation("relationship endpoints must differ: %s", uidA)
	}
	a, b := model.CanonicalPair(uidA, uidB)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, uid := range []string{a, b} {
		if _, ok := s.nodes[uid]; !ok {
			return false, apperr.NotFound("node", uid)
		}
	}
	key := model.PairKey(a, b)
	if _, ok := s.edges[key]; ok {
		return false, nil
	}
	s.edges[key] = model.Relationship{UIDA: a, UIDB: b, CreatedAt: s.Now()}
	s.index(a, key)
	s.index(b, key)
	return true, nil
}

func (s *Store) index(uid, key string) {
	set, ok := s.byNode[uid]
	if !ok {
		set = make(map[string]struct{})
		s.byNode[uid] = set
	}
	set[key] = struct{}{}
}

func (s *Store) ListNodes(ctx context.Context, category *string) ([]model.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "list nodes")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]model.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		all = append(all, n.Clone())
	}
	if category != nil {
		all = pie.Filter(all, func(n model.Node) bool { return n.Category == *category })
	}
	sortNodes(all)
	return all, nil
}

func (s *Store) GetNode(ctx context.Context, uid string) (*model.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "get node")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[uid]
	if !ok {
		return nil, nil
	}
	out := n.Clone()
	return &out, nil
}

func (s *Store) DeleteNode(ctx context.Context, uid string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperr.Unavailable(err, "delete node")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[uid]
	if !ok {
		return false, nil
	}
	for key := range s.byNode[uid] {
		rel := s.edges[key]
		delete(s.edges, key)
		other := rel.UIDA
		if other == uid {
			other = rel.UIDB
		}
		delete(s.byNode[other], key)
	}
	delete(s.byNode, uid)
	delete(s.byKey, n.DedupKey)
	delete(s.nodes, uid)
	return true, nil
}

func (s *Store) ListRelationships(ctx context.Context, uid *string) ([]model.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "list relationships")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Relationship
	if uid == nil {
		out = make([]model.Relationship, 0, len(s.edges))
		for _, rel := range s.edges {
			out = append(out, rel)
		}
	} else {
		for key := range s.byNode[*uid] {
			out = append(out, s.edges[key])
		}
		if out == nil {
			out = []model.Relationship{}
		}
	}
	sortRelationships(out)
	return out, nil
}

func (s *Store) Close(context.Context) error { return nil }

func sortNodes(nodes []model.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].UID < nodes[j].UID
	})
}

func sortRelationships(rels []model.Relationship) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].UIDA != rels[j].UIDA {
			return rels[i].UIDA < rels[j].UIDA
		}
		return rels[i].UIDB < rels[j].UIDB
	})
}
