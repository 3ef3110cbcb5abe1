// Package store defines the persistence contract the construction engine
// runs against. Adapters live in subpackages.
package store

import (
	"context"

	"github.com/agenthands/entitynet/internal/core/model"
)

// GraphStore persists nodes and co-occurrence relationships. Every mutating
// call is atomic with respect to concurrent callers.
type GraphStore interface {
	// FindByDedupKey returns nil, nil when no node has the key.
	FindByDedupKey(ctx context.Context, key string) (*model.Node, error)
	// CreateNode fails with a conflict error when the dedup key is taken.
	CreateNode(ctx context.Context, e model.NormalizedEntity) (*model.Node, error)
	MergeAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error)
	OverwriteAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error)
	// CreateRelationshipIfAbsent reports whether a new edge was written.
	CreateRelationshipIfAbsent(ctx context.Context, uidA, uidB string) (bool, error)

	ListNodes(ctx context.Context, category *string) ([]model.Node, error)
	// GetNode returns nil, nil when absent.
	GetNode(ctx context.Context, uid string) (*model.Node, error)
	// DeleteNode removes the node and its incident relationships.
	DeleteNode(ctx context.Context, uid string) (bool, error)
	ListRelationships(ctx context.Context, uid *string) ([]model.Relationship, error)

	Close(ctx context.Context) error
}
