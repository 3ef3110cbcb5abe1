package core

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/community"
	"github.com/agenthands/entitynet/internal/core/model"
)

// ListNodes returns every node, or only those whose stored category equals
// category exactly.
func (e *Engine) ListNodes(ctx context.Context, category *string) (nodes []model.Node, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.ListNodes")
	defer func() { endSpan(span, err) }()
	if category != nil {
		span.SetAttributes(attribute.String("category", *category))
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	nodes, err = e.Store.ListNodes(ctx, category)
	if err != nil {
		return nil, classify(err, "list nodes")
	}
	if nodes == nil {
		nodes = []model.Node{}
	}
	return nodes, nil
}

func (e *Engine) GetNode(ctx context.Context, uid string) (node *model.Node, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GetNode", trace.WithAttributes(attribute.String("uid", uid)))
	defer func() { endSpan(span, err) }()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	node, err = e.Store.GetNode(ctx, uid)
	if err != nil {
		return nil, classify(err, "get node")
	}
	if node == nil {
		return nil, apperr.NotFound("node", uid)
	}
	return node, nil
}

// ListRelationships returns all relationships, or those incident to uid.
func (e *Engine) ListRelationships(ctx context.Context, uid *string) (rels []model.Relationship, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.ListRelationships")
	defer func() { endSpan(span, err) }()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	rels, err = e.Store.ListRelationships(ctx, uid)
	if err != nil {
		return nil, classify(err, "list relationships")
	}
	if rels == nil {
		rels = []model.Relationship{}
	}
	return rels, nil
}

// Communities clusters the stored graph with d. With a category only nodes of
// that category and the relationships between them are considered. The two
// reads are not a snapshot; edges to nodes deleted in between are ignored.
func (e *Engine) Communities(ctx context.Context, category *string, d community.Detector) (groups [][]model.Node, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Communities")
	defer func() { endSpan(span, err) }()

	nodes, err := e.ListNodes(ctx, category)
	if err != nil {
		return nil, err
	}
	rels, err := e.ListRelationships(ctx, nil)
	if err != nil {
		return nil, err
	}

	groups = d.Detect(nodes, rels)
	if groups == nil {
		groups = [][]model.Node{}
	}
	span.SetAttributes(attribute.Int("communities", len(groups)))
	return groups, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}
