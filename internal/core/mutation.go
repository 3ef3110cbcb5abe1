package core

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agenthands/entitynet/internal/core/model"
)

// UpdateNode merges attrs into the node: present fields overwrite, absent
// fields keep their stored value.
func (e *Engine) UpdateNode(ctx context.Context, uid string, attrs model.Attributes) (node *model.Node, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.UpdateNode", trace.WithAttributes(attribute.String("uid", uid)))
	defer func() { endSpan(span, err) }()

	attrs, err = e.Normalizer.ValidateAttributes(attrs)
	if err != nil {
		return nil, err
	}

	unlock, err := e.lock(ctx, "uid:"+uid)
	if err != nil {
		return nil, err
	}
	defer unlock()

	node, err = e.mergeAttributes(ctx, uid, attrs)
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "updated node", "uid", uid)
	return node, nil
}

// ReplaceAttributes overwrites the whole attribute bag. Absent fields are cleared.
func (e *Engine) ReplaceAttributes(ctx context.Context, uid string, attrs model.Attributes) (node *model.Node, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.ReplaceAttributes", trace.WithAttributes(attribute.String("uid", uid)))
	defer func() { endSpan(span, err) }()

	attrs, err = e.Normalizer.ValidateAttributes(attrs)
	if err != nil {
		return nil, err
	}

	unlock, err := e.lock(ctx, "uid:"+uid)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	node, err = e.Store.OverwriteAttributes(sctx, uid, attrs)
	if err != nil {
		return nil, classify(err, "overwrite attributes")
	}
	e.logger.InfoContext(ctx, "replaced node attributes", "uid", uid)
	return node, nil
}

// DeleteNode removes the node and every relationship touching it. It reports
// false when the node was already gone.
func (e *Engine) DeleteNode(ctx context.Context, uid string) (deleted bool, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.DeleteNode", trace.WithAttributes(attribute.String("uid", uid)))
	defer func() { endSpan(span, err) }()

	unlock, err := e.lock(ctx, "uid:"+uid)
	if err != nil {
		return false, err
	}
	defer unlock()

	sctx, cancel := e.withTimeout(ctx)
	defer cancel()
	deleted, err = e.Store.DeleteNode(sctx, uid)
	if err != nil {
		return false, classify(err, "delete node")
	}
	span.SetAttributes(attribute.Bool("deleted", deleted))
	if deleted {
		e.logger.InfoContext(ctx, "deleted node", "uid", uid)
	}
	return deleted, nil
}
