package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/keylock"
	"github.com/agenthands/entitynet/internal/core/model"
	"github.com/agenthands/entitynet/internal/core/normalize"
	"github.com/agenthands/entitynet/internal/store"
)

const (
	tracerName         = "github.com/agenthands/entitynet/internal/core"
	defaultConcurrency = 8
	defaultTimeout     = 5 * time.Second
)

type Options struct {
	// Concurrency bounds parallel store calls within one batch.
	Concurrency int
	// StoreTimeout bounds every single store call.
	StoreTimeout time.Duration
	Logger       *slog.Logger
	Tracer       trace.Tracer
}

// Engine builds and maintains the entity graph on top of a GraphStore.
type Engine struct {
	Store      store.GraphStore
	Normalizer *normalize.Normalizer
	Locks      keylock.Locker

	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewEngine(s store.GraphStore, locks keylock.Locker, opts Options) *Engine {
	if locks == nil {
		locks = keylock.NewLocal()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Engine{
		Store:       s,
		Normalizer:  normalize.NewNormalizer(),
		Locks:       locks,
		concurrency: opts.Concurrency,
		timeout:     opts.StoreTimeout,
		logger:      opts.Logger.With("component", "engine"),
		tracer:      opts.Tracer,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type resolution struct {
	node    model.Node
	created bool
	changed bool
}

// Construct normalizes the batch, resolves every entity to exactly one node
// and links all resolved nodes pairwise. Nothing is written when any entity
// fails validation.
func (e *Engine) Construct(ctx context.Context, raws []model.RawEntity) (res *model.ConstructResult, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Construct", trace.WithAttributes(attribute.Int("batch.size", len(raws))))
	defer func() { endSpan(span, err) }()

	entities, err := e.Normalizer.NormalizeBatch(raws)
	if err != nil {
		return nil, err
	}
	entities = collapse(entities)

	resolved := make([]resolution, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, ent := range entities {
		g.Go(func() error {
			r, err := e.resolve(gctx, ent)
			if err != nil {
				return err
			}
			resolved[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res = &model.ConstructResult{
		Created:       []model.Node{},
		Merged:        []model.Node{},
		Relationships: []model.Relationship{},
	}
	uids := make([]string, 0, len(resolved))
	seen := make(map[string]struct{}, len(resolved))
	for _, r := range resolved {
		if r.created {
			res.Created = append(res.Created, r.node)
		} else {
			res.Merged = append(res.Merged, r.node)
			if r.changed {
				res.Changed++
			}
		}
		if _, ok := seen[r.node.UID]; !ok {
			seen[r.node.UID] = struct{}{}
			uids = append(uids, r.node.UID)
		}
	}

	rels, err := e.link(ctx, uids)
	if err != nil {
		return nil, err
	}
	res.Relationships = rels

	span.SetAttributes(
		attribute.Int("nodes.created", len(res.Created)),
		attribute.Int("nodes.merged", len(res.Merged)),
		attribute.Int("relationships.created", len(res.Relationships)),
	)
	e.logger.InfoContext(ctx, "constructed graph batch",
		"entities", len(raws),
		"created", len(res.Created),
		"merged", len(res.Merged),
		"changed", res.Changed,
		"relationships", len(res.Relationships),
	)
	return res, nil
}

// collapse folds entities sharing a dedup key into the first occurrence.
// Later present attribute fields win.
func collapse(in []model.NormalizedEntity) []model.NormalizedEntity {
	idx := make(map[string]int, len(in))
	out := make([]model.NormalizedEntity, 0, len(in))
	for _, ent := range in {
		if i, ok := idx[ent.DedupKey]; ok {
			out[i].Attributes.MergeFrom(ent.Attributes)
			continue
		}
		idx[ent.DedupKey] = len(out)
		ent.Attributes = ent.Attributes.Clone()
		out = append(out, ent)
	}
	return out
}

func (e *Engine) resolve(ctx context.Context, ent model.NormalizedEntity) (resolution, error) {
	unlock, err := e.lock(ctx, "key:"+ent.DedupKey)
	if err != nil {
		return resolution{}, err
	}
	defer unlock()

	// A second pass covers a node deleted between find and merge, or a
	// writer outside this process creating the key between find and create.
	for attempt := 0; ; attempt++ {
		retry := attempt == 0

		existing, err := e.findByKey(ctx, ent.DedupKey)
		if err != nil {
			return resolution{}, err
		}

		if existing == nil {
			n, err := e.createNode(ctx, ent)
			if apperr.IsConflict(err) && retry {
				e.logger.DebugContext(ctx, "create raced, retrying as merge", "key", ent.DedupKey)
				continue
			}
			if err != nil {
				return resolution{}, err
			}
			return resolution{node: *n, created: true}, nil
		}

		probe := existing.Attributes.Clone()
		if !probe.MergeFrom(ent.Attributes) {
			return resolution{node: *existing}, nil
		}

		n, err := e.mergeAttributes(ctx, existing.UID, ent.Attributes)
		if apperr.IsNotFound(err) && retry {
			e.logger.DebugContext(ctx, "merge target vanished, retrying as create", "key", ent.DedupKey, "uid", existing.UID)
			continue
		}
		if err != nil {
			return resolution{}, err
		}
		return resolution{node: *n, changed: true}, nil
	}
}

func (e *Engine) link(ctx context.Context, uids []string) ([]model.Relationship, error) {
	type pair struct{ a, b string }
	var pairs []pair
	for i := 0; i < len(uids); i++ {
		for j := i + 1; j < len(uids); j++ {
			a, b := model.CanonicalPair(uids[i], uids[j])
			pairs = append(pairs, pair{a, b})
		}
	}

	created := make([]bool, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, p := range pairs {
		g.Go(func() error {
			ok, err := e.createRelationship(gctx, p.a, p.b)
			if err != nil {
				return err
			}
			created[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := e.now()
	out := make([]model.Relationship, 0, len(pairs))
	for i, p := range pairs {
		if created[i] {
			out = append(out, model.Relationship{UIDA: p.a, UIDB: p.b, CreatedAt: now})
		}
	}
	return out, nil
}

func (e *Engine) lock(ctx context.Context, key string) (keylock.Unlock, error) {
	lctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	unlock, err := e.Locks.Lock(lctx, key)
	if err != nil {
		return nil, apperr.Unavailable(err, "acquire lock")
	}
	return unlock, nil
}

// Store call wrappers. Each call gets its own deadline.

func (e *Engine) findByKey(ctx context.Context, key string) (*model.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	n, err := e.Store.FindByDedupKey(ctx, key)
	return n, classify(err, "find node")
}

func (e *Engine) createNode(ctx context.Context, ent model.NormalizedEntity) (*model.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	n, err := e.Store.CreateNode(ctx, ent)
	return n, classify(err, "create node")
}

func (e *Engine) mergeAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	n, err := e.Store.MergeAttributes(ctx, uid, attrs)
	return n, classify(err, "merge attributes")
}

func (e *Engine) createRelationship(ctx context.Context, a, b string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ok, err := e.Store.CreateRelationshipIfAbsent(ctx, a, b)
	return ok, classify(err, "create relationship")
}

// classify leaves kinded errors alone and turns deadline hits into
// StoreUnavailable. Anything else is wrapped and surfaces as internal.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	switch apperr.KindOf(err) {
	case apperr.KindInternal:
		return fmt.Errorf("%s: %w", op, err)
	case apperr.KindUnavailable:
		if !errors.Is(err, apperr.ErrStoreUnavailable) {
			return apperr.Unavailable(err, op)
		}
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}
