// Package graphdb stores the entity graph in Memgraph or Neo4j through the
// bolt driver. Nodes are :Entity, relationships are undirected :CO_OCCURS.
package graphdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/model"
	"github.com/agenthands/entitynet/internal/driver"
)

type Store struct {
	Driver driver.GraphDriver
	NewID  func() string
	Now    func() time.Time
	logger *slog.Logger
}

func New(d driver.GraphDriver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		Driver: d,
		NewID:  uuid.NewString,
		Now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "graphdb-store"),
	}
}

func (s *Store) FindByDedupKey(ctx context.Context, key string) (*model.Node, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.FindEntityByDedupKeyQuery, map[string]any{"dedup_key": key})
	if err != nil {
		return nil, classify(err, "find node")
	}
	return firstNode(res)
}

func (s *Store) CreateNode(ctx context.Context, e model.NormalizedEntity) (*model.Node, error) {
	params := attributeParams(e.Attributes)
	params["uid"] = s.NewID()
	params["dedup_key"] = e.DedupKey
	params["name"] = e.Name
	params["category"] = e.Category
	params["created_at"] = formatTime(s.Now())

	res, err := s.Driver.ExecuteQuery(ctx, driver.CreateEntityQuery, params)
	if err != nil {
		return nil, classify(err, "create node")
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("create node %q: no row returned", e.DedupKey)
	}
	rec := res.Records[0]
	if created, _ := rec.Get("created"); created != true {
		return nil, apperr.Conflict(nil, "node with key %q already exists", e.DedupKey)
	}
	n, err := decodeNode(rec)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) MergeAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error) {
	return s.writeAttributes(ctx, driver.MergeEntityAttributesQuery, uid, attrs, "merge attributes")
}

func (s *Store) OverwriteAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error) {
	return s.writeAttributes(ctx, driver.OverwriteEntityAttributesQuery, uid, attrs, "overwrite attributes")
}

func (s *Store) writeAttributes(ctx context.Context, query, uid string, attrs model.Attributes, op string) (*model.Node, error) {
	params := attributeParams(attrs)
	params["uid"] = uid

	res, err := s.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, classify(err, op)
	}
	n, err := firstNode(res)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, apperr.NotFound("node", uid)
	}
	return n, nil
}

func (s *Store) CreateRelationshipIfAbsent(ctx context.Context, uidA, uidB string) (bool, error) {
	if uidA == uidB {
		return false, apperr.Validation("relationship endpoints must differ: %s", uidA)
	}
	a, b := model.CanonicalPair(uidA, uidB)

	res, err := s.Driver.ExecuteQuery(ctx, driver.CreateCoOccurrenceQuery, map[string]any{
		"uid_a":      a,
		"uid_b":      b,
		"token":      s.NewID(),
		"created_at": formatTime(s.Now()),
	})
	if err != nil {
		return false, classify(err, "create relationship")
	}
	if len(res.Records) == 0 {
		return false, apperr.NotFound("node", a+" or "+b)
	}
	created, _ := res.Records[0].Get("created")
	return created == true, nil
}

func (s *Store) ListNodes(ctx context.Context, category *string) ([]model.Node, error) {
	params := map[string]any{"category": nil}
	if category != nil {
		params["category"] = *category
	}
	res, err := s.Driver.ExecuteQuery(ctx, driver.ListEntitiesQuery, params)
	if err != nil {
		return nil, classify(err, "list nodes")
	}
	nodes := make([]model.Node, 0, len(res.Records))
	for _, rec := range res.Records {
		n, err := decodeNode(rec)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (s *Store) GetNode(ctx context.Context, uid string) (*model.Node, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.GetEntityQuery, map[string]any{"uid": uid})
	if err != nil {
		return nil, classify(err, "get node")
	}
	return firstNode(res)
}

func (s *Store) DeleteNode(ctx context.Context, uid string) (bool, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.DeleteEntityQuery, map[string]any{"uid": uid})
	if err != nil {
		return false, classify(err, "delete node")
	}
	if len(res.Records) == 0 {
		return false, nil
	}
	deleted, _ := res.Records[0].Get("deleted")
	count, _ := deleted.(int64)
	return count > 0, nil
}

func (s *Store) ListRelationships(ctx context.Context, uid *string) ([]model.Relationship, error) {
	params := map[string]any{"uid": nil}
	if uid != nil {
		params["uid"] = *uid
	}
	res, err := s.Driver.ExecuteQuery(ctx, driver.ListCoOccurrencesQuery, params)
	if err != nil {
		return nil, classify(err, "list relationships")
	}
	rels := make([]model.Relationship, 0, len(res.Records))
	for _, rec := range res.Records {
		a, _ := rec.Get("uid_a")
		b, _ := rec.Get("uid_b")
		created, err := decodeTime(rec, "created_at")
		if err != nil {
			return nil, err
		}
		rels = append(rels, model.Relationship{UIDA: asString(a), UIDB: asString(b), CreatedAt: created})
	}
	return rels, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.Driver.Close(ctx)
}

func attributeParams(a model.Attributes) map[string]any {
	return map[string]any{
		"entity_type":        optList(a.EntityType),
		"wiki_classes":       optList(a.WikiClasses),
		"reference_url":      optString(a.ReferenceURL),
		"knowledge_base_uri": optString(a.KnowledgeBaseURI),
	}
}

// Typed nil values must not reach the bolt packer.
func optList(l []string) any {
	if l == nil {
		return nil
	}
	return l
}

func optString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func firstNode(res neo4j.EagerResult) (*model.Node, error) {
	if len(res.Records) == 0 {
		return nil, nil
	}
	n, err := decodeNode(res.Records[0])
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func decodeNode(rec *neo4j.Record) (model.Node, error) {
	get := func(key string) any {
		v, _ := rec.Get(key)
		return v
	}
	created, err := decodeTime(rec, "created_at")
	if err != nil {
		return model.Node{}, err
	}
	return model.Node{
		UID:      asString(get("uid")),
		Name:     asString(get("name")),
		Category: asString(get("category")),
		DedupKey: asString(get("dedup_key")),
		Attributes: model.Attributes{
			EntityType:       asList(get("entity_type")),
			WikiClasses:      asList(get("wiki_classes")),
			ReferenceURL:     asOptString(get("reference_url")),
			KnowledgeBaseURI: asOptString(get("knowledge_base_uri")),
		},
		CreatedAt: created,
	}, nil
}

// timeLayout is fixed width so string order in the database is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(rec *neo4j.Record, key string) (time.Time, error) {
	v, _ := rec.Get(key)
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad %s %q: %w", key, t, err)
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected %s type %T", key, v)
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asOptString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func asList(v any) []string {
	switch l := v.(type) {
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string{}, l...)
	default:
		return nil
	}
}

// classify maps driver failures onto error kinds.
func classify(err error, op string) error {
	var nerr *neo4j.Neo4jError
	switch {
	case errors.As(err, &nerr) && isConstraintViolation(nerr):
		return apperr.Conflict(err, "%s", op)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		neo4j.IsRetryable(err),
		neo4j.IsConnectivityError(err):
		return apperr.Unavailable(err, op)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isConstraintViolation(err *neo4j.Neo4jError) bool {
	return strings.Contains(err.Code, "ConstraintValidationFailed") ||
		strings.Contains(strings.ToLower(err.Msg), "constraint violation")
}
