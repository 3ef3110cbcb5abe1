// Package postgres stores the entity graph in two relational tables. The
// dedup key and the relationship pair are enforced by unique constraints;
// deletes cascade through foreign keys.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/model"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const entityColumns = `uid, name, category, dedup_key, entity_type, wiki_classes, reference_url, knowledge_base_uri, created_at`

type Store struct {
	db     dbConn
	pool   *pgxpool.Pool
	NewID  func() string
	Now    func() time.Time
	logger *slog.Logger
}

type Options struct {
	DSN      string
	MaxConns int32
	Migrate  bool
}

// Open connects a pool, optionally migrates, and verifies the connection.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if opts.Migrate {
		if err := Migrate(opts.DSN); err != nil {
			return nil, err
		}
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(pool, logger)
	s.pool = pool
	return s, nil
}

func New(db dbConn, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		NewID:  uuid.NewString,
		Now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "postgres-store"),
	}
}

func (s *Store) FindByDedupKey(ctx context.Context, key string) (*model.Node, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE dedup_key = $1`, key)
	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "find node")
	}
	return n, nil
}

func (s *Store) CreateNode(ctx context.Context, e model.NormalizedEntity) (*model.Node, error) {
	a := e.Attributes
	row := s.db.QueryRow(ctx, `
		INSERT INTO entities (uid, name, category, dedup_key, entity_type, wiki_classes, reference_url, knowledge_base_uri, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING `+entityColumns,
		s.NewID(), e.Name, e.Category, e.DedupKey, a.EntityType, a.WikiClasses, a.ReferenceURL, a.KnowledgeBaseURI, s.Now(),
	)
	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Conflict(nil, "node with key %q already exists", e.DedupKey)
	}
	if err != nil {
		return nil, classify(err, "create node")
	}
	return n, nil
}

func (s *Store) MergeAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error) {
	return s.updateAttributes(ctx, `
		UPDATE entities SET
			entity_type = COALESCE($2::text[], entity_type),
			wiki_classes = COALESCE($3::text[], wiki_classes),
			reference_url = COALESCE($4::text, reference_url),
			knowledge_base_uri = COALESCE($5::text, knowledge_base_uri)
		WHERE uid = $1
		RETURNING `+entityColumns, uid, attrs, "merge attributes")
}

func (s *Store) OverwriteAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error) {
	return s.updateAttributes(ctx, `
		UPDATE entities SET
			entity_type = $2::text[],
			wiki_classes = $3::text[],
			reference_url = $4::text,
			knowledge_base_uri = $5::text
		WHERE uid = $1
		RETURNING `+entityColumns, uid, attrs, "overwrite attributes")
}

func (s *Store) updateAttributes(ctx context.Context, sql, uid string, a model.Attributes, op string) (*model.Node, error) {
	row := s.db.QueryRow(ctx, sql, uid, a.EntityType, a.WikiClasses, a.ReferenceURL, a.KnowledgeBaseURI)
	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("node", uid)
	}
	if err != nil {
		return nil, classify(err, op)
	}
	return n, nil
}

func (s *Store) CreateRelationshipIfAbsent(ctx context.Context, uidA, uidB string) (bool, error) {
	if uidA == uidB {
		return false, apperr.Validation("relationship endpoints must differ: %s", uidA)
	}
	a, b := model.CanonicalPair(uidA, uidB)

	tag, err := s.db.Exec(ctx, `
		INSERT INTO co_occurrences (uid_a, uid_b, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (uid_a, uid_b) DO NOTHING`, a, b, s.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
			return false, apperr.NotFound("node", a+" or "+b)
		}
		return false, classify(err, "create relationship")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListNodes(ctx context.Context, category *string) ([]model.Node, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE $1::text IS NULL OR category = $1::text
		ORDER BY created_at, uid`, category)
	if err != nil {
		return nil, classify(err, "list nodes")
	}
	defer rows.Close()

	nodes := []model.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, classify(err, "list nodes")
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list nodes")
	}
	return nodes, nil
}

func (s *Store) GetNode(ctx context.Context, uid string) (*model.Node, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE uid = $1`, uid)
	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get node")
	}
	return n, nil
}

func (s *Store) DeleteNode(ctx context.Context, uid string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM entities WHERE uid = $1`, uid)
	if err != nil {
		return false, classify(err, "delete node")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListRelationships(ctx context.Context, uid *string) ([]model.Relationship, error) {
	rows, err := s.db.Query(ctx, `
		SELECT uid_a, uid_b, created_at FROM co_occurrences
		WHERE $1::text IS NULL OR uid_a = $1::text OR uid_b = $1::text
		ORDER BY uid_a, uid_b`, uid)
	if err != nil {
		return nil, classify(err, "list relationships")
	}
	defer rows.Close()

	rels := []model.Relationship{}
	for rows.Next() {
		var r model.Relationship
		if err := rows.Scan(&r.UIDA, &r.UIDB, &r.CreatedAt); err != nil {
			return nil, classify(err, "list relationships")
		}
		r.CreatedAt = r.CreatedAt.UTC()
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list relationships")
	}
	return rels, nil
}

func (s *Store) Close(context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func scanNode(row pgx.Row) (*model.Node, error) {
	var n model.Node
	err := row.Scan(
		&n.UID, &n.Name, &n.Category, &n.DedupKey,
		&n.Attributes.EntityType, &n.Attributes.WikiClasses,
		&n.Attributes.ReferenceURL, &n.Attributes.KnowledgeBaseURI,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}

func classify(err error, op string) error {
	var pgErr *pgconn.PgError
	var netErr net.Error
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation:
		return apperr.Conflict(err, "%s", op)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err),
		errors.As(err, &netErr):
		return apperr.Unavailable(err, op)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
