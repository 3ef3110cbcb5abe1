// Package sqlite is an embedded GraphStore on top of gorm and SQLite, for
// single-instance deployments that still want the graph to survive restarts.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/model"
)

type entityRow struct {
	UID              string         `gorm:"column:uid;primaryKey"`
	Name             string         `gorm:"column:name;not null"`
	Category         string         `gorm:"column:category;not null;index"`
	DedupKey         string         `gorm:"column:dedup_key;not null;uniqueIndex"`
	EntityType       datatypes.JSON `gorm:"column:entity_type"`
	WikiClasses      datatypes.JSON `gorm:"column:wiki_classes"`
	ReferenceURL     *string        `gorm:"column:reference_url"`
	KnowledgeBaseURI *string        `gorm:"column:knowledge_base_uri"`
	CreatedAt        time.Time      `gorm:"column:created_at;not null"`
}

func (entityRow) TableName() string { return "entities" }

type coOccurrenceRow struct {
	UIDA      string    `gorm:"column:uid_a;primaryKey"`
	UIDB      string    `gorm:"column:uid_b;primaryKey;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (coOccurrenceRow) TableName() string { return "co_occurrences" }

type Store struct {
	db     *gorm.DB
	NewID  func() string
	Now    func() time.Time
	logger *slog.Logger
}

// Open opens (or creates) the database at dsn and migrates the schema. The
// pool is capped at one connection so SQLite writers never contend.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&entityRow{}, &coOccurrenceRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	return &Store{
		db:     db,
		NewID:  uuid.NewString,
		Now:    func() time.Time { return time.Now().UTC() },
		logger: log.With("component", "sqlite-store"),
	}, nil
}

func (s *Store) FindByDedupKey(ctx context.Context, key string) (*model.Node, error) {
	return s.first(ctx, "dedup_key = ?", key)
}

func (s *Store) GetNode(ctx context.Context, uid string) (*model.Node, error) {
	return s.first(ctx, "uid = ?", uid)
}

func (s *Store) first(ctx context.Context, query string, arg string) (*model.Node, error) {
	var row entityRow
	err := s.db.WithContext(ctx).Where(query, arg).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get node")
	}
	n, err := row.toNode()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) CreateNode(ctx context.Context, e model.NormalizedEntity) (*model.Node, error) {
	row := entityRow{
		UID:       s.NewID(),
		Name:      e.Name,
		Category:  e.Category,
		DedupKey:  e.DedupKey,
		CreatedAt: s.Now(),
	}
	if err := row.setAttributes(e.Attributes); err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return nil, classify(res.Error, "create node")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflict(nil, "node with key %q already exists", e.DedupKey)
	}
	n, err := row.toNode()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) MergeAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error) {
	return s.updateAttributes(ctx, uid, "merge attributes", func(cur *model.Attributes) { cur.MergeFrom(attrs) })
}

func (s *Store) OverwriteAttributes(ctx context.Context, uid string, attrs model.Attributes) (*model.Node, error) {
	return s.updateAttributes(ctx, uid, "overwrite attributes", func(cur *model.Attributes) { *cur = attrs.Clone() })
}

func (s *Store) updateAttributes(ctx context.Context, uid, op string, apply func(*model.Attributes)) (*model.Node, error) {
	var out model.Node
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entityRow
		if err := tx.Where("uid = ?", uid).Take(&row).Error; err != nil {
			return err
		}
		n, err := row.toNode()
		if err != nil {
			return err
		}
		apply(&n.Attributes)
		if err := row.setAttributes(n.Attributes); err != nil {
			return err
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = n
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("node", uid)
	}
	if err != nil {
		return nil, classify(err, op)
	}
	return &out, nil
}

func (s *Store) CreateRelationshipIfAbsent(ctx context.Context, uidA, uidB string) (bool, error) {
	if uidA == uidB {
		return false, apperr.Validation("relationship endpoints must differ: %s", uidA)
	}
	a, b := model.CanonicalPair(uidA, uidB)

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found int64
		if err := tx.Model(&entityRow{}).Where("uid IN ?", []string{a, b}).Count(&found).Error; err != nil {
			return err
		}
		if found != 2 {
			return apperr.NotFound("node", a+" or "+b)
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&coOccurrenceRow{UIDA: a, UIDB: b, CreatedAt: s.Now()})
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, classify(err, "create relationship")
	}
	return created, nil
}

func (s *Store) ListNodes(ctx context.Context, category *string) ([]model.Node, error) {
	q := s.db.WithContext(ctx).Order("created_at, uid")
	if category != nil {
		q = q.Where("category = ?", *category)
	}
	var rows []entityRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify(err, "list nodes")
	}
	nodes := make([]model.Node, 0, len(rows))
	for _, row := range rows {
		n, err := row.toNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (s *Store) DeleteNode(ctx context.Context, uid string) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("uid_a = ? OR uid_b = ?", uid, uid).Delete(&coOccurrenceRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("uid = ?", uid).Delete(&entityRow{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, classify(err, "delete node")
	}
	return deleted, nil
}

func (s *Store) ListRelationships(ctx context.Context, uid *string) ([]model.Relationship, error) {
	q := s.db.WithContext(ctx).Order("uid_a, uid_b")
	if uid != nil {
		q = q.Where("uid_a = ? OR uid_b = ?", *uid, *uid)
	}
	var rows []coOccurrenceRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify(err, "list relationships")
	}
	rels := make([]model.Relationship, 0, len(rows))
	for _, row := range rows {
		rels = append(rels, model.Relationship{UIDA: row.UIDA, UIDB: row.UIDB, CreatedAt: row.CreatedAt.UTC()})
	}
	return rels, nil
}

func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *entityRow) setAttributes(a model.Attributes) error {
	var err error
	if r.EntityType, err = encodeList(a.EntityType); err != nil {
		return err
	}
	if r.WikiClasses, err = encodeList(a.WikiClasses); err != nil {
		return err
	}
	r.ReferenceURL = a.ReferenceURL
	r.KnowledgeBaseURI = a.KnowledgeBaseURI
	return nil
}

func (r entityRow) toNode() (model.Node, error) {
	entityType, err := decodeList(r.EntityType)
	if err != nil {
		return model.Node{}, fmt.Errorf("entity %s: bad entity_type: %w", r.UID, err)
	}
	wikiClasses, err := decodeList(r.WikiClasses)
	if err != nil {
		return model.Node{}, fmt.Errorf("entity %s: bad wiki_classes: %w", r.UID, err)
	}
	return model.Node{
		UID:      r.UID,
		Name:     r.Name,
		Category: r.Category,
		DedupKey: r.DedupKey,
		Attributes: model.Attributes{
			EntityType:       entityType,
			WikiClasses:      wikiClasses,
			ReferenceURL:     r.ReferenceURL,
			KnowledgeBaseURI: r.KnowledgeBaseURI,
		},
		CreatedAt: r.CreatedAt.UTC(),
	}, nil
}

// A nil list is stored as NULL so it stays distinguishable from [].
func encodeList(l []string) (datatypes.JSON, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func decodeList(j datatypes.JSON) ([]string, error) {
	if len(j) == 0 || string(j) == "null" {
		return nil, nil
	}
	out := []string{}
	if err := json.Unmarshal(j, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func classify(err error, op string) error {
	switch {
	case apperr.KindOf(err) != apperr.KindInternal:
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperr.ErrStoreUnavailable) {
			return apperr.Unavailable(err, op)
		}
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Conflict(err, "%s", op)
	case errors.Is(err, context.Canceled):
		return apperr.Unavailable(err, op)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
