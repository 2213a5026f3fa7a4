package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mohammad-safakhou/newsletter-agent/config"
)

var tracer = otel.Tracer("github.com/mohammad-safakhou/newsletter-agent/internal/store")

var (
	ErrNotFound       = errors.New("draft not found")
	ErrDuplicateDraft = errors.New("draft already exists")
)

// DefaultListLimit caps ListDrafts when no limit is given.
const DefaultListLimit = 50

type Store struct {
	DB *sql.DB
}

// Draft is a newsletter produced by a finished run.
type Draft struct {
	ID        string    `json:"id"`
	ReqID     string    `json:"reqId"`
	Topic     string    `json:"topic"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Tier      string    `json:"tier"`
	HTML      string    `json:"html,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// New opens the store described by cfg.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	if !cfg.Enabled() {
		return nil, errors.New("postgres configuration incomplete: url or host/dbname required")
	}
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// SaveDraft inserts d, assigning an id when it has none.
func (s *Store) SaveDraft(ctx context.Context, d Draft) (Draft, error) {
	ctx, span := tracer.Start(ctx, "store.save_draft")
	defer span.End()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	span.SetAttributes(attribute.String("draft.id", d.ID))

	_, err := s.DB.ExecContext(ctx, `
INSERT INTO drafts (id, req_id, topic, title, source, tier, html, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.ReqID, d.Topic, d.Title, d.Source, d.Tier, d.HTML, d.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Draft{}, fmt.Errorf("%w: %s", ErrDuplicateDraft, d.ID)
		}
		span.RecordError(err)
		return Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	return d, nil
}

// ListDrafts returns the newest drafts first, without their HTML.
func (s *Store) ListDrafts(ctx context.Context, limit int) ([]Draft, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, req_id, topic, title, source, tier, created_at
FROM drafts
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	out := []Draft{}
	for rows.Next() {
		var d Draft
		if err := rows.Scan(&d.ID, &d.ReqID, &d.Topic, &d.Title, &d.Source, &d.Tier, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDraft loads a single draft including its HTML.
func (s *Store) GetDraft(ctx context.Context, id string) (Draft, error) {
	var d Draft
	err := s.DB.QueryRowContext(ctx, `
SELECT id, req_id, topic, title, source, tier, html, created_at
FROM drafts
WHERE id = $1`, id).Scan(&d.ID, &d.ReqID, &d.Topic, &d.Title, &d.Source, &d.Tier, &d.HTML, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("get draft: %w", err)
	}
	return d, nil
}
