// Package postgres provides a PostgreSQL-backed implementation of store.Store
// using a single [pgxpool.Pool].
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//	words, _ := s.ListContent(ctx, store.ContentWord)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lexicdys/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL content catalogue and progress log. All methods
// are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ListContent implements store.ContentStore.
func (s *Store) ListContent(ctx context.Context, t store.ContentType) ([]store.Content, error) {
	const q = `
		SELECT id, type, text, created_at
		FROM   content
		WHERE  type = $1
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, string(t))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list content: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanContent)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list content: %w", err)
	}
	return items, nil
}

// GetContent implements store.ContentStore.
func (s *Store) GetContent(ctx context.Context, t store.ContentType, id string) (store.Content, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return store.Content{}, fmt.Errorf("postgres store: get content %q: %w", id, store.ErrNotFound)
	}
	const q = `SELECT id, type, text, created_at FROM content WHERE id = $1 AND type = $2`

	rows, err := s.pool.Query(ctx, q, uid, string(t))
	if err != nil {
		return store.Content{}, fmt.Errorf("postgres store: get content: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanContent)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Content{}, fmt.Errorf("postgres store: get content %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Content{}, fmt.Errorf("postgres store: get content: %w", err)
	}
	return c, nil
}

// AddContent implements store.ContentStore.
func (s *Store) AddContent(ctx context.Context, t store.ContentType, text string) (store.Content, error) {
	if !t.Valid() {
		return store.Content{}, fmt.Errorf("postgres store: add content: %w: unknown content type %q", store.ErrInvalid, t)
	}
	text, err := store.NormalizeText(text)
	if err != nil {
		return store.Content{}, fmt.Errorf("postgres store: add content: %w", err)
	}

	const q = `
		INSERT INTO content (id, type, text)
		VALUES ($1, $2, $3)
		RETURNING id, type, text, created_at`

	rows, err := s.pool.Query(ctx, q, uuid.New(), string(t), text)
	if err != nil {
		return store.Content{}, fmt.Errorf("postgres store: add content: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanContent)
	if err != nil {
		return store.Content{}, fmt.Errorf("postgres store: add content: %w", err)
	}
	return c, nil
}

// UpdateContent implements store.ContentStore.
func (s *Store) UpdateContent(ctx context.Context, t store.ContentType, id, text string) (store.Content, error) {
	text, err := store.NormalizeText(text)
	if err != nil {
		return store.Content{}, fmt.Errorf("postgres store: update content: %w", err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return store.Content{}, fmt.Errorf("postgres store: update content %q: %w", id, store.ErrNotFound)
	}

	const q = `
		UPDATE content SET text = $3
		WHERE  id = $1 AND type = $2
		RETURNING id, type, text, created_at`

	rows, err := s.pool.Query(ctx, q, uid, string(t), text)
	if err != nil {
		return store.Content{}, fmt.Errorf("postgres store: update content: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanContent)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Content{}, fmt.Errorf("postgres store: update content %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Content{}, fmt.Errorf("postgres store: update content: %w", err)
	}
	return c, nil
}

// DeleteContent implements store.ContentStore.
func (s *Store) DeleteContent(ctx context.Context, t store.ContentType, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("postgres store: delete content %q: %w", id, store.ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM content WHERE id = $1 AND type = $2`, uid, string(t))
	if err != nil {
		return fmt.Errorf("postgres store: delete content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: delete content %q: %w", id, store.ErrNotFound)
	}
	return nil
}

// AppendProgress implements store.ProgressStore.
func (s *Store) AppendProgress(ctx context.Context, p store.Progress) (store.Progress, error) {
	if err := p.Validate(); err != nil {
		return store.Progress{}, fmt.Errorf("postgres store: append progress: %w", err)
	}

	const q = `
		INSERT INTO progress (id, user_id, content_id, content_type, accuracy)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, content_id, content_type, accuracy, created_at`

	rows, err := s.pool.Query(ctx, q, uuid.New(), p.UserID, p.ContentID, string(p.ContentType), p.Accuracy)
	if err != nil {
		return store.Progress{}, fmt.Errorf("postgres store: append progress: %w", err)
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanProgress)
	if err != nil {
		return store.Progress{}, fmt.Errorf("postgres store: append progress: %w", err)
	}
	return out, nil
}

// ListProgress implements store.ProgressStore.
func (s *Store) ListProgress(ctx context.Context, userID string) ([]store.Progress, error) {
	const q = `
		SELECT id, user_id, content_id, content_type, accuracy, created_at
		FROM   progress
		WHERE  user_id = $1
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list progress: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanProgress)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list progress: %w", err)
	}
	return items, nil
}

func scanContent(row pgx.CollectableRow) (store.Content, error) {
	var (
		c   store.Content
		id  uuid.UUID
		typ string
	)
	if err := row.Scan(&id, &typ, &c.Text, &c.CreatedAt); err != nil {
		return store.Content{}, err
	}
	c.ID = id.String()
	c.Type = store.ContentType(typ)
	return c, nil
}

func scanProgress(row pgx.CollectableRow) (store.Progress, error) {
	var (
		p   store.Progress
		id  uuid.UUID
		typ string
		acc int16
	)
	if err := row.Scan(&id, &p.UserID, &p.ContentID, &typ, &acc, &p.CreatedAt); err != nil {
		return store.Progress{}, err
	}
	p.ID = id.String()
	p.ContentType = store.ContentType(typ)
	p.Accuracy = int(acc)
	return p, nil
}
