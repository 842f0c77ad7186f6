// Package memstore provides an in-memory implementation of store.Store. It is
// used in tests and for single-process deployments without a database.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/lexicdys/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithContent seeds the catalogue.
func WithContent(items ...store.Content) Option {
	return func(s *Store) {
		for _, c := range items {
			s.seq++
			s.content[c.ID] = record[store.Content]{v: c, seq: s.seq}
		}
	}
}

type record[T any] struct {
	v   T
	seq uint64
}

// Store is a thread-safe in-memory store.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	seq      uint64
	content  map[string]record[store.Content]
	progress map[string][]record[store.Progress] // keyed by user
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		content:  make(map[string]record[store.Content]),
		progress: make(map[string][]record[store.Progress]),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// ListContent implements store.ContentStore.
func (s *Store) ListContent(_ context.Context, t store.ContentType) ([]store.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []record[store.Content]
	for _, r := range s.content {
		if r.v.Type == t {
			recs = append(recs, r)
		}
	}
	return newestFirst(recs, func(c store.Content) time.Time { return c.CreatedAt }), nil
}

// GetContent implements store.ContentStore.
func (s *Store) GetContent(_ context.Context, t store.ContentType, id string) (store.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.content[id]
	if !ok || r.v.Type != t {
		return store.Content{}, fmt.Errorf("memstore: get %s %q: %w", t, id, store.ErrNotFound)
	}
	return r.v, nil
}

// AddContent implements store.ContentStore.
func (s *Store) AddContent(_ context.Context, t store.ContentType, text string) (store.Content, error) {
	if !t.Valid() {
		return store.Content{}, fmt.Errorf("memstore: add: %w: unknown content type %q", store.ErrInvalid, t)
	}
	text, err := store.NormalizeText(text)
	if err != nil {
		return store.Content{}, fmt.Errorf("memstore: add: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := store.Content{ID: uuid.NewString(), Type: t, Text: text, CreatedAt: s.now()}
	s.seq++
	s.content[c.ID] = record[store.Content]{v: c, seq: s.seq}
	return c, nil
}

// UpdateContent implements store.ContentStore.
func (s *Store) UpdateContent(_ context.Context, t store.ContentType, id, text string) (store.Content, error) {
	text, err := store.NormalizeText(text)
	if err != nil {
		return store.Content{}, fmt.Errorf("memstore: update: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.content[id]
	if !ok || r.v.Type != t {
		return store.Content{}, fmt.Errorf("memstore: update %s %q: %w", t, id, store.ErrNotFound)
	}
	r.v.Text = text
	s.content[id] = r
	return r.v, nil
}

// DeleteContent implements store.ContentStore.
func (s *Store) DeleteContent(_ context.Context, t store.ContentType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.content[id]
	if !ok || r.v.Type != t {
		return fmt.Errorf("memstore: delete %s %q: %w", t, id, store.ErrNotFound)
	}
	delete(s.content, id)
	return nil
}

// AppendProgress implements store.ProgressStore.
func (s *Store) AppendProgress(_ context.Context, p store.Progress) (store.Progress, error) {
	if err := p.Validate(); err != nil {
		return store.Progress{}, fmt.Errorf("memstore: append progress: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = uuid.NewString()
	p.CreatedAt = s.now()
	s.seq++
	s.progress[p.UserID] = append(s.progress[p.UserID], record[store.Progress]{v: p, seq: s.seq})
	return p, nil
}

// ListProgress implements store.ProgressStore.
func (s *Store) ListProgress(_ context.Context, userID string) ([]store.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := slices.Clone(s.progress[userID])
	return newestFirst(recs, func(p store.Progress) time.Time { return p.CreatedAt }), nil
}

// newestFirst sorts by timestamp descending, breaking ties by reverse
// insertion order, and unwraps the records.
func newestFirst[T any](recs []record[T], at func(T) time.Time) []T {
	slices.SortFunc(recs, func(a, b record[T]) int {
		if c := at(b.v).Compare(at(a.v)); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	out := make([]T, len(recs))
	for i, r := range recs {
		out[i] = r.v
	}
	return out
}
