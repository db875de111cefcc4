package store

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore implements Store without a database, for tests and local
// development.
type InMemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Post
	posts []*Post
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]*Post)}
}

// Append implements Store.
func (s *InMemoryStore) Append(ctx context.Context, post *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[post.ID]; exists {
		return ErrDuplicateID
	}

	stored := *post
	s.byID[stored.ID] = &stored
	s.posts = append(s.posts, &stored)
	// keep ascending creation order; ties keep insertion order
	sort.SliceStable(s.posts, func(i, j int) bool {
		return s.posts[i].CreatedAt.Before(s.posts[j].CreatedAt)
	})
	return nil
}

// List implements Store.
func (s *InMemoryStore) List(ctx context.Context, q ListQuery) (*Page, error) {
	q = q.normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*Post
	for _, p := range s.posts {
		if p.BoardID != q.BoardID {
			continue
		}
		if q.PseudoID != "" && p.PseudoID != q.PseudoID {
			continue
		}
		if !q.After.IsZero() && !p.CreatedAt.After(q.After) {
			continue
		}
		copied := *p
		items = append(items, &copied)
		if len(items) == q.Limit {
			break
		}
	}
	return pageOf(items), nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error { return nil }
