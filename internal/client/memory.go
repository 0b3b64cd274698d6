package client

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty registry store.
func NewInMemory() *InMemory {
	return &InMemory{clients: make(map[string]*Client)}
}

func (s *InMemory) Create(ctx context.Context, c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ID]; ok {
		return ErrAlreadyExists
	}
	cp := cloneClient(c)
	s.clients[c.ID] = cp
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneClient(c), nil
}

func (s *InMemory) List(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Summary
	for _, c := range s.clients {
		if c.Deleted() {
			continue
		}
		out = append(out, Summary{
			ID:           c.ID,
			Type:         c.Type,
			Name:         c.Name,
			IsFirstParty: c.IsFirstParty,
			CreatedAt:    c.CreatedAt,
		})
	}
	return out, nil
}

func (s *InMemory) Update(ctx context.Context, c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ID]; !ok {
		return ErrNotFound
	}
	s.clients[c.ID] = cloneClient(c)
	return nil
}

func (s *InMemory) SoftDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	return nil
}

func cloneClient(c *Client) *Client {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.AllowedScopes = append([]string(nil), c.AllowedScopes...)
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}
