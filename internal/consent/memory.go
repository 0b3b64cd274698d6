package consent

import (
	"context"
	"sync"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*Consent
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty consent store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]*Consent)}
}

func key(userID, clientID, organizationID string) string {
	return userID + "\x00" + clientID + "\x00" + organizationID
}

func (s *InMemory) Find(ctx context.Context, userID, clientID, organizationID string) (*Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[key(userID, clientID, organizationID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConsent(c), nil
}

func (s *InMemory) Save(ctx context.Context, c *Consent, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(c.UserID, c.ClientID, c.OrganizationID)
	existing, ok := s.records[k]
	if !ok {
		if expectedVersion != 0 {
			return ErrVersionConflict
		}
	} else if existing.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.records[k] = cloneConsent(c)
	return nil
}

func (s *InMemory) ListByUser(ctx context.Context, userID string) ([]Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Consent
	for _, c := range s.records {
		if c.UserID == userID {
			out = append(out, *cloneConsent(c))
		}
	}
	return out, nil
}

func cloneConsent(c *Consent) *Consent {
	cp := *c
	cp.GrantedScopes = append([]string(nil), c.GrantedScopes...)
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cp.ExpiresAt = &t
	}
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}
