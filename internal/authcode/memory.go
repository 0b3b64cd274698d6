package authcode

import (
	"context"
	"sync"
	"time"
)

// InMemory keeps codes in a map guarded by a mutex. Consume holds the lock
// for its whole check-and-mark, so concurrent redemptions serialize and only
// one wins.
type InMemory struct {
	mu    sync.Mutex
	codes map[string]*Code
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{codes: make(map[string]*Code)}
}

func (m *InMemory) Create(_ context.Context, c *Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneCode(c)
	m.codes[c.Code] = cp
	return nil
}

func (m *InMemory) Consume(_ context.Context, code, clientID, redirectURI string, now time.Time) (*Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.codes[code]
	if !ok || row.ClientID != clientID {
		return nil, ErrCodeExpiredOrInvalid
	}
	if row.Used {
		return nil, ErrCodeReplayed
	}
	if !now.Before(row.ExpiresAt) {
		return nil, ErrCodeExpiredOrInvalid
	}
	if row.RedirectURI != redirectURI {
		return cloneCode(row), ErrRedirectMismatch
	}
	usedAt := now
	row.Used = true
	row.UsedAt = &usedAt
	return cloneCode(row), nil
}

func (m *InMemory) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, row := range m.codes {
		if row.ExpiresAt.Before(cutoff) {
			delete(m.codes, k)
			n++
		}
	}
	return n, nil
}

func cloneCode(c *Code) *Code {
	cp := *c
	cp.Scopes = append([]string(nil), c.Scopes...)
	if c.UsedAt != nil {
		t := *c.UsedAt
		cp.UsedAt = &t
	}
	return &cp
}
