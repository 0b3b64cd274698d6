package audit

import (
	"context"
	"sync"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	events []Event
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty audit store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.events); n > 0 && s.events[n-1].Seq >= e.Seq {
		return ErrSequenceConflict
	}
	s.events = append(s.events, *e)
	return nil
}

func (s *InMemory) Last(ctx context.Context) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil, nil
	}
	e := s.events[len(s.events)-1]
	return &e, nil
}

func (s *InMemory) List(ctx context.Context, sinceSeq uint64, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.Seq < sinceSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Tamper overwrites a stored event in place. Only for tests exercising chain
// verification; the real stores never expose mutation.
func (s *InMemory) Tamper(seq uint64, mutate func(*Event)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].Seq == seq {
			mutate(&s.events[i])
			return true
		}
	}
	return false
}
