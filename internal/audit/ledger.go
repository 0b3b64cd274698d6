// Package audit maintains the tamper-evident security event ledger. Every
// event's hash covers the previous event's hash plus a canonical serialization
// of its own fields, so retroactive edits or deletions are detectable by
// recomputing the chain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"grantor.org/internal/ids"
	"grantor.org/internal/scope"
)

// genesisSeed is the fixed prev_hash of the very first event in the chain.
const genesisSeed = "grantor-audit-chain-v1"

// GenesisHash returns the seed hash used as prev_hash for sequence 1.
func GenesisHash() string {
	sum := sha256.Sum256([]byte(genesisSeed))
	return hex.EncodeToString(sum[:])
}

// Store persists the chain. Append must enforce a unique constraint on Seq so
// two writers racing on the same sequence number cannot both commit; the loser
// gets ErrSequenceConflict.
type Store interface {
	Append(ctx context.Context, e *Event) error
	Last(ctx context.Context) (*Event, error)
	List(ctx context.Context, sinceSeq uint64, limit int) ([]Event, error)
}

// Ledger serializes appends so every event is assigned exactly one prev_hash.
// The chain is global, ordered by insertion.
type Ledger struct {
	store Store
	now   func() time.Time

	mu       sync.Mutex
	lastSeq  uint64
	lastHash string
	primed   bool
}

// Option configures the ledger.
type Option func(*Ledger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs a Ledger over the given store.
func NewLedger(store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append writes one event to the chain and returns the stored record. The
// write is serialized: concurrent callers are ordered by the ledger mutex, and
// a stale cached head (another process appended) is healed by reloading the
// store head and retrying once.
func (l *Ledger) Append(ctx context.Context, entry Entry) (Event, error) {
	if !Known(entry.Type) {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownType, entry.Type)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if !l.primed {
			if err := l.loadHeadLocked(ctx); err != nil {
				return Event{}, err
			}
		}

		event := Event{
			ID:              ids.New(),
			Seq:             l.lastSeq + 1,
			Type:            entry.Type,
			UserID:          entry.UserID,
			ClientID:        entry.ClientID,
			OrganizationID:  entry.OrganizationID,
			RequestedScopes: scope.Normalize(entry.RequestedScopes),
			GrantedScopes:   scope.Normalize(entry.GrantedScopes),
			Details:         copyDetails(entry.Details),
			Success:         entry.Success,
			ErrorMessage:    entry.ErrorMessage,
			// timestamptz keeps microseconds; hash over what the store
			// will give back.
			Timestamp: l.now().UTC().Truncate(time.Microsecond),
			PrevHash:  l.lastHash,
		}
		event.Hash = chainHash(event.PrevHash, &event)

		err := l.store.Append(ctx, &event)
		if err == nil {
			l.lastSeq = event.Seq
			l.lastHash = event.Hash
			return event, nil
		}
		if errors.Is(err, ErrSequenceConflict) && attempt == 0 {
			l.primed = false
			continue
		}
		return Event{}, err
	}
}

// Verify recomputes the chain from the oldest retained event with
// Seq >= sinceSeq and reports whether every stored hash matches. Read-only;
// events appended after the scan started are simply not inspected.
func (l *Ledger) Verify(ctx context.Context, sinceSeq uint64) (bool, error) {
	const page = 256

	prev := ""
	expectSeq := uint64(0)
	cursor := sinceSeq

	for {
		events, err := l.store.List(ctx, cursor, page)
		if err != nil {
			return false, err
		}
		if len(events) == 0 {
			return true, nil
		}
		for i := range events {
			e := &events[i]
			if prev == "" {
				// First inspected event anchors the chain: its own prev_hash
				// is trusted since older events may already be purged. A full
				// scan from sequence 1 still pins it to the genesis seed.
				if e.Seq == 1 && e.PrevHash != GenesisHash() {
					return false, nil
				}
				prev = e.PrevHash
				expectSeq = e.Seq
			}
			if e.Seq != expectSeq {
				return false, nil
			}
			if e.PrevHash != prev {
				return false, nil
			}
			if chainHash(e.PrevHash, e) != e.Hash {
				return false, nil
			}
			prev = e.Hash
			expectSeq++
		}
		if len(events) < page {
			return true, nil
		}
		cursor = events[len(events)-1].Seq + 1
	}
}

// List exposes retained events for operator inspection.
func (l *Ledger) List(ctx context.Context, sinceSeq uint64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return l.store.List(ctx, sinceSeq, limit)
}

func (l *Ledger) loadHeadLocked(ctx context.Context) error {
	last, err := l.store.Last(ctx)
	if err != nil {
		return err
	}
	if last == nil {
		l.lastSeq = 0
		l.lastHash = GenesisHash()
	} else {
		l.lastSeq = last.Seq
		l.lastHash = last.Hash
	}
	l.primed = true
	return nil
}

// canonicalEvent fixes the field order and shapes fed into the digest. Chain
// hashes themselves are excluded; prev_hash enters the digest as a prefix.
type canonicalEvent struct {
	ID              string            `json:"id"`
	Seq             uint64            `json:"seq"`
	Type            EventType         `json:"event_type"`
	UserID          string            `json:"user_id"`
	ClientID        string            `json:"client_id"`
	OrganizationID  string            `json:"organization_id"`
	RequestedScopes []string          `json:"requested_scopes"`
	GrantedScopes   []string          `json:"granted_scopes"`
	Details         map[string]string `json:"details"`
	Success         bool              `json:"success"`
	ErrorMessage    string            `json:"error_message"`
	Timestamp       string            `json:"timestamp"`
}

func chainHash(prevHash string, e *Event) string {
	canon := canonicalEvent{
		ID:              e.ID,
		Seq:             e.Seq,
		Type:            e.Type,
		UserID:          e.UserID,
		ClientID:        e.ClientID,
		OrganizationID:  e.OrganizationID,
		RequestedScopes: e.RequestedScopes,
		GrantedScopes:   e.GrantedScopes,
		Details:         e.Details,
		Success:         e.Success,
		ErrorMessage:    e.ErrorMessage,
		Timestamp:       e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	// encoding/json sorts map keys, so Details serializes deterministically.
	payload, _ := json.Marshal(canon)

	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func copyDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]string, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
