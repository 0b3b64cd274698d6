// Package consent tracks which scope sets a user has approved for a client.
// Checks are incremental: any request beyond the approved set forces a fresh
// prompt, even when previously granted scopes remain valid.
package consent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"grantor.org/internal/audit"
	"grantor.org/internal/scope"
)

// Auditor records consent events on the audit ledger.
type Auditor interface {
	Append(ctx context.Context, entry audit.Entry) (audit.Event, error)
}

// Service implements consent checks and the reactivating upsert.
type Service struct {
	store   Store
	auditor Auditor
	now     func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the consent service.
func NewService(store Store, auditor Auditor, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("consent: store is required")
	}
	if auditor == nil {
		return nil, errors.New("consent: auditor is required")
	}
	s := &Service{store: store, auditor: auditor, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Check evaluates whether active consent covers the requested scopes. Absent
// or inactive records require a fresh prompt; so does any requested scope
// outside the approved set.
func (s *Service) Check(ctx context.Context, userID, clientID, organizationID string, requested []string) (Decision, error) {
	if err := validateKey(userID, clientID, organizationID); err != nil {
		return Decision{}, err
	}
	requested = scope.Normalize(requested)

	record, err := s.store.Find(ctx, userID, clientID, organizationID)
	if errors.Is(err, ErrNotFound) {
		return Decision{NeedsNewConsent: true}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	if !record.Active(s.now().UTC()) {
		return Decision{NeedsNewConsent: true}, nil
	}

	covered := scope.Subset(requested, record.GrantedScopes)
	return Decision{
		HasConsent:      covered,
		GrantedScopes:   record.GrantedScopes,
		NeedsNewConsent: !covered,
	}, nil
}

// Save records approval. Granting again overwrites the scope set, resets
// granted_at and clears any revocation. Lost-update races between revoke and
// re-grant are resolved by the store's version check; a single retry reloads
// and reapplies on conflict.
func (s *Service) Save(ctx context.Context, userID, clientID, organizationID string, granted []string, expiresAt *time.Time) error {
	if err := validateKey(userID, clientID, organizationID); err != nil {
		return err
	}
	granted = scope.Normalize(granted)
	if len(granted) == 0 {
		return fmt.Errorf("%w: granted scopes must be non-empty", ErrInvalidInput)
	}

	for attempt := 0; ; attempt++ {
		var version int64
		existing, err := s.store.Find(ctx, userID, clientID, organizationID)
		switch {
		case errors.Is(err, ErrNotFound):
			version = 0
		case err != nil:
			return err
		default:
			version = existing.Version
		}

		record := &Consent{
			UserID:         userID,
			ClientID:       clientID,
			OrganizationID: organizationID,
			GrantedScopes:  granted,
			GrantedAt:      s.now().UTC(),
			ExpiresAt:      expiresAt,
			RevokedAt:      nil,
			Version:        version + 1,
		}
		err = s.store.Save(ctx, record, version)
		if errors.Is(err, ErrVersionConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return err
		}
		break
	}

	_, err := s.auditor.Append(ctx, audit.Entry{
		Type:           audit.EventConsentGranted,
		UserID:         userID,
		ClientID:       clientID,
		OrganizationID: organizationID,
		GrantedScopes:  granted,
		Success:        true,
	})
	return err
}

// Revoke marks an active record revoked. Returns false without error when no
// active record exists (already revoked, expired, or never granted).
func (s *Service) Revoke(ctx context.Context, userID, clientID, organizationID string) (bool, error) {
	if err := validateKey(userID, clientID, organizationID); err != nil {
		return false, err
	}

	for attempt := 0; ; attempt++ {
		existing, err := s.store.Find(ctx, userID, clientID, organizationID)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		now := s.now().UTC()
		if !existing.Active(now) {
			return false, nil
		}

		updated := *existing
		updated.RevokedAt = &now
		updated.Version = existing.Version + 1
		err = s.store.Save(ctx, &updated, existing.Version)
		if errors.Is(err, ErrVersionConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return false, err
		}
		break
	}

	_, err := s.auditor.Append(ctx, audit.Entry{
		Type:           audit.EventConsentRevoked,
		UserID:         userID,
		ClientID:       clientID,
		OrganizationID: organizationID,
		Success:        true,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListByUser exposes a user's consent records for account surfaces.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Consent, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.ListByUser(ctx, userID)
}

func validateKey(userID, clientID, organizationID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(clientID) == "" || strings.TrimSpace(organizationID) == "" {
		return fmt.Errorf("%w: user_id, client_id and organization_id are required", ErrInvalidInput)
	}
	return nil
}
