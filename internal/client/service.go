// Package client implements the OAuth client registry: authoritative metadata
// about applications allowed to request authorization codes.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"grantor.org/internal/audit"
	"grantor.org/internal/ids"
	"grantor.org/internal/scope"
)

// Auditor records registry events on the audit ledger.
type Auditor interface {
	Append(ctx context.Context, entry audit.Entry) (audit.Event, error)
}

// Spec is the registration input.
type Spec struct {
	Type           Type
	Name           string
	Secret         string
	RedirectURIs   []string
	AllowedScopes  []string
	RequirePKCE    bool
	RequireConsent bool
	IsFirstParty   bool
	CreatedBy      string
}

// Service validates and manages client registrations.
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

// NewService constructs the registry service.
func NewService(store Store, auditor Auditor, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("client: store is required")
	}
	if auditor == nil {
		return nil, errors.New("client: auditor is required")
	}
	s := &Service{store: store, auditor: auditor, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register validates the spec, persists the client and audits the event.
// Returns the new client id.
func (s *Service) Register(ctx context.Context, spec Spec) (string, error) {
	c, secretDigest, err := s.validate(spec, false)
	if err != nil {
		return "", err
	}
	c.SecretDigest = secretDigest
	c.ID = ids.New()
	now := s.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.store.Create(ctx, c); err != nil {
		return "", err
	}

	_, err = s.auditor.Append(ctx, audit.Entry{
		Type:     audit.EventClientRegistered,
		ClientID: c.ID,
		UserID:   c.CreatedBy,
		Success:  true,
		Details: map[string]string{
			"type":           string(c.Type),
			"name":           c.Name,
			"allowed_scopes": scope.Join(c.AllowedScopes),
			"first_party":    fmt.Sprintf("%t", c.IsFirstParty),
		},
	})
	if err != nil {
		return "", fmt.Errorf("client: audit registration: %w", err)
	}
	return c.ID, nil
}

// Get returns the client by id. Soft-deleted clients report ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Client, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: client_id is required", ErrInvalidSpec)
	}
	c, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Deleted() {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns summaries of all active clients.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	return s.store.List(ctx)
}

// Update replaces the mutable fields of a registration. The same validation
// rules as registration apply; an empty secret keeps the stored digest.
func (s *Service) Update(ctx context.Context, id string, spec Spec) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	// An empty secret on update keeps the stored digest; rotation requires
	// an explicit new secret.
	keepSecret := spec.Type == TypeConfidential && strings.TrimSpace(spec.Secret) == ""
	updated, secretDigest, err := s.validate(spec, keepSecret)
	if err != nil {
		return err
	}
	if keepSecret {
		secretDigest = existing.SecretDigest
	}
	updated.ID = existing.ID
	updated.SecretDigest = secretDigest
	updated.CreatedAt = existing.CreatedAt
	updated.CreatedBy = existing.CreatedBy
	updated.UpdatedAt = s.now().UTC()

	if err := s.store.Update(ctx, updated); err != nil {
		return err
	}
	_, err = s.auditor.Append(ctx, audit.Entry{
		Type:     audit.EventClientUpdated,
		ClientID: updated.ID,
		Success:  true,
		Details:  map[string]string{"name": updated.Name},
	})
	return err
}

// Delete soft-deletes the client; issued codes keep referencing the row.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SoftDelete(ctx, c.ID); err != nil {
		return err
	}
	_, err = s.auditor.Append(ctx, audit.Entry{
		Type:     audit.EventClientDeleted,
		ClientID: c.ID,
		Success:  true,
	})
	return err
}

// VerifySecret checks a presented confidential client secret against the
// stored digest.
func (s *Service) VerifySecret(ctx context.Context, id, secret string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Type != TypeConfidential {
		return fmt.Errorf("%w: public clients have no secret", ErrInvalidSpec)
	}
	if bcrypt.CompareHashAndPassword([]byte(c.SecretDigest), []byte(secret)) != nil {
		return ErrSecretMismatch
	}
	return nil
}

// validate normalizes the spec and hashes the secret for confidential
// clients. keepSecret skips the secret requirement and the digest; the caller
// carries the stored digest forward.
func (s *Service) validate(spec Spec, keepSecret bool) (*Client, string, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}

	switch spec.Type {
	case TypePublic:
		if strings.TrimSpace(spec.Secret) != "" {
			return nil, "", fmt.Errorf("%w: public clients must not carry a secret", ErrInvalidSpec)
		}
		if !spec.RequirePKCE {
			return nil, "", fmt.Errorf("%w: public clients cannot disable PKCE", ErrInvalidSpec)
		}
	case TypeConfidential:
		if !keepSecret && strings.TrimSpace(spec.Secret) == "" {
			return nil, "", fmt.Errorf("%w: confidential clients require a secret", ErrInvalidSpec)
		}
	default:
		return nil, "", fmt.Errorf("%w: unsupported client type %q", ErrInvalidSpec, spec.Type)
	}

	uris := dedupeURIs(spec.RedirectURIs)
	if len(uris) == 0 {
		return nil, "", fmt.Errorf("%w: at least one redirect_uri is required", ErrInvalidSpec)
	}
	scopes := scope.Normalize(spec.AllowedScopes)
	if len(scopes) == 0 {
		return nil, "", fmt.Errorf("%w: at least one allowed scope is required", ErrInvalidSpec)
	}

	var digest string
	if spec.Type == TypeConfidential && !keepSecret {
		hashed, err := bcrypt.GenerateFromPassword([]byte(spec.Secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("client: hash secret: %w", err)
		}
		digest = string(hashed)
	}

	return &Client{
		Type:           spec.Type,
		Name:           name,
		RedirectURIs:   uris,
		AllowedScopes:  scopes,
		RequirePKCE:    spec.RequirePKCE,
		RequireConsent: spec.RequireConsent,
		IsFirstParty:   spec.IsFirstParty,
		CreatedBy:      strings.TrimSpace(spec.CreatedBy),
	}, digest, nil
}

func dedupeURIs(uris []string) []string {
	seen := make(map[string]struct{}, len(uris))
	var out []string
	for _, u := range uris {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
