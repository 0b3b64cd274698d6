package consent

import (
	"errors"
	"time"
)

// Consent records a user's approval for a client to receive a scope set inside
// one organization. Natural key: (user_id, client_id, organization_id).
// Version increments on every write; stores reject stale writes.
type Consent struct {
	UserID         string     `json:"user_id"`
	ClientID       string     `json:"client_id"`
	OrganizationID string     `json:"organization_id"`
	GrantedScopes  []string   `json:"granted_scopes"`
	GrantedAt      time.Time  `json:"granted_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	Version        int64      `json:"version"`
}

// Active reports whether the record still authorizes anything at the given
// instant: not revoked and not expired.
func (c *Consent) Active(now time.Time) bool {
	if c.RevokedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// Decision is the outcome of a consent check.
type Decision struct {
	HasConsent      bool     `json:"has_consent"`
	GrantedScopes   []string `json:"granted_scopes,omitempty"`
	NeedsNewConsent bool     `json:"needs_new_consent"`
}

var (
	ErrInvalidInput    = errors.New("consent: invalid input")
	ErrNotFound        = errors.New("consent: not found")
	ErrVersionConflict = errors.New("consent: version conflict")
)
