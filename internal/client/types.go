package client

import (
	"errors"
	"time"
)

// Type distinguishes confidential clients (hold a secret) from public ones
// (browser/native apps that cannot keep one).
type Type string

const (
	TypePublic       Type = "public"
	TypeConfidential Type = "confidential"
)

// Client is the authoritative registration record for an OAuth application.
type Client struct {
	ID             string     `json:"client_id"`
	Type           Type       `json:"type"`
	Name           string     `json:"name"`
	SecretDigest   string     `json:"-"`
	RedirectURIs   []string   `json:"redirect_uris"`
	AllowedScopes  []string   `json:"allowed_scopes"`
	RequirePKCE    bool       `json:"require_pkce"`
	RequireConsent bool       `json:"require_consent"`
	IsFirstParty   bool       `json:"is_first_party"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the client has been soft-deleted.
func (c *Client) Deleted() bool {
	return c.DeletedAt != nil
}

// HasRedirectURI checks the registered set by exact string match. No
// normalization, no wildcards.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// Summary is the listing view without secret material.
type Summary struct {
	ID           string    `json:"client_id"`
	Type         Type      `json:"type"`
	Name         string    `json:"name"`
	IsFirstParty bool      `json:"is_first_party"`
	CreatedAt    time.Time `json:"created_at"`
}

var (
	ErrInvalidSpec    = errors.New("client: invalid client spec")
	ErrNotFound       = errors.New("client: not found")
	ErrAlreadyExists  = errors.New("client: already exists")
	ErrSecretMismatch = errors.New("client: secret mismatch")
)
