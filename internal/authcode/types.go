package authcode

import (
	"errors"
	"time"
)

// ChallengeMethod is the PKCE transformation binding issuance to redemption.
type ChallengeMethod string

const (
	MethodS256  ChallengeMethod = "S256"
	MethodPlain ChallengeMethod = "plain"
)

// Code is a short-lived, single-use credential minted for one client and one
// user. The issuer is the only writer; the validator flips Used exactly once.
type Code struct {
	Code                string          `json:"-"`
	ClientID            string          `json:"client_id"`
	UserID              string          `json:"user_id"`
	OrganizationID      string          `json:"organization_id,omitempty"`
	RedirectURI         string          `json:"redirect_uri"`
	Scopes              []string        `json:"scopes"`
	CodeChallenge       string          `json:"code_challenge"`
	CodeChallengeMethod ChallengeMethod `json:"code_challenge_method"`
	Nonce               string          `json:"nonce,omitempty"`
	Used                bool            `json:"used"`
	UsedAt              *time.Time      `json:"used_at,omitempty"`
	ExpiresAt           time.Time       `json:"expires_at"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Grant is the validated result handed to the Token Issuer collaborator after
// the caller's PKCE check passes.
type Grant struct {
	UserID              string          `json:"user_id"`
	OrganizationID      string          `json:"organization_id,omitempty"`
	Scopes              []string        `json:"scopes"`
	CodeChallenge       string          `json:"-"`
	CodeChallengeMethod ChallengeMethod `json:"-"`
	Nonce               string          `json:"nonce,omitempty"`
}

var (
	ErrUnknownClient        = errors.New("authcode: unknown client")
	ErrRedirectMismatch     = errors.New("authcode: redirect_uri mismatch")
	ErrPKCERequired         = errors.New("authcode: pkce challenge required")
	ErrPKCEFailed           = errors.New("authcode: pkce verification failed")
	ErrInsufficientScope    = errors.New("authcode: no grantable scopes")
	ErrConsentRequired      = errors.New("authcode: consent required")
	ErrCodeExpiredOrInvalid = errors.New("authcode: code expired or invalid")
	ErrCodeReplayed         = errors.New("authcode: code already consumed")
)
