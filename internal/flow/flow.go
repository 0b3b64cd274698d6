// Package flow wires the authorization-code issuer, the client registry and
// the token issuer into the two top-level operations the HTTP surface exposes:
// Authorize and Exchange.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"grantor.org/internal/authcode"
	"grantor.org/internal/client"
)

// ErrAccessDenied is the single user-facing failure for the authorize leg.
// The precise cause lands on the audit ledger, not on the wire.
var ErrAccessDenied = errors.New("flow: authorization request denied")

// ErrInvalidGrant is the user-facing failure for the exchange leg.
var ErrInvalidGrant = errors.New("flow: invalid grant")

// ErrClientAuth covers confidential clients presenting a bad secret.
var ErrClientAuth = errors.New("flow: client authentication failed")

// Codes mirrors the authcode service surface the flow depends on.
type Codes interface {
	Issue(ctx context.Context, req authcode.IssueRequest) (string, error)
	ValidateAndConsume(ctx context.Context, code, clientID, redirectURI string) (authcode.Grant, error)
	VerifyChallenge(verifier string, g authcode.Grant) error
	RecordPKCEFailure(ctx context.Context, clientID, userID, organizationID string) error
}

// Clients is the slice of the client registry the exchange leg needs.
type Clients interface {
	Get(ctx context.Context, id string) (*client.Client, error)
	VerifySecret(ctx context.Context, id, secret string) error
}

// TokenIssuer mints the final credential. Token format and signing live with
// the collaborator behind this interface.
type TokenIssuer interface {
	Mint(ctx context.Context, userID, clientID, organizationID string, scopes []string, nonce string) (Token, error)
}

// Token is whatever the issuer minted, plus enough metadata for the response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
	IDToken     string `json:"id_token,omitempty"`
}

// Service runs the two-legged flow.
type Service struct {
	codes   Codes
	clients Clients
	tokens  TokenIssuer
}

// NewService wires the flow.
func NewService(codes Codes, clients Clients, tokens TokenIssuer) (*Service, error) {
	if codes == nil || clients == nil || tokens == nil {
		return nil, errors.New("flow: codes, clients and tokens are required")
	}
	return &Service{codes: codes, clients: clients, tokens: tokens}, nil
}

// AuthorizeRequest is the authorize leg input. Identity fields come from the
// already-authenticated session, never from query parameters.
type AuthorizeRequest struct {
	ClientID            string
	UserID              string
	OrganizationID      string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod authcode.ChallengeMethod
	Nonce               string
}

// AuthorizeResult carries the code back to the redirect handler.
type AuthorizeResult struct {
	Code        string
	RedirectURI string
}

// Authorize issues a code or denies. Callers can distinguish the consent
// redirect case (ErrConsentRequired) from a terminal denial; everything else
// collapses into ErrAccessDenied so the response leaks nothing about why.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	code, err := s.codes.Issue(ctx, authcode.IssueRequest{
		ClientID:            req.ClientID,
		UserID:              req.UserID,
		OrganizationID:      req.OrganizationID,
		RedirectURI:         req.RedirectURI,
		RequestedScopes:     req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
	})
	switch {
	case err == nil:
		return AuthorizeResult{Code: code, RedirectURI: req.RedirectURI}, nil
	case errors.Is(err, authcode.ErrConsentRequired):
		return AuthorizeResult{}, err
	case errors.Is(err, authcode.ErrUnknownClient),
		errors.Is(err, authcode.ErrRedirectMismatch),
		errors.Is(err, authcode.ErrPKCERequired),
		errors.Is(err, authcode.ErrInsufficientScope):
		return AuthorizeResult{}, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	default:
		return AuthorizeResult{}, err
	}
}

// ExchangeRequest is the token leg input.
type ExchangeRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// Exchange redeems a code for a token. A failed PKCE check is terminal: the
// code is consumed and the client must restart the flow.
func (s *Service) Exchange(ctx context.Context, req ExchangeRequest) (Token, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)

	cl, err := s.clients.Get(ctx, req.ClientID)
	if errors.Is(err, client.ErrNotFound) {
		return Token{}, fmt.Errorf("%w: unknown client", ErrClientAuth)
	}
	if err != nil {
		return Token{}, err
	}
	if cl.Type == client.TypeConfidential {
		if err := s.clients.VerifySecret(ctx, cl.ID, req.ClientSecret); err != nil {
			if errors.Is(err, client.ErrSecretMismatch) {
				return Token{}, fmt.Errorf("%w: secret mismatch", ErrClientAuth)
			}
			return Token{}, err
		}
	}

	grant, err := s.codes.ValidateAndConsume(ctx, req.Code, cl.ID, req.RedirectURI)
	switch {
	case err == nil:
	case errors.Is(err, authcode.ErrCodeExpiredOrInvalid),
		errors.Is(err, authcode.ErrCodeReplayed),
		errors.Is(err, authcode.ErrRedirectMismatch):
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	default:
		return Token{}, err
	}

	if err := s.codes.VerifyChallenge(req.CodeVerifier, grant); err != nil {
		if auditErr := s.codes.RecordPKCEFailure(ctx, cl.ID, grant.UserID, grant.OrganizationID); auditErr != nil {
			return Token{}, auditErr
		}
		return Token{}, fmt.Errorf("%w: pkce verification failed", ErrInvalidGrant)
	}

	tok, err := s.tokens.Mint(ctx, grant.UserID, cl.ID, grant.OrganizationID, grant.Scopes, grant.Nonce)
	if err != nil {
		return Token{}, fmt.Errorf("flow: mint token: %w", err)
	}
	return tok, nil
}
