// Package authcode implements the authorization code state machine: minting
// short-lived single-use codes bound to a PKCE challenge and a negotiated
// scope set, and atomically consuming them exactly once.
package authcode

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"grantor.org/internal/audit"
	"grantor.org/internal/client"
	"grantor.org/internal/consent"
	"grantor.org/internal/obs"
	"grantor.org/internal/scope"
)

const (
	defaultCodeTTL   = 60 * time.Second
	defaultRetention = time.Hour
	codeEntropyBytes = 32
)

// ClientDirectory looks up active client registrations.
type ClientDirectory interface {
	Get(ctx context.Context, id string) (*client.Client, error)
}

// ScopeResolver reports which scopes RBAC allows for a user in an org.
type ScopeResolver interface {
	GrantableScopes(ctx context.Context, userID, organizationID string) ([]string, error)
}

// ConsentChecker decides whether recorded consent covers a request.
type ConsentChecker interface {
	Check(ctx context.Context, userID, clientID, organizationID string, requested []string) (consent.Decision, error)
}

// Auditor records issuance and consumption events.
type Auditor interface {
	Append(ctx context.Context, entry audit.Entry) (audit.Event, error)
}

// Service is the issuer/validator.
type Service struct {
	store      Store
	clients    ClientDirectory
	resolver   ScopeResolver
	consents   ConsentChecker
	auditor    Auditor
	now        func() time.Time
	ttl        time.Duration
	retention  time.Duration
	allowPlain bool
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

// WithCodeTTL overrides the 60-second default code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRetention overrides how long consumed and expired codes are kept for
// audit before purge.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithAllowPlainPKCE accepts the "plain" challenge method. Off by default:
// plain offers no interception protection and exists only for legacy clients.
func WithAllowPlainPKCE(allow bool) Option {
	return func(s *Service) {
		s.allowPlain = allow
	}
}

// NewService constructs the issuer/validator.
func NewService(store Store, clients ClientDirectory, resolver ScopeResolver, consents ConsentChecker, auditor Auditor, opts ...Option) (*Service, error) {
	if store == nil || clients == nil || resolver == nil || consents == nil || auditor == nil {
		return nil, errors.New("authcode: store, clients, resolver, consents and auditor are required")
	}
	s := &Service{
		store:     store,
		clients:   clients,
		resolver:  resolver,
		consents:  consents,
		auditor:   auditor,
		now:       time.Now,
		ttl:       defaultCodeTTL,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueRequest carries the parameters of an authorization request whose user
// identity was already established by the identity collaborator.
type IssueRequest struct {
	ClientID            string
	UserID              string
	OrganizationID      string
	RedirectURI         string
	RequestedScopes     []string
	CodeChallenge       string
	CodeChallengeMethod ChallengeMethod
	Nonce               string
}

// Issue negotiates scopes, enforces the consent gate and mints a code. The
// returned string is the opaque code handed to the client via redirect.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (string, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.ClientID == "" || req.UserID == "" {
		return "", fmt.Errorf("%w: client and user are required", ErrUnknownClient)
	}

	cl, err := s.clients.Get(ctx, req.ClientID)
	if errors.Is(err, client.ErrNotFound) {
		obs.AuthorizeDenied("unknown_client")
		return "", ErrUnknownClient
	}
	if err != nil {
		return "", err
	}

	if !cl.HasRedirectURI(req.RedirectURI) {
		obs.AuthorizeDenied("redirect_mismatch")
		if auditErr := s.auditFailure(ctx, audit.Entry{
			Type:           audit.EventRedirectURIMismatch,
			UserID:         req.UserID,
			ClientID:       cl.ID,
			OrganizationID: req.OrganizationID,
			ErrorMessage:   "redirect_uri not registered",
			Details: map[string]string{
				"received": req.RedirectURI,
			},
		}); auditErr != nil {
			return "", auditErr
		}
		return "", ErrRedirectMismatch
	}

	if err := s.checkChallenge(cl, req); err != nil {
		obs.AuthorizeDenied("pkce")
		return "", err
	}

	requested := scope.Normalize(req.RequestedScopes)
	rbacScopes, err := s.resolver.GrantableScopes(ctx, req.UserID, req.OrganizationID)
	if err != nil {
		return "", err
	}
	grantable := scope.Intersect(scope.Intersect(requested, cl.AllowedScopes), rbacScopes)
	if len(grantable) == 0 {
		obs.AuthorizeDenied("insufficient_scope")
		if auditErr := s.auditFailure(ctx, audit.Entry{
			Type:            audit.EventInsufficientScope,
			UserID:          req.UserID,
			ClientID:        cl.ID,
			OrganizationID:  req.OrganizationID,
			RequestedScopes: requested,
			ErrorMessage:    "no grantable scopes",
		}); auditErr != nil {
			return "", auditErr
		}
		return "", ErrInsufficientScope
	}

	if cl.RequireConsent && !cl.IsFirstParty {
		decision, err := s.consents.Check(ctx, req.UserID, cl.ID, req.OrganizationID, grantable)
		if err != nil {
			return "", err
		}
		if decision.NeedsNewConsent {
			obs.AuthorizeDenied("consent_required")
			if auditErr := s.auditFailure(ctx, audit.Entry{
				Type:            audit.EventConsentRequired,
				UserID:          req.UserID,
				ClientID:        cl.ID,
				OrganizationID:  req.OrganizationID,
				RequestedScopes: requested,
				GrantedScopes:   grantable,
				ErrorMessage:    "active consent does not cover grantable scopes",
			}); auditErr != nil {
				return "", auditErr
			}
			return "", ErrConsentRequired
		}
	}

	opaque, err := newOpaqueCode()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	code := &Code{
		Code:                opaque,
		ClientID:            cl.ID,
		UserID:              req.UserID,
		OrganizationID:      req.OrganizationID,
		RedirectURI:         req.RedirectURI,
		Scopes:              grantable,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		ExpiresAt:           now.Add(s.ttl),
		CreatedAt:           now,
	}
	if err := s.store.Create(ctx, code); err != nil {
		return "", err
	}

	details := map[string]string{"redirect_uri": req.RedirectURI}
	if cl.IsFirstParty {
		details["consent_bypassed"] = "first_party"
	}
	if _, err := s.auditor.Append(ctx, audit.Entry{
		Type:            audit.EventAuthorizationGranted,
		UserID:          req.UserID,
		ClientID:        cl.ID,
		OrganizationID:  req.OrganizationID,
		RequestedScopes: requested,
		GrantedScopes:   grantable,
		Details:         details,
		Success:         true,
	}); err != nil {
		return "", err
	}
	obs.CodeIssued()
	return opaque, nil
}

// ValidateAndConsume atomically marks the code used and returns the grant for
// PKCE verification and token minting. Every negative outcome lands on the
// audit ledger before the error is returned.
func (s *Service) ValidateAndConsume(ctx context.Context, code, clientID, redirectURI string) (Grant, error) {
	code = strings.TrimSpace(code)
	clientID = strings.TrimSpace(clientID)
	now := s.now().UTC()

	row, err := s.store.Consume(ctx, code, clientID, redirectURI, now)
	switch {
	case errors.Is(err, ErrCodeReplayed):
		obs.ExchangeFailed("replay")
		if auditErr := s.auditFailure(ctx, audit.Entry{
			Type:         audit.EventCodeReplayAttempt,
			ClientID:     clientID,
			ErrorMessage: "authorization code already consumed",
		}); auditErr != nil {
			return Grant{}, auditErr
		}
		return Grant{}, ErrCodeReplayed
	case errors.Is(err, ErrCodeExpiredOrInvalid):
		obs.ExchangeFailed("expired_or_invalid")
		if auditErr := s.auditFailure(ctx, audit.Entry{
			Type:         audit.EventCodeExpired,
			ClientID:     clientID,
			ErrorMessage: "authorization code expired or unknown",
		}); auditErr != nil {
			return Grant{}, auditErr
		}
		return Grant{}, ErrCodeExpiredOrInvalid
	case errors.Is(err, ErrRedirectMismatch):
		obs.ExchangeFailed("redirect_mismatch")
		entry := audit.Entry{
			Type:         audit.EventRedirectURIMismatch,
			ClientID:     clientID,
			ErrorMessage: "redirect_uri does not match issuance",
			Details:      map[string]string{"received": redirectURI},
		}
		if row != nil {
			entry.UserID = row.UserID
			entry.OrganizationID = row.OrganizationID
			entry.Details["expected"] = row.RedirectURI
		}
		if auditErr := s.auditFailure(ctx, entry); auditErr != nil {
			return Grant{}, auditErr
		}
		return Grant{}, ErrRedirectMismatch
	case err != nil:
		return Grant{}, err
	}

	if _, err := s.auditor.Append(ctx, audit.Entry{
		Type:           audit.EventCodeExchanged,
		UserID:         row.UserID,
		ClientID:       row.ClientID,
		OrganizationID: row.OrganizationID,
		GrantedScopes:  row.Scopes,
		Success:        true,
	}); err != nil {
		return Grant{}, err
	}
	obs.CodeConsumed()

	return Grant{
		UserID:              row.UserID,
		OrganizationID:      row.OrganizationID,
		Scopes:              row.Scopes,
		CodeChallenge:       row.CodeChallenge,
		CodeChallengeMethod: row.CodeChallengeMethod,
		Nonce:               row.Nonce,
	}, nil
}

// RecordPKCEFailure audits a caller-side verifier mismatch. The code is
// already consumed at this point; the client must restart the flow.
func (s *Service) RecordPKCEFailure(ctx context.Context, clientID, userID, organizationID string) error {
	obs.ExchangeFailed("pkce")
	return s.auditFailure(ctx, audit.Entry{
		Type:           audit.EventPKCEFailed,
		ClientID:       clientID,
		UserID:         userID,
		OrganizationID: organizationID,
		ErrorMessage:   "code_verifier does not match challenge",
	})
}

// VerifyChallenge checks the verifier against a grant, honoring the plain
// method policy the service was built with. A grant issued without a
// challenge (client opted out of PKCE) accepts any verifier.
func (s *Service) VerifyChallenge(verifier string, g Grant) error {
	if g.CodeChallenge == "" {
		return nil
	}
	if g.CodeChallengeMethod == MethodPlain && !s.allowPlain {
		return fmt.Errorf("%w: plain method disabled", ErrPKCEFailed)
	}
	return VerifyPKCE(verifier, g.CodeChallenge, g.CodeChallengeMethod)
}

// PurgeExpired removes codes past the audit retention window.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)
	return s.store.PurgeExpired(ctx, cutoff)
}

func (s *Service) checkChallenge(cl *client.Client, req IssueRequest) error {
	challenge := strings.TrimSpace(req.CodeChallenge)
	if challenge == "" {
		if cl.RequirePKCE {
			return fmt.Errorf("%w: client requires a code challenge", ErrPKCERequired)
		}
		return nil
	}
	switch req.CodeChallengeMethod {
	case MethodS256:
		return nil
	case MethodPlain:
		if !s.allowPlain {
			return fmt.Errorf("%w: plain method disabled", ErrPKCERequired)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported challenge method %q", ErrPKCERequired, req.CodeChallengeMethod)
	}
}

// auditFailure writes a success=false event. Failure-path audit is part of the
// operation contract, so a ledger error surfaces to the caller.
func (s *Service) auditFailure(ctx context.Context, entry audit.Entry) error {
	entry.Success = false
	if _, err := s.auditor.Append(ctx, entry); err != nil {
		return fmt.Errorf("authcode: audit failure event: %w", err)
	}
	return nil
}

func newOpaqueCode() (string, error) {
	buf := make([]byte, codeEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("authcode: generate code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
