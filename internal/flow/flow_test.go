package flow

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"grantor.org/internal/audit"
	"grantor.org/internal/authcode"
	"grantor.org/internal/client"
	"grantor.org/internal/consent"
)

type staticResolver struct{ scopes []string }

func (r staticResolver) GrantableScopes(context.Context, string, string) ([]string, error) {
	return r.scopes, nil
}

type staticTokens struct{}

func (staticTokens) Mint(_ context.Context, userID, clientID, organizationID string, scopes []string, _ string) (Token, error) {
	return Token{
		AccessToken: "tok-" + userID + "-" + clientID,
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		Scope:       strings.Join(scopes, " "),
	}, nil
}

func challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func newFlow(t *testing.T) (*Service, *client.Service, *audit.Ledger) {
	t.Helper()
	ledger, err := audit.NewLedger(audit.NewInMemory())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	clients, err := client.NewService(client.NewInMemory(), ledger)
	if err != nil {
		t.Fatalf("client service: %v", err)
	}
	consents, err := consent.NewService(consent.NewInMemory(), ledger)
	if err != nil {
		t.Fatalf("consent service: %v", err)
	}
	codes, err := authcode.NewService(
		authcode.NewInMemory(), clients, staticResolver{scopes: []string{"document:read"}}, consents, ledger)
	if err != nil {
		t.Fatalf("authcode service: %v", err)
	}
	svc, err := NewService(codes, clients, staticTokens{})
	if err != nil {
		t.Fatalf("flow service: %v", err)
	}
	return svc, clients, ledger
}

func registerPublic(t *testing.T, clients *client.Service) string {
	t.Helper()
	id, err := clients.Register(context.Background(), client.Spec{
		Name:          "dashboard",
		Type:          client.TypePublic,
		RedirectURIs:  []string{"https://app.example.com/cb"},
		AllowedScopes: []string{"document:read", "document:write"},
		RequirePKCE:   true,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return id
}

func TestAuthorizeThenExchange(t *testing.T) {
	svc, clients, ledger := newFlow(t)
	ctx := context.Background()
	clientID := registerPublic(t, clients)
	verifier := "flow-verifier-1234567890-abcdefghijklmnop"

	res, err := svc.Authorize(ctx, AuthorizeRequest{
		ClientID:            clientID,
		UserID:              "u1",
		OrganizationID:      "o1",
		RedirectURI:         "https://app.example.com/cb",
		Scopes:              []string{"document:read", "document:write"},
		CodeChallenge:       challenge(verifier),
		CodeChallengeMethod: authcode.MethodS256,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	tok, err := svc.Exchange(ctx, ExchangeRequest{
		ClientID:     clientID,
		Code:         res.Code,
		RedirectURI:  "https://app.example.com/cb",
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tok.TokenType != "Bearer" || tok.Scope != "document:read" {
		t.Fatalf("unexpected token: %+v", tok)
	}

	if _, err := svc.Exchange(ctx, ExchangeRequest{
		ClientID:     clientID,
		Code:         res.Code,
		RedirectURI:  "https://app.example.com/cb",
		CodeVerifier: verifier,
	}); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("replay err = %v, want ErrInvalidGrant", err)
	}

	ok, err := ledger.Verify(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("ledger verify = %v, %v", ok, err)
	}
}

func TestAuthorizeDeniedIsGeneric(t *testing.T) {
	svc, clients, _ := newFlow(t)
	ctx := context.Background()
	clientID := registerPublic(t, clients)

	cases := []struct {
		name string
		req  AuthorizeRequest
	}{
		{"unknown client", AuthorizeRequest{
			ClientID: "ghost", UserID: "u1", RedirectURI: "https://app.example.com/cb",
		}},
		{"redirect mismatch", AuthorizeRequest{
			ClientID: clientID, UserID: "u1", OrganizationID: "o1",
			RedirectURI:         "https://evil.example.com/cb",
			Scopes:              []string{"document:read"},
			CodeChallenge:       challenge("v"),
			CodeChallengeMethod: authcode.MethodS256,
		}},
		{"missing challenge", AuthorizeRequest{
			ClientID: clientID, UserID: "u1", OrganizationID: "o1",
			RedirectURI: "https://app.example.com/cb",
			Scopes:      []string{"document:read"},
		}},
		{"no grantable scopes", AuthorizeRequest{
			ClientID: clientID, UserID: "u1", OrganizationID: "o1",
			RedirectURI:         "https://app.example.com/cb",
			Scopes:              []string{"invoice:approve"},
			CodeChallenge:       challenge("v"),
			CodeChallengeMethod: authcode.MethodS256,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Authorize(ctx, tc.req)
			if !errors.Is(err, ErrAccessDenied) {
				t.Fatalf("err = %v, want ErrAccessDenied", err)
			}
		})
	}
}

func TestConsentRequiredSurfacesDistinctly(t *testing.T) {
	svc, clients, _ := newFlow(t)
	ctx := context.Background()
	id, err := clients.Register(ctx, client.Spec{
		Name:           "third-party",
		Type:           client.TypePublic,
		RedirectURIs:   []string{"https://partner.example.com/cb"},
		AllowedScopes:  []string{"document:read"},
		RequirePKCE:    true,
		RequireConsent: true,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err = svc.Authorize(ctx, AuthorizeRequest{
		ClientID: id, UserID: "u1", OrganizationID: "o1",
		RedirectURI:         "https://partner.example.com/cb",
		Scopes:              []string{"document:read"},
		CodeChallenge:       challenge("v"),
		CodeChallengeMethod: authcode.MethodS256,
	})
	if !errors.Is(err, authcode.ErrConsentRequired) {
		t.Fatalf("err = %v, want ErrConsentRequired", err)
	}
	if errors.Is(err, ErrAccessDenied) {
		t.Fatal("consent redirect must not read as a terminal denial")
	}
}

func TestConfidentialClientAuth(t *testing.T) {
	svc, clients, _ := newFlow(t)
	ctx := context.Background()
	id, err := clients.Register(ctx, client.Spec{
		Name:          "backend",
		Type:          client.TypeConfidential,
		Secret:        "s3cret-value-long-enough",
		RedirectURIs:  []string{"https://backend.example.com/cb"},
		AllowedScopes: []string{"document:read"},
		RequirePKCE:   true,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	verifier := "confidential-verifier-0123456789abcdef"
	res, err := svc.Authorize(ctx, AuthorizeRequest{
		ClientID: id, UserID: "u1", OrganizationID: "o1",
		RedirectURI:         "https://backend.example.com/cb",
		Scopes:              []string{"document:read"},
		CodeChallenge:       challenge(verifier),
		CodeChallengeMethod: authcode.MethodS256,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	_, err = svc.Exchange(ctx, ExchangeRequest{
		ClientID: id, ClientSecret: "wrong",
		Code: res.Code, RedirectURI: "https://backend.example.com/cb", CodeVerifier: verifier,
	})
	if !errors.Is(err, ErrClientAuth) {
		t.Fatalf("wrong secret err = %v, want ErrClientAuth", err)
	}

	// Client auth runs before consumption, so the code is still live.
	if _, err := svc.Exchange(ctx, ExchangeRequest{
		ClientID: id, ClientSecret: "s3cret-value-long-enough",
		Code: res.Code, RedirectURI: "https://backend.example.com/cb", CodeVerifier: verifier,
	}); err != nil {
		t.Fatalf("exchange: %v", err)
	}
}

func TestPKCEFailureConsumesCode(t *testing.T) {
	svc, clients, ledger := newFlow(t)
	ctx := context.Background()
	clientID := registerPublic(t, clients)
	verifier := "pkce-failure-verifier-0123456789abcd"

	res, err := svc.Authorize(ctx, AuthorizeRequest{
		ClientID: clientID, UserID: "u1", OrganizationID: "o1",
		RedirectURI:         "https://app.example.com/cb",
		Scopes:              []string{"document:read"},
		CodeChallenge:       challenge(verifier),
		CodeChallengeMethod: authcode.MethodS256,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	_, err = svc.Exchange(ctx, ExchangeRequest{
		ClientID: clientID, Code: res.Code,
		RedirectURI: "https://app.example.com/cb", CodeVerifier: "not-the-verifier",
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("err = %v, want ErrInvalidGrant", err)
	}

	// Even the right verifier cannot save a consumed code.
	_, err = svc.Exchange(ctx, ExchangeRequest{
		ClientID: clientID, Code: res.Code,
		RedirectURI: "https://app.example.com/cb", CodeVerifier: verifier,
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("retry err = %v, want ErrInvalidGrant", err)
	}

	events, err := ledger.List(ctx, 0, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var sawPKCE bool
	for _, e := range events {
		if e.Type == audit.EventPKCEFailed {
			sawPKCE = true
		}
	}
	if !sawPKCE {
		t.Fatal("expected a pkce_validation_failed event on the ledger")
	}
}
