package client

import (
	"context"
	"errors"
	"testing"

	"grantor.org/internal/audit"
)

func newTestService(t *testing.T) (*Service, *audit.InMemory) {
	t.Helper()
	auditStore := audit.NewInMemory()
	ledger, err := audit.NewLedger(auditStore)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	svc, err := NewService(NewInMemory(), ledger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, auditStore
}

func publicSpec() Spec {
	return Spec{
		Type:           TypePublic,
		Name:           "Dashboard SPA",
		RedirectURIs:   []string{"https://app.example/cb"},
		AllowedScopes:  []string{"ledger:read", "ledger:write"},
		RequirePKCE:    true,
		RequireConsent: true,
	}
}

func TestRegisterPublicClient(t *testing.T) {
	svc, auditStore := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, publicSpec())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == "" {
		t.Fatalf("expected client id")
	}

	c, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Type != TypePublic || c.SecretDigest != "" {
		t.Fatalf("unexpected client: %+v", c)
	}
	if !c.HasRedirectURI("https://app.example/cb") {
		t.Fatalf("registered redirect URI missing")
	}
	if c.HasRedirectURI("https://app.example/cb/") {
		t.Fatalf("redirect match must be exact, no normalization")
	}

	events, err := auditStore.List(ctx, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 || events[0].Type != audit.EventClientRegistered {
		t.Fatalf("expected one client_registered event, got %v", events)
	}
	if events[0].ClientID != id || !events[0].Success {
		t.Fatalf("audit event incomplete: %+v", events[0])
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]func(Spec) Spec{
		"public with secret": func(s Spec) Spec {
			s.Secret = "hunter2"
			return s
		},
		"public without pkce": func(s Spec) Spec {
			s.RequirePKCE = false
			return s
		},
		"no redirect uris": func(s Spec) Spec {
			s.RedirectURIs = nil
			return s
		},
		"no scopes": func(s Spec) Spec {
			s.AllowedScopes = []string{"  "}
			return s
		},
		"unknown type": func(s Spec) Spec {
			s.Type = "hybrid"
			return s
		},
		"confidential without secret": func(s Spec) Spec {
			s.Type = TypeConfidential
			return s
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Register(ctx, mutate(publicSpec()))
			if !errors.Is(err, ErrInvalidSpec) {
				t.Fatalf("expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}

func TestConfidentialSecretDigest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	spec := publicSpec()
	spec.Type = TypeConfidential
	spec.Secret = "super-secret"
	spec.RequirePKCE = false

	id, err := svc.Register(ctx, spec)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	c, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.SecretDigest == "" || c.SecretDigest == "super-secret" {
		t.Fatalf("secret must be stored as a digest")
	}
	if err := svc.VerifySecret(ctx, id, "super-secret"); err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if err := svc.VerifySecret(ctx, id, "wrong"); !errors.Is(err, ErrSecretMismatch) {
		t.Fatalf("expected secret mismatch, got %v", err)
	}
}

func TestSoftDeleteHidesClient(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, publicSpec())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after soft delete, got %v", err)
	}
	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("soft-deleted client must not be listed")
	}
}

func TestUpdateKeepsSecretWhenOmitted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	spec := publicSpec()
	spec.Type = TypeConfidential
	spec.Secret = "rotate-me"
	spec.RequirePKCE = false
	id, err := svc.Register(ctx, spec)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	before, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	upd := spec
	upd.Secret = ""
	upd.Name = "Renamed Service"
	if err := svc.Update(ctx, id, upd); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := svc.VerifySecret(ctx, id, "rotate-me"); err != nil {
		t.Fatalf("secret must survive update without rotation: %v", err)
	}
	after, _ := svc.Get(ctx, id)
	if after.SecretDigest != before.SecretDigest {
		t.Fatalf("stored digest must carry forward unchanged")
	}
	c, _ := svc.Get(ctx, id)
	if c.Name != "Renamed Service" {
		t.Fatalf("name not updated: %s", c.Name)
	}
}
