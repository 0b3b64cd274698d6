package rbac

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewInMemory())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

// Builds: user u1 in org o1 via group g holding ledger:read.
func seedReadPath(t *testing.T, svc *Service, org, user string) Group {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.EnsurePermission(ctx, "ledger", "read", "Read ledger entries"); err != nil {
		t.Fatalf("EnsurePermission: %v", err)
	}
	g, err := svc.CreateGroup(ctx, org, "readers", "admin")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := svc.AddOrgMember(ctx, user, org); err != nil {
		t.Fatalf("AddOrgMember: %v", err)
	}
	if err := svc.AddMembership(ctx, user, g.ID, "admin"); err != nil {
		t.Fatalf("AddMembership: %v", err)
	}
	if err := svc.GrantPermission(ctx, g.ID, "ledger", "read", "admin"); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	return g
}

func TestHasPermissionLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Org member whose groups hold nothing yet.
	if _, err := svc.EnsurePermission(ctx, "ledger", "read", ""); err != nil {
		t.Fatalf("EnsurePermission: %v", err)
	}
	if err := svc.AddOrgMember(ctx, "u1", "o1"); err != nil {
		t.Fatalf("AddOrgMember: %v", err)
	}
	ok, err := svc.HasPermission(ctx, "u1", "o1", "ledger", "read")
	if err != nil || ok {
		t.Fatalf("member without grants must be denied: ok=%v err=%v", ok, err)
	}

	g := seedReadPath(t, svc, "o1", "u1")
	ok, err = svc.HasPermission(ctx, "u1", "o1", "Ledger", "READ")
	if err != nil || !ok {
		t.Fatalf("granted permission must resolve case-insensitively: ok=%v err=%v", ok, err)
	}

	// Removal from the group revokes access immediately.
	if err := svc.RemoveMembership(ctx, "u1", g.ID); err != nil {
		t.Fatalf("RemoveMembership: %v", err)
	}
	ok, err = svc.HasPermission(ctx, "u1", "o1", "ledger", "read")
	if err != nil || ok {
		t.Fatalf("removed member must be denied: ok=%v err=%v", ok, err)
	}
}

func TestNonMemberShortCircuits(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedReadPath(t, svc, "o1", "u1")

	// u2 never joined o1; group lookups must not matter.
	ok, err := svc.HasPermission(ctx, "u2", "o1", "ledger", "read")
	if err != nil || ok {
		t.Fatalf("non-member must be denied: ok=%v err=%v", ok, err)
	}
	perms, err := svc.UserPermissions(ctx, "u2", "o1")
	if err != nil || perms != nil {
		t.Fatalf("non-member must enumerate nothing: %v %v", perms, err)
	}
}

func TestOrganizationBoundary(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Identical group names in two organizations; u1 belongs to both orgs but
	// only holds the permission through the o1 group.
	seedReadPath(t, svc, "o1", "u1")
	if _, err := svc.CreateGroup(ctx, "o2", "readers", "admin"); err != nil {
		t.Fatalf("CreateGroup in o2: %v", err)
	}
	if err := svc.AddOrgMember(ctx, "u1", "o2"); err != nil {
		t.Fatalf("AddOrgMember o2: %v", err)
	}

	ok, err := svc.HasPermission(ctx, "u1", "o2", "ledger", "read")
	if err != nil || ok {
		t.Fatalf("grant in o1 must never satisfy a check in o2: ok=%v err=%v", ok, err)
	}
}

func TestIdempotentMutations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	g := seedReadPath(t, svc, "o1", "u1")

	// All join-table writes are safe to repeat.
	if err := svc.AddMembership(ctx, "u1", g.ID, "admin"); err != nil {
		t.Fatalf("repeated AddMembership: %v", err)
	}
	if err := svc.GrantPermission(ctx, g.ID, "ledger", "read", "admin"); err != nil {
		t.Fatalf("repeated GrantPermission: %v", err)
	}
	if err := svc.AddOrgMember(ctx, "u1", "o1"); err != nil {
		t.Fatalf("repeated AddOrgMember: %v", err)
	}

	perms, err := svc.UserPermissions(ctx, "u1", "o1")
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("duplicate writes must not duplicate paths: %v", perms)
	}
}

func TestUserPermissionsEnumeratesAllPaths(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedReadPath(t, svc, "o1", "u1")

	// Second group in the same org holding the same permission.
	g2, err := svc.CreateGroup(ctx, "o1", "auditors", "admin")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := svc.AddMembership(ctx, "u1", g2.ID, "admin"); err != nil {
		t.Fatalf("AddMembership: %v", err)
	}
	if err := svc.GrantPermission(ctx, g2.ID, "ledger", "read", "admin"); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}

	perms, err := svc.UserPermissions(ctx, "u1", "o1")
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected one entry per satisfying group, got %v", perms)
	}
	groups := map[string]bool{}
	for _, p := range perms {
		if p.Resource != "ledger" || p.Action != "read" {
			t.Fatalf("unexpected permission: %+v", p)
		}
		groups[p.ViaGroup] = true
	}
	if !groups["readers"] || !groups["auditors"] {
		t.Fatalf("missing group paths: %v", groups)
	}

	scopes, err := svc.GrantableScopes(ctx, "u1", "o1")
	if err != nil {
		t.Fatalf("GrantableScopes: %v", err)
	}
	if len(scopes) != 1 || scopes[0] != "ledger:read" {
		t.Fatalf("scopes must deduplicate paths: %v", scopes)
	}
}

func TestGrantableScopesWithoutOrganization(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	scopes, err := svc.GrantableScopes(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GrantableScopes: %v", err)
	}
	if len(scopes) != 0 {
		t.Fatalf("expected empty grant set without an organization, got %v", scopes)
	}
}

func TestGrantValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.GrantPermission(ctx, "missing-group", "ledger", "read", ""); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
	g, err := svc.CreateGroup(ctx, "o1", "ops", "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := svc.GrantPermission(ctx, g.ID, "ledger", "burn", ""); !errors.Is(err, ErrPermissionNotFound) {
		t.Fatalf("expected ErrPermissionNotFound, got %v", err)
	}
	if _, err := svc.EnsurePermission(ctx, "led ger", "read", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected token validation error, got %v", err)
	}
	if _, err := svc.CreateGroup(ctx, "o1", "ops", ""); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("group names are unique per organization, got %v", err)
	}
}
