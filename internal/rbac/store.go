package rbac

import "context"

// Store persists the group/permission graph. Write methods backing idempotent
// service operations must treat duplicate composite keys as no-ops.
type Store interface {
	EnsurePermission(ctx context.Context, p *Permission) (Permission, error)
	FindPermission(ctx context.Context, resource, action string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	CreateGroup(ctx context.Context, g *Group) error
	FindGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context, organizationID string) ([]Group, error)

	AddOrgMember(ctx context.Context, userID, organizationID string) error
	RemoveOrgMember(ctx context.Context, userID, organizationID string) error
	IsOrgMember(ctx context.Context, userID, organizationID string) (bool, error)

	AddMembership(ctx context.Context, m Membership) error
	RemoveMembership(ctx context.Context, userID, groupID string) error
	ListMemberships(ctx context.Context, userID string) ([]Membership, error)

	GrantPermission(ctx context.Context, g Grant) error
	RevokePermission(ctx context.Context, groupID, permissionID string) error

	// ResolvePermissions returns every (permission, group) path the user holds
	// inside the organization. Groups outside the organization never appear.
	ResolvePermissions(ctx context.Context, userID, organizationID string) ([]Resolved, error)
	// HoldsPermission is the point check behind the resolver predicate.
	HoldsPermission(ctx context.Context, userID, organizationID, resource, action string) (bool, error)
}
