// Package rbac resolves group-based permissions: users gain capabilities
// transitively through group membership, always scoped to one organization.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"grantor.org/internal/ids"
	"grantor.org/internal/scope"
)

// Service provides the authorization predicate and the group management
// operations that feed it.
type Service struct {
	store Store
	now   func() time.Time
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

// NewService constructs the resolver.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsurePermission registers a permission if absent and returns the stored
// record either way. Resource and action are canonicalized to lowercase.
func (s *Service) EnsurePermission(ctx context.Context, resource, action, description string) (Permission, error) {
	resource, action, err := canonicalPair(resource, action)
	if err != nil {
		return Permission{}, err
	}
	return s.store.EnsurePermission(ctx, &Permission{
		ID:          ids.New(),
		Resource:    resource,
		Action:      action,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now().UTC(),
	})
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// CreateGroup creates a group inside an organization.
func (s *Service) CreateGroup(ctx context.Context, organizationID, name, createdBy string) (Group, error) {
	organizationID = strings.TrimSpace(organizationID)
	name = strings.TrimSpace(name)
	if organizationID == "" || name == "" {
		return Group{}, fmt.Errorf("%w: organization_id and name are required", ErrInvalidInput)
	}
	g := Group{
		ID:             ids.New(),
		OrganizationID: organizationID,
		Name:           name,
		CreatedBy:      strings.TrimSpace(createdBy),
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateGroup(ctx, &g); err != nil {
		return Group{}, err
	}
	return g, nil
}

// GetGroup fetches a group by id.
func (s *Service) GetGroup(ctx context.Context, id string) (*Group, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	return s.store.FindGroup(ctx, id)
}

// ListGroups enumerates an organization's groups.
func (s *Service) ListGroups(ctx context.Context, organizationID string) ([]Group, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.ListGroups(ctx, organizationID)
}

// AddOrgMember records organization membership. Safe to call twice.
func (s *Service) AddOrgMember(ctx context.Context, userID, organizationID string) error {
	userID = strings.TrimSpace(userID)
	organizationID = strings.TrimSpace(organizationID)
	if userID == "" || organizationID == "" {
		return fmt.Errorf("%w: user_id and organization_id are required", ErrInvalidInput)
	}
	return s.store.AddOrgMember(ctx, userID, organizationID)
}

// RemoveOrgMember drops organization membership.
func (s *Service) RemoveOrgMember(ctx context.Context, userID, organizationID string) error {
	return s.store.RemoveOrgMember(ctx, strings.TrimSpace(userID), strings.TrimSpace(organizationID))
}

// AddMembership puts a user into a group. Idempotent: a second call with the
// same pair succeeds without side effects.
func (s *Service) AddMembership(ctx context.Context, userID, groupID, addedBy string) error {
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return fmt.Errorf("%w: user_id and group_id are required", ErrInvalidInput)
	}
	if _, err := s.store.FindGroup(ctx, groupID); err != nil {
		return err
	}
	return s.store.AddMembership(ctx, Membership{
		UserID:  userID,
		GroupID: groupID,
		AddedBy: strings.TrimSpace(addedBy),
		AddedAt: s.now().UTC(),
	})
}

// RemoveMembership takes a user out of a group.
func (s *Service) RemoveMembership(ctx context.Context, userID, groupID string) error {
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return fmt.Errorf("%w: user_id and group_id are required", ErrInvalidInput)
	}
	return s.store.RemoveMembership(ctx, userID, groupID)
}

// GrantPermission grants a (resource, action) capability to a group.
// Idempotent over the composite key.
func (s *Service) GrantPermission(ctx context.Context, groupID, resource, action, grantedBy string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	resource, action, err := canonicalPair(resource, action)
	if err != nil {
		return err
	}
	if _, err := s.store.FindGroup(ctx, groupID); err != nil {
		return err
	}
	perm, err := s.store.FindPermission(ctx, resource, action)
	if err != nil {
		return err
	}
	return s.store.GrantPermission(ctx, Grant{
		GroupID:      groupID,
		PermissionID: perm.ID,
		GrantedBy:    strings.TrimSpace(grantedBy),
		GrantedAt:    s.now().UTC(),
	})
}

// RevokePermission removes a capability from a group.
func (s *Service) RevokePermission(ctx context.Context, groupID, resource, action string) error {
	resource, action, err := canonicalPair(resource, action)
	if err != nil {
		return err
	}
	perm, err := s.store.FindPermission(ctx, resource, action)
	if err != nil {
		return err
	}
	return s.store.RevokePermission(ctx, strings.TrimSpace(groupID), perm.ID)
}

// HasPermission reports whether the user, via some group in the organization,
// holds the (resource, action) capability. Non-members short-circuit to false
// without touching the group graph.
func (s *Service) HasPermission(ctx context.Context, userID, organizationID, resource, action string) (bool, error) {
	userID = strings.TrimSpace(userID)
	organizationID = strings.TrimSpace(organizationID)
	if userID == "" || organizationID == "" {
		return false, fmt.Errorf("%w: user_id and organization_id are required", ErrInvalidInput)
	}
	resource, action, err := canonicalPair(resource, action)
	if err != nil {
		return false, err
	}
	member, err := s.store.IsOrgMember(ctx, userID, organizationID)
	if err != nil {
		return false, err
	}
	if !member {
		return false, nil
	}
	return s.store.HoldsPermission(ctx, userID, organizationID, resource, action)
}

// UserPermissions enumerates every satisfying path the user holds inside the
// organization, one entry per (permission, group) pair.
func (s *Service) UserPermissions(ctx context.Context, userID, organizationID string) ([]Resolved, error) {
	userID = strings.TrimSpace(userID)
	organizationID = strings.TrimSpace(organizationID)
	if userID == "" || organizationID == "" {
		return nil, fmt.Errorf("%w: user_id and organization_id are required", ErrInvalidInput)
	}
	member, err := s.store.IsOrgMember(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, nil
	}
	return s.store.ResolvePermissions(ctx, userID, organizationID)
}

// GrantableScopes resolves the distinct scope strings the user may be granted
// inside the organization.
func (s *Service) GrantableScopes(ctx context.Context, userID, organizationID string) ([]string, error) {
	// No organization means no memberships to resolve; the grant set is
	// empty, not an error.
	if strings.TrimSpace(organizationID) == "" {
		return nil, nil
	}
	resolved, err := s.UserPermissions(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(resolved))
	for _, r := range resolved {
		keys = append(keys, r.Resource+":"+r.Action)
	}
	return scope.Normalize(keys), nil
}

func canonicalPair(resource, action string) (string, string, error) {
	resource = strings.TrimSpace(strings.ToLower(resource))
	action = strings.TrimSpace(strings.ToLower(action))
	if resource == "" || action == "" {
		return "", "", fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	if strings.ContainsAny(resource, ": \t") || strings.ContainsAny(action, ": \t") {
		return "", "", fmt.Errorf("%w: resource and action must be token strings", ErrInvalidInput)
	}
	return resource, action, nil
}
