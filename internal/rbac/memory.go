package rbac

import (
	"context"
	"sync"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu          sync.RWMutex
	permissions map[string]*Permission // key: resource:action
	groups      map[string]*Group
	orgMembers  map[string]map[string]struct{} // userID -> org set
	memberships map[string]map[string]Membership
	grants      map[string]map[string]Grant // groupID -> permissionID -> grant
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty RBAC store.
func NewInMemory() *InMemory {
	return &InMemory{
		permissions: make(map[string]*Permission),
		groups:      make(map[string]*Group),
		orgMembers:  make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]Membership),
		grants:      make(map[string]map[string]Grant),
	}
}

func (s *InMemory) EnsurePermission(ctx context.Context, p *Permission) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.Resource + ":" + p.Action
	if existing, ok := s.permissions[key]; ok {
		return *existing, nil
	}
	cp := *p
	s.permissions[key] = &cp
	return cp, nil
}

func (s *InMemory) FindPermission(ctx context.Context, resource, action string) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[resource+":"+action]
	if !ok {
		return nil, ErrPermissionNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemory) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Permission
	for _, p := range s.permissions {
		out = append(out, *p)
	}
	return out, nil
}

func (s *InMemory) CreateGroup(ctx context.Context, g *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.groups {
		if existing.OrganizationID == g.OrganizationID && existing.Name == g.Name {
			return ErrAlreadyExists
		}
	}
	cp := *g
	s.groups[g.ID] = &cp
	return nil
}

func (s *InMemory) FindGroup(ctx context.Context, id string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *InMemory) ListGroups(ctx context.Context, organizationID string) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Group
	for _, g := range s.groups {
		if g.OrganizationID == organizationID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *InMemory) AddOrgMember(ctx context.Context, userID, organizationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.orgMembers[userID]
	if !ok {
		set = make(map[string]struct{})
		s.orgMembers[userID] = set
	}
	set[organizationID] = struct{}{}
	return nil
}

func (s *InMemory) RemoveOrgMember(ctx context.Context, userID, organizationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orgMembers[userID], organizationID)
	return nil
}

func (s *InMemory) IsOrgMember(ctx context.Context, userID, organizationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.orgMembers[userID][organizationID]
	return ok, nil
}

func (s *InMemory) AddMembership(ctx context.Context, m Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byGroup, ok := s.memberships[m.UserID]
	if !ok {
		byGroup = make(map[string]Membership)
		s.memberships[m.UserID] = byGroup
	}
	if _, ok := byGroup[m.GroupID]; ok {
		return nil
	}
	byGroup[m.GroupID] = m
	return nil
}

func (s *InMemory) RemoveMembership(ctx context.Context, userID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberships[userID], groupID)
	return nil
}

func (s *InMemory) ListMemberships(ctx context.Context, userID string) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Membership
	for _, m := range s.memberships[userID] {
		out = append(out, m)
	}
	return out, nil
}

func (s *InMemory) GrantPermission(ctx context.Context, g Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPerm, ok := s.grants[g.GroupID]
	if !ok {
		byPerm = make(map[string]Grant)
		s.grants[g.GroupID] = byPerm
	}
	if _, ok := byPerm[g.PermissionID]; ok {
		return nil
	}
	byPerm[g.PermissionID] = g
	return nil
}

func (s *InMemory) RevokePermission(ctx context.Context, groupID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[groupID], permissionID)
	return nil
}

func (s *InMemory) ResolvePermissions(ctx context.Context, userID, organizationID string) ([]Resolved, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Resolved
	for groupID := range s.memberships[userID] {
		group, ok := s.groups[groupID]
		if !ok || group.OrganizationID != organizationID {
			continue
		}
		for permID := range s.grants[groupID] {
			for _, p := range s.permissions {
				if p.ID == permID {
					out = append(out, Resolved{
						Resource: p.Resource,
						Action:   p.Action,
						ViaGroup: group.Name,
					})
				}
			}
		}
	}
	return out, nil
}

func (s *InMemory) HoldsPermission(ctx context.Context, userID, organizationID, resource, action string) (bool, error) {
	resolved, err := s.ResolvePermissions(ctx, userID, organizationID)
	if err != nil {
		return false, err
	}
	for _, r := range resolved {
		if r.Resource == resource && r.Action == action {
			return true, nil
		}
	}
	return false, nil
}
