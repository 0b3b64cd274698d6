package pg

import (
	"context"
	"database/sql"
	"errors"

	"grantor.org/internal/rbac"
)

// RBACStore persists the group/permission graph.
type RBACStore struct {
	db *sql.DB
}

func (s *RBACStore) EnsurePermission(ctx context.Context, p *rbac.Permission) (rbac.Permission, error) {
	var out rbac.Permission
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, resource, action, description, created_at)
		values ($1, $2, $3, nullif($4,''), $5)
		on conflict (resource, action) do update set resource = excluded.resource
		returning id, resource, action, description, created_at
	`, p.ID, p.Resource, p.Action, p.Description, p.CreatedAt).
		Scan(&out.ID, &out.Resource, &out.Action, &desc, &out.CreatedAt)
	if err != nil {
		return rbac.Permission{}, err
	}
	out.Description = desc.String
	return out, nil
}

func (s *RBACStore) FindPermission(ctx context.Context, resource, action string) (*rbac.Permission, error) {
	var p rbac.Permission
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, resource, action, description, created_at
		from permissions where resource = $1 and action = $2
	`, resource, action).Scan(&p.ID, &p.Resource, &p.Action, &desc, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrPermissionNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Description = desc.String
	return &p, nil
}

func (s *RBACStore) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, resource, action, description, created_at
		from permissions order by resource, action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &desc, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Description = desc.String
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *RBACStore) CreateGroup(ctx context.Context, g *rbac.Group) error {
	_, err := s.db.ExecContext(ctx, `
		insert into groups (id, organization_id, name, created_by, created_at)
		values ($1, $2, $3, nullif($4,''), $5)
	`, g.ID, g.OrganizationID, g.Name, g.CreatedBy, g.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return rbac.ErrAlreadyExists
	}
	return err
}

func (s *RBACStore) FindGroup(ctx context.Context, id string) (*rbac.Group, error) {
	var g rbac.Group
	var createdBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, name, created_by, created_at
		from groups where id = $1
	`, id).Scan(&g.ID, &g.OrganizationID, &g.Name, &createdBy, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	g.CreatedBy = createdBy.String
	return &g, nil
}

func (s *RBACStore) ListGroups(ctx context.Context, organizationID string) ([]rbac.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, name, created_by, created_at
		from groups where organization_id = $1 order by name
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.Group
	for rows.Next() {
		var g rbac.Group
		var createdBy sql.NullString
		if err := rows.Scan(&g.ID, &g.OrganizationID, &g.Name, &createdBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.CreatedBy = createdBy.String
		result = append(result, g)
	}
	return result, rows.Err()
}

func (s *RBACStore) AddOrgMember(ctx context.Context, userID, organizationID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into org_members (user_id, organization_id, added_at)
		values ($1, $2, now())
		on conflict (user_id, organization_id) do nothing
	`, userID, organizationID)
	return err
}

func (s *RBACStore) RemoveOrgMember(ctx context.Context, userID, organizationID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from org_members where user_id = $1 and organization_id = $2
	`, userID, organizationID)
	return err
}

func (s *RBACStore) IsOrgMember(ctx context.Context, userID, organizationID string) (bool, error) {
	var dummy int
	err := s.db.QueryRowContext(ctx, `
		select 1 from org_members where user_id = $1 and organization_id = $2
	`, userID, organizationID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RBACStore) AddMembership(ctx context.Context, m rbac.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		insert into group_members (user_id, group_id, added_by, added_at)
		values ($1, $2, nullif($3,''), $4)
		on conflict (user_id, group_id) do nothing
	`, m.UserID, m.GroupID, m.AddedBy, m.AddedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return rbac.ErrGroupNotFound
	}
	return err
}

func (s *RBACStore) RemoveMembership(ctx context.Context, userID, groupID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from group_members where user_id = $1 and group_id = $2
	`, userID, groupID)
	return err
}

func (s *RBACStore) ListMemberships(ctx context.Context, userID string) ([]rbac.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, group_id, added_by, added_at
		from group_members where user_id = $1 order by added_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.Membership
	for rows.Next() {
		var m rbac.Membership
		var addedBy sql.NullString
		if err := rows.Scan(&m.UserID, &m.GroupID, &addedBy, &m.AddedAt); err != nil {
			return nil, err
		}
		m.AddedBy = addedBy.String
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *RBACStore) GrantPermission(ctx context.Context, g rbac.Grant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into group_permissions (group_id, permission_id, granted_by, granted_at)
		values ($1, $2, nullif($3,''), $4)
		on conflict (group_id, permission_id) do nothing
	`, g.GroupID, g.PermissionID, g.GrantedBy, g.GrantedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return rbac.ErrGroupNotFound
	}
	return err
}

func (s *RBACStore) RevokePermission(ctx context.Context, groupID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from group_permissions where group_id = $1 and permission_id = $2
	`, groupID, permissionID)
	return err
}

// ResolvePermissions walks user -> group -> permission inside one
// organization. Org membership gating happens in the service.
func (s *RBACStore) ResolvePermissions(ctx context.Context, userID, organizationID string) ([]rbac.Resolved, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.resource, p.action, g.id
		from group_members gm
		join groups g on g.id = gm.group_id and g.organization_id = $2
		join group_permissions gp on gp.group_id = g.id
		join permissions p on p.id = gp.permission_id
		where gm.user_id = $1
		order by p.resource, p.action, g.id
	`, userID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.Resolved
	for rows.Next() {
		var r rbac.Resolved
		if err := rows.Scan(&r.Resource, &r.Action, &r.ViaGroup); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *RBACStore) HoldsPermission(ctx context.Context, userID, organizationID, resource, action string) (bool, error) {
	var dummy int
	err := s.db.QueryRowContext(ctx, `
		select 1
		from group_members gm
		join groups g on g.id = gm.group_id and g.organization_id = $2
		join group_permissions gp on gp.group_id = g.id
		join permissions p on p.id = gp.permission_id
		where gm.user_id = $1 and p.resource = $3 and p.action = $4
		limit 1
	`, userID, organizationID, resource, action).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
