package rbac

import (
	"errors"
	"time"
)

// Permission is a fine-grained capability identified by its (resource, action)
// pair. Both parts are lowercase token strings; the pair is unique.
type Permission struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key renders the scope form "resource:action".
func (p Permission) Key() string {
	return p.Resource + ":" + p.Action
}

// Group collects users inside one organization. Names are unique per
// organization, never across organizations.
type Group struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Membership links a user to a group.
type Membership struct {
	UserID  string    `json:"user_id"`
	GroupID string    `json:"group_id"`
	AddedBy string    `json:"added_by,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Grant links a group to a permission.
type Grant struct {
	GroupID      string    `json:"group_id"`
	PermissionID string    `json:"permission_id"`
	GrantedBy    string    `json:"granted_by,omitempty"`
	GrantedAt    time.Time `json:"granted_at"`
}

// Resolved is one satisfying path for a held permission. A user holding the
// same permission through several groups yields one entry per group.
type Resolved struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	ViaGroup string `json:"via_group"`
}

var (
	ErrInvalidInput       = errors.New("rbac: invalid input")
	ErrGroupNotFound      = errors.New("rbac: group not found")
	ErrPermissionNotFound = errors.New("rbac: permission not found")
	ErrAlreadyExists      = errors.New("rbac: already exists")
)
