package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"grantor.org/internal/rbac"
)

type ensurePermissionRequest struct {
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

type createGroupRequest struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
}

type grantPermissionRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req ensurePermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		p, err := a.rbac.EnsurePermission(r.Context(), req.Resource, req.Action, req.Description)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	case http.MethodGet:
		list, err := a.rbac.ListPermissions(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": list})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		id, _ := IdentityFromContext(r.Context())
		g, err := a.rbac.CreateGroup(r.Context(), req.OrganizationID, req.Name, id.UserID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/groups/%s", g.ID))
		writeJSON(w, http.StatusCreated, g)
	case http.MethodGet:
		orgID := strings.TrimSpace(r.URL.Query().Get("organization_id"))
		if orgID == "" {
			writeError(w, r, http.StatusBadRequest, "organization_id is required")
			return
		}
		list, err := a.rbac.ListGroups(r.Context(), orgID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": list})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

// handleGroupResource routes /v1/groups/{id}/members[/{uid}] and
// /v1/groups/{id}/permissions.
func (a *API) handleGroupResource(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/groups/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) < 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	groupID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		g, err := a.rbac.GetGroup(r.Context(), groupID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	case len(parts) == 2 && parts[1] == "members":
		a.handleGroupMembers(w, r, groupID)
	case len(parts) == 3 && parts[1] == "members":
		a.handleGroupMember(w, r, groupID, parts[2])
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleGroupPermissions(w, r, groupID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleGroupMembers(w http.ResponseWriter, r *http.Request, groupID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := IdentityFromContext(r.Context())
	if err := a.rbac.AddMembership(r.Context(), req.UserID, groupID, id.UserID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGroupMember(w http.ResponseWriter, r *http.Request, groupID, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.rbac.RemoveMembership(r.Context(), userID, groupID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGroupPermissions(w http.ResponseWriter, r *http.Request, groupID string) {
	switch r.Method {
	case http.MethodPost:
		var req grantPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		id, _ := IdentityFromContext(r.Context())
		if err := a.rbac.GrantPermission(r.Context(), groupID, req.Resource, req.Action, id.UserID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		var req grantPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.RevokePermission(r.Context(), groupID, req.Resource, req.Action); err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

// handleUserResource routes /v1/users/{id}/permissions.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgID := strings.TrimSpace(r.URL.Query().Get("organization_id"))
	if orgID == "" {
		writeError(w, r, http.StatusBadRequest, "organization_id is required")
		return
	}
	resolved, err := a.rbac.UserPermissions(r.Context(), parts[0], orgID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": resolved})
}

// handleOrgResource routes /v1/orgs/{id}/members[/{uid}].
func (a *API) handleOrgResource(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/orgs/"), "/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 2 && parts[1] == "members" && r.Method == http.MethodPost:
		var req addMemberRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.AddOrgMember(r.Context(), req.UserID, parts[0]); err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 3 && parts[1] == "members" && r.Method == http.MethodDelete:
		if err := a.rbac.RemoveOrgMember(r.Context(), parts[2], parts[0]); err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrGroupNotFound), errors.Is(err, rbac.ErrPermissionNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "rbac operation failed")
	}
}
