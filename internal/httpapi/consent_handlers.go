package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"grantor.org/internal/consent"
)

type saveConsentRequest struct {
	ClientID       string     `json:"client_id"`
	OrganizationID string     `json:"organization_id"`
	GrantedScopes  []string   `json:"granted_scopes"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type revokeConsentRequest struct {
	ClientID       string `json:"client_id"`
	OrganizationID string `json:"organization_id"`
}

// handleConsents operates on the authenticated user's own consent records.
func (a *API) handleConsents(w http.ResponseWriter, r *http.Request) {
	if a.consents == nil {
		writeError(w, r, http.StatusServiceUnavailable, "consent service unavailable")
		return
	}
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := a.consents.ListByUser(r.Context(), id.UserID)
		if err != nil {
			handleConsentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"consents": list})
	case http.MethodPost:
		var req saveConsentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		org := strings.TrimSpace(req.OrganizationID)
		if org == "" {
			org = id.OrganizationID
		}
		if err := a.consents.Save(r.Context(), id.UserID, req.ClientID, org, req.GrantedScopes, req.ExpiresAt); err != nil {
			handleConsentError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		var req revokeConsentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		org := strings.TrimSpace(req.OrganizationID)
		if org == "" {
			org = id.OrganizationID
		}
		revoked, err := a.consents.Revoke(r.Context(), id.UserID, req.ClientID, org)
		if err != nil {
			handleConsentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func handleConsentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, consent.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, consent.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, consent.ErrVersionConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "consent operation failed")
	}
}
