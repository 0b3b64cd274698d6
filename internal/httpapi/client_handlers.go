package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"grantor.org/internal/client"
)

type clientRequest struct {
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	Secret         string   `json:"secret,omitempty"`
	RedirectURIs   []string `json:"redirect_uris"`
	AllowedScopes  []string `json:"allowed_scopes"`
	RequirePKCE    bool     `json:"require_pkce"`
	RequireConsent bool     `json:"require_consent"`
	IsFirstParty   bool     `json:"is_first_party"`
}

func (req clientRequest) spec(createdBy string) client.Spec {
	return client.Spec{
		Type:           client.Type(req.Type),
		Name:           req.Name,
		Secret:         req.Secret,
		RedirectURIs:   req.RedirectURIs,
		AllowedScopes:  req.AllowedScopes,
		RequirePKCE:    req.RequirePKCE,
		RequireConsent: req.RequireConsent,
		IsFirstParty:   req.IsFirstParty,
		CreatedBy:      createdBy,
	}
}

func (a *API) handleClients(w http.ResponseWriter, r *http.Request) {
	if a.clients == nil {
		writeError(w, r, http.StatusServiceUnavailable, "client service unavailable")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req clientRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		id, _ := IdentityFromContext(r.Context())
		clientID, err := a.clients.Register(r.Context(), req.spec(id.UserID))
		if err != nil {
			handleClientError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/clients/%s", clientID))
		writeJSON(w, http.StatusCreated, map[string]string{"client_id": clientID})
	case http.MethodGet:
		list, err := a.clients.List(r.Context())
		if err != nil {
			handleClientError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"clients": list})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleClientResource(w http.ResponseWriter, r *http.Request) {
	if a.clients == nil {
		writeError(w, r, http.StatusServiceUnavailable, "client service unavailable")
		return
	}
	clientID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/clients/"), "/")
	if clientID == "" || strings.Contains(clientID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		c, err := a.clients.Get(r.Context(), clientID)
		if err != nil {
			handleClientError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodPut:
		var req clientRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		id, _ := IdentityFromContext(r.Context())
		if err := a.clients.Update(r.Context(), clientID, req.spec(id.UserID)); err != nil {
			handleClientError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := a.clients.Delete(r.Context(), clientID); err != nil {
			handleClientError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func handleClientError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, client.ErrInvalidSpec):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, client.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, client.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "client operation failed")
	}
}
