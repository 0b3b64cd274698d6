package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"grantor.org/internal/authcode"
	"grantor.org/internal/flow"
	"grantor.org/internal/scope"
)

type authorizeRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	Nonce               string `json:"nonce,omitempty"`
	State               string `json:"state,omitempty"`
}

// handleAuthorize issues an authorization code for the authenticated user.
// The user session comes from the identity middleware; nothing about the
// subject is taken from the request body.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if a.flow == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization service unavailable")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.flow.Authorize(r.Context(), flow.AuthorizeRequest{
		ClientID:            req.ClientID,
		UserID:              id.UserID,
		OrganizationID:      id.OrganizationID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scope.Split(req.Scope),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: authcode.ChallengeMethod(req.CodeChallengeMethod),
		Nonce:               req.Nonce,
	})
	switch {
	case err == nil:
		payload := map[string]any{
			"code":         res.Code,
			"redirect_uri": res.RedirectURI,
		}
		if req.State != "" {
			payload["state"] = req.State
		}
		writeJSON(w, http.StatusOK, payload)
	case errors.Is(err, authcode.ErrConsentRequired):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": "consent_required",
		})
	case errors.Is(err, flow.ErrAccessDenied):
		// One generic denial for every cause; details live on the audit trail.
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": "access_denied",
		})
	default:
		writeError(w, r, http.StatusInternalServerError, "authorization failed")
	}
}

// handleToken is the token endpoint. It speaks form encoding per OAuth and
// authenticates the client itself rather than a user session.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if a.flow == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization service unavailable")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if gt := r.PostFormValue("grant_type"); gt != "authorization_code" {
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	tok, err := a.flow.Exchange(r.Context(), flow.ExchangeRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
	})
	switch {
	case err == nil:
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, tok)
	case errors.Is(err, flow.ErrClientAuth):
		tokenError(w, http.StatusUnauthorized, "invalid_client")
	case errors.Is(err, flow.ErrInvalidGrant):
		tokenError(w, http.StatusBadRequest, "invalid_grant")
	default:
		tokenError(w, http.StatusInternalServerError, "server_error")
	}
}

// clientCredentials reads HTTP basic auth first, form fields second.
func clientCredentials(r *http.Request) (id, secret string) {
	if user, pass, ok := r.BasicAuth(); ok {
		return strings.TrimSpace(user), pass
	}
	return strings.TrimSpace(r.PostFormValue("client_id")), r.PostFormValue("client_secret")
}

func tokenError(w http.ResponseWriter, code int, oauthErr string) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, code, map[string]string{"error": oauthErr})
}
