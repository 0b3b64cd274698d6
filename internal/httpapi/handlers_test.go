package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"grantor.org/internal/audit"
	"grantor.org/internal/authcode"
	"grantor.org/internal/client"
	"grantor.org/internal/consent"
	"grantor.org/internal/flow"
	"grantor.org/internal/rbac"
	"grantor.org/internal/token"
)

const testIdentitySecret = "identity-test-secret"

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	rbacSvc *rbac.Service
	ledger  *audit.Ledger
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	ledger, err := audit.NewLedger(audit.NewInMemory())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	clients, err := client.NewService(client.NewInMemory(), ledger)
	if err != nil {
		t.Fatalf("client service: %v", err)
	}
	rbacSvc, err := rbac.NewService(rbac.NewInMemory())
	if err != nil {
		t.Fatalf("rbac service: %v", err)
	}
	consents, err := consent.NewService(consent.NewInMemory(), ledger)
	if err != nil {
		t.Fatalf("consent service: %v", err)
	}
	codes, err := authcode.NewService(authcode.NewInMemory(), clients, rbacSvc, consents, ledger)
	if err != nil {
		t.Fatalf("authcode service: %v", err)
	}
	issuer, err := token.NewIssuer([]byte("access-token-secret"), "grantor")
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	flowSvc, err := flow.NewService(codes, clients, issuer)
	if err != nil {
		t.Fatalf("flow service: %v", err)
	}
	verifier, err := NewIdentityVerifier([]byte(testIdentitySecret))
	if err != nil {
		t.Fatalf("identity verifier: %v", err)
	}

	api := New(Config{
		Version:  "test",
		Clients:  clients,
		RBAC:     rbacSvc,
		Consents: consents,
		Flow:     flowSvc,
		Ledger:   ledger,
		Identity: verifier,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		rbacSvc: rbacSvc,
		ledger:  ledger,
	}
}

func identityToken(t *testing.T, userID, orgID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	if orgID != "" {
		claims["org"] = orgID
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testIdentitySecret))
	if err != nil {
		t.Fatalf("sign identity token: %v", err)
	}
	return signed
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func authHeaders(t *testing.T, userID, orgID string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + identityToken(t, userID, orgID)}
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestHealthAndInfoArePublic(t *testing.T) {
	c := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.do(http.MethodGet, path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestProtectedRoutesRequireIdentity(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/clients", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/clients", nil, map[string]string{"Authorization": "Bearer garbage"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestClientLifecycle(t *testing.T) {
	c := newTestAPI(t)
	admin := authHeaders(t, "admin", "")

	resp := c.do(http.MethodPost, "/v1/clients", clientRequest{
		Type:          "public",
		Name:          "dashboard",
		RedirectURIs:  []string{"https://app.example.com/cb"},
		AllowedScopes: []string{"document:read"},
		RequirePKCE:   true,
	}, admin)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created map[string]string
	decodeBody(t, resp, &created)
	clientID := created["client_id"]
	if clientID == "" {
		t.Fatal("missing client_id in response")
	}

	resp = c.do(http.MethodGet, "/v1/clients/"+clientID, nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var fetched client.Client
	decodeBody(t, resp, &fetched)
	if fetched.Name != "dashboard" {
		t.Fatalf("fetched name = %q", fetched.Name)
	}

	resp = c.do(http.MethodDelete, "/v1/clients/"+clientID, nil, admin)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/clients/"+clientID, nil, admin)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestValidationErrorSurfacesAs400(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/clients", clientRequest{
		Type: "public", Name: "no-uris", RequirePKCE: true,
	}, authHeaders(t, "admin", ""))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

// seedAccess gives u1 in o1 a document:read grant via a fresh group.
func (c *apiClient) seedAccess(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := c.rbacSvc.EnsurePermission(ctx, "document", "read", ""); err != nil {
		t.Fatalf("ensure permission: %v", err)
	}
	g, err := c.rbacSvc.CreateGroup(ctx, "o1", "readers", "admin")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := c.rbacSvc.AddOrgMember(ctx, "u1", "o1"); err != nil {
		t.Fatalf("add org member: %v", err)
	}
	if err := c.rbacSvc.AddMembership(ctx, "u1", g.ID, "admin"); err != nil {
		t.Fatalf("add membership: %v", err)
	}
	if err := c.rbacSvc.GrantPermission(ctx, g.ID, "document", "read", "admin"); err != nil {
		t.Fatalf("grant permission: %v", err)
	}
}

func TestAuthorizeAndTokenFlow(t *testing.T) {
	c := newTestAPI(t)
	admin := authHeaders(t, "admin", "")
	c.seedAccess(t)

	resp := c.do(http.MethodPost, "/v1/clients", clientRequest{
		Type:          "public",
		Name:          "dashboard",
		RedirectURIs:  []string{"https://app.example.com/cb"},
		AllowedScopes: []string{"document:read", "document:write"},
		RequirePKCE:   true,
	}, admin)
	var created map[string]string
	decodeBody(t, resp, &created)
	clientID := created["client_id"]

	verifier := "http-test-verifier-0123456789abcdefgh"
	resp = c.do(http.MethodPost, "/v1/authorize", authorizeRequest{
		ClientID:            clientID,
		RedirectURI:         "https://app.example.com/cb",
		Scope:               "document:read document:write",
		CodeChallenge:       challengeFor(verifier),
		CodeChallengeMethod: "S256",
		State:               "xyz",
	}, authHeaders(t, "u1", "o1"))
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("authorize status = %d body=%s", resp.StatusCode, body)
	}
	var issued struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	decodeBody(t, resp, &issued)
	if issued.Code == "" || issued.State != "xyz" {
		t.Fatalf("unexpected authorize payload: %+v", issued)
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {issued.Code},
		"redirect_uri":  {"https://app.example.com/cb"},
		"client_id":     {clientID},
		"code_verifier": {verifier},
	}
	tokResp, err := c.client.Post(c.baseURL+"/v1/token",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	if tokResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(tokResp.Body)
		t.Fatalf("token status = %d body=%s", tokResp.StatusCode, body)
	}
	var tok flow.Token
	decodeBody(t, tokResp, &tok)
	if tok.AccessToken == "" || tok.TokenType != "Bearer" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	// RBAC narrows write away.
	if tok.Scope != "document:read" {
		t.Fatalf("scope = %q, want document:read", tok.Scope)
	}

	// Replay turns into the generic invalid_grant.
	replayResp, err := c.client.Post(c.baseURL+"/v1/token",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("replay request: %v", err)
	}
	defer replayResp.Body.Close()
	if replayResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want 400", replayResp.StatusCode)
	}
}

func TestAuthorizeDenialIsOpaque(t *testing.T) {
	c := newTestAPI(t)
	admin := authHeaders(t, "admin", "")

	resp := c.do(http.MethodPost, "/v1/clients", clientRequest{
		Type:          "public",
		Name:          "dashboard",
		RedirectURIs:  []string{"https://app.example.com/cb"},
		AllowedScopes: []string{"document:read"},
		RequirePKCE:   true,
	}, admin)
	var created map[string]string
	decodeBody(t, resp, &created)

	// No RBAC seeding: user has no grantable scopes.
	resp = c.do(http.MethodPost, "/v1/authorize", authorizeRequest{
		ClientID:            created["client_id"],
		RedirectURI:         "https://app.example.com/cb",
		Scope:               "document:read",
		CodeChallenge:       challengeFor("v"),
		CodeChallengeMethod: "S256",
	}, authHeaders(t, "u1", "o1"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	var payload map[string]any
	decodeBody(t, resp, &payload)
	if payload["error"] != "access_denied" {
		t.Fatalf("error = %v, want the generic access_denied", payload["error"])
	}

	// An identity without an organization claim has nothing grantable; the
	// denial stays generic rather than surfacing a server error.
	resp = c.do(http.MethodPost, "/v1/authorize", authorizeRequest{
		ClientID:            created["client_id"],
		RedirectURI:         "https://app.example.com/cb",
		Scope:               "document:read",
		CodeChallenge:       challengeFor("v"),
		CodeChallengeMethod: "S256",
	}, authHeaders(t, "u1", ""))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("org-less status = %d, want 403", resp.StatusCode)
	}
	payload = nil
	decodeBody(t, resp, &payload)
	if payload["error"] != "access_denied" {
		t.Fatalf("org-less error = %v, want the generic access_denied", payload["error"])
	}
}

func TestConsentEndpoints(t *testing.T) {
	c := newTestAPI(t)
	user := authHeaders(t, "u1", "o1")

	resp := c.do(http.MethodPost, "/v1/consents", saveConsentRequest{
		ClientID:      "c1",
		GrantedScopes: []string{"document:read"},
	}, user)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("save status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/consents", nil, user)
	var listed struct {
		Consents []consent.Consent `json:"consents"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Consents) != 1 || listed.Consents[0].ClientID != "c1" {
		t.Fatalf("unexpected consents: %+v", listed.Consents)
	}

	resp = c.do(http.MethodDelete, "/v1/consents", revokeConsentRequest{ClientID: "c1"}, user)
	var revoked map[string]bool
	decodeBody(t, resp, &revoked)
	if !revoked["revoked"] {
		t.Fatal("expected revoked=true")
	}
}

func TestAuditEndpoints(t *testing.T) {
	c := newTestAPI(t)
	admin := authHeaders(t, "admin", "")

	// Registering a client appends to the chain.
	resp := c.do(http.MethodPost, "/v1/clients", clientRequest{
		Type:          "public",
		Name:          "dashboard",
		RedirectURIs:  []string{"https://app.example.com/cb"},
		AllowedScopes: []string{"document:read"},
		RequirePKCE:   true,
	}, admin)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/audit/events?limit=10", nil, admin)
	var events struct {
		Events []audit.Event `json:"events"`
	}
	decodeBody(t, resp, &events)
	if len(events.Events) == 0 {
		t.Fatal("expected at least one audit event")
	}
	if events.Events[0].Type != audit.EventClientRegistered {
		t.Fatalf("first event type = %s", events.Events[0].Type)
	}

	resp = c.do(http.MethodGet, "/v1/audit/verify", nil, admin)
	var verdict map[string]bool
	decodeBody(t, resp, &verdict)
	if !verdict["intact"] {
		t.Fatal("expected intact chain")
	}
}

func TestRBACEndpoints(t *testing.T) {
	c := newTestAPI(t)
	admin := authHeaders(t, "admin", "")

	resp := c.do(http.MethodPost, "/v1/permissions", ensurePermissionRequest{
		Resource: "document", Action: "read",
	}, admin)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("permission status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/groups", createGroupRequest{
		OrganizationID: "o1", Name: "readers",
	}, admin)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("group status = %d", resp.StatusCode)
	}
	var g rbac.Group
	decodeBody(t, resp, &g)

	resp = c.do(http.MethodPost, "/v1/orgs/o1/members", addMemberRequest{UserID: "u1"}, admin)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("org member status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/groups/"+g.ID+"/members", addMemberRequest{UserID: "u1"}, admin)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("member status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/groups/"+g.ID+"/permissions", grantPermissionRequest{
		Resource: "document", Action: "read",
	}, admin)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/users/u1/permissions?organization_id=o1", nil, admin)
	var resolved struct {
		Permissions []rbac.Resolved `json:"permissions"`
	}
	decodeBody(t, resp, &resolved)
	if len(resolved.Permissions) != 1 || resolved.Permissions[0].Resource != "document" {
		t.Fatalf("unexpected permissions: %+v", resolved.Permissions)
	}
}
