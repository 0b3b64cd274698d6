package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Requests on these paths skip identity authentication. The token endpoint
// authenticates the client itself, not a user session.
var publicPaths = []string{
	"/v1/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// Identity is the authenticated subject established by the external identity
// provider. User authentication itself happens outside this service; we only
// verify the session token it issued.
type Identity struct {
	UserID         string
	OrganizationID string
}

// IdentityVerifier validates HS256 session tokens from the identity provider.
type IdentityVerifier struct {
	secret []byte
}

var ErrInvalidIdentity = errors.New("httpapi: invalid identity token")

func NewIdentityVerifier(secret []byte) (*IdentityVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("httpapi: identity secret is required")
	}
	return &IdentityVerifier{secret: secret}, nil
}

type identityClaims struct {
	OrganizationID string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Verify parses the session token and extracts the subject.
func (v *IdentityVerifier) Verify(raw string) (Identity, error) {
	claims := &identityClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidIdentity)
	}
	return Identity{
		UserID:         claims.Subject,
		OrganizationID: claims.OrganizationID,
	}, nil
}

const identityKey ctxKey = "identity"

// ContextWithIdentity attaches the authenticated subject.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated subject if present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func (a *API) withIdentity(next http.Handler) http.Handler {
	if a == nil || a.identity == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		id, err := a.identity.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
