// Package token mints the signed access tokens handed out after a successful
// code exchange.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"grantor.org/internal/flow"
)

const defaultTTL = time.Hour

// Issuer signs HS256 access tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures the issuer.
type Option func(*Issuer)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// WithTTL overrides the one-hour default token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// NewIssuer builds an issuer. The secret must be non-empty.
func NewIssuer(secret []byte, issuerName string, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	i := &Issuer{
		secret: secret,
		issuer: issuerName,
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Claims is the access-token claim set.
type Claims struct {
	ClientID       string `json:"client_id"`
	OrganizationID string `json:"org,omitempty"`
	Scope          string `json:"scope"`
	Nonce          string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// Mint signs a token for the granted scopes.
func (i *Issuer) Mint(_ context.Context, userID, clientID, organizationID string, scopes []string, nonce string) (flow.Token, error) {
	now := i.now().UTC()
	scope := strings.Join(scopes, " ")
	claims := Claims{
		ClientID:       clientID,
		OrganizationID: organizationID,
		Scope:          scope,
		Nonce:          nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return flow.Token{}, fmt.Errorf("token: sign: %w", err)
	}
	return flow.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(i.ttl / time.Second),
		Scope:       scope,
	}, nil
}

// Parse validates a previously minted token and returns its claims.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token: parse: %w", err)
	}
	return claims, nil
}
