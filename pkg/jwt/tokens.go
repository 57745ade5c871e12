// Package jwt issues and verifies the bearer tokens accepted by the buildor API.
package jwt

import (
	"errors"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	issuer   = "buildor"
	audience = "buildor-api"
)

// Scopes carried in the scp claim.
const (
	ScopeRead  = "deployments:read"
	ScopeWrite = "deployments:write"
)

// ErrNoSecret is returned when a signer has no key material.
var ErrNoSecret = errors.New("jwt: signing secret is empty")

// Claims is the token payload. Subject identifies the caller.
type Claims struct {
	Scopes []string `json:"scp,omitempty"`
	jwtlib.RegisteredClaims
}

// Allows reports whether the token grants scope.
func (c Claims) Allows(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Signer issues and verifies HS256 tokens with a shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a signer for secret.
func NewSigner(secret string) Signer {
	return Signer{secret: []byte(strings.TrimSpace(secret)), now: time.Now}
}

// Issue signs a token for subject valid for ttl. Without scopes the token is read-only.
func (s Signer) Issue(subject string, ttl time.Duration, scopes ...string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeRead}
	}
	now := s.now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwtlib.ClaimStrings{audience},
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks signature, issuer, audience and expiry, and returns the claims.
func (s Signer) Verify(token string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrNoSecret
	}
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(*jwtlib.Token) (any, error) {
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithAudience(audience),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
