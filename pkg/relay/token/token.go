// Package token verifies the bearer token presented at WebSocket upgrade
// and extracts the tenant, learner, and permission claims admission relies
// on. It reads the token from the HTTP request's Authorization header or
// query string.
package token

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"

	"github.com/corallang/voicerelay/pkg/relay/relayerr"
)

// Claims is what a verified token yields.
type Claims struct {
	TenantID     string
	LearnerID    string
	Permissions  []string
	SessionHint  string
}

// HasPermission reports whether perm is among the token's granted
// permissions.
func (c Claims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Verifier verifies a bearer token and returns the claims it carries.
// Any failure is reported as a relayerr.Error with code CodeUnauthorized.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// FromRequest extracts the bearer token from the Authorization header, or
// failing that, from the "token" query parameter.
func FromRequest(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimPrefix(auth, prefix), nil
		}
		return "", relayerr.Newf("token.extract", relayerr.CodeUnauthorized, "malformed Authorization header")
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	return "", relayerr.Newf("token.extract", relayerr.CodeUnauthorized, "no bearer token presented")
}

// jwtClaims is the JWT payload shape this verifier expects.
type jwtClaims struct {
	jwt.RegisteredClaims
	TenantID    string   `json:"tenant_id"`
	LearnerID   string   `json:"learner_id"`
	Permissions []string `json:"permissions"`
	SessionHint string   `json:"session_hint,omitempty"`
}

// JWTVerifier verifies HMAC-signed bearer tokens. The signing secret is
// held behind an atomic pointer so it can be rotated via [JWTVerifier.SetSecret]
// while Verify runs concurrently from other goroutines.
type JWTVerifier struct {
	secret atomic.Pointer[[]byte]
}

// NewJWTVerifier creates a verifier that checks tokens against secret using
// HMAC-SHA256.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	v := &JWTVerifier{}
	v.SetSecret(secret)
	return v
}

// SetSecret replaces the signing secret tokens are verified against.
// Tokens signed with the previous secret are rejected once the swap
// completes; in-flight Verify calls see either the old or new secret
// atomically, never a torn value.
func (v *JWTVerifier) SetSecret(secret []byte) {
	v.secret.Store(&secret)
}

var _ Verifier = (*JWTVerifier)(nil)

// Verify parses and validates raw as a signed JWT and extracts its claims.
func (v *JWTVerifier) Verify(_ context.Context, raw string) (Claims, error) {
	var claims jwtClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, relayerr.Newf("token.verify", relayerr.CodeUnauthorized, "unexpected signing method %v", t.Header["alg"])
		}
		return *v.secret.Load(), nil
	})
	if err != nil {
		return Claims{}, relayerr.New("token.verify", relayerr.CodeUnauthorized, err)
	}
	if claims.TenantID == "" || claims.LearnerID == "" {
		return Claims{}, relayerr.Newf("token.verify", relayerr.CodeUnauthorized, "token missing tenant_id or learner_id")
	}

	return Claims{
		TenantID:    claims.TenantID,
		LearnerID:   claims.LearnerID,
		Permissions: claims.Permissions,
		SessionHint: claims.SessionHint,
	}, nil
}
