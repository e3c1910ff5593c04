package token

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corallang/voicerelay/pkg/relay/relayerr"
)

func signToken(t *testing.T, secret []byte, claims jwtClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestFromRequestBearerHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://x/ws/voice", nil)
	req.Header.Set("Authorization", "Bearer abc123")

	tok, err := FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)
}

func TestFromRequestQueryParam(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://x/ws/voice?"+url.Values{"token": {"xyz"}}.Encode(), nil)

	tok, err := FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)
}

func TestFromRequestMissingToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://x/ws/voice", nil)
	_, err := FromRequest(req)
	require.Error(t, err)
	assert.Equal(t, relayerr.CodeUnauthorized, relayerr.As(err).Code)
}

func TestJWTVerifierValidToken(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID:    "tenant-1",
		LearnerID:   "learner-1",
		Permissions: []string{"voice:session:start"},
	}
	signed := signToken(t, secret, claims)

	v := NewJWTVerifier(secret)
	got, err := v.Verify(nil, signed) //nolint:staticcheck
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, "learner-1", got.LearnerID)
	assert.True(t, got.HasPermission("voice:session:start"))
	assert.False(t, got.HasPermission("voice:session:admin"))
}

func TestJWTVerifierBadSignature(t *testing.T) {
	claims := jwtClaims{TenantID: "t", LearnerID: "l"}
	signed := signToken(t, []byte("secret-a"), claims)

	v := NewJWTVerifier([]byte("secret-b"))
	_, err := v.Verify(nil, signed) //nolint:staticcheck
	require.Error(t, err)
	assert.Equal(t, relayerr.CodeUnauthorized, relayerr.As(err).Code)
}

func TestJWTVerifierMissingClaims(t *testing.T) {
	secret := []byte("test-secret")
	signed := signToken(t, secret, jwtClaims{})

	v := NewJWTVerifier(secret)
	_, err := v.Verify(nil, signed) //nolint:staticcheck
	require.Error(t, err)
}

func TestJWTVerifierSetSecretRotatesSigningKey(t *testing.T) {
	claims := jwtClaims{TenantID: "t", LearnerID: "l"}
	signedOld := signToken(t, []byte("old-secret"), claims)

	v := NewJWTVerifier([]byte("old-secret"))
	_, err := v.Verify(nil, signedOld) //nolint:staticcheck
	require.NoError(t, err)

	v.SetSecret([]byte("new-secret"))

	_, err = v.Verify(nil, signedOld) //nolint:staticcheck
	require.Error(t, err, "tokens signed with the rotated-out secret must be rejected")

	signedNew := signToken(t, []byte("new-secret"), claims)
	_, err = v.Verify(nil, signedNew) //nolint:staticcheck
	require.NoError(t, err)
}
