package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
	"github.com/xela07ax/pulseone-control-plane/internal/engine"
	"go.uber.org/zap"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func sign(t *testing.T, key *rsa.PrivateKey, scopes map[string]bool, exp time.Time) string {
	t.Helper()
	claims := &domain.CustomClaims{
		UserID: "op-1",
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-1",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerifyToken(t *testing.T) {
	key := newKey(t)
	v := NewBaseValidator(&key.PublicKey)

	claims, err := v.VerifyToken("Bearer " + sign(t, key, map[string]bool{"admin": true}, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.UserID)
	assert.True(t, claims.HasScope(domain.ScopeDevicesControl))

	_, err = v.VerifyToken(sign(t, key, nil, time.Now().Add(-time.Minute)))
	assert.Error(t, err)

	_, err = v.VerifyToken(sign(t, newKey(t), nil, time.Now().Add(time.Hour)))
	assert.Error(t, err, "token signed by another key")

	_, err = v.VerifyToken("garbage")
	assert.Error(t, err)
}

func TestMiddleware_PropagatesActor(t *testing.T) {
	key := newKey(t)
	mw := NewMiddleware(NewBaseValidator(&key.PublicKey), zap.NewNop())

	var actor string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = engine.ActorFrom(r.Context())
		require.NotNil(t, ClaimsFrom(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, key, nil, time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "op-1", actor)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireScope(t *testing.T) {
	key := newKey(t)
	chain := func(scopes map[string]bool) int {
		h := NewMiddleware(NewBaseValidator(&key.PublicKey), zap.NewNop())(
			RequireScope(domain.ScopeDevicesControl)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})))
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, key, scopes, time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, chain(map[string]bool{"devices.control": true}))
	assert.Equal(t, http.StatusNoContent, chain(map[string]bool{"admin": true}))
	assert.Equal(t, http.StatusForbidden, chain(map[string]bool{"agents.read": true}))
}
