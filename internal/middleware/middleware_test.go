package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoAdmin() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(AdminName(r.Context())))
	})
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	auth := NewJWTAuth("")
	assert.Nil(t, auth)
	assert.False(t, auth.Enabled())

	rec := httptest.NewRecorder()
	auth.Middleware(echoAdmin()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultAdminName, rec.Body.String())
}

func TestAuthAcceptsCookieAndBearer(t *testing.T) {
	auth := NewJWTAuth("secret")
	token, err := auth.GenerateToken("Lan", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
	rec := httptest.NewRecorder()
	auth.Middleware(echoAdmin()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Lan", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	name, err := auth.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "Lan", name)
}

func TestAuthRejectsBadTokens(t *testing.T) {
	auth := NewJWTAuth("secret")

	_, err := auth.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrMissingToken)

	other, err := NewJWTAuth("other").GenerateToken("Lan", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	_, err = auth.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"name": "Lan",
		"exp":  time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	_, err = auth.Authenticate(req)
	assert.ErrorIs(t, err, ErrTokenExpired)

	rec := httptest.NewRecorder()
	auth.Middleware(echoAdmin()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"detail"`)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/chat/session", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()

	CORS(echoAdmin()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rl := &RateLimiter{visitors: map[string]*visitor{}, limit: 2, window: time.Minute, now: func() time.Time { return now }}

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow("1.2.3.4"))

	rl.sweep()
	assert.Len(t, rl.visitors, 1)
}
