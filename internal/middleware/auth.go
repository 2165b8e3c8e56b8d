package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/chatdesk/pkg/utils"
)

type contextKey string

const adminNameKey contextKey = "admin_name"

// AccessTokenCookie is the cookie the admin token travels in.
const AccessTokenCookie = "access_token"

// DefaultAdminName is used when auth is off or the token has no name.
const DefaultAdminName = "Admin"

var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token expired")
)

// JWTAuth checks HS256 admin tokens. A nil or secretless JWTAuth lets every
// request through as DefaultAdminName.
type JWTAuth struct {
	Secret []byte
}

// NewJWTAuth returns nil for an empty secret.
func NewJWTAuth(secret string) *JWTAuth {
	if secret == "" {
		return nil
	}
	return &JWTAuth{Secret: []byte(secret)}
}

// Enabled reports whether tokens are checked.
func (j *JWTAuth) Enabled() bool {
	return j != nil && len(j.Secret) > 0
}

// GenerateToken signs an admin token valid for ttl.
func (j *JWTAuth) GenerateToken(name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  name,
		"name": name,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// Authenticate verifies the request's token and returns the admin name.
func (j *JWTAuth) Authenticate(r *http.Request) (string, error) {
	if !j.Enabled() {
		return DefaultAdminName, nil
	}

	raw := tokenFromRequest(r)
	if raw == "" {
		return "", ErrMissingToken
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	for _, key := range []string{"name", "sub"} {
		if name, ok := claims[key].(string); ok && name != "" {
			return name, nil
		}
	}
	return DefaultAdminName, nil
}

// Middleware rejects requests without a valid admin token and stores the
// admin name in the request context.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, err := j.Authenticate(r)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAdminName(r.Context(), name)))
	})
}

// WithAdminName stores the authenticated admin.
func WithAdminName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, adminNameKey, name)
}

// AdminName returns the authenticated admin, or "" outside Middleware.
func AdminName(ctx context.Context) string {
	name, _ := ctx.Value(adminNameKey).(string)
	return name
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
