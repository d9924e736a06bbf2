package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"coreapi/auth"
	"coreapi/datatypes"
	"coreapi/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeValidator maps tokens to canned outcomes.
type fakeValidator struct {
	claims map[string]*auth.Claims
	errs   map[string]error
}

func (f *fakeValidator) Validate(_ context.Context, token string) (*auth.Claims, error) {
	if err, ok := f.errs[token]; ok {
		return nil, err
	}
	if c, ok := f.claims[token]; ok {
		return c, nil
	}
	return nil, auth.ErrInvalidToken
}

func claimsFor(memberID int64, roles ...datatypes.Role) *auth.Claims {
	c := &auth.Claims{Kind: auth.KindAccess, Roles: roles}
	c.Subject = strconv.FormatInt(memberID, 10)
	return c
}

func newRouter(v TokenValidator) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(v))
	r.GET("/me", func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"memberId": p.MemberID})
	})
	r.POST("/auth/sign-in", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func doRequest(r *gin.Engine, method, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	v := &fakeValidator{claims: map[string]*auth.Claims{
		"good-token": claimsFor(42, datatypes.RoleUser),
	}}
	r := newRouter(v)

	w := doRequest(r, http.MethodGet, "/me", "Bearer good-token")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "42")

	// Scheme is case-insensitive.
	w = doRequest(r, http.MethodGet, "/me", "bearer good-token")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareWhitelist(t *testing.T) {
	r := newRouter(&fakeValidator{})

	w := doRequest(r, http.MethodPost, "/auth/sign-in", "")
	assert.Equal(t, http.StatusOK, w.Code, "whitelisted paths need no token")
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	r := newRouter(&fakeValidator{})

	for _, header := range []string{"", "Bearer", "Basic dXNlcg==", "Bearer  "} {
		w := doRequest(r, http.MethodGet, "/me", header)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
		assert.Contains(t, w.Body.String(), "MISSING_TOKEN")
	}
}

func TestAuthMiddlewareErrorCodes(t *testing.T) {
	v := &fakeValidator{errs: map[string]error{
		"revoked": fmt.Errorf("validate: %w", services.ErrTokenRevoked),
		"expired": fmt.Errorf("validate: %w", auth.ErrExpiredToken),
		"garbage": auth.ErrInvalidToken,
	}}
	r := newRouter(v)

	cases := []struct {
		token string
		code  string
	}{
		{"revoked", "TOKEN_REVOKED"},
		{"expired", "TOKEN_EXPIRED"},
		{"garbage", "INVALID_TOKEN"},
	}
	for _, tc := range cases {
		w := doRequest(r, http.MethodGet, "/me", "Bearer "+tc.token)
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.token)
		assert.Contains(t, w.Body.String(), tc.code)
	}
}

func TestRequireRole(t *testing.T) {
	v := &fakeValidator{claims: map[string]*auth.Claims{
		"admin-token": claimsFor(1, datatypes.RoleAdmin),
		"user-token":  claimsFor(2, datatypes.RoleUser),
	}}

	r := gin.New()
	r.Use(AuthMiddleware(v))
	r.GET("/admin", RequireRole(datatypes.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := doRequest(r, http.MethodGet, "/admin", "Bearer admin-token")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(r, http.MethodGet, "/admin", "Bearer user-token")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// fakeVerifier rejects everything except one key pair, once.
type fakeVerifier struct {
	key, secret string
	used        bool
}

func (f *fakeVerifier) Verify(_ context.Context, key, secret string) error {
	if f.used || key != f.key || secret != f.secret {
		return services.ErrHandshakeRejected
	}
	f.used = true
	return nil
}

func TestEngineAuthMiddleware(t *testing.T) {
	verifier := &fakeVerifier{key: "k", secret: "s"}

	r := gin.New()
	r.POST("/internal/engine", EngineAuthMiddleware(verifier), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	call := func(key, secret string) int {
		req := httptest.NewRequest(http.MethodPost, "/internal/engine", nil)
		if key != "" {
			req.Header.Set("X-API-KEY", key)
		}
		if secret != "" {
			req.Header.Set("X-API-SECRET", secret)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call("", ""))
	assert.Equal(t, http.StatusUnauthorized, call("k", "wrong"))
	assert.Equal(t, http.StatusNoContent, call("k", "s"))
	assert.Equal(t, http.StatusUnauthorized, call("k", "s"), "one-time pair cannot be replayed")
}
