// Package middleware provides HTTP middleware for the backend API.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it (revocation blacklist first, then signature and expiry), and
// stores the resulting Principal in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Whitelisted path? ──► skip straight to handler
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► validator.Validate(ctx, token)
//	   │
//	   └─► Store Principal in context
//	           │
//	           ▼
//	       Handler (retrieves via GetPrincipal)
//
// The engine-auth middleware covers the inference engine's callback routes:
// instead of bearer tokens it consumes the one-time X-API-KEY / X-API-SECRET
// pair that was minted for the stream request.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"coreapi/auth"
	"coreapi/datatypes"
	"coreapi/services"
)

// =============================================================================
// Context Keys
// =============================================================================

// principalKey is the context key for storing the Principal.
// Using a dedicated key prevents collisions with other context values.
const principalKey = "coreapi_principal"

// Principal is the authenticated caller of a request.
type Principal struct {
	MemberID    int64
	Roles       []datatypes.Role
	AccessToken string
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(role datatypes.Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// =============================================================================
// Context Helpers
// =============================================================================

// SetPrincipal stores the authenticated caller in the Gin context. Called by
// AuthMiddleware after successful validation.
func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(principalKey, p)
}

// GetPrincipal retrieves the authenticated caller, or nil if the request
// did not pass authentication (whitelisted paths, wrong type).
func GetPrincipal(c *gin.Context) *Principal {
	if v, exists := c.Get(principalKey); exists {
		if p, ok := v.(*Principal); ok {
			return p
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// TokenValidator checks an access token and returns its claims. The
// implementation consults the revocation blacklist before verifying the
// signature.
type TokenValidator interface {
	Validate(ctx context.Context, accessToken string) (*auth.Claims, error)
}

// Whitelist is the set of paths reachable without a token. These are
// exactly the operations that produce tokens in the first place.
var Whitelist = map[string]struct{}{
	"/auth/sign-up": {},
	"/auth/sign-in": {},
	"/auth/refresh": {},
}

// AuthMiddleware authenticates every request whose path is not whitelisted.
//
// Failure modes map to stable error codes:
//   - missing or malformed header: MISSING_TOKEN
//   - revoked token:               TOKEN_REVOKED
//   - expired token:               TOKEN_EXPIRED
//   - anything else:               INVALID_TOKEN
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, open := Whitelist[c.FullPath()]; open {
			c.Next()
			return
		}

		// Every non-whitelisted route requires a principal, so an
		// absent credential is rejected here rather than passed
		// through unauthenticated. If optional-auth routes ever
		// appear, this branch becomes a c.Next() with no principal.
		token := extractBearerToken(c)
		if token == "" {
			abortUnauthorized(c, "MISSING_TOKEN", "authorization header missing or malformed")
			return
		}

		claims, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrTokenRevoked):
				abortUnauthorized(c, "TOKEN_REVOKED", "token has been revoked")
			case errors.Is(err, auth.ErrExpiredToken):
				abortUnauthorized(c, "TOKEN_EXPIRED", "token expired")
			default:
				abortUnauthorized(c, "INVALID_TOKEN", "invalid token")
			}
			return
		}

		memberID, err := claims.MemberID()
		if err != nil {
			abortUnauthorized(c, "INVALID_TOKEN", "invalid token subject")
			return
		}

		SetPrincipal(c, &Principal{
			MemberID:    memberID,
			Roles:       claims.Roles,
			AccessToken: token,
		})
		c.Next()
	}
}

// RequireRole gates a route group on a role carried in the access token.
func RequireRole(role datatypes.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil || !p.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": "insufficient role",
			})
			return
		}
		c.Next()
	}
}

// =============================================================================
// Engine Auth Middleware
// =============================================================================

// HandshakeVerifier consumes a one-time key pair.
type HandshakeVerifier interface {
	Verify(ctx context.Context, key, secret string) error
}

// EngineAuthMiddleware authenticates inference engine callbacks via the
// one-time key pair headers. Each pair verifies exactly once; a replayed
// request fails even with correct values.
func EngineAuthMiddleware(verifier HandshakeVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-KEY")
		secret := c.GetHeader("X-API-SECRET")
		if key == "" || secret == "" {
			abortUnauthorized(c, "MISSING_TOKEN", "engine credentials missing")
			return
		}
		if err := verifier.Verify(c.Request.Context(), key, secret); err != nil {
			abortUnauthorized(c, "INVALID_TOKEN", "engine credentials rejected")
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helpers
// =============================================================================

// extractBearerToken parses "Authorization: Bearer <token>", returning ""
// when the header is missing or malformed. The scheme is case-insensitive
// per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    code,
		"message": message,
	})
}
