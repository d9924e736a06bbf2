// Package handlers exposes the HTTP surface of the backend: the auth
// endpoints, the chat CRUD endpoints, and the message stream.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"coreapi/datatypes"
	"coreapi/middleware"
	"coreapi/observability"
	"coreapi/services"
)

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	auth   *services.AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth *services.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// SignUp handles POST /auth/sign-up.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req datatypes.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	id, err := h.auth.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		observability.AuthAttempt("sign_up", false)
		writeError(c, err)
		return
	}

	observability.AuthAttempt("sign_up", true)
	c.JSON(http.StatusCreated, gin.H{"memberId": id})
}

// SignIn handles POST /auth/sign-in.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req datatypes.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	info, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		observability.AuthAttempt("sign_in", false)
		writeError(c, err)
		return
	}

	observability.AuthAttempt("sign_in", true)
	c.JSON(http.StatusOK, info)
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req datatypes.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	info, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		observability.AuthAttempt("refresh", false)
		writeError(c, err)
		return
	}

	observability.AuthAttempt("refresh", true)
	c.JSON(http.StatusOK, info)
}

// SignOut handles POST /auth/sign-out. Revocation is best-effort; an
// authenticated caller always gets 204.
func (h *AuthHandler) SignOut(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	if p == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{Code: "MISSING_TOKEN", Message: "not authenticated"})
		return
	}

	h.auth.SignOut(c.Request.Context(), p.AccessToken, p.MemberID)
	observability.AuthAttempt("sign_out", true)
	c.Status(http.StatusNoContent)
}
