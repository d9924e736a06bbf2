package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"coreapi/auth"
	"coreapi/services"
)

// apiError is the JSON error envelope. Codes are part of the public
// contract; messages are advisory and may change.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps service sentinels onto HTTP statuses and stable codes.
// Unrecognized errors collapse to a 500 without leaking internals.
func writeError(c *gin.Context, err error) {
	status, code, message := classify(err)
	c.AbortWithStatusJSON(status, apiError{Code: code, Message: message})
}

func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password"
	case errors.Is(err, services.ErrMemberExists):
		return http.StatusConflict, "MEMBER_EXISTS", "an account with this email already exists"
	case errors.Is(err, services.ErrMemberNotFound):
		return http.StatusUnauthorized, "MEMBER_NOT_FOUND", "account no longer exists"
	case errors.Is(err, services.ErrAccountDeleted):
		return http.StatusForbidden, "ACCOUNT_DELETED", "account has been deleted"
	case errors.Is(err, services.ErrAccountSuspended):
		return http.StatusForbidden, "ACCOUNT_SUSPENDED", "account is suspended"
	case errors.Is(err, services.ErrAccountInactive):
		return http.StatusForbidden, "ACCOUNT_INACTIVE", "account is inactive"
	case errors.Is(err, services.ErrTokenMismatch):
		return http.StatusUnauthorized, "TOKEN_MISMATCH", "refresh token is no longer valid"
	case errors.Is(err, services.ErrRefreshExpired):
		return http.StatusUnauthorized, "REFRESH_TOKEN_EXPIRED", "refresh token expired; sign in again"
	case errors.Is(err, services.ErrTokenRevoked):
		return http.StatusUnauthorized, "TOKEN_REVOKED", "token has been revoked"
	case errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "TOKEN_EXPIRED", "token expired"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidSignature):
		return http.StatusUnauthorized, "INVALID_TOKEN", "invalid token"
	case errors.Is(err, services.ErrChatNotFound):
		return http.StatusNotFound, "CHAT_NOT_FOUND", "chat not found"
	case errors.Is(err, services.ErrChatAccessDenied):
		return http.StatusForbidden, "CHAT_ACCESS_DENIED", "chat belongs to another member"
	case errors.Is(err, services.ErrInferenceUnavailable):
		return http.StatusServiceUnavailable, "INFERENCE_UNAVAILABLE", "the assistant is currently unavailable"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

// writeBindError reports request-body validation failures.
func writeBindError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, apiError{
		Code:    "INVALID_REQUEST",
		Message: err.Error(),
	})
}
