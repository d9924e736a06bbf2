package services

import "errors"

// Service-level sentinels. Handlers map these onto HTTP status codes and
// stable error codes; nothing below the handler layer knows about HTTP.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMemberExists       = errors.New("member already exists")
	ErrMemberNotFound     = errors.New("member not found")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrAccountSuspended   = errors.New("account is suspended")
	ErrAccountDeleted     = errors.New("account is deleted")

	ErrTokenMismatch  = errors.New("refresh token does not match stored token")
	ErrRefreshExpired = errors.New("no stored refresh token for member")
	ErrTokenRevoked   = errors.New("token has been revoked")

	ErrChatNotFound         = errors.New("chat not found")
	ErrChatAccessDenied     = errors.New("chat belongs to another member")
	ErrInferenceUnavailable = errors.New("inference engine unavailable")
)
