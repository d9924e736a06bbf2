// Package auth implements the signed-credential side of the token
// lifecycle: minting, parsing, and hashing of access and refresh tokens.
//
// Access and refresh tokens are both HS256 JWTs but are signed with
// independent derived keys, so possession of one kind of token never helps
// forge the other. Only the access token carries roles; the refresh token
// is a bare subject + expiry credential used solely to mint new pairs.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"coreapi/datatypes"
)

// TokenKind distinguishes the two credential kinds.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

var (
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrInvalidToken     = errors.New("invalid token")
)

// Claims are the parsed contents of a coreapi token.
type Claims struct {
	Kind  TokenKind        `json:"kind"`
	Roles []datatypes.Role `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// MemberID returns the subject as a member id.
func (c *Claims) MemberID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject %q: %w", c.Subject, err)
	}
	return id, nil
}

// Remaining reports how much validity the claims have left.
func (c *Claims) Remaining() time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return time.Until(c.ExpiresAt.Time)
}

// Manager mints and verifies tokens for a single issuer.
type Manager struct {
	accessKey  []byte
	refreshKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewManager derives per-kind signing keys from the configured secret.
func NewManager(secret, issuer string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		accessKey:  deriveKey(secret, KindAccess),
		refreshKey: deriveKey(secret, KindRefresh),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// IssueAccess mints a short-lived access token carrying the member's roles.
func (m *Manager) IssueAccess(memberID int64, roles []datatypes.Role) (string, error) {
	return m.sign(KindAccess, memberID, roles, m.accessTTL, m.accessKey)
}

// IssueRefresh mints a long-lived refresh token carrying only the subject.
func (m *Manager) IssueRefresh(memberID int64) (string, error) {
	return m.sign(KindRefresh, memberID, nil, m.refreshTTL, m.refreshKey)
}

// ParseAccess verifies signature, expiry, and kind of an access token.
func (m *Manager) ParseAccess(token string) (*Claims, error) {
	return m.parse(token, KindAccess, m.accessKey)
}

// ParseRefresh verifies signature, expiry, and kind of a refresh token.
func (m *Manager) ParseRefresh(token string) (*Claims, error) {
	return m.parse(token, KindRefresh, m.refreshKey)
}

func (m *Manager) sign(kind TokenKind, memberID int64, roles []datatypes.Role, ttl time.Duration, key []byte) (string, error) {
	now := time.Now()
	claims := Claims{
		Kind:  kind,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(memberID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (m *Manager) parse(tokenString string, kind TokenKind, key []byte) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: wrong token kind %q", ErrInvalidToken, claims.Kind)
	}
	return &claims, nil
}

// HashToken returns the hex SHA-256 digest of a token. Stores keep only
// hashes; raw credentials never touch the key-value store except the
// refresh record, which must be compared verbatim on rotation.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func deriveKey(secret string, kind TokenKind) []byte {
	sum := sha256.Sum256([]byte(secret + ":" + string(kind)))
	return sum[:]
}
