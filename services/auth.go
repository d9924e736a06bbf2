package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"coreapi/auth"
	"coreapi/datatypes"
	"coreapi/storage"
	"coreapi/storage/tokenstore"
)

// MemberSaver persists new accounts.
type MemberSaver interface {
	SaveMember(ctx context.Context, email string, passHash []byte, role datatypes.Role) (int64, error)
}

// MemberProvider reads accounts.
type MemberProvider interface {
	MemberByEmail(ctx context.Context, email string) (*datatypes.Member, error)
	MemberByID(ctx context.Context, id int64) (*datatypes.Member, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
}

// AuthService implements the account and token lifecycle: sign-up, sign-in,
// refresh rotation, sign-out revocation, and access-token validation.
type AuthService struct {
	logger   *slog.Logger
	saver    MemberSaver
	provider MemberProvider
	tokens   *tokenstore.Store
	jwt      *auth.Manager
}

// NewAuthService wires the account stores and token plumbing together.
func NewAuthService(
	logger *slog.Logger,
	saver MemberSaver,
	provider MemberProvider,
	tokens *tokenstore.Store,
	jwtManager *auth.Manager,
) *AuthService {
	return &AuthService{
		logger:   logger,
		saver:    saver,
		provider: provider,
		tokens:   tokens,
		jwt:      jwtManager,
	}
}

// SignUp registers a new member with the USER role and returns its id.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (int64, error) {
	const op = "services.auth.SignUp"

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("%s: hash password: %w", op, err)
	}

	id, err := s.saver.SaveMember(ctx, email, passHash, datatypes.RoleUser)
	if err != nil {
		if errors.Is(err, storage.ErrMemberExists) {
			return 0, fmt.Errorf("%s: %w", op, ErrMemberExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("member registered", "memberId", id)
	return id, nil
}

// SignIn verifies credentials and issues a fresh token pair. The returned
// LastLoginAt is the previous successful sign-in, not this one.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*datatypes.AuthInfo, error) {
	const op = "services.auth.SignIn"

	member, err := s.provider.MemberByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Run the hash anyway so a missing account costs the same
			// as a wrong password.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(member.PassHash, []byte(password)); err != nil {
		s.logger.Info("failed sign-in attempt", "memberId", member.ID)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := usableErr(member); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	previousLogin := member.LastLoginAt

	info, err := s.issuePair(ctx, member)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	info.LastLoginAt = previousLogin

	if err := s.provider.UpdateLastLogin(ctx, member.ID, time.Now()); err != nil {
		// Sign-in already succeeded; a stale last-login stamp is not
		// worth failing the request over.
		s.logger.Warn("update last login failed", "memberId", member.ID, "error", err)
	}

	s.logger.Info("member signed in", "memberId", member.ID)
	return info, nil
}

// Refresh rotates a token pair. The presented refresh token must verify AND
// match the stored one byte for byte; a mismatch means the token was already
// rotated or revoked. Rotation invalidates the old pair atomically by
// overwriting the stored records.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*datatypes.AuthInfo, error) {
	const op = "services.auth.Refresh"

	claims, err := s.jwt.ParseRefresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	memberID, err := claims.MemberID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, auth.ErrInvalidToken)
	}

	stored, err := s.tokens.Refresh(ctx, memberID)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			// The record expired or was revoked; distinct from a
			// record that exists but holds a different token.
			return nil, fmt.Errorf("%s: %w", op, ErrRefreshExpired)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if stored != refreshToken {
		s.logger.Warn("refresh token mismatch", "memberId", memberID)
		return nil, fmt.Errorf("%s: %w", op, ErrTokenMismatch)
	}

	member, err := s.provider.MemberByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = s.tokens.DeleteRefresh(ctx, memberID)
			return nil, fmt.Errorf("%s: %w", op, ErrMemberNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := usableErr(member); err != nil {
		// The account went bad after the token was issued; revoke the
		// stored refresh token so the pair cannot be replayed later.
		if delErr := s.tokens.DeleteRefresh(ctx, memberID); delErr != nil {
			s.logger.Warn("revoke refresh on unusable account failed", "memberId", memberID, "error", delErr)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	info, err := s.issuePair(ctx, member)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("token pair rotated", "memberId", memberID)
	return info, nil
}

// SignOut revokes the member's credentials: the presented access token is
// blacklisted for its remaining validity and the stored refresh token and
// access-hash records are deleted. The three revocations run concurrently
// and are each best-effort; sign-out never fails the caller.
func (s *AuthService) SignOut(ctx context.Context, accessToken string, memberID int64) {
	const op = "services.auth.SignOut"

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		claims, err := s.jwt.ParseAccess(accessToken)
		if err != nil {
			// Expired or invalid tokens need no blacklist entry.
			return
		}
		remaining := claims.Remaining()
		if remaining < time.Second {
			// Blacklisting a token that dies within a second buys
			// nothing; the TTL store would discard it immediately.
			return
		}
		if err := s.tokens.Blacklist(ctx, auth.HashToken(accessToken), remaining); err != nil {
			s.logger.Warn("blacklist access token failed", "memberId", memberID, "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.tokens.DeleteRefresh(ctx, memberID); err != nil {
			s.logger.Warn("delete refresh token failed", "memberId", memberID, "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.tokens.DeleteAccessHash(ctx, memberID); err != nil {
			s.logger.Warn("delete access hash failed", "memberId", memberID, "error", err)
		}
	}()

	wg.Wait()
	s.logger.Info("member signed out", "memberId", memberID, "op", op)
}

// Validate checks an access token for authentication. The blacklist is
// consulted before signature verification so revoked tokens are rejected
// even if they would otherwise still verify.
func (s *AuthService) Validate(ctx context.Context, accessToken string) (*auth.Claims, error) {
	const op = "services.auth.Validate"

	revoked, err := s.tokens.IsBlacklisted(ctx, auth.HashToken(accessToken))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if revoked {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}

	claims, err := s.jwt.ParseAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

func (s *AuthService) issuePair(ctx context.Context, member *datatypes.Member) (*datatypes.AuthInfo, error) {
	accessToken, err := s.jwt.IssueAccess(member.ID, []datatypes.Role{member.Role})
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwt.IssueRefresh(member.ID)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.SaveRefresh(ctx, member.ID, refreshToken, s.jwt.RefreshTTL()); err != nil {
		return nil, err
	}
	if err := s.tokens.SaveAccessHash(ctx, member.ID, auth.HashToken(accessToken), s.jwt.AccessTTL()); err != nil {
		return nil, err
	}

	return &datatypes.AuthInfo{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		RefreshTokenTTL: int64(s.jwt.RefreshTTL().Seconds()),
		MemberID:        member.ID,
		Email:           member.Email,
		Role:            member.Role,
	}, nil
}

// usableErr maps an account's status to its sentinel. Order mirrors the
// checks clients depend on: deleted beats suspended beats inactive.
func usableErr(member *datatypes.Member) error {
	switch member.Status {
	case datatypes.StatusDeleted:
		return ErrAccountDeleted
	case datatypes.StatusSuspended:
		return ErrAccountSuspended
	case datatypes.StatusInactive:
		return ErrAccountInactive
	default:
		return nil
	}
}

// dummyHash keeps credential probing timing-neutral on unknown emails.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcrypt.DefaultCost)
