// Package session orchestrates login, refresh-token rotation, logout, and
// access-token authorization. All credential and token failures leave this
// package as one of the common sentinels; the HTTP layer flattens them to
// uniform 401s so clients cannot tell which accounts exist.
package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dkarpov/authvault/internal/common"
	"github.com/dkarpov/authvault/internal/logging"
	"github.com/dkarpov/authvault/internal/server/config"
	"github.com/dkarpov/authvault/internal/server/identitycache"
	"github.com/dkarpov/authvault/internal/server/models"
	"github.com/dkarpov/authvault/internal/server/password"
	"github.com/dkarpov/authvault/internal/server/ratelimit"
	"github.com/dkarpov/authvault/internal/server/repositories/repomanager"
	"github.com/dkarpov/authvault/internal/server/token"
)

// RouteLogin is the rate-limit class for credential guessing; buckets are
// keyed by the presented identity, not the client address.
const RouteLogin = "login"

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type Service struct {
	db         *sql.DB
	repos      repomanager.RepositoryManager
	codec      *token.Codec
	hasher     *password.Hasher
	cache      *identitycache.Cache
	limiter    ratelimit.Limiter
	logger     logging.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewService(db *sql.DB, repos repomanager.RepositoryManager, codec *token.Codec,
	hasher *password.Hasher, cache *identitycache.Cache, limiter ratelimit.Limiter,
	logger logging.Logger, cfg *config.Config) *Service {

	return &Service{
		db:         db,
		repos:      repos,
		codec:      codec,
		hasher:     hasher,
		cache:      cache,
		limiter:    limiter,
		logger:     logger.With("module", "session"),
		accessTTL:  cfg.AccessTokenValidityDuration,
		refreshTTL: cfg.RefreshTokenValidityDuration,
	}
}

// Register creates a new, unconfirmed account. Duplicate email or username
// surfaces as common.ErrAlreadyExists.
func (s *Service) Register(ctx context.Context, username, email, secret string) (*models.User, error) {
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{
		UserName:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         "user",
	}

	created, err := s.repos.Users(s.db).Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, common.ErrAlreadyExists
		}
		return nil, common.ErrorInternal
	}

	return created, nil
}

// Login verifies the secret and, on success, starts a fresh refresh chain
// and returns a new token pair.
//
// Unknown identity, wrong password, and unconfirmed email all yield the same
// common.ErrorUnauthorized, and the unknown-identity path still burns a hash
// verification so response timing stays flat. Failed attempts consume the
// identity's login budget; once it is exhausted every further attempt gets
// common.ErrTooManyRequests whether or not the credentials are right.
func (s *Service) Login(ctx context.Context, email, secret string) (*TokenPair, error) {
	blocked, _, limErr := s.limiter.Blocked(ctx, email, RouteLogin)
	if limErr != nil {
		s.logger.Error(ctx, "login rate check degraded", "error", limErr)
	}
	if blocked {
		return nil, common.ErrTooManyRequests
	}

	user, err := s.repos.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.DummyVerify(secret)
			s.recordLoginFailure(ctx, email)
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	ok, err := s.hasher.Verify(secret, user.PasswordHash)
	if err != nil {
		s.logger.Error(ctx, "stored credential unreadable", "user_id", user.ID, "error", err)
		return nil, err
	}
	if !ok {
		s.recordLoginFailure(ctx, email)
		return nil, common.ErrorUnauthorized
	}

	if !user.Confirmed {
		return nil, common.ErrorUnauthorized
	}

	pair, refreshID, err := s.mintPair(user.ID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	if err := s.repos.RefreshChains(s.db).Replace(ctx, user.ID, refreshID, s.refreshTTL); err != nil {
		return nil, common.ErrorInternal
	}

	return pair, nil
}

// Refresh rotates the presented refresh token for a new pair. The presented
// jti must still be the subject's current chain head: rotation is a
// compare-and-swap, so of two racing calls with the same token exactly one
// succeeds. A stale jti is treated as theft evidence; the whole chain is
// revoked and ErrSessionCompromised returned, which also kills the token the
// thief (or the victim) still holds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.codec.Decode(refreshToken, token.PurposeRefresh)
	if err != nil {
		return nil, err
	}

	pair, newID, err := s.mintPair(claims.Subject)
	if err != nil {
		return nil, common.ErrorInternal
	}

	won, err := s.repos.RefreshChains(s.db).Rotate(ctx, claims.Subject, claims.ID, newID, s.refreshTTL)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if !won {
		return nil, s.handleRotationLoss(ctx, claims.Subject, claims.ID)
	}

	return pair, nil
}

// Logout revokes the subject's refresh chain. It is idempotent: revoking an
// already revoked or unknown chain succeeds, and a token that no longer
// decodes is treated as already logged out.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.Decode(refreshToken, token.PurposeRefresh)
	if err != nil {
		return nil
	}

	if err := s.repos.RefreshChains(s.db).Revoke(ctx, claims.Subject); err != nil {
		return common.ErrorInternal
	}

	return nil
}

// Authorize validates an access token and resolves the subject through the
// identity cache.
func (s *Service) Authorize(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := s.codec.Decode(accessToken, token.PurposeAccess)
	if err != nil {
		return nil, err
	}

	user, err := s.cache.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	return user, nil
}

// RevokeChain force-revokes the subject's refresh chain. The verification
// flow calls it after a password reset.
func (s *Service) RevokeChain(ctx context.Context, userID string) error {
	return s.repos.RefreshChains(s.db).Revoke(ctx, userID)
}

func (s *Service) mintPair(userID string) (*TokenPair, string, error) {
	access, _, err := s.codec.Issue(userID, token.PurposeAccess, s.accessTTL)
	if err != nil {
		return nil, "", err
	}

	refresh, refreshID, err := s.codec.Issue(userID, token.PurposeRefresh, s.refreshTTL)
	if err != nil {
		return nil, "", err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, refreshID, nil
}

func (s *Service) handleRotationLoss(ctx context.Context, userID, presentedID string) error {
	chain, err := s.repos.RefreshChains(s.db).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorUnauthorized
		}
		return common.ErrorInternal
	}

	if chain.Revoked {
		return common.ErrSessionCompromised
	}

	// The chain is live but the presented jti is not its head: a superseded
	// token came back. Kill the chain before reporting.
	s.logger.Warn(ctx, "refresh token reuse detected", "user_id", userID, "presented_jti", presentedID)
	if err := s.repos.RefreshChains(s.db).Revoke(ctx, userID); err != nil {
		return common.ErrorInternal
	}

	return common.ErrSessionCompromised
}

func (s *Service) recordLoginFailure(ctx context.Context, email string) {
	if _, _, err := s.limiter.Allow(ctx, email, RouteLogin); err != nil {
		s.logger.Error(ctx, "recording login failure degraded", "error", err)
	}
}
