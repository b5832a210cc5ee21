// Package verification issues and redeems the single-use tokens behind
// email confirmation and password reset. The token codec alone cannot make
// redemption one-shot, so every successful redemption records the jti in the
// consumed-token store inside the same transaction as its side effects.
package verification

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dkarpov/authvault/internal/common"
	"github.com/dkarpov/authvault/internal/dbx"
	"github.com/dkarpov/authvault/internal/logging"
	"github.com/dkarpov/authvault/internal/server/config"
	"github.com/dkarpov/authvault/internal/server/identitycache"
	"github.com/dkarpov/authvault/internal/server/mail"
	"github.com/dkarpov/authvault/internal/server/models"
	"github.com/dkarpov/authvault/internal/server/password"
	"github.com/dkarpov/authvault/internal/server/repositories/repomanager"
	"github.com/dkarpov/authvault/internal/server/token"
)

type Service struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	codec     *token.Codec
	hasher    *password.Hasher
	cache     *identitycache.Cache
	mailer    mail.Dispatcher
	logger    logging.Logger
	verifyTTL time.Duration
	resetTTL  time.Duration

	// dispatch runs the mail send; replaced in tests to run synchronously.
	dispatch func(fn func())
}

func NewService(db *sql.DB, repos repomanager.RepositoryManager, codec *token.Codec,
	hasher *password.Hasher, cache *identitycache.Cache, mailer mail.Dispatcher,
	logger logging.Logger, cfg *config.Config) *Service {

	return &Service{
		db:        db,
		repos:     repos,
		codec:     codec,
		hasher:    hasher,
		cache:     cache,
		mailer:    mailer,
		logger:    logger.With("module", "verification"),
		verifyTTL: cfg.VerifyTokenValidityDuration,
		resetTTL:  cfg.ResetTokenValidityDuration,
		dispatch:  func(fn func()) { go fn() },
	}
}

// RequestEmailVerification mails a confirmation token to the address.
// It always reports success: whether the account exists, or is already
// confirmed, is not observable from the outside.
func (s *Service) RequestEmailVerification(ctx context.Context, email string) error {
	user, err := s.repos.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return common.ErrorInternal
	}
	if user.Confirmed {
		return nil
	}

	signed, _, err := s.codec.Issue(user.ID, token.PurposeVerifyEmail, s.verifyTTL)
	if err != nil {
		return common.ErrorInternal
	}

	s.send(user.Email, mail.TemplateVerifyEmail, signed)
	return nil
}

// RequestPasswordReset mails a reset token to the address, with the same
// no-oracle behavior as RequestEmailVerification.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repos.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return common.ErrorInternal
	}

	signed, _, err := s.codec.Issue(user.ID, token.PurposeResetPassword, s.resetTTL)
	if err != nil {
		return common.ErrorInternal
	}

	s.send(user.Email, mail.TemplateResetPassword, signed)
	return nil
}

// ConfirmEmail redeems a verification token and marks the account confirmed.
// The jti is consumed in the same transaction, so a second redemption of the
// same token fails with ErrTokenConsumed even though it still decodes.
func (s *Service) ConfirmEmail(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.codec.Decode(tokenString, token.PurposeVerifyEmail)
	if err != nil {
		return "", err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fresh, err := s.consume(ctx, tx, claims)
		if err != nil {
			return err
		}
		if !fresh {
			return common.ErrTokenConsumed
		}

		if err := s.repos.Users(tx).MarkVerified(ctx, claims.Subject); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorUnauthorized
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.cache.Invalidate(claims.Subject)
	return claims.Subject, nil
}

// ResetPassword redeems a reset token, installs the new credential, and
// revokes the subject's refresh chain so stolen sessions die with the old
// password. Consumption, credential update, and revocation commit together
// or not at all.
func (s *Service) ResetPassword(ctx context.Context, tokenString, newSecret string) error {
	claims, err := s.codec.Decode(tokenString, token.PurposeResetPassword)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newSecret)
	if err != nil {
		return common.ErrorInternal
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fresh, err := s.consume(ctx, tx, claims)
		if err != nil {
			return err
		}
		if !fresh {
			return common.ErrTokenConsumed
		}

		if err := s.repos.Users(tx).UpdateCredential(ctx, claims.Subject, hash); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorUnauthorized
			}
			return err
		}

		return s.repos.RefreshChains(tx).Revoke(ctx, claims.Subject)
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(claims.Subject)
	return nil
}

// PruneExpired drops consumed-token rows whose expiry has passed; the codec
// would reject those tokens anyway, so the rows only take up space. The
// server calls this periodically.
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	return s.repos.ConsumedTokens(s.db).DeleteExpired(ctx)
}

func (s *Service) consume(ctx context.Context, tx dbx.DBTX, claims *token.Claims) (bool, error) {
	return s.repos.ConsumedTokens(tx).Consume(ctx, &models.ConsumedToken{
		TokenID:   claims.ID,
		UserID:    claims.Subject,
		Purpose:   string(claims.Purpose),
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

func (s *Service) send(recipient, template, signed string) {
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.mailer.Send(ctx, recipient, template, signed); err != nil {
			s.logger.Error(ctx, "mail dispatch failed", "recipient", recipient, "template", template, "error", err)
		}
	})
}
