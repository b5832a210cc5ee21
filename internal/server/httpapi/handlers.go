package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkarpov/authvault/internal/common"
	"github.com/dkarpov/authvault/internal/logging"
	"github.com/dkarpov/authvault/internal/server/identitycache"
	"github.com/dkarpov/authvault/internal/server/repositories/repomanager"
	"github.com/dkarpov/authvault/internal/server/session"
	"github.com/dkarpov/authvault/internal/server/verification"
)

// AuthHandler serves the credential endpoints. Internally distinct token and
// credential errors are flattened to a uniform 401 on the way out; the
// distinctions stay in the logs.
type AuthHandler struct {
	sessions        *session.Service
	verifications   *verification.Service
	avatars         AvatarURLs
	users           userStore
	cache           *identitycache.Cache
	logger          logging.Logger
	loginRetryAfter time.Duration
}

// AvatarURLs is what the handlers need from the avatar subsystem; the
// production implementation is the presigning avatar.Service.
type AvatarURLs interface {
	UploadURL(ctx context.Context, userID string) (key, url string, err error)
	DownloadURL(ctx context.Context, key string) (string, error)
	PublicURL(key string) string
}

// userStore is the slice of the record store the handlers touch directly.
type userStore interface {
	UpdateAvatar(ctx context.Context, userID, url string) error
}

type repoUserStore struct {
	repos repomanager.RepositoryManager
	db    *sql.DB
}

func (s repoUserStore) UpdateAvatar(ctx context.Context, userID, url string) error {
	return s.repos.Users(s.db).UpdateAvatar(ctx, userID, url)
}

func NewAuthHandler(sessions *session.Service, verifications *verification.Service,
	avatars AvatarURLs, repos repomanager.RepositoryManager, db *sql.DB,
	cache *identitycache.Cache, logger logging.Logger, loginRetryAfter time.Duration) *AuthHandler {

	return &AuthHandler{
		sessions:        sessions,
		verifications:   verifications,
		avatars:         avatars,
		users:           repoUserStore{repos: repos, db: db},
		cache:           cache,
		logger:          logger.With("module", "httpapi"),
		loginRetryAfter: loginRetryAfter,
	}
}

type registerRequest struct {
	UserName string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.sessions.Register(c.Request.Context(), req.UserName, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// confirmation mail goes out in the background
	_ = h.verifications.RequestEmailVerification(c.Request.Context(), user.Email)

	c.JSON(http.StatusCreated, gin.H{
		"id":       user.ID,
		"username": user.UserName,
		"email":    user.Email,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	pair, err := h.sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrTooManyRequests) {
			setRetryAfter(c, h.loginRetryAfter)
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	pair, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.sessions.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if _, err := h.verifications.ConfirmEmail(c.Request.Context(), req.Token); err != nil {
		h.writeVerificationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "email confirmed"})
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *AuthHandler) RequestEmail(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.verifications.RequestEmailVerification(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "check your email for a confirmation link"})
}

func (h *AuthHandler) RequestReset(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.verifications.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "check your email for a reset link"})
}

type resetRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.verifications.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		h.writeVerificationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.UserName,
		"email":      user.Email,
		"confirmed":  user.Confirmed,
		"role":       user.Role,
		"avatar_url": user.AvatarURL,
	})
}

func (h *AuthHandler) AvatarUploadURL(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	key, url, err := h.avatars.UploadURL(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error(c.Request.Context(), "presigning avatar upload failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key, "upload_url": url})
}

type avatarRequest struct {
	Key string `json:"key" binding:"required"`
}

// AvatarViewURL presigns a time-limited GET for an uploaded object, for
// clients that cannot read the bucket anonymously.
func (h *AuthHandler) AvatarViewURL(c *gin.Context) {
	if _, ok := CurrentUser(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req avatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	url, err := h.avatars.DownloadURL(c.Request.Context(), req.Key)
	if err != nil {
		h.logger.Error(c.Request.Context(), "presigning avatar download failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"download_url": url})
}

func (h *AuthHandler) SetAvatar(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req avatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	url := h.avatars.PublicURL(req.Key)
	if err := h.users.UpdateAvatar(c.Request.Context(), user.ID, url); err != nil {
		h.writeError(c, err)
		return
	}

	h.cache.Invalidate(user.ID)
	c.JSON(http.StatusOK, gin.H{"avatar_url": url})
}

// writeError flattens internal errors to outward responses. Every
// credential or token failure becomes the same 401 body.
func (h *AuthHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrTooManyRequests):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	case errors.Is(err, common.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already registered"})
	case errors.Is(err, common.ErrCorruptCredential):
		h.logger.Error(c.Request.Context(), "credential storage corruption", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrSessionCompromised),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrTokenMalformed),
		errors.Is(err, common.ErrPurposeMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// writeVerificationError maps redemption failures for the verify/reset
// endpoints, where a dead token answers 410.
func (h *AuthHandler) writeVerificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrTokenConsumed),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrTokenMalformed),
		errors.Is(err, common.ErrPurposeMismatch):
		c.JSON(http.StatusGone, gin.H{"error": "token no longer valid"})
	default:
		h.writeError(c, err)
	}
}
