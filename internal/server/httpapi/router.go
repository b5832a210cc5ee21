package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/dkarpov/authvault/internal/logging"
	"github.com/dkarpov/authvault/internal/server/ratelimit"
	"github.com/dkarpov/authvault/internal/server/session"
)

// NewRouter assembles the route tree. The general API budget is charged on
// every request; the login endpoint additionally carries its own
// per-identity budget inside the session service.
func NewRouter(handler *AuthHandler, sessions *session.Service,
	limiter ratelimit.Limiter, logger logging.Logger) *gin.Engine {

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(RateLimit(limiter, RouteAPI, logger))

	authz := NewAuthMiddleware(sessions)

	auth := router.Group("/auth")
	{
		auth.POST("/register", handler.Register)
		auth.POST("/login", handler.Login)
		auth.POST("/refresh", handler.Refresh)
		auth.POST("/logout", handler.Logout)
		auth.POST("/verify-email", handler.VerifyEmail)
		auth.POST("/request-email", handler.RequestEmail)
		auth.POST("/request-reset", handler.RequestReset)
		auth.POST("/reset-password", handler.ResetPassword)

		auth.GET("/me", authz.RequireUser, handler.Me)
		auth.POST("/avatar-url", authz.RequireUser, handler.AvatarUploadURL)
		auth.POST("/avatar-view", authz.RequireUser, handler.AvatarViewURL)
		auth.POST("/avatar", authz.RequireUser, handler.SetAvatar)
	}

	return router
}
