// Package httpapi exposes the auth core over HTTP. Route guards are explicit
// middleware objects: the rate limiter runs first, then bearer-token
// authorization, then the handler.
package httpapi

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkarpov/authvault/internal/logging"
	"github.com/dkarpov/authvault/internal/server/models"
	"github.com/dkarpov/authvault/internal/server/ratelimit"
	"github.com/dkarpov/authvault/internal/server/session"
)

const userContextKey = "authvault.user"

// RouteAPI is the rate-limit class for general endpoints, keyed by client IP.
const RouteAPI = "api"

// RateLimit returns middleware that charges each request against the client
// IP's budget for the given route class and answers 429 with a Retry-After
// hint once the budget is gone.
func RateLimit(limiter ratelimit.Limiter, route string, logger logging.Logger) gin.HandlerFunc {
	log := logger.With("module", "httpapi")
	return func(c *gin.Context) {
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), c.ClientIP(), route)
		if err != nil {
			log.Error(c.Request.Context(), "rate limit check degraded", "route", route, "error", err)
		}
		if !allowed {
			setRetryAfter(c, retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// Auth validates the Authorization bearer token and attaches the resolved
// user to the request context.
type Auth struct {
	Sessions *session.Service
}

func NewAuthMiddleware(sessions *session.Service) *Auth {
	return &Auth{Sessions: sessions}
}

func (m *Auth) RequireUser(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := m.Sessions.Authorize(c.Request.Context(), parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(userContextKey, user)
	c.Next()
}

// CurrentUser returns the user attached by RequireUser.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

// RequestLogger logs one line per request with method, path, status, and
// elapsed time.
func RequestLogger(logger logging.Logger) gin.HandlerFunc {
	log := logger.With("module", "httpapi")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).String(),
		)
	}
}

func setRetryAfter(c *gin.Context, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	seconds := int64(math.Ceil(retryAfter.Seconds()))
	c.Header("Retry-After", fmt.Sprintf("%d", seconds))
}
