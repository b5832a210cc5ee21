// Package server initializes and runs the auth server: it opens the record
// store, runs migrations, assembles the services, and serves the HTTP API
// until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/dkarpov/authvault/internal/logging"
	"github.com/dkarpov/authvault/internal/server/avatar"
	"github.com/dkarpov/authvault/internal/server/config"
	"github.com/dkarpov/authvault/internal/server/httpapi"
	"github.com/dkarpov/authvault/internal/server/identitycache"
	"github.com/dkarpov/authvault/internal/server/mail"
	"github.com/dkarpov/authvault/internal/server/models"
	"github.com/dkarpov/authvault/internal/server/password"
	"github.com/dkarpov/authvault/internal/server/ratelimit"
	"github.com/dkarpov/authvault/internal/server/repositories/repomanager"
	"github.com/dkarpov/authvault/internal/server/session"
	"github.com/dkarpov/authvault/internal/server/token"
	"github.com/dkarpov/authvault/internal/server/verification"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	server        *http.Server
	verifications *verification.Service
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := openDB(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	codec := token.NewCodec(cfg.SecretKey, cfg.PreviousSecretKey, cfg.TokenLeeway)
	hasher := password.NewHasher(cfg.BcryptCost)

	cache := identitycache.New(cfg.CacheCapacity, cfg.CacheTTL,
		func(ctx context.Context, identity string) (*models.User, error) {
			return repos.Users(db).GetByID(ctx, identity)
		})

	rules := ratelimit.Rules{
		Default: ratelimit.Rule{Limit: cfg.APIRateLimit, Window: cfg.APIRateWindow},
		PerRoute: map[string]ratelimit.Rule{
			session.RouteLogin: {Limit: cfg.LoginRateLimit, Window: cfg.LoginRateWindow},
		},
	}
	limiter := newLimiter(cfg, rules, logger)

	mailer := newMailer(cfg, logger)

	sessions := session.NewService(db, repos, codec, hasher, cache, limiter, logger, cfg)
	verifications := verification.NewService(db, repos, codec, hasher, cache, mailer, logger, cfg)
	avatars := avatar.NewService(cfg)

	handler := httpapi.NewAuthHandler(sessions, verifications, avatars, repos, db,
		cache, logger, cfg.LoginRateWindow)
	router := httpapi.NewRouter(handler, sessions, limiter, logger)

	srv := &http.Server{
		Addr:    cfg.EndpointAddrHTTP,
		Handler: router,
	}

	return &App{config: cfg, logger: logger, db: db, server: srv, verifications: verifications}, nil
}

// pruneConsumedTokens periodically deletes redeemed-token rows that have
// expired, starting with one pass at startup.
func (app *App) pruneConsumedTokens(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := app.verifications.PruneExpired(ctx)
		if err != nil {
			app.logger.Error(ctx, "pruning consumed tokens failed", "error", err)
		} else if n > 0 {
			app.logger.Info(ctx, "pruned consumed tokens", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// openDB opens the record store and pings it with exponential backoff so the
// server survives starting before the database is ready.
func openDB(ctx context.Context, dsn string, logger logging.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn(ctx, "database not ready, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func newLimiter(cfg *config.Config, rules ratelimit.Rules, logger logging.Logger) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(rules)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return ratelimit.NewRedisLimiter(client, rules, cfg.RateLimitFailOpen, logger)
}

func newMailer(cfg *config.Config, logger logging.Logger) mail.Dispatcher {
	if cfg.SMTPAddr == "" {
		return mail.NewLogDispatcher(logger)
	}
	return mail.NewSMTPDispatcher(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPassword)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	go app.pruneConsumedTokens(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		app.logger.Error(ctx, "http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "shutdown error", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(shutdownCtx, "db close error", "error", err)
	}

	app.logger.Info(context.Background(), "Stopped")
}
