package config

import (
	"flag"
	"os"
	"time"

	"github.com/dkarpov/authvault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string        HTTP bind address (e.g., ":8080")
//	-d string        PostgreSQL DSN
//	-s string        token signing key
//	-sp string       previous signing key (rotation acceptance window)
//	-t int           access token validity, minutes
//	-r int           refresh token validity, minutes
//	-redis string    Redis address for the rate limiter backend
//	-failopen        rate limiter fails open when the store is unreachable
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in minutes.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-sp", "-t", "-r", "-redis", "-failopen"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "token signing key")
	fs.StringVar(&config.PreviousSecretKey, "sp", config.PreviousSecretKey, "previous token signing key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")

	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address for rate limiting")
	fs.BoolVar(&config.RateLimitFailOpen, "failopen", config.RateLimitFailOpen, "fail open when the rate limit store is unreachable")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
}
