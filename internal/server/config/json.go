package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dkarpov/authvault/internal/flagx"
	"github.com/dkarpov/authvault/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. Duration fields accept both strings such as "15m" and integer
// nanoseconds. After unmarshalling, non-zero values are copied into the
// runtime Config.
type JsonConfig struct {
	EndpointAddrHTTP string `json:"endpoint_addr_http"`
	DatabaseDSN      string `json:"database_dsn"`

	SecretKey         string `json:"secret_key"`
	PreviousSecretKey string `json:"previous_secret_key"`

	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	VerifyTokenValidityDuration  timex.Duration `json:"verify_token_validity_duration"`
	ResetTokenValidityDuration   timex.Duration `json:"reset_token_validity_duration"`
	TokenLeeway                  timex.Duration `json:"token_leeway"`

	BcryptCost int `json:"bcrypt_cost"`

	CacheCapacity int            `json:"cache_capacity"`
	CacheTTL      timex.Duration `json:"cache_ttl"`

	LoginRateLimit  int            `json:"login_rate_limit"`
	LoginRateWindow timex.Duration `json:"login_rate_window"`
	APIRateLimit    int            `json:"api_rate_limit"`
	APIRateWindow   timex.Duration `json:"api_rate_window"`

	RedisAddr         string `json:"redis_addr"`
	RateLimitFailOpen bool   `json:"rate_limit_fail_open"`

	SMTPAddr     string `json:"smtp_addr"`
	SMTPFrom     string `json:"smtp_from"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flags; when
// neither is set, no JSON file is loaded. Zero values in the file keep the
// defaults. Unreadable or invalid files panic, matching flag parsing.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.PreviousSecretKey, c.PreviousSecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.VerifyTokenValidityDuration, c.VerifyTokenValidityDuration)
	setDuration(&config.ResetTokenValidityDuration, c.ResetTokenValidityDuration)
	setDuration(&config.TokenLeeway, c.TokenLeeway)
	setInt(&config.BcryptCost, c.BcryptCost)
	setInt(&config.CacheCapacity, c.CacheCapacity)
	setDuration(&config.CacheTTL, c.CacheTTL)
	setInt(&config.LoginRateLimit, c.LoginRateLimit)
	setDuration(&config.LoginRateWindow, c.LoginRateWindow)
	setInt(&config.APIRateLimit, c.APIRateLimit)
	setDuration(&config.APIRateWindow, c.APIRateWindow)
	setString(&config.RedisAddr, c.RedisAddr)
	if c.RateLimitFailOpen {
		config.RateLimitFailOpen = true
	}
	setString(&config.SMTPAddr, c.SMTPAddr)
	setString(&config.SMTPFrom, c.SMTPFrom)
	setString(&config.SMTPUser, c.SMTPUser)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
