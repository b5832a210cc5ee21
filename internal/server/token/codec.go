// Package token signs and verifies the compact purpose-scoped tokens used
// for access, refresh, and the email verification / password reset flows.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dkarpov/authvault/internal/common"
)

// Purpose restricts where a token may be redeemed. Decode rejects a token
// whose purpose differs from what the consuming endpoint expects, so an
// access token can never stand in for a refresh token.
type Purpose string

const (
	PurposeAccess        Purpose = "access"
	PurposeRefresh       Purpose = "refresh"
	PurposeVerifyEmail   Purpose = "verify_email"
	PurposeResetPassword Purpose = "reset_password"
)

// Claims carries the registered JWT claims plus the token purpose. The jti
// registered claim holds a random nonce so issuing components can revoke or
// consume a token by id.
type Claims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"purpose"`
}

// Codec issues and verifies HS256-signed tokens. It always signs with the
// current key; during key rotation Decode also accepts signatures made with
// the previous key until those tokens expire.
type Codec struct {
	current  []byte
	previous []byte
	leeway   time.Duration
	now      func() time.Time
}

func NewCodec(currentKey, previousKey string, leeway time.Duration) *Codec {
	c := &Codec{
		current: []byte(currentKey),
		leeway:  leeway,
		now:     time.Now,
	}
	if previousKey != "" {
		c.previous = []byte(previousKey)
	}
	return c
}

// Issue mints a token for subject with the given purpose and ttl, returning
// the signed string and the token id (jti).
func (c *Codec) Issue(subject string, purpose Purpose, ttl time.Duration) (string, string, error) {
	now := c.now()
	jti := uuid.NewString()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
		Purpose: purpose,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.current)
	if err != nil {
		return "", "", fmt.Errorf("signing token: %w", err)
	}

	return signed, jti, nil
}

// Decode verifies signature, expiry (with leeway), and purpose, and returns
// the claims. Errors are normalized to the common sentinels: ErrTokenExpired,
// ErrTokenMalformed, ErrPurposeMismatch.
func (c *Codec) Decode(tokenString string, expected Purpose) (*Claims, error) {
	claims, err := c.parseWithKey(tokenString, c.current)
	if err != nil && c.previous != nil && errors.Is(err, common.ErrTokenMalformed) {
		claims, err = c.parseWithKey(tokenString, c.previous)
	}
	if err != nil {
		return nil, err
	}

	if claims.Purpose != expected {
		return nil, common.ErrPurposeMismatch
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, common.ErrTokenMalformed
	}

	return claims, nil
}

func (c *Codec) parseWithKey(tokenString string, key []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrTokenMalformed
	}
	if !token.Valid {
		return nil, common.ErrTokenMalformed
	}

	return claims, nil
}
