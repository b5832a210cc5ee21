package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkarpov/authvault/internal/common"
)

func newTestCodec(leeway time.Duration) *Codec {
	return NewCodec("current-key", "", leeway)
}

func TestIssueDecode_Roundtrip(t *testing.T) {
	c := newTestCodec(0)

	signed, jti, err := c.Issue("u1", PurposeAccess, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, signed)
	require.NotEmpty(t, jti)

	claims, err := c.Decode(signed, PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, jti, claims.ID)
	assert.Equal(t, PurposeAccess, claims.Purpose)
}

func TestDecode_PurposeMismatch(t *testing.T) {
	c := newTestCodec(0)

	signed, _, err := c.Issue("u1", PurposeAccess, time.Minute)
	require.NoError(t, err)

	_, err = c.Decode(signed, PurposeRefresh)
	assert.ErrorIs(t, err, common.ErrPurposeMismatch)
}

func TestDecode_MissingExpiryRejected(t *testing.T) {
	c := newTestCodec(0)

	// signed with the right key but no exp claim: such a token would
	// otherwise never expire
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "u1",
			IssuedAt: jwt.NewNumericDate(time.Now()),
			ID:       "jti-1",
		},
		Purpose: PurposeAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("current-key"))
	require.NoError(t, err)

	_, err = c.Decode(signed, PurposeAccess)
	assert.ErrorIs(t, err, common.ErrTokenMalformed)
}

func TestDecode_Expired(t *testing.T) {
	c := newTestCodec(0)

	signed, _, err := c.Issue("u1", PurposeAccess, time.Minute)
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = c.Decode(signed, PurposeAccess)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestDecode_ExpiredWithinLeeway(t *testing.T) {
	c := newTestCodec(10 * time.Second)

	issuedAt := time.Now()
	c.now = func() time.Time { return issuedAt }

	signed, _, err := c.Issue("u1", PurposeAccess, time.Minute)
	require.NoError(t, err)

	// 5s past expiry, inside the 10s leeway
	c.now = func() time.Time { return issuedAt.Add(time.Minute + 5*time.Second) }

	_, err = c.Decode(signed, PurposeAccess)
	assert.NoError(t, err)

	// 15s past expiry, outside the leeway
	c.now = func() time.Time { return issuedAt.Add(time.Minute + 15*time.Second) }

	_, err = c.Decode(signed, PurposeAccess)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestDecode_Malformed(t *testing.T) {
	c := newTestCodec(0)

	_, err := c.Decode("not.a.token", PurposeAccess)
	assert.ErrorIs(t, err, common.ErrTokenMalformed)
}

func TestDecode_TamperedSignature(t *testing.T) {
	c := newTestCodec(0)

	signed, _, err := c.Issue("u1", PurposeAccess, time.Minute)
	require.NoError(t, err)

	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + "AAAA" + parts[2][4:]

	_, err = c.Decode(tampered, PurposeAccess)
	assert.ErrorIs(t, err, common.ErrTokenMalformed)
}

func TestDecode_WrongKey(t *testing.T) {
	a := NewCodec("key-a", "", 0)
	b := NewCodec("key-b", "", 0)

	signed, _, err := a.Issue("u1", PurposeAccess, time.Minute)
	require.NoError(t, err)

	_, err = b.Decode(signed, PurposeAccess)
	assert.ErrorIs(t, err, common.ErrTokenMalformed)
}

func TestDecode_PreviousKeyAccepted(t *testing.T) {
	old := NewCodec("old-key", "", 0)
	rotated := NewCodec("new-key", "old-key", 0)

	signed, _, err := old.Issue("u1", PurposeRefresh, time.Minute)
	require.NoError(t, err)

	claims, err := rotated.Decode(signed, PurposeRefresh)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
}

func TestIssue_UniqueTokenIDs(t *testing.T) {
	c := newTestCodec(0)

	_, a, err := c.Issue("u1", PurposeAccess, time.Minute)
	require.NoError(t, err)
	_, b, err := c.Issue("u1", PurposeAccess, time.Minute)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
