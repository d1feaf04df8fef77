package offserver

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestJWTAuth_GenerateAndValidate(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret", nil)

	token, err := jwtAuth.GenerateToken("user-123", "device-456", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtAuth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-123", claims.Subject)
	require.Equal(t, "device-456", claims.DeviceID)
	require.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestJWTAuth_RejectsBadTokens(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret", nil)

	expired, err := jwtAuth.GenerateToken("user", "device", -time.Minute)
	require.NoError(t, err)
	_, err = jwtAuth.ValidateToken(expired)
	require.Error(t, err)

	foreign, err := NewJWTAuth("other-secret", nil).GenerateToken("user", "device", time.Hour)
	require.NoError(t, err)
	_, err = jwtAuth.ValidateToken(foreign)
	require.Error(t, err)

	noDevice, err := jwtAuth.GenerateToken("user", "", time.Hour)
	require.NoError(t, err)
	_, err = jwtAuth.ValidateToken(noDevice)
	require.ErrorContains(t, err, "did")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &JWTClaims{
		DeviceID:         "device",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user", Issuer: tokenIssuer},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = jwtAuth.ValidateToken(unsigned)
	require.Error(t, err)
}
