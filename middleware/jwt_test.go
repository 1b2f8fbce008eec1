package middleware_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mizutama/loreforge/server/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, err := middleware.GenerateToken(42, "secret", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := middleware.ParseToken(token, "secret")
	require.NoError(t, err)
	assert.EqualValues(t, 42, claims.AccountID)
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := middleware.GenerateToken(42, "secret", time.Hour)
	require.NoError(t, err)

	_, err = middleware.ParseToken(token, "other-secret")
	assert.ErrorIs(t, err, middleware.ErrInvalidToken)
}

func TestParseTokenForeignIssuer(t *testing.T) {
	// Correctly signed, but not minted by this service.
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := foreign.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = middleware.ParseToken(signed, "secret")
	assert.ErrorIs(t, err, middleware.ErrInvalidToken)
}

func TestParseTokenExpired(t *testing.T) {
	token, err := middleware.GenerateToken(42, "secret", -time.Minute)
	require.NoError(t, err)

	_, err = middleware.ParseToken(token, "secret")
	assert.Error(t, err)
}

func TestParseTokenGarbage(t *testing.T) {
	_, err := middleware.ParseToken("not-a-jwt", "secret")
	assert.Error(t, err)
}
