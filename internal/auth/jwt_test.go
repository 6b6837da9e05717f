package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-adr/internal/config"
	"github.com/lorawan-server/lorawan-adr/pkg/crypto"
)

func TestGenerateAndValidateToken(t *testing.T) {
	m := NewJWTManager(&config.JWTConfig{Secret: "secret", AccessTokenTTL: time.Hour})

	token, expiresAt, err := m.GenerateToken("ops@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateTokenRejects(t *testing.T) {
	m := NewJWTManager(&config.JWTConfig{Secret: "secret", AccessTokenTTL: time.Hour})

	other := NewJWTManager(&config.JWTConfig{Secret: "other", AccessTokenTTL: time.Hour})
	foreign, _, err := other.GenerateToken("ops@example.com")
	require.NoError(t, err)

	expired := NewJWTManager(&config.JWTConfig{Secret: "secret", AccessTokenTTL: -time.Minute})
	old, _, err := expired.GenerateToken("ops@example.com")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Email: "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": foreign,
		"expired":      old,
		"none alg":     none,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.ValidateToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	m := NewJWTManager(&config.JWTConfig{Secret: "secret"})

	hash, err := crypto.HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, m.VerifyPassword("hunter2", hash))
	assert.False(t, m.VerifyPassword("hunter3", hash))
}
