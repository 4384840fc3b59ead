package auth

import (
	"testing"
	"time"

	"download-tracker/app/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "s3cret", Issuer: "download-tracker", ExpireTime: 1})

	token, err := svc.GenerateToken("dashboard", "tasks", 0)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.Subject)
	assert.Equal(t, "tasks", claims.Scope)
	assert.Equal(t, "download-tracker", claims.Issuer)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "s3cret", Issuer: "download-tracker", ExpireTime: 1})
	other := NewJWTService(config.JWTConfig{Secret: "different", Issuer: "download-tracker", ExpireTime: 1})

	foreign, err := other.GenerateToken("x", "", 0)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.Error(t, err)

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := svc.GenerateToken("x", "", time.Hour)
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.ValidateToken(expired)
	assert.Error(t, err)

	_, err = svc.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestDisabledWithoutSecret(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{})
	assert.False(t, svc.Enabled())

	_, err := svc.GenerateToken("x", "", 0)
	assert.ErrorIs(t, err, ErrAuthDisabled)
	_, err = svc.ValidateToken("anything")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}
