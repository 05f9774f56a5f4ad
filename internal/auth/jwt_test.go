package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Quiet-Fox-Software/linkstash-back/internal/config"
)

func devConfig() *config.Config {
	return &config.Config{Env: config.EnvDevelopment, JWTSecret: "test-secret"}
}

func TestIssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer(devConfig())

	token, err := issuer.Issue(42)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), userID)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	issuer := NewTokenIssuer(devConfig())

	_, err := issuer.Verify("definitely-not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewTokenIssuer(&config.Config{Env: config.EnvDevelopment, JWTSecret: "other-secret"})
	token, err := other.Issue(42)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer(devConfig())
	issuer.ttl = -time.Minute

	token, err := issuer.Issue(42)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionCookieFlags(t *testing.T) {
	issuer := NewTokenIssuer(devConfig())

	ck := issuer.SessionCookie("token-value")
	assert.Equal(t, CookieName, ck.Name)
	assert.Equal(t, "token-value", ck.Value)
	assert.Equal(t, "/", ck.Path)
	assert.Equal(t, int(30*24*time.Hour/time.Second), ck.MaxAge)
	assert.True(t, ck.HttpOnly)
	assert.False(t, ck.Secure)
	assert.Equal(t, http.SameSiteStrictMode, ck.SameSite)

	prod := NewTokenIssuer(&config.Config{Env: config.EnvProduction, JWTSecret: "s"})
	assert.True(t, prod.SessionCookie("v").Secure)
}

func TestExpiredSessionCookie(t *testing.T) {
	issuer := NewTokenIssuer(devConfig())

	ck := issuer.ExpiredSessionCookie()
	assert.Equal(t, CookieName, ck.Name)
	assert.Empty(t, ck.Value)
	assert.Negative(t, ck.MaxAge)
	assert.True(t, ck.HttpOnly)
}
