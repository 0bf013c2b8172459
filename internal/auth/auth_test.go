package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("client-key", "client-secret")

	token, err := service.GenerateToken(Credentials{APIKey: "client-key", APISecret: "client-secret"})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "client-key", claims.ClientID)
	assert.Contains(t, claims.Permissions, "submit_orders")
}

func TestGenerateTokenInvalidCredentials(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("client-key", "client-secret")

	_, err := service.GenerateToken(Credentials{APIKey: "client-key", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.GenerateToken(Credentials{APIKey: "unknown", APISecret: "client-secret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := NewService("secret-a")
	issuer.RegisterAPICredentials("client-key", "client-secret")
	token, err := issuer.GenerateToken(Credentials{APIKey: "client-key", APISecret: "client-secret"})
	require.NoError(t, err)

	verifier := NewService("secret-b")
	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}

func TestGetClientID(t *testing.T) {
	assert.Equal(t, "client-key", GetClientID(jwt.MapClaims{"client_id": "client-key"}))
	assert.Empty(t, GetClientID(jwt.MapClaims{}))
	assert.Empty(t, GetClientID(jwt.MapClaims{"client_id": 42}))
	assert.Empty(t, GetClientID("not-claims"))
	assert.Empty(t, GetClientID(nil))
}
