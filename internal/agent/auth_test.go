package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManagerGenerateAndVerifyRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, err := m.Generate("alice")
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestJWTManagerRejectsWrongSecret(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	token, err := m.Generate("alice")
	require.NoError(t, err)

	other := NewJWTManager("different-secret", time.Hour)
	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestJWTManagerRejectsExpiredToken(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Hour) // already-expired token
	token, err := m.Generate("alice")
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.Error(t, err)
}

func TestJWTAuthenticatorSucceedsWithSubject(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	token, err := m.Generate("alice")
	require.NoError(t, err)
	auth := JWTAuthenticator(m, func() string { return "unused" })

	creds, err := json.Marshal(map[string]string{"token": token})
	require.NoError(t, err)

	clientID, ok := auth(creds)
	assert.True(t, ok)
	assert.Equal(t, "alice", clientID)
}

func TestJWTAuthenticatorFailsOnBadToken(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	auth := JWTAuthenticator(m, func() string { return "unused" })

	creds, _ := json.Marshal(map[string]string{"token": "not-a-real-token"})
	_, ok := auth(creds)
	assert.False(t, ok)
}

func TestJWTAuthenticatorFailsOnMissingToken(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	auth := JWTAuthenticator(m, func() string { return "unused" })

	_, ok := auth(json.RawMessage(`{}`))
	assert.False(t, ok)
}
