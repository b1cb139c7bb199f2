// Authentication for the Agent's ingress handshake, adapted from
// go-server/internal/auth/jwt.go. The spec defines only the handshake
// shape (one line of JSON credentials in, a client id out); JWT bearer
// tokens are the concrete policy this fabric ships, following the
// teacher's choice, but any func matching Authenticator works.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator validates the one-line JSON credential frame a client sends
// immediately after connecting and returns the client id to assign on
// success. Per spec.md §4.5, a falsy return closes the connection without
// acknowledgment.
type Authenticator func(credentials json.RawMessage) (clientID string, ok bool)

// Claims is the JWT payload the default authenticator expects.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTManager issues and verifies the bearer tokens the default
// Authenticator checks.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewJWTManager builds a manager using secretKey for HMAC signing.
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

// Generate issues a token whose Subject becomes the client's assigned id.
func (m *JWTManager) Generate(clientID string) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			Issuer:    "pastry-agent",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify validates a token and returns its claims.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// credentialFrame is the one-line JSON object a client sends as its first
// message, e.g. {"token": "..."}.
type credentialFrame struct {
	Token string `json:"token"`
}

// JWTAuthenticator builds an Authenticator backed by m: the client's
// Subject claim, if the token verifies, becomes its client id. If the
// token carries no Subject, a fresh id (the caller-provided generator) is
// assigned instead — useful for anonymous/guest handshakes during
// development.
func JWTAuthenticator(m *JWTManager, generateID func() string) Authenticator {
	return func(credentials json.RawMessage) (string, bool) {
		var frame credentialFrame
		if err := json.Unmarshal(credentials, &frame); err != nil || frame.Token == "" {
			return "", false
		}

		claims, err := m.Verify(frame.Token)
		if err != nil {
			return "", false
		}

		if claims.Subject != "" {
			return claims.Subject, true
		}
		return generateID(), true
	}
}
