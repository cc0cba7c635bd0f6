package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lektio/lektio/internal/security"
)

const issuer = "lektio"

// ErrInvalidSession is returned when a session token fails verification.
var ErrInvalidSession = errors.New("invalid session token")

// SessionManager issues and verifies HS256 session tokens. The session id
// travels as the jti claim.
type SessionManager struct {
	key []byte
	ttl time.Duration
}

// NewSessionManager creates a session manager from the configured signing
// key.
func NewSessionManager(signingKey string, ttl time.Duration) *SessionManager {
	return &SessionManager{key: []byte(signingKey), ttl: ttl}
}

// Issue mints a session token for the user. Returns the signed token and
// the session id.
func (m *SessionManager) Issue(tenantID string, user security.User) (string, string, error) {
	sessionID := uuid.NewString()
	now := time.Now()

	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": user.ID,
		"jti": sessionID,
		"tid": tenantID,
		"rol": string(user.Role),
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", "", err
	}
	return token, sessionID, nil
}

// Verify validates the token signature and expiry and extracts the session
// claims the pipeline needs.
func (m *SessionManager) Verify(_ context.Context, token string) (security.SessionClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return security.SessionClaims{}, ErrInvalidSession
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return security.SessionClaims{}, ErrInvalidSession
	}
	sub, _ := claims["sub"].(string)
	jti, _ := claims["jti"].(string)
	if sub == "" || jti == "" {
		return security.SessionClaims{}, ErrInvalidSession
	}
	return security.SessionClaims{UserID: sub, SessionID: jti}, nil
}
