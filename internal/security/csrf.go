package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sync"
	"time"
)

// csrfTokenTTL bounds how long a session's CSRF token stays valid without
// re-issue. Sessions are shorter-lived than this in practice.
const csrfTokenTTL = 24 * time.Hour

type csrfToken struct {
	value     string
	expiresAt time.Time
}

// CsrfValidator holds the per-session CSRF tokens issued at login and
// compares them against request-supplied tokens on state-changing methods.
type CsrfValidator struct {
	mu     sync.RWMutex
	tokens map[string]csrfToken
}

// NewCsrfValidator returns an empty validator.
func NewCsrfValidator() *CsrfValidator {
	return &CsrfValidator{tokens: make(map[string]csrfToken)}
}

// Issue generates and binds a fresh token for the session, replacing any
// previous one.
func (v *CsrfValidator) Issue(sessionID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	v.mu.Lock()
	v.tokens[sessionID] = csrfToken{value: token, expiresAt: time.Now().Add(csrfTokenTTL)}
	v.mu.Unlock()
	return token, nil
}

// Revoke drops the session's token, typically on logout.
func (v *CsrfValidator) Revoke(sessionID string) {
	v.mu.Lock()
	delete(v.tokens, sessionID)
	v.mu.Unlock()
}

// StateChanging reports whether the HTTP method requires CSRF validation.
func StateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Check compares the supplied token with the session's bound token in
// constant time. A missing supplied token, an unknown session, or an expired
// token all fail validation; none of them is an error.
func (v *CsrfValidator) Check(suppliedToken, sessionID string) bool {
	if suppliedToken == "" || sessionID == "" {
		return false
	}

	v.mu.RLock()
	bound, ok := v.tokens[sessionID]
	v.mu.RUnlock()
	if !ok || time.Now().After(bound.expiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(suppliedToken), []byte(bound.value)) == 1
}

// Sweep purges expired tokens. Called by the background sweeper.
func (v *CsrfValidator) Sweep(now time.Time) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	purged := 0
	for sid, tok := range v.tokens {
		if now.After(tok.expiresAt) {
			delete(v.tokens, sid)
			purged++
		}
	}
	return purged
}
