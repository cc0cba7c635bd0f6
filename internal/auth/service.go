// Package auth implements the login flow: credential verification against
// the directory, lockout enforcement, and session/CSRF token issuance.
package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lektio/lektio/internal/directory"
	"github.com/lektio/lektio/internal/security"
)

var (
	// ErrInvalidCredentials covers unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout is active.
	ErrAccountLocked = errors.New("account temporarily locked")
)

// Directory is the slice of the directory client the login flow needs.
type Directory interface {
	GetUserByEmail(ctx context.Context, tenantID, email string) (directory.Credential, error)
}

// LoginResult carries the issued tokens back to the transport layer.
type LoginResult struct {
	SessionToken string
	CSRFToken    string
	SessionID    string
	User         security.User
}

// Service is the authentication service.
type Service interface {
	Login(ctx context.Context, tenantID, email, password, ip, userAgent string) (LoginResult, error)
	Logout(ctx context.Context, sessionToken string)
}

type service struct {
	dir      Directory
	guard    *security.LoginAttemptGuard
	sessions *SessionManager
	csrf     *security.CsrfValidator
	logger   *zap.Logger
}

// NewService wires the authentication service.
func NewService(dir Directory, guard *security.LoginAttemptGuard, sessions *SessionManager, csrf *security.CsrfValidator, logger *zap.Logger) Service {
	return &service{dir: dir, guard: guard, sessions: sessions, csrf: csrf, logger: logger}
}

func (s *service) Login(ctx context.Context, tenantID, email, password, ip, userAgent string) (LoginResult, error) {
	now := time.Now()

	if s.guard.IsLocked(ctx, email, now) {
		return LoginResult{}, ErrAccountLocked
	}

	cred, err := s.dir.GetUserByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			// Unknown identifiers count toward lockout too, so the guard
			// also throttles user enumeration.
			s.guard.RecordFailure(ctx, tenantID, email, ip, now)
			return LoginResult{}, ErrInvalidCredentials
		}
		s.logger.Error("directory lookup failed during login", zap.Error(err))
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		s.guard.RecordFailure(ctx, tenantID, email, ip, now)
		return LoginResult{}, ErrInvalidCredentials
	}

	if !cred.User.Active {
		return LoginResult{}, ErrInvalidCredentials
	}

	s.guard.RecordSuccess(ctx, email)

	token, sessionID, err := s.sessions.Issue(tenantID, cred.User)
	if err != nil {
		return LoginResult{}, err
	}

	// CSRF tokens are bound to the session token so the pipeline can check
	// them before the session itself is verified.
	csrfToken, err := s.csrf.Issue(token)
	if err != nil {
		return LoginResult{}, err
	}

	s.logger.Info("login succeeded",
		zap.String("tenant_id", tenantID),
		zap.String("user_id", cred.User.ID),
		zap.String("session_id", sessionID))

	return LoginResult{
		SessionToken: token,
		CSRFToken:    csrfToken,
		SessionID:    sessionID,
		User:         cred.User,
	}, nil
}

func (s *service) Logout(_ context.Context, sessionToken string) {
	s.csrf.Revoke(sessionToken)
}
