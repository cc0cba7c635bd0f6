package security

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lektio/lektio/internal/audit"
)

// LoginAttemptGuard tracks consecutive authentication failures per login
// identifier and enforces a temporary lockout. Records are mutated only by
// the login-result observers; read paths never write.
type LoginAttemptGuard struct {
	store       AttemptStore
	maxAttempts int
	lockout     time.Duration
	sink        audit.Sink
	logger      *zap.Logger
}

// NewLoginAttemptGuard builds a guard over the given attempt store.
func NewLoginAttemptGuard(store AttemptStore, maxAttempts int, lockout time.Duration, sink audit.Sink, logger *zap.Logger) *LoginAttemptGuard {
	return &LoginAttemptGuard{
		store:       store,
		maxAttempts: maxAttempts,
		lockout:     lockout,
		sink:        sink,
		logger:      logger,
	}
}

// IsLocked purges an expired lock before answering whether a lock is active.
func (g *LoginAttemptGuard) IsLocked(ctx context.Context, identifier string, now time.Time) bool {
	rec, ok, err := g.store.Get(ctx, identifier)
	if err != nil {
		// Fail closed: if the store is unreachable we cannot rule out an
		// active lock.
		g.logger.Error("login attempt store read failed", zap.Error(err))
		return true
	}
	if !ok || rec.LockedUntil == nil {
		return false
	}
	if now.After(*rec.LockedUntil) {
		if err := g.store.Delete(ctx, identifier); err != nil {
			g.logger.Error("failed to purge expired lockout", zap.String("identifier", identifier), zap.Error(err))
		}
		return false
	}
	return true
}

// RecordFailure increments the failure count and, once it reaches the
// configured ceiling, locks the identifier and emits an account_locked
// audit event.
func (g *LoginAttemptGuard) RecordFailure(ctx context.Context, tenantID, identifier, ip string, now time.Time) {
	rec, err := g.store.Update(ctx, identifier, func(rec *LoginAttemptRecord) bool {
		rec.FailureCount++
		if rec.FailureCount >= g.maxAttempts && rec.LockedUntil == nil {
			until := now.Add(g.lockout)
			rec.LockedUntil = &until
		}
		return true
	})
	if err != nil {
		g.logger.Error("failed to record login failure", zap.String("identifier", identifier), zap.Error(err))
		return
	}

	if rec.LockedUntil != nil && rec.FailureCount == g.maxAttempts {
		g.logger.Warn("account locked after repeated login failures",
			zap.String("identifier", identifier),
			zap.Int("failures", rec.FailureCount),
			zap.Time("locked_until", *rec.LockedUntil))
		g.sink.Emit(ctx, audit.Event{
			TenantID:  tenantID,
			Action:    AuditAccountLocked,
			Resource:  "login",
			ActorID:   identifier,
			IPAddress: ip,
			Reason:    "too many failed login attempts",
			Timestamp: now,
		})
	}
}

// RecordSuccess clears the identifier's record unconditionally.
func (g *LoginAttemptGuard) RecordSuccess(ctx context.Context, identifier string) {
	if err := g.store.Delete(ctx, identifier); err != nil {
		g.logger.Error("failed to clear login attempts", zap.String("identifier", identifier), zap.Error(err))
	}
}

// Sweep purges expired lockout records. Called by the background sweeper.
func (g *LoginAttemptGuard) Sweep(ctx context.Context, now time.Time) int {
	purged, err := g.store.Sweep(ctx, now)
	if err != nil {
		g.logger.Error("login attempt sweep failed", zap.Error(err))
		return 0
	}
	return purged
}
