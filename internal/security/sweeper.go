package security

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically purges expired rate-limit windows, lockout records
// and CSRF tokens. It relies on the stores' own per-key locking, so a sweep
// never races destructively with a concurrent check-and-increment.
type Sweeper struct {
	limiter  *RateLimiter
	guard    *LoginAttemptGuard
	csrf     *CsrfValidator
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper builds a sweeper. A zero interval defaults to one minute.
func NewSweeper(limiter *RateLimiter, guard *LoginAttemptGuard, csrf *CsrfValidator, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		limiter:  limiter,
		guard:    guard,
		csrf:     csrf,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(ctx, now)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	windows := s.limiter.Sweep(now)
	locks := s.guard.Sweep(ctx, now)
	tokens := s.csrf.Sweep(now)
	if windows+locks+tokens > 0 {
		s.logger.Debug("sweep complete",
			zap.Int("windows", windows),
			zap.Int("lockouts", locks),
			zap.Int("csrf_tokens", tokens))
	}
}
