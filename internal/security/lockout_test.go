package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lektio/lektio/internal/audit"
)

// recordingSink captures emitted audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Emit(_ context.Context, e audit.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) byAction(action string) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func newTestGuard(sink audit.Sink) *LoginAttemptGuard {
	return NewLoginAttemptGuard(NewMemoryAttemptStore(), 5, 30*time.Minute, sink, zap.NewNop())
}

func TestGuardLocksAfterMaxFailures(t *testing.T) {
	sink := &recordingSink{}
	guard := newTestGuard(sink)
	now := time.Now()

	for i := 0; i < 4; i++ {
		guard.RecordFailure(ctx, "tenant-a", "teacher@school.edu", "10.0.0.1", now)
		if guard.IsLocked(ctx, "teacher@school.edu", now) {
			t.Fatalf("should not be locked after %d failures", i+1)
		}
	}

	guard.RecordFailure(ctx, "tenant-a", "teacher@school.edu", "10.0.0.1", now)
	if !guard.IsLocked(ctx, "teacher@school.edu", now) {
		t.Fatalf("5th failure should lock the identifier")
	}

	locked := sink.byAction(AuditAccountLocked)
	if len(locked) != 1 {
		t.Fatalf("expected exactly one account_locked event, got %d", len(locked))
	}
	if locked[0].ActorID != "teacher@school.edu" {
		t.Fatalf("unexpected actor on lock event: %s", locked[0].ActorID)
	}
}

func TestGuardSuccessClearsRecord(t *testing.T) {
	guard := newTestGuard(&recordingSink{})
	now := time.Now()

	for i := 0; i < 5; i++ {
		guard.RecordFailure(ctx, "tenant-a", "user@school.edu", "10.0.0.1", now)
	}
	guard.RecordSuccess(ctx, "user@school.edu")

	if guard.IsLocked(ctx, "user@school.edu", now) {
		t.Fatalf("successful login must clear the lockout")
	}

	// The counter restarts from zero: four more failures stay unlocked.
	for i := 0; i < 4; i++ {
		guard.RecordFailure(ctx, "tenant-a", "user@school.edu", "10.0.0.1", now)
	}
	if guard.IsLocked(ctx, "user@school.edu", now) {
		t.Fatalf("cleared record must not retain the old failure count")
	}
}

func TestGuardExpiredLockIsPurged(t *testing.T) {
	guard := newTestGuard(&recordingSink{})
	now := time.Now()

	for i := 0; i < 5; i++ {
		guard.RecordFailure(ctx, "tenant-a", "user@school.edu", "10.0.0.1", now)
	}

	later := now.Add(31 * time.Minute)
	if guard.IsLocked(ctx, "user@school.edu", later) {
		t.Fatalf("lock should have expired")
	}

	// The purge must have removed the record, not just the lock.
	store := guard.store
	if _, ok, _ := store.Get(ctx, "user@school.edu"); ok {
		t.Fatalf("expired record should be purged on read")
	}
}

func TestGuardSweepPurgesExpiredLocks(t *testing.T) {
	guard := newTestGuard(&recordingSink{})
	now := time.Now()

	for i := 0; i < 5; i++ {
		guard.RecordFailure(ctx, "tenant-a", "locked@school.edu", "10.0.0.1", now)
	}
	guard.RecordFailure(ctx, "tenant-a", "counting@school.edu", "10.0.0.1", now)

	purged := guard.Sweep(ctx, now.Add(31*time.Minute))
	if purged != 1 {
		t.Fatalf("expected 1 purged lockout, got %d", purged)
	}
}
