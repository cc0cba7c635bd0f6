package security

import (
	"context"
	"sync"
	"time"
)

// WindowStore persists rate-limit windows keyed by requester identifier.
// Update runs fn under the key's own lock so concurrent check-and-increment
// calls for the same identifier serialize without serializing unrelated
// identifiers. fn returning false deletes the entry.
type WindowStore interface {
	Update(identifier string, fn func(w *RateLimitWindow) bool) RateLimitWindow
	Sweep(now time.Time) int
}

// AttemptStore persists login-attempt records keyed by login identifier.
// The same per-key update contract as WindowStore applies; the SQL-backed
// variant in attempt_store_sql.go targets a shared store for multi-instance
// deployments without changing call sites.
type AttemptStore interface {
	Get(ctx context.Context, identifier string) (LoginAttemptRecord, bool, error)
	Update(ctx context.Context, identifier string, fn func(rec *LoginAttemptRecord) bool) (LoginAttemptRecord, error)
	Delete(ctx context.Context, identifier string) error
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type windowEntry struct {
	mu   sync.Mutex
	w    RateLimitWindow
	gone bool
}

// memoryWindowStore is the in-process WindowStore. Map structure is guarded
// by mu; each entry carries its own lock for read-modify-write.
type memoryWindowStore struct {
	mu      sync.RWMutex
	entries map[string]*windowEntry
}

// NewMemoryWindowStore returns an in-process window store.
func NewMemoryWindowStore() WindowStore {
	return &memoryWindowStore{entries: make(map[string]*windowEntry)}
}

func (s *memoryWindowStore) entry(identifier string) *windowEntry {
	s.mu.RLock()
	e, ok := s.entries[identifier]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[identifier]; ok {
		return e
	}
	e = &windowEntry{w: RateLimitWindow{Identifier: identifier}}
	s.entries[identifier] = e
	return e
}

func (s *memoryWindowStore) Update(identifier string, fn func(w *RateLimitWindow) bool) RateLimitWindow {
	for {
		e := s.entry(identifier)
		e.mu.Lock()
		if e.gone {
			// Swept between fetch and lock; retry against a fresh entry.
			e.mu.Unlock()
			continue
		}
		keep := fn(&e.w)
		out := e.w
		if !keep {
			e.gone = true
			e.mu.Unlock()
			s.mu.Lock()
			delete(s.entries, identifier)
			s.mu.Unlock()
			return out
		}
		e.mu.Unlock()
		return out
	}
}

func (s *memoryWindowStore) Sweep(now time.Time) int {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	purged := 0
	for _, k := range keys {
		s.mu.Lock()
		e, ok := s.entries[k]
		if !ok {
			s.mu.Unlock()
			continue
		}
		e.mu.Lock()
		if !e.w.ResetAt.IsZero() && now.After(e.w.ResetAt) {
			e.gone = true
			delete(s.entries, k)
			purged++
		}
		e.mu.Unlock()
		s.mu.Unlock()
	}
	return purged
}

type attemptEntry struct {
	mu   sync.Mutex
	rec  LoginAttemptRecord
	gone bool
}

// memoryAttemptStore is the in-process AttemptStore.
type memoryAttemptStore struct {
	mu      sync.RWMutex
	entries map[string]*attemptEntry
}

// NewMemoryAttemptStore returns an in-process login-attempt store.
func NewMemoryAttemptStore() AttemptStore {
	return &memoryAttemptStore{entries: make(map[string]*attemptEntry)}
}

func (s *memoryAttemptStore) entry(identifier string) *attemptEntry {
	s.mu.RLock()
	e, ok := s.entries[identifier]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[identifier]; ok {
		return e
	}
	e = &attemptEntry{rec: LoginAttemptRecord{Identifier: identifier}}
	s.entries[identifier] = e
	return e
}

func (s *memoryAttemptStore) Get(_ context.Context, identifier string) (LoginAttemptRecord, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[identifier]
	s.mu.RUnlock()
	if !ok {
		return LoginAttemptRecord{}, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return LoginAttemptRecord{}, false, nil
	}
	return e.rec, true, nil
}

func (s *memoryAttemptStore) Update(_ context.Context, identifier string, fn func(rec *LoginAttemptRecord) bool) (LoginAttemptRecord, error) {
	for {
		e := s.entry(identifier)
		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		keep := fn(&e.rec)
		out := e.rec
		if !keep {
			e.gone = true
			e.mu.Unlock()
			s.mu.Lock()
			delete(s.entries, identifier)
			s.mu.Unlock()
			return out, nil
		}
		e.mu.Unlock()
		return out, nil
	}
}

func (s *memoryAttemptStore) Delete(_ context.Context, identifier string) error {
	s.mu.Lock()
	e, ok := s.entries[identifier]
	if ok {
		e.mu.Lock()
		e.gone = true
		e.mu.Unlock()
		delete(s.entries, identifier)
	}
	s.mu.Unlock()
	return nil
}

func (s *memoryAttemptStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	purged := 0
	for _, k := range keys {
		s.mu.Lock()
		e, ok := s.entries[k]
		if !ok {
			s.mu.Unlock()
			continue
		}
		e.mu.Lock()
		if e.rec.LockedUntil != nil && now.After(*e.rec.LockedUntil) {
			e.gone = true
			delete(s.entries, k)
			purged++
		}
		e.mu.Unlock()
		s.mu.Unlock()
	}
	return purged, nil
}
