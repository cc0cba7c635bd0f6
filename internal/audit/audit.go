// Package audit records security-relevant events: authorization decisions,
// rate-limit blocks, CSRF and origin failures, session rejections and
// account lockouts. Emission is fire-and-forget; an audit failure never
// fails the request that produced the event.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one security event.
type Event struct {
	ID        int64     `db:"id" json:"id,omitempty"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	ActorID   string    `db:"actor_id" json:"actor_id"`
	Role      string    `db:"role" json:"role,omitempty"`
	Action    string    `db:"action" json:"action"`
	Resource  string    `db:"resource" json:"resource,omitempty"`
	Operation string    `db:"operation" json:"operation,omitempty"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	SessionID string    `db:"session_id" json:"session_id,omitempty"`
	IPAddress string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string    `db:"user_agent" json:"user_agent,omitempty"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block the caller for long; wrap slow sinks in an AsyncSink.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// NopSink discards everything. Used when audit logging is disabled.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, e Event) {
	s.logger.Info("security event",
		zap.String("tenant_id", e.TenantID),
		zap.String("actor_id", e.ActorID),
		zap.String("action", e.Action),
		zap.String("resource", e.Resource),
		zap.String("operation", e.Operation),
		zap.String("reason", e.Reason),
		zap.String("session_id", e.SessionID),
		zap.String("ip_address", e.IPAddress),
	)
}

// MultiSink fans one event out to every member.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// AsyncSink decouples emission from delivery through a buffered channel so
// slow sinks (the SQL store) stay off the request path. When the buffer is
// full the event is dropped and counted; audit must never apply
// backpressure to requests.
type AsyncSink struct {
	next   Sink
	events chan Event
	logger *zap.Logger

	mu      sync.Mutex
	dropped int64
	closed  bool
	done    chan struct{}
}

// NewAsyncSink starts the delivery goroutine. Close flushes the buffer.
func NewAsyncSink(next Sink, buffer int, logger *zap.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		next:   next,
		events: make(chan Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	// Delivery uses its own context: the originating request may be long
	// gone by the time the event drains.
	for e := range s.events {
		s.next.Emit(context.Background(), e)
	}
	close(s.done)
}

func (s *AsyncSink) Emit(_ context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.events <- e:
		s.mu.Unlock()
	default:
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		s.logger.Warn("audit buffer full, event dropped",
			zap.String("action", e.Action),
			zap.Int64("dropped_total", n))
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (s *AsyncSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops accepting events and blocks until the buffer drains.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.events)
	<-s.done
}
