package audit

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"
)

var ctx = context.Background()

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestAsyncSinkDeliversAndDrains(t *testing.T) {
	capture := &captureSink{}
	async := NewAsyncSink(capture, 64, zap.NewNop())

	for i := 0; i < 50; i++ {
		async.Emit(ctx, Event{TenantID: "tenant-a", Action: "access_denied"})
	}
	async.Close()

	if got := capture.count(); got != 50 {
		t.Fatalf("expected 50 delivered events after close, got %d", got)
	}
	if async.Dropped() != 0 {
		t.Fatalf("nothing should have been dropped")
	}
}

func TestAsyncSinkStampsTimestamp(t *testing.T) {
	capture := &captureSink{}
	async := NewAsyncSink(capture, 8, zap.NewNop())

	async.Emit(ctx, Event{Action: "csrf_failed"})
	async.Close()

	if len(capture.events) != 1 || capture.events[0].Timestamp.IsZero() {
		t.Fatalf("async sink should stamp missing timestamps: %+v", capture.events)
	}
}

func TestAsyncSinkEmitAfterCloseIsNoop(t *testing.T) {
	capture := &captureSink{}
	async := NewAsyncSink(capture, 8, zap.NewNop())
	async.Close()

	// Must not panic on the closed channel.
	async.Emit(ctx, Event{Action: "access_denied"})
	async.Close()

	if got := capture.count(); got != 0 {
		t.Fatalf("expected no deliveries after close, got %d", got)
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(context.Context, Event) {
	<-s.release
}

func TestAsyncSinkDropsWhenBufferFull(t *testing.T) {
	blocking := &blockingSink{release: make(chan struct{})}
	async := NewAsyncSink(blocking, 2, zap.NewNop())

	// One event may be in-flight in the delivery goroutine plus two in the
	// buffer; everything beyond that is dropped, never blocked on.
	for i := 0; i < 10; i++ {
		async.Emit(ctx, Event{Action: "rate_limit_exceeded"})
	}
	if async.Dropped() == 0 {
		t.Fatalf("expected drops once the buffer filled")
	}

	close(blocking.release)
	async.Close()
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	MultiSink{a, b}.Emit(ctx, Event{Action: "account_locked"})

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("both sinks should receive the event: %d %d", a.count(), b.count())
	}
}
