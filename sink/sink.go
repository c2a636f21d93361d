package sink

import (
	"context"
	"sync"

	"dm-engine/domain/event"
	apperrors "dm-engine/errors"
)

// ChannelSink is one session's outbound queue. The transport write loop
// owns the receiving end; the router and lifecycle manager push into it
// through Consume without ever blocking on the network themselves.
type ChannelSink struct {
	Events chan event.DomainEvent

	mu     sync.Mutex
	closed bool
}

func NewChannelSink(bufferSize int) *ChannelSink {
	return &ChannelSink{Events: make(chan event.DomainEvent, bufferSize)}
}

// Consume hands the event to the session's write loop.
// A closed sink reports ErrStaleSession so the registry can self-heal;
// a full buffer drops the event silently (best-effort push, the durable
// copy lives in history or in the buffer store).
func (s *ChannelSink) Consume(ctx context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.ErrStaleSession
	}
	s.mu.Unlock()

	select {
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Backpressure: channel full, event dropped
		return nil
	}
}

// Close marks the sink stale. Subsequent pushes fail with
// ErrStaleSession; the Events channel itself stays open so a concurrent
// Consume never panics.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
