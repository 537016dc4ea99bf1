package emit

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOverflow is returned by Publish when a lifecycle event cannot be
// admitted within the backpressure budget.
var ErrOverflow = errors.New("emit: event stream overflow")

// DefaultBackpressure is how long Publish waits for buffer space before
// giving up on a lifecycle event.
const DefaultBackpressure = 100 * time.Millisecond

// Stream is a bounded event channel between an execution and its
// consumers. When the buffer fills, incoming MetricSample events are
// dropped (counted per kind) and buffered samples are evicted to make
// room for lifecycle events. Lifecycle events are never dropped: once no
// sample can give way, Publish blocks for up to the backpressure budget
// waiting for a consumer, then fails with ErrOverflow.
type Stream struct {
	mu      sync.Mutex
	buf     []Event
	cap     int
	bp      time.Duration
	seq     atomic.Uint64
	dropped map[Kind]uint64
	wake    chan struct{}
	space   chan struct{}
	closed  bool
	sinks   []Emitter
}

// NewStream creates a stream with the given buffer capacity (minimum 16)
// and the default backpressure budget.
func NewStream(capacity int) *Stream {
	if capacity < 16 {
		capacity = 16
	}
	return &Stream{
		cap:     capacity,
		bp:      DefaultBackpressure,
		dropped: make(map[Kind]uint64),
		wake:    make(chan struct{}, 1),
		space:   make(chan struct{}, 1),
	}
}

// SetBackpressure overrides how long Publish waits for buffer space
// before failing a lifecycle event.
func (s *Stream) SetBackpressure(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.bp = d
	}
}

// Attach adds a sink that receives every published event synchronously.
func (s *Stream) Attach(e Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, e)
}

// Publish assigns the sequence number and enqueues the event. A
// MetricSample under pressure is dropped outright; a lifecycle event
// first evicts the oldest buffered sample, then applies bounded
// backpressure on the producer, and only fails with ErrOverflow once the
// budget is spent with no consumer progress.
func (s *Stream) Publish(e Event) error {
	e.Seq = s.seq.Add(1)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	deadline := time.Now().Add(s.backpressure())
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}

		if len(s.buf) < s.cap {
			s.admitLocked(e)
			return nil
		}
		if !e.Kind.Lifecycle() {
			s.dropped[e.Kind]++
			s.mu.Unlock()
			return nil
		}
		if s.evictSampleLocked() {
			s.admitLocked(e)
			return nil
		}
		s.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrOverflow
		}
		select {
		case <-s.space:
		case <-time.After(remaining):
			return ErrOverflow
		}
	}
}

func (s *Stream) backpressure() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bp
}

// admitLocked appends the event, releases the lock, and notifies the
// waiting reader and sinks.
func (s *Stream) admitLocked(e Event) {
	s.buf = append(s.buf, e)
	sinks := s.sinks
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	for _, sink := range sinks {
		sink.Emit(e)
	}
}

// evictSampleLocked removes the oldest buffered non-lifecycle event.
func (s *Stream) evictSampleLocked() bool {
	for i, ev := range s.buf {
		if !ev.Kind.Lifecycle() {
			s.dropped[ev.Kind]++
			s.buf = append(s.buf[:i], s.buf[i+1:]...)
			return true
		}
	}
	return false
}

// signalSpace wakes one producer blocked on a full buffer.
func (s *Stream) signalSpace() {
	select {
	case s.space <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available or the stream is closed and
// drained. The second return is false once the stream is exhausted.
func (s *Stream) Next() (Event, bool) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			e := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			s.signalSpace()
			return e, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, false
		}
		<-s.wake
	}
}

// TryNext is a non-blocking Next.
func (s *Stream) TryNext() (Event, bool) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return Event{}, false
	}
	e := s.buf[0]
	s.buf = s.buf[1:]
	s.mu.Unlock()
	s.signalSpace()
	return e, true
}

// Drain returns everything currently buffered.
func (s *Stream) Drain() []Event {
	s.mu.Lock()
	out := s.buf
	s.buf = nil
	s.mu.Unlock()
	s.signalSpace()
	return out
}

// Dropped reports per-kind drop counts.
func (s *Stream) Dropped() map[Kind]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Kind]uint64, len(s.dropped))
	for k, v := range s.dropped {
		out[k] = v
	}
	return out
}

// Close marks the stream finished. Buffered events remain readable;
// further publishes are discarded.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.signalSpace()
}
