package stream

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Inject when the stream has already been closed.
// Injection after close must be observable to the caller, never a silent
// drop, so the HTTP layer can report "run already finished".
var ErrClosed = errors.New("stream: closed")

// EventType identifies the type of a stream event.
type EventType string

const (
	EventTurnStart         EventType = "turn_start"
	EventTextDelta         EventType = "text_delta"
	EventAssistant         EventType = "assistant"
	EventToolCall          EventType = "tool_call"
	EventToolResult        EventType = "tool_result"
	EventTurnComplete      EventType = "turn_complete"
	EventContextCompressed EventType = "context_compressed"
	EventComplete          EventType = "complete"
	EventError             EventType = "error"
	EventHeartbeat         EventType = "heartbeat"
)

// Event is one ordered progress event from an agent run.
type Event struct {
	Type EventType              `json:"event_type"`
	Turn int                    `json:"turn"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Stream delivers ordered Events from a single producer (the agent loop) to
// a single consumer, and accepts out-of-band steering messages from any
// number of writers. Steering is held in a pending queue the loop drains at
// turn boundaries.
type Stream struct {
	runID string
	ch    chan Event
	done  chan struct{}

	// sendMu serializes event sends against the channel close. mu guards
	// the closed flag and the steering queue and is never held across a
	// send, so a stalled consumer cannot block Inject, Close, or Closed.
	sendMu sync.Mutex
	mu     sync.Mutex

	closed   bool
	steering []string
}

// New creates a Stream for the given run with a buffered event channel.
func New(runID string, bufferSize int) *Stream {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Stream{
		runID: runID,
		ch:    make(chan Event, bufferSize),
		done:  make(chan struct{}),
	}
}

// RunID returns the run identifier this stream belongs to.
func (s *Stream) RunID() string {
	return s.runID
}

// Publish sends an event to the consumer in production order. Events
// published after Close are dropped; the producer is expected to stop
// publishing once it has emitted its terminal event.
func (s *Stream) Publish(eventType EventType, turn int, data map[string]interface{}) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	// Blocking send preserves ordering; the buffer absorbs bursts and a
	// slow consumer backpressures the loop rather than losing events.
	// Close takes sendMu before closing the channel, so the send below
	// never hits a closed channel, and the done case aborts a send stuck
	// on a full buffer once Close is called.
	select {
	case s.ch <- Event{Type: eventType, Turn: turn, Data: data}:
	case <-s.done:
	}
}

// Events returns the read-only event channel. It is closed after Close.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close marks the stream finished and closes the event channel. Safe to
// call multiple times.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	// Wait out any in-flight send before closing the event channel. The
	// closed done channel releases a sender blocked on a full buffer.
	s.sendMu.Lock()
	close(s.ch)
	s.sendMu.Unlock()
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Inject appends a steering message to the pending queue. The loop consumes
// pending messages only at turn boundaries. Returns ErrClosed if the stream
// has finished.
func (s *Stream) Inject(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.steering = append(s.steering, message)
	return nil
}

// DrainSteering removes and returns all pending steering messages in
// injection order. Each message is consumed exactly once.
func (s *Stream) DrainSteering() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steering) == 0 {
		return nil
	}
	out := s.steering
	s.steering = nil
	return out
}

// StartHeartbeat emits heartbeat events on the given interval until the
// stream is closed, so idle long-running connections aren't dropped by
// intermediaries while the model produces no output.
func (s *Stream) StartHeartbeat(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.Publish(EventHeartbeat, 0, nil)
			}
		}
	}()
}
