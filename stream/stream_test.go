package stream

import (
	"errors"
	"testing"
	"time"
)

func TestStreamOrdering(t *testing.T) {
	s := New("run1", 16)
	s.Publish(EventTurnStart, 1, nil)
	s.Publish(EventTextDelta, 1, map[string]interface{}{"text": "a"})
	s.Publish(EventTextDelta, 1, map[string]interface{}{"text": "b"})
	s.Publish(EventComplete, 1, nil)
	s.Close()

	var got []EventType
	for ev := range s.Events() {
		got = append(got, ev.Type)
	}
	want := []EventType{EventTurnStart, EventTextDelta, EventTextDelta, EventComplete}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInjectAfterClose(t *testing.T) {
	s := New("run1", 4)
	if err := s.Inject("before"); err != nil {
		t.Fatalf("Inject before close: %v", err)
	}
	s.Close()
	if err := s.Inject("after"); !errors.Is(err, ErrClosed) {
		t.Errorf("Inject after close = %v, want ErrClosed", err)
	}
}

func TestDrainSteeringConsumedOnce(t *testing.T) {
	s := New("run1", 4)
	_ = s.Inject("first")
	_ = s.Inject("second")

	got := s.DrainSteering()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("DrainSteering = %v", got)
	}
	if again := s.DrainSteering(); again != nil {
		t.Errorf("second drain = %v, want nil", again)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := New("run1", 4)
	s.Close()
	s.Close() // must not panic
	if !s.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestPublishAfterCloseDropped(t *testing.T) {
	s := New("run1", 4)
	s.Close()
	s.Publish(EventTextDelta, 1, nil) // must not panic
}

func TestHeartbeat(t *testing.T) {
	s := New("run1", 16)
	s.StartHeartbeat(10 * time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == EventHeartbeat {
				s.Close()
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat observed")
		}
	}
}

func TestHeartbeatStopsAfterClose(t *testing.T) {
	s := New("run1", 16)
	s.StartHeartbeat(5 * time.Millisecond)
	s.Close()
	// Drain whatever was buffered; the channel must be closed, so this
	// terminates.
	for range s.Events() {
	}
}

func TestRegistryInject(t *testing.T) {
	r := NewRegistry()
	s := New("run1", 4)
	r.Add(s)

	if err := r.Inject("run1", "steer"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if got := s.DrainSteering(); len(got) != 1 || got[0] != "steer" {
		t.Errorf("DrainSteering = %v", got)
	}

	if err := r.Inject("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Inject missing = %v, want ErrNotFound", err)
	}

	s.Close()
	if err := r.Inject("run1", "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Inject closed = %v, want ErrClosed", err)
	}

	r.Remove("run1")
	if r.Get("run1") != nil {
		t.Error("stream still registered after Remove")
	}
	if err := r.Inject("run1", "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Inject removed = %v, want ErrNotFound", err)
	}
}

func TestInjectIndependentOfStalledConsumer(t *testing.T) {
	// Buffer of one, no consumer: the second Publish blocks on the full
	// channel. Steering injection must still go through immediately.
	s := New("run1", 1)
	s.Publish(EventTurnStart, 1, nil)

	published := make(chan struct{})
	go func() {
		s.Publish(EventTextDelta, 1, map[string]interface{}{"text": "x"})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("second Publish should be blocked on the full buffer")
	case <-time.After(20 * time.Millisecond):
	}

	injected := make(chan error, 1)
	go func() { injected <- s.Inject("steer") }()
	select {
	case err := <-injected:
		if err != nil {
			t.Fatalf("Inject: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Inject blocked behind a Publish waiting on the consumer")
	}
	if got := s.DrainSteering(); len(got) != 1 || got[0] != "steer" {
		t.Errorf("DrainSteering = %v", got)
	}

	// Close must not wedge on the blocked sender either; it releases it.
	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind a stalled Publish")
	}
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("blocked Publish not released by Close")
	}

	// The channel still terminates for a late consumer.
	for range s.Events() {
	}
}
