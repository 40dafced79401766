package stream

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Registry.Inject when no stream is registered
// for the run ID.
var ErrNotFound = errors.New("stream: run not found")

// Registry tracks the active streams of one process, keyed by run ID.
// Streams are added when a run starts and removed when it finishes; anything
// that needs to reach a running stream (steering endpoints, the file-queue
// poller) goes through here instead of ambient globals.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Add registers a stream under its run ID, replacing any previous entry.
func (r *Registry) Add(s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[s.RunID()] = s
}

// Remove deletes the stream registered for runID, if any.
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, runID)
}

// Get returns the stream for runID, or nil if none is registered.
func (r *Registry) Get(runID string) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[runID]
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Inject delivers a steering message to the run's stream. Returns
// ErrNotFound if the run is not registered here and ErrClosed if its stream
// has already finished.
func (r *Registry) Inject(runID, message string) error {
	s := r.Get(runID)
	if s == nil {
		return ErrNotFound
	}
	return s.Inject(message)
}
