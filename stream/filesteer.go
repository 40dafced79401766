package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileQueue is a filesystem-backed steering side channel. When the worker
// holding a run is a different process from the one receiving the steering
// request, the receiver enqueues here and the owning worker's Poller drains
// into the in-memory inject path, so the loop cannot tell the two apart.
//
// Each message is one file at <dir>/<runID>/<timestamp>-<uuid>.msg, written
// via temp file + rename so a concurrently polling reader never observes a
// partial write.
type FileQueue struct {
	dir string
}

// NewFileQueue creates a queue rooted at dir, creating it if needed.
func NewFileQueue(dir string) (*FileQueue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating steering dir: %w", err)
	}
	return &FileQueue{dir: dir}, nil
}

// Enqueue writes a steering message for the given run. Callable from any
// process sharing the queue directory.
func (q *FileQueue) Enqueue(runID, message string) error {
	runDir := filepath.Join(q.dir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run steering dir: %w", err)
	}

	// Timestamp prefix keeps lexical order equal to enqueue order.
	name := fmt.Sprintf("%020d-%s.msg", time.Now().UnixNano(), uuid.New().String())
	tmp := filepath.Join(runDir, "."+name+".tmp")
	if err := os.WriteFile(tmp, []byte(message), 0o644); err != nil {
		return fmt.Errorf("writing steering message: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(runDir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publishing steering message: %w", err)
	}
	return nil
}

// Drain removes and returns all pending messages for runID in enqueue
// order.
func (q *FileQueue) Drain(runID string) ([]string, error) {
	runDir := filepath.Join(q.dir, runID)
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading steering dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".msg") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var messages []string
	for _, name := range names {
		path := filepath.Join(runDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return messages, fmt.Errorf("reading steering message: %w", err)
		}
		messages = append(messages, string(data))
		if err := os.Remove(path); err != nil {
			return messages, fmt.Errorf("removing consumed message: %w", err)
		}
	}
	return messages, nil
}

// Cleanup removes the run's queue directory. Called after a run finishes.
func (q *FileQueue) Cleanup(runID string) error {
	return os.RemoveAll(filepath.Join(q.dir, runID))
}

// Poller periodically drains the FileQueue for every run registered in the
// local Registry and forwards messages into the in-memory inject path.
type Poller struct {
	queue    *FileQueue
	registry *Registry
	interval time.Duration
	logger   *zap.Logger
}

// NewPoller creates a Poller. A zero interval defaults to one second.
func NewPoller(queue *FileQueue, registry *Registry, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{queue: queue, registry: registry, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled. Intended to run as one goroutine per
// worker process.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

// pollOnce drains pending files for every locally registered run.
func (p *Poller) pollOnce() {
	entries, err := os.ReadDir(p.queue.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("reading steering queue", zap.Error(err))
		}
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		runID := e.Name()
		// Only the worker that owns the run drains its messages. Other
		// workers leave the files in place.
		if p.registry.Get(runID) == nil {
			continue
		}
		messages, err := p.queue.Drain(runID)
		if err != nil {
			p.logger.Warn("draining steering queue",
				zap.String("run_id", runID), zap.Error(err))
		}
		for _, msg := range messages {
			if err := p.registry.Inject(runID, msg); err != nil {
				p.logger.Warn("injecting steering message",
					zap.String("run_id", runID), zap.Error(err))
			}
		}
	}
}
