package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Handler processes one job payload. A returned error marks the job
// failed; the queue does not retry on its own.
type Handler func(ctx context.Context, payload []byte) error

type jobQueue struct {
	name    string
	workers int
	jobs    chan []byte
	handler Handler
}

// Service is an in-process job queue registry. Each registered queue
// gets its own buffered channel and worker pool; jobs within a queue
// are independent and may run concurrently.
type Service struct {
	mu      sync.Mutex
	queues  map[string]*jobQueue
	logger  *slog.Logger
	started bool
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates an empty queue registry
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		queues: make(map[string]*jobQueue),
		logger: logger,
	}
}

// Register adds a named queue. Must be called before Start.
func (s *Service) Register(name string, workers, buffer int, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot register queue %q after start", name)
	}
	if _, exists := s.queues[name]; exists {
		return fmt.Errorf("queue %q already registered", name)
	}
	if workers <= 0 {
		return fmt.Errorf("queue %q needs at least one worker", name)
	}
	if handler == nil {
		return fmt.Errorf("queue %q needs a handler", name)
	}
	if buffer < 1 {
		buffer = 1
	}

	s.queues[name] = &jobQueue{
		name:    name,
		workers: workers,
		jobs:    make(chan []byte, buffer),
		handler: handler,
	}
	return nil
}

// Start launches the worker pools. Workers run until Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("queue service already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, q := range s.queues {
		for i := 0; i < q.workers; i++ {
			s.wg.Add(1)
			go s.worker(runCtx, q, i)
		}
	}
	return nil
}

func (s *Service) worker(ctx context.Context, q *jobQueue, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-q.jobs:
			if !ok {
				return
			}
			if err := q.handler(ctx, payload); err != nil {
				s.logger.Error("job failed", "queue", q.name, "worker", id, "error", err)
			}
		}
	}
}

// Enqueue marshals the payload as JSON and queues it. Blocks when the
// queue buffer is full.
func (s *Service) Enqueue(name string, payload any) error {
	s.mu.Lock()
	q, ok := s.queues[name]
	stopped := s.stopped
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("queue %q not registered", name)
	}
	if stopped {
		return fmt.Errorf("queue service stopped")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for queue %q: %w", name, err)
	}

	q.jobs <- data
	return nil
}

// Stop cancels all workers and waits for in-flight jobs to return.
// Jobs still sitting in buffers are dropped.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Depth reports how many jobs are waiting in a queue's buffer
func (s *Service) Depth(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[name]; ok {
		return len(q.jobs)
	}
	return 0
}
