// Package queue runs named operations with at-least-once semantics.
//
// A task is executed either synchronously in the caller's goroutine or by
// background workers. Failed attempts are retried with exponential backoff
// until MaxAttempts is reached or the handler returns a Permanent error.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds configuration for a Queue.
type Config struct {
	// MaxAttempts is the number of times a task is tried before it fails.
	// Default: 3
	MaxAttempts int

	// Backoff is the delay before the second attempt; it doubles afterwards.
	// Default: 100ms
	Backoff time.Duration

	// Workers is the number of background workers started by Start.
	// Default: 1
	Workers int

	// Buffer is the capacity of the background task channel.
	// Default: 256
	Buffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     100 * time.Millisecond,
		Workers:     1,
		Buffer:      256,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Buffer < 1 {
		c.Buffer = 256
	}
}

// Handler applies one operation to its payload.
type Handler func(ctx context.Context, payload any) error

// Recorder observes finished tasks.
type Recorder interface {
	TaskFinished(op string, status Status, attempts int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) TaskFinished(string, Status, int, time.Duration) {}

// Queue dispatches tasks to registered handlers.
type Queue struct {
	config   Config
	logger   *zap.Logger
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool

	tasks chan *Task
	wg    sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithRecorder reports finished tasks to r.
func WithRecorder(r Recorder) Option {
	return func(q *Queue) {
		if r != nil {
			q.recorder = r
		}
	}
}

// New creates a Queue. Background workers run only after Start.
func New(config Config, logger *zap.Logger, opts ...Option) *Queue {
	config.validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		config:   config,
		logger:   logger,
		recorder: nopRecorder{},
		sleep:    sleep,
		handlers: make(map[string]Handler),
		tasks:    make(chan *Task, config.Buffer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Handle registers the handler for op, replacing any previous one.
func (q *Queue) Handle(op string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[op] = h
}

func (q *Queue) handler(op string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[op]
	return h, ok
}

// Put creates a task for op. Nothing runs until Task.Execute is called.
func (q *Queue) Put(op string, payload any) (*Task, error) {
	if _, ok := q.handler(op); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	return &Task{
		ID:      uuid.New(),
		Op:      op,
		Payload: payload,
		Created: time.Now(),
		queue:   q,
		status:  StatusPending,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the background workers. They stop when ctx is cancelled
// or the queue is closed.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-q.tasks:
					if !ok {
						return
					}
					if err := t.run(ctx); err != nil {
						q.logger.Debug("background task failed",
							zap.Int("worker", worker),
							zap.String("task", t.ID.String()),
							zap.Error(err),
						)
					}
				}
			}
		}(i)
	}
}

// Close stops accepting tasks and waits for workers to drain the buffer.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) submit(ctx context.Context, t *Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status is the state of a task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Task is one submitted operation.
type Task struct {
	ID      uuid.UUID
	Op      string
	Payload any
	Created time.Time

	queue *Queue

	mu        sync.Mutex
	submitted bool
	status    Status
	attempts  int
	err       error
	done      chan struct{}
}

// Execute runs the task. With wait it runs in the calling goroutine and
// returns the final error; without, it hands the task to the background
// workers and returns once it is queued.
func (t *Task) Execute(ctx context.Context, wait bool) error {
	t.mu.Lock()
	if t.submitted {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySubmitted, t.ID)
	}
	t.submitted = true
	t.mu.Unlock()

	if !wait {
		return t.queue.submit(ctx, t)
	}
	return t.run(ctx)
}

// Wait blocks until the task has finished and returns its error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) run(ctx context.Context) error {
	q := t.queue
	h, ok := q.handler(t.Op)
	if !ok {
		return t.finish(fmt.Errorf("%w: %s", ErrUnknownOperation, t.Op))
	}

	t.mu.Lock()
	t.status = StatusRunning
	t.mu.Unlock()

	start := time.Now()
	backoff := q.config.Backoff
	var err error
	for attempt := 1; attempt <= q.config.MaxAttempts; attempt++ {
		t.mu.Lock()
		t.attempts = attempt
		t.mu.Unlock()

		err = h(ctx, t.Payload)
		if err == nil || IsPermanent(err) || attempt == q.config.MaxAttempts {
			break
		}
		q.logger.Warn("task attempt failed",
			zap.String("task", t.ID.String()),
			zap.String("op", t.Op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if serr := q.sleep(ctx, backoff); serr != nil {
			err = errors.Join(err, serr)
			break
		}
		backoff *= 2
	}

	err = t.finish(err)
	status := StatusDone
	if err != nil {
		status = StatusFailed
	}
	q.recorder.TaskFinished(t.Op, status, t.Attempts(), time.Since(start))
	return err
}

func (t *Task) finish(err error) error {
	var p *permanent
	if errors.As(err, &p) && p == err {
		err = p.err
	}
	t.mu.Lock()
	t.err = err
	t.status = StatusDone
	if err != nil {
		t.status = StatusFailed
	}
	t.mu.Unlock()
	close(t.done)
	return err
}
