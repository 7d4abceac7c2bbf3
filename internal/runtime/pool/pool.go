// Package pool implements a bounded worker pool with direct-handoff admission:
// a submitted task is given to an idle worker, to a freshly spawned one while
// the pool is below its maximum, or rejected. Nothing is ever queued.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/dispatchkit/internal/runtime/errors"
	"github.com/drblury/dispatchkit/internal/runtime/ids"
	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
)

// Task is one fire-and-forget unit of work. The context is only cancelled when
// Shutdown gives up waiting for in-flight tasks.
type Task func(ctx context.Context) error

// Admission is the outcome of a submission.
type Admission uint8

const (
	Rejected Admission = iota
	Accepted
)

func (a Admission) String() string {
	switch a {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("admission(%d)", uint8(a))
	}
}

// Rejection describes a task the pool refused.
type Rejection struct {
	Pool   string
	TaskID string
	Reason error
	At     time.Time
}

// RejectionHandler observes rejected tasks. It runs on the submitting goroutine.
type RejectionHandler func(Rejection)

// Executor is the capability shared by every worker pool. The instrumentation
// listener recognises pools through it.
type Executor interface {
	Name() string
	Submit(task Task) Admission
	SubmitWithID(id string, task Task) Admission
	Stats() Stats
	Shutdown(ctx context.Context) error
}

var _ Executor = (*Pool)(nil)

// Pool is a bounded, named worker pool.
type Pool struct {
	name       string
	minWorkers int
	maxWorkers int
	keepAlive  time.Duration

	logger   loggingpkg.ServiceLogger
	onReject RejectionHandler

	mu      sync.Mutex
	idle    []*worker // LIFO so the most recently used workers are reused first
	workers int
	active  int
	seq     int
	closed  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	counters counters
}

// New creates a pool and pre-starts MinWorkers idle workers.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := errors.Join(cfg.validate()...); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	if cfg.Name == "" {
		cfg.Name = "pool"
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:       cfg.Name,
		minWorkers: cfg.MinWorkers,
		maxWorkers: cfg.MaxWorkers,
		keepAlive:  cfg.KeepAlive,
		logger:     loggingpkg.NopLogger(),
		idle:       make([]*worker, 0, cfg.MaxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(loggingpkg.LogFields{"pool": p.name})
	if p.onReject == nil {
		p.onReject = p.logRejection
	}

	p.mu.Lock()
	for i := 0; i < p.minWorkers; i++ {
		w := p.spawnLocked()
		p.idle = append(p.idle, w)
		go w.loop(nil)
	}
	p.mu.Unlock()

	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Submit offers task to the pool under a generated identity.
func (p *Pool) Submit(task Task) Admission {
	return p.SubmitWithID("", task)
}

// SubmitWithID offers task to the pool. It never blocks: the task is handed
// to an idle worker, to a new worker while below MaxWorkers, or rejected.
func (p *Pool) SubmitWithID(id string, task Task) Admission {
	if id == "" {
		id = ids.CreateULID()
	}
	p.counters.submitted.Add(1)
	j := job{id: id, task: task}

	if task == nil {
		p.reject(j, errspkg.ErrTaskRequired)
		return Rejected
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.reject(j, errspkg.ErrPoolClosed)
		return Rejected
	}

	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.active++
		p.mu.Unlock()
		w.tasks <- j
		return Accepted
	}

	if p.workers < p.maxWorkers {
		w := p.spawnLocked()
		p.active++
		p.mu.Unlock()
		p.logger.Trace("Spawned worker", loggingpkg.LogFields{"worker": w.name})
		go w.loop(&j)
		return Accepted
	}
	p.mu.Unlock()

	p.reject(j, errspkg.ErrPoolSaturated)
	return Rejected
}

// Stats returns a consistent snapshot of worker counts plus the counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Name:       p.name,
		MinWorkers: p.minWorkers,
		MaxWorkers: p.maxWorkers,
		Workers:    p.workers,
		Active:     p.active,
		Idle:       len(p.idle),
	}
	p.mu.Unlock()

	s.Submitted = p.counters.submitted.Load()
	s.Completed = p.counters.completed.Load()
	s.Failed = p.counters.failed.Load()
	s.Rejected = p.counters.rejected.Load()
	return s
}

// Shutdown stops admitting tasks, releases idle workers and waits for
// in-flight tasks until ctx is done. On expiry the task context is cancelled
// and ErrShutdownTimeout is returned; tasks that ignore their context are
// abandoned. Shutdown is safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, w := range p.idle {
			close(w.tasks)
			p.workers--
		}
		p.idle = nil
		p.logger.Info("Shutting down worker pool", loggingpkg.LogFields{"in_flight": p.active})
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		stats := p.Stats()
		p.logger.Error("Shutdown grace period expired, cancelling in-flight tasks", ctx.Err(), loggingpkg.LogFields{
			"in_flight": stats.Active,
		})
		return fmt.Errorf("%w: pool %q: %w", errspkg.ErrShutdownTimeout, p.name, ctx.Err())
	}
}

func (p *Pool) spawnLocked() *worker {
	p.seq++
	p.workers++
	p.wg.Add(1)
	return newWorker(p, p.seq)
}

// park returns a worker to the idle stack after a task. It reports false when
// the pool is shutting down and the worker should exit instead.
func (p *Pool) park(w *worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active--
	if p.closed {
		p.workers--
		return false
	}
	p.idle = append(p.idle, w)
	return true
}

// retire removes an idle worker whose keep-alive expired, provided it has not
// been claimed meanwhile and the pool stays at or above MinWorkers.
func (p *Pool) retire(w *worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := slices.Index(p.idle, w)
	if idx < 0 || p.workers <= p.minWorkers {
		return false
	}
	p.idle = slices.Delete(p.idle, idx, idx+1)
	p.workers--
	return true
}

func (p *Pool) run(w *worker, j job) {
	start := time.Now()
	err := p.execute(j)
	p.counters.completed.Add(1)
	if err == nil {
		return
	}

	p.counters.failed.Add(1)
	fields := loggingpkg.LogFields{
		"worker":      w.name,
		"task_id":     j.id,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	var panicErr *errspkg.PanicError
	if errors.As(err, &panicErr) {
		fields["stack"] = panicErr.Stack
	}
	p.logger.Error("Task failed", err, fields)
}

func (p *Pool) execute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return j.task(p.ctx)
}

func (p *Pool) reject(j job, reason error) {
	p.counters.rejected.Add(1)
	p.onReject(Rejection{
		Pool:   p.name,
		TaskID: j.id,
		Reason: reason,
		At:     time.Now(),
	})
}

func (p *Pool) logRejection(r Rejection) {
	p.logger.Error("Message rejected for execution", r.Reason, loggingpkg.LogFields{
		"task_id": r.TaskID,
	})
}
