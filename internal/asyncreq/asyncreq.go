// Package asyncreq bridges background goroutine work into single-threaded
// tick logic through a poll-based request table.
//
// A task submits a Job with Request and gets an ID back immediately. A
// background goroutine waits out the requested delay, runs the job (bounded
// by a worker semaphore) and publishes the result under the table mutex.
// The tick goroutine polls with IsComplete, reads with GetResult, and frees
// the slot with Cancel.
//
// Thread safety: every insert/update/erase of the table happens under one
// mutex; ID allocation is a lock-free atomic counter. Each result is written
// by exactly one goroutine (the worker) and read by exactly one (the poller).
// A worker whose request was cancelled finds its entry gone when it tries to
// publish, and silently discards the result, so a late write can never be
// observed after Cancel.
package asyncreq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds how many jobs run at once.
const DefaultWorkers = 4

var (
	// ErrClosed is the result error for requests made after Close.
	ErrClosed = errors.New("async request manager closed")
	// ErrNilJob is the result error for a nil Job.
	ErrNilJob = errors.New("nil async job")
)

// ID identifies a request. Zero is never allocated.
type ID uint64

// State is the lifecycle state of a request.
type State uint8

const (
	StatePending State = iota
	StateComplete
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// Job is the background computation. It must honour ctx cancellation.
type Job func(ctx context.Context) (any, error)

// Result is what a job produced. A failed job has a non-nil Err.
type Result struct {
	Value any
	Err   error
}

// Requester is the view of the manager that tasks use. Tests substitute a
// fake through task.Context.
type Requester interface {
	Request(job Job, delay time.Duration) ID
	IsComplete(id ID) bool
	GetResult(id ID) (Result, bool)
	Cancel(id ID)
}

type request struct {
	state  State
	result Result
	cancel context.CancelFunc
}

// Manager is the concrete Requester. Create with NewManager.
type Manager struct {
	nextID atomic.Uint64

	mu     sync.Mutex
	table  map[ID]*request
	closed bool

	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *Metrics
}

var _ Requester = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithWorkers bounds concurrent jobs. Values < 1 are ignored.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithLogger sets the logger used for job panics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records request lifecycle counters.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a Manager. Cancelling ctx has the same effect as Close
// on in-flight jobs, but Close must still be called to wait for them.
func NewManager(ctx context.Context, opts ...Option) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	childCtx, cancel := context.WithCancel(ctx)
	m := &Manager{
		table:  make(map[ID]*request),
		sem:    semaphore.NewWeighted(DefaultWorkers),
		ctx:    childCtx,
		cancel: cancel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request registers job and starts it in the background after delay. It
// never blocks.
func (m *Manager) Request(job Job, delay time.Duration) ID {
	id := ID(m.nextID.Add(1))
	m.metrics.submitted()

	m.mu.Lock()
	if m.closed {
		m.table[id] = &request{state: StateComplete, result: Result{Err: ErrClosed}}
		m.mu.Unlock()
		return id
	}
	if job == nil {
		m.table[id] = &request{state: StateComplete, result: Result{Err: ErrNilJob}}
		m.mu.Unlock()
		return id
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.table[id] = &request{state: StatePending, cancel: cancel}
	m.metrics.setInFlight(len(m.table))
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, id, job, delay)
	return id
}

func (m *Manager) run(ctx context.Context, id ID, job Job, delay time.Duration) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("[AsyncRequest] job panicked",
				"id", uint64(id), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			m.publish(id, Result{Err: fmt.Errorf("async job panicked: %v", r)})
		}
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer m.sem.Release(1)

	if ctx.Err() != nil {
		return
	}
	value, err := job(ctx)
	m.publish(id, Result{Value: value, Err: err})
}

// publish transitions a pending request to Complete. Results for requests
// that were cancelled (and so removed) are dropped.
func (m *Manager) publish(id ID, r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.table[id]
	if !ok || req.state != StatePending {
		m.metrics.discarded()
		return
	}
	req.state = StateComplete
	req.result = r
	m.metrics.completed(r.Err)
}

// IsComplete reports whether id has a published result. Safe to call every
// tick.
func (m *Manager) IsComplete(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.table[id]
	return ok && req.state == StateComplete
}

// GetResult returns the result of a completed request. For pending,
// cancelled or unknown ids it returns the zero Result and false.
func (m *Manager) GetResult(id ID) (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.table[id]
	if !ok || req.state != StateComplete {
		return Result{}, false
	}
	return req.result, true
}

// Cancel marks the request cancelled, stops its job and removes it. It is
// also how a poller frees a slot after consuming a result. Unknown ids are
// ignored.
func (m *Manager) Cancel(id ID) {
	m.mu.Lock()
	req, ok := m.table[id]
	if ok {
		if req.state == StatePending {
			m.metrics.cancelled()
		}
		req.state = StateCancelled
		delete(m.table, id)
		m.metrics.setInFlight(len(m.table))
	}
	m.mu.Unlock()
	if ok && req.cancel != nil {
		req.cancel()
	}
}

// State returns the state of id. Removed or unknown ids report
// StateCancelled and false.
func (m *Manager) State(id ID) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.table[id]
	if !ok {
		return StateCancelled, false
	}
	return req.state, true
}

// Pending returns the number of requests still waiting for a result.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.table {
		if req.state == StatePending {
			n++
		}
	}
	return n
}

// Len returns the number of live table entries (pending or complete but
// not yet consumed).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table)
}

// Close cancels every outstanding job, waits for the workers to exit and
// clears the table. Requests made afterwards complete immediately with
// ErrClosed. Safe to call multiple times.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	for id, req := range m.table {
		if req.cancel != nil {
			req.cancel()
		}
		delete(m.table, id)
	}
	m.metrics.setInFlight(0)
	m.mu.Unlock()
}
