// Package dispatch runs the fixed worker pool that executes matching
// tasks. Each worker builds its own store and bus handles at startup
// and signals readiness; tasks are fanned out round-robin and outcomes
// are correlated back to the waiting submitter by task id.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/richxcame/airpool/internal/matching"
	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/logger"
	"github.com/richxcame/airpool/pkg/metrics"
)

// DefaultReadyTimeout bounds each worker's startup; a worker that has
// not signalled within it fails dispatcher initialisation.
const DefaultReadyTimeout = 10 * time.Second

// Kind names a task type.
type Kind string

const (
	KindMatchRide          Kind = "MATCH_RIDE"
	KindRemoveUser         Kind = "REMOVE_USER"
	KindRemoveUserFromTrip Kind = "REMOVE_USER_FROM_TRIP"
)

// Task is one unit of work. Match is read for MATCH_RIDE, UserID for
// the removal kinds. An empty ID is assigned on submit.
type Task struct {
	ID     string
	Kind   Kind
	Match  matching.Request
	UserID string
}

// Outcome carries a finished task back to its submitter.
type Outcome struct {
	TaskID string
	Match  *matching.Result
	Err    error
}

// Engine is the slice of the matching service a worker drives.
type Engine interface {
	Match(ctx context.Context, req matching.Request) (*matching.Result, error)
	RemoveUser(ctx context.Context, userID string) error
	RemoveUserFromTrip(ctx context.Context, userID string) error
}

// WorkerContext holds one worker's private handles. Workers share
// nothing; every store and bus client is built per worker by the
// context factory.
type WorkerContext struct {
	ID      int
	Engine  Engine
	closers []func() error
}

// OnClose registers a cleanup hook; hooks run in reverse order when the
// worker stops.
func (wc *WorkerContext) OnClose(fn func() error) {
	wc.closers = append(wc.closers, fn)
}

// Close releases the worker's handles.
func (wc *WorkerContext) Close() {
	for i := len(wc.closers) - 1; i >= 0; i-- {
		if err := wc.closers[i](); err != nil {
			logger.Warn("worker cleanup failed",
				zap.Int("worker_id", wc.ID),
				zap.Error(err))
		}
	}
}

// ContextFactory builds one worker's private context. It runs on the
// worker's own goroutine during startup.
type ContextFactory func(ctx context.Context, workerID int) (*WorkerContext, error)

// Dispatcher owns the worker pool. Submit blocks the caller until its
// task's outcome arrives; queue depth is one task per worker, so
// submission applies backpressure when every worker is busy.
type Dispatcher struct {
	factory      ContextFactory
	size         int
	readyTimeout time.Duration

	queues  []chan Task
	results chan Outcome
	next    atomic.Uint64

	mu       sync.Mutex
	pending  map[string]chan Outcome
	draining bool

	quit   chan struct{}
	wg     sync.WaitGroup
	corrWg sync.WaitGroup
}

// NewDispatcher builds a dispatcher for size workers.
func NewDispatcher(size int, factory ContextFactory) *Dispatcher {
	if size < 1 {
		size = 1
	}
	d := &Dispatcher{
		factory:      factory,
		size:         size,
		readyTimeout: DefaultReadyTimeout,
		queues:       make([]chan Task, size),
		results:      make(chan Outcome, size),
		pending:      make(map[string]chan Outcome),
		quit:         make(chan struct{}),
	}
	for i := range d.queues {
		d.queues[i] = make(chan Task, 1)
	}
	return d
}

// Start spins up every worker and returns once all have signalled
// ready. Any worker failing or missing its readiness timeout fails the
// whole pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	readiness := make([]chan error, d.size)
	for i := range readiness {
		readiness[i] = make(chan error, 1)
	}

	for i := 0; i < d.size; i++ {
		d.wg.Add(1)
		go d.runWorker(ctx, i, readiness[i])
	}
	d.corrWg.Add(1)
	go d.correlate()

	for i, ready := range readiness {
		select {
		case err := <-ready:
			if err != nil {
				d.Shutdown()
				return fmt.Errorf("worker %d failed to initialise: %w", i, err)
			}
		case <-time.After(d.readyTimeout):
			d.Shutdown()
			return fmt.Errorf("worker %d not ready within %s", i, d.readyTimeout)
		}
	}

	logger.Info("worker pool ready", zap.Int("workers", d.size))
	return nil
}

// Submit hands a task to the pool round-robin and waits for its
// outcome. After Shutdown every submission is rejected immediately.
func (d *Dispatcher) Submit(ctx context.Context, task Task) (*matching.Result, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		metrics.RecordTask(string(task.Kind), "rejected")
		return nil, common.NewWorkerPoolTerminatedError()
	}
	if _, exists := d.pending[task.ID]; exists {
		d.mu.Unlock()
		return nil, common.NewBadRequestError(fmt.Sprintf("task %s already in flight", task.ID), nil)
	}
	done := make(chan Outcome, 1)
	d.pending[task.ID] = done
	d.mu.Unlock()

	worker := int((d.next.Add(1) - 1) % uint64(d.size))
	select {
	case d.queues[worker] <- task:
	case <-d.quit:
		d.forget(task.ID)
		metrics.RecordTask(string(task.Kind), "rejected")
		return nil, common.NewWorkerPoolTerminatedError()
	case <-ctx.Done():
		d.forget(task.ID)
		return nil, ctx.Err()
	}

	select {
	case out := <-done:
		return out.Match, out.Err
	case <-ctx.Done():
		d.forget(task.ID)
		return nil, ctx.Err()
	}
}

// Shutdown stops accepting work, lets in-flight tasks finish, and
// rejects everything still queued or uncorrelated.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.mu.Unlock()

	close(d.quit)
	d.wg.Wait()
	close(d.results)
	d.corrWg.Wait()

	logger.Info("worker pool terminated")
}

func (d *Dispatcher) forget(taskID string) {
	d.mu.Lock()
	delete(d.pending, taskID)
	d.mu.Unlock()
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ready chan<- error) {
	defer d.wg.Done()

	wc, err := d.factory(ctx, id)
	if err != nil {
		ready <- err
		return
	}
	defer wc.Close()
	wc.ID = id
	ready <- nil
	logger.Info("worker ready", zap.Int("worker_id", id))

	for {
		// Quit wins over queued work, so a draining pool never starts
		// tasks it is about to reject.
		select {
		case <-d.quit:
			return
		default:
		}

		select {
		case task := <-d.queues[id]:
			d.results <- d.execute(ctx, wc, task)
		case <-d.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, wc *WorkerContext, task Task) Outcome {
	metrics.WorkerStarted()
	defer metrics.WorkerFinished()

	ctx = logger.ContextWithTaskID(ctx, task.ID)
	start := time.Now()

	out := Outcome{TaskID: task.ID}
	switch task.Kind {
	case KindMatchRide:
		out.Match, out.Err = wc.Engine.Match(ctx, task.Match)
	case KindRemoveUser:
		out.Err = wc.Engine.RemoveUser(ctx, task.UserID)
	case KindRemoveUserFromTrip:
		out.Err = wc.Engine.RemoveUserFromTrip(ctx, task.UserID)
	default:
		out.Err = common.NewBadRequestError(fmt.Sprintf("unknown task kind %q", task.Kind), nil)
	}

	status := "ok"
	if out.Err != nil {
		status = "error"
	}
	metrics.RecordTask(string(task.Kind), status)

	logger.DebugContext(ctx, "task finished",
		zap.Int("worker_id", wc.ID),
		zap.String("kind", string(task.Kind)),
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)))
	return out
}

func (d *Dispatcher) correlate() {
	defer d.corrWg.Done()

	for out := range d.results {
		d.mu.Lock()
		done, ok := d.pending[out.TaskID]
		delete(d.pending, out.TaskID)
		d.mu.Unlock()

		if !ok {
			// Submitter gave up before the task finished.
			logger.Debug("outcome for abandoned task", zap.String("task_id", out.TaskID))
			continue
		}
		done <- out
	}

	// The workers are gone; whatever is still pending never ran.
	d.mu.Lock()
	for id, done := range d.pending {
		delete(d.pending, id)
		done <- Outcome{TaskID: id, Err: common.NewWorkerPoolTerminatedError()}
	}
	d.mu.Unlock()
}
