package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richxcame/airpool/internal/matching"
	"github.com/richxcame/airpool/pkg/common"
)

type fakeEngine struct {
	mu       sync.Mutex
	matches  []matching.Request
	removed  []string
	tripLeft []string

	result   *matching.Result
	matchErr error

	started chan struct{}
	gate    chan struct{}
}

func (e *fakeEngine) Match(_ context.Context, req matching.Request) (*matching.Result, error) {
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.gate != nil {
		<-e.gate
	}

	e.mu.Lock()
	e.matches = append(e.matches, req)
	e.mu.Unlock()

	if e.matchErr != nil {
		return nil, e.matchErr
	}
	if e.result != nil {
		return e.result, nil
	}
	return &matching.Result{Kind: matching.KindNone, UserID: req.UserID}, nil
}

func (e *fakeEngine) RemoveUser(_ context.Context, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, userID)
	return nil
}

func (e *fakeEngine) RemoveUserFromTrip(_ context.Context, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tripLeft = append(e.tripLeft, userID)
	return nil
}

func (e *fakeEngine) matchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.matches)
}

// staticFactory hands worker i the i-th engine.
func staticFactory(engines ...*fakeEngine) ContextFactory {
	return func(_ context.Context, workerID int) (*WorkerContext, error) {
		return &WorkerContext{Engine: engines[workerID%len(engines)]}, nil
	}
}

func TestDispatcher_SubmitMatchTask(t *testing.T) {
	engine := &fakeEngine{result: &matching.Result{Kind: matching.KindDirect, UserID: "u1", TripID: "TRIP1"}}
	d := NewDispatcher(2, staticFactory(engine))
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown()

	res, err := d.Submit(context.Background(), Task{
		Kind:  KindMatchRide,
		Match: matching.Request{UserID: "u1", PassengerCount: 1},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, matching.KindDirect, res.Kind)
	assert.Equal(t, 1, engine.matchCount())
}

func TestDispatcher_SubmitPropagatesEngineError(t *testing.T) {
	engine := &fakeEngine{matchErr: errors.New("pool down")}
	d := NewDispatcher(1, staticFactory(engine))
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown()

	res, err := d.Submit(context.Background(), Task{Kind: KindMatchRide, Match: matching.Request{UserID: "u1"}})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.EqualError(t, err, "pool down")
}

func TestDispatcher_RoundRobinAcrossWorkers(t *testing.T) {
	first := &fakeEngine{}
	second := &fakeEngine{}
	d := NewDispatcher(2, staticFactory(first, second))
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown()

	for i := 0; i < 4; i++ {
		_, err := d.Submit(context.Background(), Task{Kind: KindMatchRide, Match: matching.Request{UserID: "u"}})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, first.matchCount())
	assert.Equal(t, 2, second.matchCount())
}

func TestDispatcher_RemovalTasks(t *testing.T) {
	engine := &fakeEngine{}
	d := NewDispatcher(1, staticFactory(engine))
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown()

	res, err := d.Submit(context.Background(), Task{Kind: KindRemoveUser, UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = d.Submit(context.Background(), Task{Kind: KindRemoveUserFromTrip, UserID: "u2"})
	require.NoError(t, err)
	assert.Nil(t, res)

	assert.Equal(t, []string{"u1"}, engine.removed)
	assert.Equal(t, []string{"u2"}, engine.tripLeft)
}

func TestDispatcher_UnknownKindRejected(t *testing.T) {
	d := NewDispatcher(1, staticFactory(&fakeEngine{}))
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown()

	_, err := d.Submit(context.Background(), Task{Kind: Kind("REPAINT_CAB")})
	require.Error(t, err)

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.KindValidationError, appErr.Kind)
}

func TestDispatcher_FactoryFailureFailsStart(t *testing.T) {
	factory := func(_ context.Context, workerID int) (*WorkerContext, error) {
		if workerID == 1 {
			return nil, errors.New("redis unreachable")
		}
		return &WorkerContext{Engine: &fakeEngine{}}, nil
	}

	d := NewDispatcher(2, factory)
	err := d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 1")
}

func TestDispatcher_ReadyTimeoutFailsStart(t *testing.T) {
	factory := func(_ context.Context, _ int) (*WorkerContext, error) {
		time.Sleep(200 * time.Millisecond)
		return &WorkerContext{Engine: &fakeEngine{}}, nil
	}

	d := NewDispatcher(1, factory)
	d.readyTimeout = 50 * time.Millisecond

	err := d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestDispatcher_ParallelExecution(t *testing.T) {
	started := make(chan struct{}, 2)
	gate := make(chan struct{})
	engine := &fakeEngine{started: started, gate: gate}

	d := NewDispatcher(2, staticFactory(engine))
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Submit(context.Background(), Task{Kind: KindMatchRide, Match: matching.Request{UserID: "u"}})
			assert.NoError(t, err)
		}()
	}

	// Both workers must reach the gate concurrently.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("worker never started its task")
		}
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, 2, engine.matchCount())
}

func TestDispatcher_ShutdownRejectsQueuedTasks(t *testing.T) {
	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	engine := &fakeEngine{started: started, gate: gate}

	d := NewDispatcher(1, staticFactory(engine))
	require.NoError(t, d.Start(context.Background()))

	firstDone := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), Task{Kind: KindMatchRide, Match: matching.Request{UserID: "u1"}})
		firstDone <- err
	}()

	// Wait for the first task to occupy the only worker, then queue a
	// second one behind it.
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first task never started")
	}

	secondDone := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), Task{Kind: KindMatchRide, Match: matching.Request{UserID: "u2"}})
		secondDone <- err
	}()
	time.Sleep(50 * time.Millisecond)

	shutdownDone := make(chan struct{})
	go func() {
		d.Shutdown()
		close(shutdownDone)
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate)

	// The in-flight task finishes normally; the queued one is rejected.
	require.NoError(t, <-firstDone)
	err := <-secondDone
	require.Error(t, err)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.KindWorkerPoolTerminated, appErr.Kind)

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never completed")
	}
}

func TestDispatcher_SubmitAfterShutdownRejected(t *testing.T) {
	d := NewDispatcher(1, staticFactory(&fakeEngine{}))
	require.NoError(t, d.Start(context.Background()))
	d.Shutdown()

	_, err := d.Submit(context.Background(), Task{Kind: KindMatchRide})
	require.Error(t, err)

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.KindWorkerPoolTerminated, appErr.Kind)
}

func TestDispatcher_SubmitHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	engine := &fakeEngine{started: started, gate: gate}

	d := NewDispatcher(1, staticFactory(engine))
	require.NoError(t, d.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Submit(ctx, Task{Kind: KindMatchRide, Match: matching.Request{UserID: "u1"}})
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)

	close(gate)
	d.Shutdown()
}

func TestWorkerContext_CloseRunsHooksInReverse(t *testing.T) {
	wc := &WorkerContext{}

	var order []string
	wc.OnClose(func() error {
		order = append(order, "redis")
		return nil
	})
	wc.OnClose(func() error {
		order = append(order, "nats")
		return nil
	})
	wc.OnClose(func() error {
		order = append(order, "pg")
		return errors.New("already closed")
	})

	wc.Close()
	assert.Equal(t, []string{"pg", "nats", "redis"}, order)
}
