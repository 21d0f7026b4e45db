package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven/mocks"
)

type fakeQueue struct {
	calls  atomic.Int32
	limits []int
	mu     sync.Mutex
	result *domain.BatchResult
	err    error
}

func (f *fakeQueue) ProcessPendingQueue(ctx context.Context, limit int) (*domain.BatchResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.BatchResult{}, nil
}

type fakeRefresher struct {
	calls   atomic.Int32
	windows []time.Duration
	err     error
}

func (f *fakeRefresher) RefreshExpiring(ctx context.Context, window time.Duration) (int, int, error) {
	f.calls.Add(1)
	f.windows = append(f.windows, window)
	return 2, 1, f.err
}

func TestNewWorker_Defaults(t *testing.T) {
	w, err := NewWorker(WorkerConfig{Queue: &fakeQueue{}, Tokens: &fakeRefresher{}})
	require.NoError(t, err)

	assert.Equal(t, DefaultMatchBatch, w.matchBatch)
	assert.Equal(t, DefaultKeepAliveWindow, w.keepAliveWindow)
	assert.Equal(t, DefaultLockTTL, w.lockTTL)
	assert.Len(t, w.cron.Entries(), 2)
}

func TestNewWorker_SkipsMissingJobs(t *testing.T) {
	w, err := NewWorker(WorkerConfig{Queue: &fakeQueue{}})
	require.NoError(t, err)
	assert.Len(t, w.cron.Entries(), 1)
}

func TestNewWorker_InvalidSchedule(t *testing.T) {
	_, err := NewWorker(WorkerConfig{Queue: &fakeQueue{}, MatchSchedule: "every minute please"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestRunMatchBatch(t *testing.T) {
	queue := &fakeQueue{result: &domain.BatchResult{Processed: 3, Matched: 2, ManualReview: 1}}
	lock := mocks.NewMockDistributedLock()
	w, err := NewWorker(WorkerConfig{Queue: queue, Lock: lock, MatchBatch: 25})
	require.NoError(t, err)

	require.NoError(t, w.RunMatchBatch(context.Background()))
	assert.Equal(t, []int{25}, queue.limits)
	assert.Equal(t, []string{JobMatchQueue}, lock.Acquired)
	assert.False(t, lock.IsHeld(JobMatchQueue), "lock is released after the run")
}

func TestRunMatchBatch_SkipsWhenLockHeld(t *testing.T) {
	queue := &fakeQueue{}
	lock := mocks.NewMockDistributedLock()
	lock.Hold(JobMatchQueue, time.Minute)
	w, err := NewWorker(WorkerConfig{Queue: queue, Lock: lock})
	require.NoError(t, err)

	require.NoError(t, w.RunMatchBatch(context.Background()))
	assert.Zero(t, queue.calls.Load())
	assert.True(t, lock.IsHeld(JobMatchQueue), "another instance's lock is left alone")
}

func TestRunMatchBatch_LockError(t *testing.T) {
	queue := &fakeQueue{}
	lock := mocks.NewMockDistributedLock()
	lock.AcquireFn = func(string, time.Duration) (bool, error) {
		return false, errors.New("redis down")
	}
	w, err := NewWorker(WorkerConfig{Queue: queue, Lock: lock})
	require.NoError(t, err)

	assert.Error(t, w.RunMatchBatch(context.Background()))
	assert.Zero(t, queue.calls.Load())
}

func TestRunMatchBatch_ReleasesOnFailure(t *testing.T) {
	queue := &fakeQueue{err: errors.New("db unavailable")}
	lock := mocks.NewMockDistributedLock()
	w, err := NewWorker(WorkerConfig{Queue: queue, Lock: lock})
	require.NoError(t, err)

	assert.Error(t, w.RunMatchBatch(context.Background()))
	assert.False(t, lock.IsHeld(JobMatchQueue))
}

type queueFunc func(ctx context.Context, limit int) (*domain.BatchResult, error)

func (f queueFunc) ProcessPendingQueue(ctx context.Context, limit int) (*domain.BatchResult, error) {
	return f(ctx, limit)
}

func TestRunMatchBatch_ExtendsLockDuringLongRun(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	slow := queueFunc(func(ctx context.Context, _ int) (*domain.BatchResult, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return &domain.BatchResult{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	w, err := NewWorker(WorkerConfig{Queue: slow, Lock: lock, LockTTL: 40 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, w.RunMatchBatch(context.Background()))
	assert.GreaterOrEqual(t, lock.Extensions(), 2)
	assert.False(t, lock.IsHeld(JobMatchQueue))
}

func TestRunMatchBatch_CancelledWhenLockLost(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	lock.ExtendFn = func(string, time.Duration) error { return errors.New("lock taken over") }
	blocked := queueFunc(func(ctx context.Context, _ int) (*domain.BatchResult, error) {
		select {
		case <-time.After(5 * time.Second):
			return &domain.BatchResult{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	w, err := NewWorker(WorkerConfig{Queue: blocked, Lock: lock, LockTTL: 40 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	err = w.RunMatchBatch(context.Background())
	assert.ErrorIs(t, err, ErrLockLost)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunKeepAlive(t *testing.T) {
	tokens := &fakeRefresher{}
	w, err := NewWorker(WorkerConfig{Tokens: tokens, KeepAliveWindow: 45 * time.Minute})
	require.NoError(t, err)

	require.NoError(t, w.RunKeepAlive(context.Background()))
	assert.Equal(t, []time.Duration{45 * time.Minute}, tokens.windows)
}

func TestWorker_RunsScheduledJobs(t *testing.T) {
	queue := &fakeQueue{}
	tokens := &fakeRefresher{}
	w, err := NewWorker(WorkerConfig{
		Queue:             queue,
		Tokens:            tokens,
		Lock:              mocks.NewMockDistributedLock(),
		MatchSchedule:     "@every 1s",
		KeepAliveSchedule: "@every 1s",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.Health(ctx).Running)

	require.Eventually(t, func() bool {
		return queue.calls.Load() > 0 && tokens.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	w.Stop()
	assert.False(t, w.Health(context.Background()).Running)

	// Stop is idempotent
	w.Stop()
}

func TestWorker_StopsWithContext(t *testing.T) {
	w, err := NewWorker(WorkerConfig{Queue: &fakeQueue{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	require.Eventually(t, func() bool {
		return !w.Health(context.Background()).Running
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_Health(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	lock.PingFn = func() error { return errors.New("connection refused") }
	w, err := NewWorker(WorkerConfig{Queue: &fakeQueue{}, Lock: lock})
	require.NoError(t, err)

	health := w.Health(context.Background())
	assert.False(t, health.Running)
	assert.False(t, health.LockHealth)
	assert.Equal(t, "connection refused", health.Error)
}
