package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobScheduler_ConcurrencyLimit(t *testing.T) {
	logger := testLogger()
	queue := NewJobQueue(logger, QueueConfig{Capacity: 10})
	scheduler := NewJobScheduler(logger, queue, SchedulerConfig{MaxConcurrentJobs: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runningJobs int32
	var maxRunningJobs int32
	var wg sync.WaitGroup

	totalJobs := 5
	wg.Add(totalJobs)

	handler := func(ctx context.Context, d ports.Delivery) error {
		current := atomic.AddInt32(&runningJobs, 1)

		// Track peak concurrency
		for {
			max := atomic.LoadInt32(&maxRunningJobs)
			if current > max && !atomic.CompareAndSwapInt32(&maxRunningJobs, max, current) {
				continue
			}
			break
		}

		time.Sleep(100 * time.Millisecond)
		atomic.AddInt32(&runningJobs, -1)
		wg.Done()
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = scheduler.Run(ctx, handler)
		close(done)
	}()

	for i := 0; i < totalJobs; i++ {
		require.NoError(t, queue.Enqueue(ctx, domain.TaskID(fmt.Sprintf("task-%d", i))))
	}

	wg.Wait()
	cancel()
	<-done

	peak := atomic.LoadInt32(&maxRunningJobs)
	assert.LessOrEqual(t, peak, int32(2), "should not exceed max concurrency")
	assert.Greater(t, peak, int32(0), "should have run some jobs")
}

func TestJobScheduler_NackRedelivers(t *testing.T) {
	logger := testLogger()
	queue := NewJobQueue(logger, QueueConfig{Capacity: 4, MaxAttempts: 3})
	scheduler := NewJobScheduler(logger, queue, SchedulerConfig{MaxConcurrentJobs: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts []int
	var mu sync.Mutex
	succeeded := make(chan struct{})

	handler := func(ctx context.Context, d ports.Delivery) error {
		mu.Lock()
		attempts = append(attempts, d.Attempt)
		mu.Unlock()
		if d.Attempt < 2 {
			return errors.New("transient")
		}
		close(succeeded)
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = scheduler.Run(ctx, handler)
		close(done)
	}()

	require.NoError(t, queue.Enqueue(ctx, "task-a"))

	select {
	case <-succeeded:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not retried")
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestJobQueue_EnqueueDeduplicates(t *testing.T) {
	queue := NewJobQueue(testLogger(), QueueConfig{Capacity: 4})
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "task-a"))
	require.NoError(t, queue.Enqueue(ctx, "task-a"))
	assert.Equal(t, 1, queue.Len())

	d, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskID("task-a"), d.TaskID)

	// Leased ids are not queued twice either.
	require.NoError(t, queue.Enqueue(ctx, "task-a"))
	assert.Equal(t, 0, queue.Len())
}

func TestJobQueue_FullAndClosed(t *testing.T) {
	queue := NewJobQueue(testLogger(), QueueConfig{Capacity: 1})
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "task-a"))
	assert.ErrorIs(t, queue.Enqueue(ctx, "task-b"), domain.ErrQueueFull)

	queue.Close()
	assert.ErrorIs(t, queue.Enqueue(ctx, "task-c"), domain.ErrQueueClosed)
}

func TestJobQueue_DequeueHonoursContext(t *testing.T) {
	queue := NewJobQueue(testLogger(), QueueConfig{Capacity: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := queue.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJobQueue_ExpiredLeaseIsRedelivered(t *testing.T) {
	queue := NewJobQueue(testLogger(), QueueConfig{Capacity: 4, VisibilityTimeout: time.Minute})
	now := time.Now()
	queue.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "task-a"))
	first, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)

	assert.Equal(t, 0, queue.RedeliverExpired(), "lease still valid")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, queue.RedeliverExpired())

	second, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskID("task-a"), second.TaskID)
	assert.Equal(t, 2, second.Attempt)
}

func TestJobQueue_NackStopsAtMaxAttempts(t *testing.T) {
	queue := NewJobQueue(testLogger(), QueueConfig{Capacity: 4, MaxAttempts: 2})
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "task-a"))
	for i := 0; i < 2; i++ {
		d, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		queue.Nack(d.TaskID)
	}
	assert.Equal(t, 0, queue.Len(), "dropped after max attempts")

	// A fresh enqueue starts counting again.
	require.NoError(t, queue.Enqueue(ctx, "task-a"))
	d, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Attempt)
}
