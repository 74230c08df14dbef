package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
)

// QueueConfig bounds the in-process job queue.
type QueueConfig struct {
	Capacity          int
	VisibilityTimeout time.Duration
	MaxAttempts       int
}

type lease struct {
	deadline time.Time
	attempt  int
}

// JobQueue is an at-least-once, in-process queue of task ids. A dequeued id
// is leased until acked; an expired lease is put back on the queue.
type JobQueue struct {
	logger *slog.Logger
	cfg    QueueConfig
	ready  chan domain.TaskID
	now    func() time.Time

	mu       sync.Mutex
	queued   map[domain.TaskID]struct{}
	leases   map[domain.TaskID]lease
	attempts map[domain.TaskID]int
	closed   bool
}

var _ ports.JobQueue = (*JobQueue)(nil)

func NewJobQueue(logger *slog.Logger, cfg QueueConfig) *JobQueue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 35 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &JobQueue{
		logger:   logger,
		cfg:      cfg,
		ready:    make(chan domain.TaskID, cfg.Capacity),
		now:      time.Now,
		queued:   make(map[domain.TaskID]struct{}),
		leases:   make(map[domain.TaskID]lease),
		attempts: make(map[domain.TaskID]int),
	}
}

// Enqueue adds id unless it is already queued or leased.
func (q *JobQueue) Enqueue(_ context.Context, id domain.TaskID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.ErrQueueClosed
	}
	if _, ok := q.queued[id]; ok {
		return nil
	}
	if _, ok := q.leases[id]; ok {
		return nil
	}
	return q.pushLocked(id)
}

func (q *JobQueue) pushLocked(id domain.TaskID) error {
	select {
	case q.ready <- id:
		q.queued[id] = struct{}{}
		q.logger.Debug("task enqueued", "task_id", id)
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an id is available and leases it.
func (q *JobQueue) Dequeue(ctx context.Context) (ports.Delivery, error) {
	select {
	case <-ctx.Done():
		return ports.Delivery{}, ctx.Err()
	case id := <-q.ready:
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.queued, id)
		q.attempts[id]++
		attempt := q.attempts[id]
		q.leases[id] = lease{deadline: q.now().Add(q.cfg.VisibilityTimeout), attempt: attempt}
		return ports.Delivery{TaskID: id, Attempt: attempt}, nil
	}
}

// Ack releases the lease for good.
func (q *JobQueue) Ack(id domain.TaskID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leases, id)
	delete(q.attempts, id)
}

// Nack releases the lease and requeues id until MaxAttempts is reached.
func (q *JobQueue) Nack(id domain.TaskID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leases, id)
	q.requeueLocked(id)
}

func (q *JobQueue) requeueLocked(id domain.TaskID) {
	if q.attempts[id] >= q.cfg.MaxAttempts {
		q.logger.Error("task exceeded delivery attempts, dropping", "task_id", id, "attempts", q.attempts[id])
		delete(q.attempts, id)
		return
	}
	if q.closed {
		return
	}
	if err := q.pushLocked(id); err != nil {
		q.logger.Warn("failed to requeue task", "task_id", id, "error", err)
	}
}

// RedeliverExpired requeues every id whose lease has lapsed.
func (q *JobQueue) RedeliverExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := 0
	for id, l := range q.leases {
		if now.Before(l.deadline) {
			continue
		}
		delete(q.leases, id)
		q.logger.Warn("lease expired, redelivering", "task_id", id, "attempt", l.attempt)
		q.requeueLocked(id)
		n++
	}
	return n
}

// Start runs the lease reaper until ctx is done.
func (q *JobQueue) Start(ctx context.Context) {
	interval := q.cfg.VisibilityTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.RedeliverExpired()
			}
		}
	}()
}

// Close rejects further enqueues.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len is the number of ids waiting to be dequeued.
func (q *JobQueue) Len() int {
	return len(q.ready)
}
