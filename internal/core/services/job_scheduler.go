package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/manthysbr/inspectd/internal/core/ports"
	"golang.org/x/sync/semaphore"
)

// SchedulerConfig defines concurrency limits
type SchedulerConfig struct {
	MaxConcurrentJobs int64
}

// DeliveryHandler processes one delivery. A non-nil error nacks it.
type DeliveryHandler func(context.Context, ports.Delivery) error

// JobScheduler pulls deliveries from the queue and runs at most
// MaxConcurrentJobs of them at a time.
type JobScheduler struct {
	logger    *slog.Logger
	queue     ports.JobQueue
	semaphore *semaphore.Weighted
	inflight  sync.WaitGroup
}

func NewJobScheduler(logger *slog.Logger, queue ports.JobQueue, cfg SchedulerConfig) *JobScheduler {
	limit := cfg.MaxConcurrentJobs
	if limit <= 0 {
		limit = 4
	}

	return &JobScheduler{
		logger:    logger,
		queue:     queue,
		semaphore: semaphore.NewWeighted(limit),
	}
}

// Run consumes the queue until ctx is done, then waits for in-flight work.
func (s *JobScheduler) Run(ctx context.Context, handler DeliveryHandler) error {
	s.logger.Info("starting job scheduler")
	defer s.inflight.Wait()

	for {
		// Take a slot before leasing so a leased task is never left waiting.
		if err := s.semaphore.Acquire(ctx, 1); err != nil {
			s.logger.Info("stopping scheduler")
			return nil
		}

		d, err := s.queue.Dequeue(ctx)
		if err != nil {
			s.semaphore.Release(1)
			s.logger.Info("stopping scheduler")
			return nil
		}

		s.inflight.Add(1)
		go func(d ports.Delivery) {
			defer s.inflight.Done()
			defer s.semaphore.Release(1)

			if err := handler(ctx, d); err != nil {
				s.logger.Warn("delivery failed, requeueing", "task_id", d.TaskID, "attempt", d.Attempt, "error", err)
				s.queue.Nack(d.TaskID)
				return
			}
			s.queue.Ack(d.TaskID)
		}(d)
	}
}
