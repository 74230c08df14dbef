package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
)

// Recovery reconciles the task table with the queue: PENDING tasks that
// were never delivered are requeued and PROCESSING tasks past the ceiling
// are failed.
type Recovery struct {
	logger   *slog.Logger
	store    ports.TaskStore
	queue    ports.JobQueue
	events   *EventBus
	interval time.Duration
	ceiling  time.Duration
	now      func() time.Time
}

func NewRecovery(logger *slog.Logger, store ports.TaskStore, queue ports.JobQueue, events *EventBus, interval, ceiling time.Duration) *Recovery {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Recovery{
		logger:   logger,
		store:    store,
		queue:    queue,
		events:   events,
		interval: interval,
		ceiling:  ceiling,
		now:      time.Now,
	}
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Requeued int
	Failed   int
}

func (r *Recovery) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := r.now()

	pending, err := r.store.ListTasksBefore(ctx, domain.TaskStatusPending, now)
	if err != nil {
		return res, fmt.Errorf("list pending tasks: %w", err)
	}
	for _, id := range pending {
		if err := r.queue.Enqueue(ctx, id); err != nil {
			if errors.Is(err, domain.ErrQueueFull) {
				r.logger.Warn("queue full, deferring requeue", "remaining", len(pending)-res.Requeued)
				break
			}
			return res, fmt.Errorf("requeue %s: %w", id, err)
		}
		res.Requeued++
	}

	stale, err := r.store.ListTasksBefore(ctx, domain.TaskStatusProcessing, now.Add(-r.ceiling))
	if err != nil {
		return res, fmt.Errorf("list stale tasks: %w", err)
	}
	for _, id := range stale {
		msg := fmt.Sprintf("processing lease expired: no result within %s", r.ceiling)
		err := r.store.SetStatus(ctx, id, domain.TaskStatusFailed, msg)
		if errors.Is(err, domain.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("fail stale task %s: %w", id, err)
		}
		r.events.PublishStatus(id, domain.TaskStatusFailed, -1, "", msg)
		res.Failed++
	}

	if res.Requeued > 0 || res.Failed > 0 {
		r.logger.Info("recovery sweep", "requeued", res.Requeued, "failed", res.Failed)
	}
	return res, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (r *Recovery) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("recovery sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
