package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/application/payment"
	"github.com/shopstream/commerce-core/internal/infrastructure/taskqueue"
)

const QueueReconciliation = "payment-reconciliation"

type ReconcileJob struct {
	Limit int `json:"limit"`
}

// ReconcileScheduler periodically enqueues a reconciliation sweep, so runs
// go through the queue like every other background job and show up in its
// stats and DLQ.
type ReconcileScheduler struct {
	queue    *taskqueue.Queue
	interval time.Duration
	limit    int
	lg       zerolog.Logger
}

func NewReconcileScheduler(queue *taskqueue.Queue, interval time.Duration, limit int, lg zerolog.Logger) *ReconcileScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if limit <= 0 {
		limit = 100
	}
	return &ReconcileScheduler{
		queue:    queue,
		interval: interval,
		limit:    limit,
		lg:       lg.With().Str("component", "reconcile_scheduler").Logger(),
	}
}

func (s *ReconcileScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.lg.Info().Dur("interval", s.interval).Msg("started")

	for {
		select {
		case <-ctx.Done():
			s.lg.Info().Msg("stopped")
			return
		case <-ticker.C:
			_, err := s.queue.Enqueue(ctx, QueueReconciliation, "reconcile-batch",
				ReconcileJob{Limit: s.limit}, taskqueue.EnqueueOptions{MaxAttempts: 1})
			if err != nil {
				s.lg.Warn().Err(err).Msg("enqueue failed")
			}
		}
	}
}

// ReconcileHandler runs one queued reconciliation batch.
func ReconcileHandler(reconciler *payment.Reconciler, lg zerolog.Logger) taskqueue.HandlerFunc {
	hlg := lg.With().Str("component", "reconcile_worker").Logger()
	return func(ctx context.Context, job *taskqueue.Job) error {
		var rj ReconcileJob
		if err := json.Unmarshal(job.Data, &rj); err != nil {
			return err
		}
		if rj.Limit <= 0 {
			rj.Limit = 100
		}
		changed, err := reconciler.ReconcileBatch(ctx, rj.Limit)
		if err != nil {
			return err
		}
		if changed > 0 {
			hlg.Info().Int("changed", changed).Msg("reconciliation applied drift")
		}
		return nil
	}
}
