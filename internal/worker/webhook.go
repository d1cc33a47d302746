package worker

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/application/payment"
	"github.com/shopstream/commerce-core/internal/domain"
	"github.com/shopstream/commerce-core/internal/infrastructure/taskqueue"
)

const QueueWebhookRetry = "webhook-retry"

// WebhookJob is the payload queued when a webhook delivery cannot be applied
// synchronously and must be retried with backoff.
type WebhookJob struct {
	Provider  string `json:"provider"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	IntentID  string `json:"intent_id"`
	Payload   []byte `json:"payload"`
	Signature string `json:"signature"`
}

// WebhookRetrier pushes failed webhook deliveries onto the retry queue and
// replays them through the payment service.
type WebhookRetrier struct {
	queue    *taskqueue.Queue
	payments *payment.Service
	opts     taskqueue.EnqueueOptions
	lg       zerolog.Logger
}

func NewWebhookRetrier(queue *taskqueue.Queue, payments *payment.Service, opts taskqueue.EnqueueOptions, lg zerolog.Logger) *WebhookRetrier {
	return &WebhookRetrier{
		queue:    queue,
		payments: payments,
		opts:     opts,
		lg:       lg.With().Str("component", "webhook_retrier").Logger(),
	}
}

// Enqueue parks a webhook delivery for retry.
func (w *WebhookRetrier) Enqueue(ctx context.Context, job WebhookJob) (*taskqueue.Job, error) {
	return w.queue.Enqueue(ctx, QueueWebhookRetry, job.EventType, job, w.opts)
}

// Handler replays one queued delivery. Errors the payment service classifies
// as permanent (bad signature, impossible transition, malformed input) are
// marked exhausted so they land in the DLQ instead of burning retries.
func (w *WebhookRetrier) Handler() taskqueue.HandlerFunc {
	return func(ctx context.Context, job *taskqueue.Job) error {
		var wj WebhookJob
		if err := json.Unmarshal(job.Data, &wj); err != nil {
			job.AttemptsMade = job.MaxAttempts
			return domain.Wrap(domain.KindFatal, "malformed webhook job", err)
		}

		result, err := w.payments.ProcessWebhook(ctx, payment.WebhookInput{
			Provider:  wj.Provider,
			EventID:   wj.EventID,
			EventType: wj.EventType,
			IntentID:  wj.IntentID,
			Payload:   wj.Payload,
			Signature: wj.Signature,
		})
		if err != nil {
			if !domain.Retryable(err) {
				job.AttemptsMade = job.MaxAttempts
			}
			return err
		}

		w.lg.Info().
			Str("job_id", job.ID).
			Str("webhook_event_id", wj.EventID).
			Str("payment_id", result.PaymentID.String()).
			Bool("replay", result.Replay).
			Msg("webhook retry applied")
		return nil
	}
}
