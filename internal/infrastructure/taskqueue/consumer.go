package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HandlerFunc processes one job. A nil return completes the job; an error
// sends it through the retry/DLQ path.
type HandlerFunc func(ctx context.Context, job *Job) error

type ConsumerConfig struct {
	Queue       string
	Concurrency int
	// RateLimit caps handler starts; zero interval means unlimited.
	RateInterval time.Duration
	PollInterval time.Duration
	// Observe is called with "completed" or "failed" after each handler
	// run. Nil means no reporting.
	Observe func(queue, outcome string)
}

// Consumer runs a fixed pool of workers against one queue. Shutdown is
// cooperative: in-flight jobs finish, no new fetches start.
type Consumer struct {
	queue   *Queue
	cfg     ConsumerConfig
	handler HandlerFunc
	lg      zerolog.Logger
}

func NewConsumer(queue *Queue, cfg ConsumerConfig, handler HandlerFunc, lg zerolog.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Observe == nil {
		cfg.Observe = func(string, string) {}
	}
	return &Consumer{
		queue:   queue,
		cfg:     cfg,
		handler: handler,
		lg:      lg.With().Str("component", "queue_consumer").Str("queue", cfg.Queue).Logger(),
	}
}

func (c *Consumer) Run(ctx context.Context) {
	var tokens chan struct{}
	if c.cfg.RateInterval > 0 {
		tokens = make(chan struct{}, 1)
		go func() {
			ticker := time.NewTicker(c.cfg.RateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case tokens <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	c.lg.Info().Int("concurrency", c.cfg.Concurrency).Msg("started")

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.workerLoop(ctx, tokens)
		}()
	}
	wg.Wait()
	c.lg.Info().Msg("stopped")
}

func (c *Consumer) workerLoop(ctx context.Context, tokens chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if tokens != nil {
			select {
			case <-ctx.Done():
				return
			case <-tokens:
			}
		}

		job, err := c.queue.Fetch(ctx, c.cfg.Queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.lg.Warn().Err(err).Msg("fetch failed")
			c.sleep(ctx)
			continue
		}
		if job == nil {
			c.sleep(ctx)
			continue
		}

		if err := c.handler(ctx, job); err != nil {
			c.lg.Warn().
				Err(err).
				Str("job_id", job.ID).
				Str("name", job.Name).
				Int("attempt", job.AttemptsMade).
				Int("max_attempts", job.MaxAttempts).
				Msg("job failed")
			c.cfg.Observe(c.cfg.Queue, "failed")
			if ferr := c.queue.Fail(ctx, job, err); ferr != nil {
				c.lg.Error().Err(ferr).Str("job_id", job.ID).Msg("fail bookkeeping failed")
			}
			continue
		}

		c.cfg.Observe(c.cfg.Queue, "completed")
		if cerr := c.queue.Complete(ctx, job); cerr != nil {
			c.lg.Error().Err(cerr).Str("job_id", job.ID).Msg("complete bookkeeping failed")
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.PollInterval):
	}
}
