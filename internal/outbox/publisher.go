package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/monitoring"
)

// Broker is the stream-broker port used for fan-out of committed events.
// Publish returns the broker-assigned message id.
type Broker interface {
	Publish(ctx context.Context, topic string, rec Record) (string, error)
}

type PublisherConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxAttempts     int
}

func (c *PublisherConfig) applyDefaults() {
	if c.PollingInterval <= 0 {
		c.PollingInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

// Publisher polls the outbox and fans committed events out to the broker.
// Safety under replication comes from row-level locking in ClaimBatch, so
// several publisher processes may run; within one process a busy flag
// prevents re-entrant batches.
type Publisher struct {
	store  Store
	broker Broker
	cfg    PublisherConfig
	lg     zerolog.Logger

	busy atomic.Bool
}

func NewPublisher(store Store, broker Broker, cfg PublisherConfig, lg zerolog.Logger) *Publisher {
	cfg.applyDefaults()
	return &Publisher{
		store:  store,
		broker: broker,
		cfg:    cfg,
		lg:     lg.With().Str("component", "outbox_publisher").Logger(),
	}
}

// Run blocks until ctx is cancelled. The in-flight batch always completes;
// marking is per-row so no batch is split across shutdowns.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollingInterval)
	defer ticker.Stop()

	p.lg.Info().
		Dur("interval", p.cfg.PollingInterval).
		Int("batch_size", p.cfg.BatchSize).
		Msg("started")

	for {
		select {
		case <-ctx.Done():
			p.lg.Info().Msg("stopped")
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				p.lg.Warn().Err(err).Msg("publish cycle failed")
			}
		}
	}
}

// RunOnce executes a single claim/publish/mark cycle. It is a no-op when a
// previous cycle is still running.
func (p *Publisher) RunOnce(ctx context.Context) error {
	if !p.busy.CompareAndSwap(false, true) {
		return nil
	}
	defer p.busy.Store(false)

	start := time.Now()
	defer func() { monitoring.ObserveOutboxBatch(time.Since(start)) }()

	batch, err := p.store.ClaimBatch(ctx, p.cfg.BatchSize, p.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	// Publications run concurrently; per-row failure is isolated from the
	// rest of the batch.
	var wg sync.WaitGroup
	for _, rec := range batch {
		wg.Add(1)
		go func(rec Record) {
			defer wg.Done()
			p.publishOne(ctx, rec)
		}(rec)
	}
	wg.Wait()
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, rec Record) {
	msgID, err := p.broker.Publish(ctx, rec.Topic, rec)
	if err != nil {
		monitoring.RecordOutboxPublishFailed(rec.Topic)
		// Unlock-on-failure: the row returns to the unsent pool with
		// attempts incremented. At max attempts it is never claimed again.
		if uerr := p.store.Unlock(ctx, rec.ID); uerr != nil {
			p.lg.Error().Err(uerr).Str("outbox_id", rec.ID.String()).Msg("unlock failed")
		}
		if rec.Attempts+1 >= p.cfg.MaxAttempts {
			p.lg.Error().
				Err(err).
				Str("outbox_id", rec.ID.String()).
				Str("event_id", rec.EventID).
				Str("topic", rec.Topic).
				Int("attempts", rec.Attempts+1).
				Msg("outbox row exhausted attempts, leaving in DLQ state")
		} else {
			p.lg.Warn().
				Err(err).
				Str("outbox_id", rec.ID.String()).
				Str("topic", rec.Topic).
				Int("attempts", rec.Attempts+1).
				Msg("publish failed, will retry")
		}
		return
	}

	// Publish succeeded. If MarkSent fails the row stays claimable and the
	// event is delivered again later: at-least-once, consumers dedupe on
	// event_id.
	if err := p.store.MarkSent(ctx, rec.ID, time.Now().UTC()); err != nil {
		p.lg.Error().Err(err).Str("outbox_id", rec.ID.String()).Msg("mark sent failed")
		_ = p.store.Unlock(ctx, rec.ID)
		return
	}

	monitoring.RecordOutboxPublished(rec.Topic)
	p.lg.Debug().
		Str("outbox_id", rec.ID.String()).
		Str("event_id", rec.EventID).
		Str("topic", rec.Topic).
		Str("stream_id", msgID).
		Msg("published")
}

// RunBacklogGauge periodically exports the unsent and dead row counts.
func (p *Publisher) RunBacklogGauge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.store.CountUnsent(ctx, p.cfg.MaxAttempts); err == nil {
				monitoring.SetOutboxBacklog(n)
			}
			if n, err := p.store.CountDead(ctx, p.cfg.MaxAttempts); err == nil {
				monitoring.SetOutboxDead(n)
			}
		}
	}
}
