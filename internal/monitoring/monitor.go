package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/infrastructure/taskqueue"
)

type Thresholds struct {
	Waiting int64
	Failed  int64
	Delayed int64
}

// QueueMonitor polls task queue depths, exports them as gauges, and grades
// each queue against its thresholds for the health endpoint.
type QueueMonitor struct {
	queue      *taskqueue.Queue
	thresholds Thresholds
	interval   time.Duration
	lg         zerolog.Logger

	mu     sync.RWMutex
	latest map[string]taskqueue.Counts
}

func NewQueueMonitor(queue *taskqueue.Queue, thresholds Thresholds, interval time.Duration, lg zerolog.Logger) *QueueMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &QueueMonitor{
		queue:      queue,
		thresholds: thresholds,
		interval:   interval,
		lg:         lg.With().Str("component", "queue_monitor").Logger(),
		latest:     make(map[string]taskqueue.Counts),
	}
}

func (m *QueueMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.lg.Info().Dur("interval", m.interval).Msg("started")

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.lg.Info().Msg("stopped")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *QueueMonitor) poll(ctx context.Context) {
	for _, name := range m.queue.Queues() {
		counts, err := m.queue.Stats(ctx, name)
		if err != nil {
			m.lg.Warn().Err(err).Str("queue", name).Msg("stats failed")
			continue
		}
		SetQueueDepth(name, taskqueue.StateWaiting, counts.Waiting)
		SetQueueDepth(name, taskqueue.StateActive, counts.Active)
		SetQueueDepth(name, taskqueue.StateDelayed, counts.Delayed)
		SetQueueDepth(name, taskqueue.StateFailed, counts.Failed)
		SetQueueDepth(name, taskqueue.StateCompleted, counts.Completed)

		m.mu.Lock()
		m.latest[name] = counts
		m.mu.Unlock()

		if reason := m.grade(counts); reason != "" {
			m.lg.Warn().Str("queue", name).Str("reason", reason).Msg("queue over threshold")
		}
	}
}

// grade returns a non-empty reason when counts exceed any threshold.
func (m *QueueMonitor) grade(c taskqueue.Counts) string {
	switch {
	case m.thresholds.Failed > 0 && c.Failed > m.thresholds.Failed:
		return fmt.Sprintf("failed depth %d exceeds %d", c.Failed, m.thresholds.Failed)
	case m.thresholds.Waiting > 0 && c.Waiting > m.thresholds.Waiting:
		return fmt.Sprintf("waiting depth %d exceeds %d", c.Waiting, m.thresholds.Waiting)
	case m.thresholds.Delayed > 0 && c.Delayed > m.thresholds.Delayed:
		return fmt.Sprintf("delayed depth %d exceeds %d", c.Delayed, m.thresholds.Delayed)
	default:
		return ""
	}
}

// Checker reports degraded when any queue sits over its thresholds, using
// the most recent poll. Liveness of Redis itself is a separate checker.
func (m *QueueMonitor) Checker() Checker {
	return func(context.Context) ComponentHealth {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for name, counts := range m.latest {
			if reason := m.grade(counts); reason != "" {
				return ComponentHealth{Status: StatusDegraded, Reason: name + ": " + reason}
			}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// Snapshot returns the last polled counts per queue for the ops endpoint.
func (m *QueueMonitor) Snapshot() map[string]taskqueue.Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]taskqueue.Counts, len(m.latest))
	for k, v := range m.latest {
		out[k] = v
	}
	return out
}
