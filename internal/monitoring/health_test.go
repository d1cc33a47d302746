package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopstream/commerce-core/internal/infrastructure/taskqueue"
)

func TestHealthAggregation(t *testing.T) {
	ctx := context.Background()
	reg := NewHealthRegistry()
	reg.Register("a", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	})
	reg.Register("b", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	})

	h := reg.Check(ctx)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Len(t, h.Components, 2)

	reg.Register("c", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded, Reason: "queue backlog"}
	})
	h = reg.Check(ctx)
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, "queue backlog", h.Components["c"].Reason)

	reg.Register("d", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusUnhealthy, Reason: "down"}
	})
	h = reg.Check(ctx)
	assert.Equal(t, StatusUnhealthy, h.Status)
}

func TestPingChecker(t *testing.T) {
	ok := PingChecker(func(context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, ok(context.Background()).Status)

	bad := PingChecker(func(context.Context) error { return errors.New("refused") })
	got := bad(context.Background())
	assert.Equal(t, StatusUnhealthy, got.Status)
	assert.Equal(t, "refused", got.Reason)
}

func TestQueueMonitorThresholds(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	queue := taskqueue.New(client, []string{"webhook-retry"})
	ctx := context.Background()

	monitor := NewQueueMonitor(queue, Thresholds{Waiting: 2, Failed: 1, Delayed: 10},
		time.Hour, zerolog.Nop())
	check := monitor.Checker()

	monitor.poll(ctx)
	assert.Equal(t, StatusHealthy, check(ctx).Status)

	for i := 0; i < 3; i++ {
		_, err := queue.Enqueue(ctx, "webhook-retry", "j", nil, taskqueue.EnqueueOptions{MaxAttempts: 1})
		require.NoError(t, err)
	}
	monitor.poll(ctx)
	got := check(ctx)
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Contains(t, got.Reason, "waiting")

	snap := monitor.Snapshot()
	assert.Equal(t, int64(3), snap["webhook-retry"].Waiting)
}
