package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopstream/commerce-core/internal/infrastructure/taskqueue"
	"github.com/shopstream/commerce-core/internal/monitoring"
)

type fakeCounter struct {
	unsent, dead int64
}

func (f fakeCounter) CountUnsent(context.Context, int) (int64, error) { return f.unsent, nil }
func (f fakeCounter) CountDead(context.Context, int) (int64, error)   { return f.dead, nil }

type opsHarness struct {
	server *httptest.Server
	queue  *taskqueue.Queue
	health *monitoring.HealthRegistry
}

func newOpsHarness(t *testing.T) *opsHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queue := taskqueue.New(client, []string{"webhook-retry"})
	dlq := taskqueue.NewDLQ(queue)
	monitor := monitoring.NewQueueMonitor(queue, monitoring.Thresholds{}, time.Hour, zerolog.Nop())
	health := monitoring.NewHealthRegistry()
	health.Register("taskqueue", monitoring.PingChecker(queue.Ping))

	srv := NewServer(health, monitor, dlq, fakeCounter{unsent: 4, dead: 1}, 5, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &opsHarness{server: ts, queue: queue, health: health}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthzStatuses(t *testing.T) {
	h := newOpsHarness(t)

	var body monitoring.Health
	code := getJSON(t, h.server.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, monitoring.StatusHealthy, body.Status)

	h.health.Register("broker", monitoring.PingChecker(func(context.Context) error {
		return errors.New("refused")
	}))
	code = getJSON(t, h.server.URL+"/healthz", &body)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, monitoring.StatusUnhealthy, body.Status)
	assert.Equal(t, "refused", body.Components["broker"].Reason)
}

func TestOutboxStats(t *testing.T) {
	h := newOpsHarness(t)
	var body map[string]int64
	code := getJSON(t, h.server.URL+"/ops/outbox", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(4), body["backlog"])
	assert.Equal(t, int64(1), body["dead"])
}

func TestDLQEndpoints(t *testing.T) {
	h := newOpsHarness(t)
	ctx := context.Background()

	// Push one job through to the DLQ.
	_, err := h.queue.Enqueue(ctx, "webhook-retry", "deliver", map[string]string{"k": "v"},
		taskqueue.EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)
	job, err := h.queue.Fetch(ctx, "webhook-retry")
	require.NoError(t, err)
	require.NoError(t, h.queue.Fail(ctx, job, errors.New("boom")))

	var counts map[string]int64
	code := getJSON(t, h.server.URL+"/ops/dlq", &counts)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), counts["webhook-retry"])

	var jobs []taskqueue.Job
	code = getJSON(t, h.server.URL+"/ops/dlq/webhook-retry", &jobs)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, "boom", jobs[0].FailureReason)

	// Retry it.
	resp, err := http.Post(h.server.URL+"/ops/dlq/webhook-retry/"+job.ID+"/retry", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stats, err := h.queue.Stats(ctx, "webhook-retry")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
	assert.Zero(t, stats.Failed)

	// Unknown queue maps to 404.
	var errBody map[string]string
	code = getJSON(t, h.server.URL+"/ops/dlq/nope", &errBody)
	assert.Equal(t, http.StatusNotFound, code)

	// Remove a failed job.
	job2, err := h.queue.Fetch(ctx, "webhook-retry")
	require.NoError(t, err)
	require.NoError(t, h.queue.Fail(ctx, job2, errors.New("boom again")))

	req, err := http.NewRequest(http.MethodDelete, h.server.URL+"/ops/dlq/webhook-retry/"+job2.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code = getJSON(t, h.server.URL+"/ops/dlq", &counts)
	assert.Equal(t, http.StatusOK, code)
	assert.Zero(t, counts["webhook-retry"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newOpsHarness(t)
	resp, err := http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
