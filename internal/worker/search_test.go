package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopstream/commerce-core/internal/contracts/event"
	"github.com/shopstream/commerce-core/internal/domain"
	"github.com/shopstream/commerce-core/internal/infrastructure/redisstream"
	"github.com/shopstream/commerce-core/internal/infrastructure/taskqueue"
	"github.com/shopstream/commerce-core/internal/outbox"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type captureAppender struct {
	records []outbox.Record
}

func (a *captureAppender) Append(_ context.Context, _ pgx.Tx, rec outbox.Record) error {
	a.records = append(a.records, rec)
	return nil
}

func newSearchHarness(t *testing.T) (*SearchIndexer, *MemorySearchIndex, *captureAppender, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queue := taskqueue.New(client, []string{QueueSearchIndexing})
	index := NewMemorySearchIndex()
	events := &captureAppender{}
	indexer := NewSearchIndexer(queue, index, fakeTxRunner{}, events,
		taskqueue.EnqueueOptions{MaxAttempts: 3}, "test", zerolog.Nop())
	return indexer, index, events, client
}

func TestSearchIndexerIndexAndDelete(t *testing.T) {
	indexer, index, events, _ := newSearchHarness(t)
	ctx := context.Background()
	handler := indexer.Handler()

	job, err := indexer.Enqueue(ctx, "variant-1", SearchActionIndex)
	require.NoError(t, err)
	require.NoError(t, handler(ctx, job))
	assert.True(t, index.Contains("variant-1"))

	job, err = indexer.Enqueue(ctx, "variant-1", SearchActionDelete)
	require.NoError(t, err)
	require.NoError(t, handler(ctx, job))
	assert.False(t, index.Contains("variant-1"))

	require.Len(t, events.records, 2)
	assert.Equal(t, "search.indexed", events.records[0].Topic)
	assert.Equal(t, "search.deleted", events.records[1].Topic)
}

func TestSearchIndexerRejectsUnknownAction(t *testing.T) {
	indexer, _, _, _ := newSearchHarness(t)
	ctx := context.Background()

	job, err := indexer.Enqueue(ctx, "variant-1", "explode")
	require.NoError(t, err)

	err = indexer.Handler()(ctx, job)
	require.Error(t, err)
	assert.False(t, domain.Retryable(err))
	// Marked exhausted so the consumer sends it straight to the DLQ.
	assert.Equal(t, job.MaxAttempts, job.AttemptsMade)
}

func TestDeduperMarksOnlyExplicitly(t *testing.T) {
	_, _, _, client := newSearchHarness(t)
	d := NewDeduper(client, "grp", time.Hour)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	// Checking is read-only.
	seen, err = d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "evt-1"))
	seen, err = d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.Seen(ctx, "evt-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

type recordingIndex struct {
	ops []string
}

func (r *recordingIndex) Index(_ context.Context, productID string) error {
	r.ops = append(r.ops, "index "+productID)
	return nil
}

func (r *recordingIndex) Delete(_ context.Context, productID string) error {
	r.ops = append(r.ops, "delete "+productID)
	return nil
}

func TestSearchIndexerReindexDropsStaleDocumentFirst(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queue := taskqueue.New(client, []string{QueueSearchIndexing})
	index := &recordingIndex{}
	indexer := NewSearchIndexer(queue, index, fakeTxRunner{}, &captureAppender{},
		taskqueue.EnqueueOptions{MaxAttempts: 3}, "test", zerolog.Nop())
	ctx := context.Background()

	job, err := indexer.Enqueue(ctx, "variant-1", SearchActionReindex)
	require.NoError(t, err)
	require.NoError(t, indexer.Handler()(ctx, job))
	assert.Equal(t, []string{"delete variant-1", "index variant-1"}, index.ops)
}

func TestSearchBridgeEnqueuesFromEvents(t *testing.T) {
	indexer, _, _, client := newSearchHarness(t)
	bridge := NewSearchBridge(indexer, NewDeduper(client, "grp", time.Hour), zerolog.Nop())
	ctx := context.Background()

	env, err := event.NewEnvelope(event.TypeInventoryCommitted, "test", event.InventoryPayload{
		ReservationID: "r-1",
		VariantID:     "variant-9",
		Quantity:      1,
	}, nil)
	require.NoError(t, err)
	payload, err := env.Encode()
	require.NoError(t, err)

	msg := redisstream.Message{
		StreamID:  "1-0",
		Topic:     "inventory.committed",
		EventID:   env.EventID,
		EventType: env.EventType,
		Payload:   payload,
	}
	require.NoError(t, bridge.Handle(ctx, msg))

	// Redelivery of the same event id enqueues nothing.
	require.NoError(t, bridge.Handle(ctx, msg))

	queue := taskqueue.New(client, []string{QueueSearchIndexing})
	counts, err := queue.Stats(ctx, QueueSearchIndexing)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)

	job, err := queue.Fetch(ctx, QueueSearchIndexing)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, SearchActionReindex, job.Name)
}

func TestSearchBridgeRedeliveryAfterEnqueueFailure(t *testing.T) {
	mrQueue := miniredis.RunT(t)
	queueClient := redis.NewClient(&redis.Options{Addr: mrQueue.Addr()})
	t.Cleanup(func() { _ = queueClient.Close() })
	mrDedupe := miniredis.RunT(t)
	dedupeClient := redis.NewClient(&redis.Options{Addr: mrDedupe.Addr()})
	t.Cleanup(func() { _ = dedupeClient.Close() })

	queue := taskqueue.New(queueClient, []string{QueueSearchIndexing})
	indexer := NewSearchIndexer(queue, NewMemorySearchIndex(), fakeTxRunner{}, &captureAppender{},
		taskqueue.EnqueueOptions{MaxAttempts: 3}, "test", zerolog.Nop())
	bridge := NewSearchBridge(indexer, NewDeduper(dedupeClient, "grp", time.Hour), zerolog.Nop())
	ctx := context.Background()

	env, err := event.NewEnvelope(event.TypeInventoryCommitted, "test", event.InventoryPayload{
		ReservationID: "r-1",
		VariantID:     "variant-9",
		Quantity:      1,
	}, nil)
	require.NoError(t, err)
	payload, err := env.Encode()
	require.NoError(t, err)
	msg := redisstream.Message{
		StreamID:  "1-0",
		Topic:     "inventory.committed",
		EventID:   env.EventID,
		EventType: env.EventType,
		Payload:   payload,
	}

	// The queue is down: the handler errors and the entry stays pending.
	mrQueue.SetError("queue unavailable")
	require.Error(t, bridge.Handle(ctx, msg))

	// Redelivery after the queue recovers must still produce the job.
	mrQueue.SetError("")
	require.NoError(t, bridge.Handle(ctx, msg))

	counts, err := queue.Stats(ctx, QueueSearchIndexing)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
}
