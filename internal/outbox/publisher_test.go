package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopstream/commerce-core/internal/contracts/event"
)

// fakeStore keeps outbox rows in memory with the same claim semantics the
// SQL store provides.
type fakeStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Record

	markSentErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[uuid.UUID]*Record)}
}

func (s *fakeStore) Append(_ context.Context, _ pgx.Tx, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.ID] = &rec
	return nil
}

func (s *fakeStore) ClaimBatch(_ context.Context, limit, maxAttempts int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.rows {
		if len(out) >= limit {
			break
		}
		if r.SentAt == nil && !r.Locked && r.Attempts < maxAttempts {
			r.Locked = true
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	if s.markSentErr != nil {
		return s.markSentErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[id]
	r.SentAt = &at
	r.Locked = false
	return nil
}

func (s *fakeStore) Unlock(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[id]
	if r.SentAt == nil {
		r.Locked = false
		r.Attempts++
	}
	return nil
}

func (s *fakeStore) CountUnsent(_ context.Context, maxAttempts int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.SentAt == nil && r.Attempts < maxAttempts {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CountDead(_ context.Context, maxAttempts int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.SentAt == nil && r.Attempts >= maxAttempts {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) get(id uuid.UUID) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

// fakeBroker records publishes and fails configured topics.
type fakeBroker struct {
	mu        sync.Mutex
	published []Record
	failTopic string
}

func (b *fakeBroker) Publish(_ context.Context, topic string, rec Record) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == b.failTopic {
		return "", errors.New("broker unavailable")
	}
	b.published = append(b.published, rec)
	return "1-0", nil
}

func appendRow(t *testing.T, store *fakeStore, eventType string) uuid.UUID {
	t.Helper()
	env, err := event.NewEnvelope(eventType, "test", struct{}{}, nil)
	require.NoError(t, err)
	rec := Record{
		ID:        uuid.New(),
		Topic:     event.Topic(eventType),
		EventID:   env.EventID,
		EventType: eventType,
		CreatedAt: time.Now().UTC(),
	}
	rec.Payload, err = env.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), nil, rec))
	return rec.ID
}

func TestRunOncePublishesAndMarksSent(t *testing.T) {
	store := newFakeStore()
	broker := &fakeBroker{}
	id := appendRow(t, store, event.TypeOrderCreated)

	p := NewPublisher(store, broker, PublisherConfig{}, zerolog.Nop())
	require.NoError(t, p.RunOnce(context.Background()))

	assert.Len(t, broker.published, 1)
	row := store.get(id)
	require.NotNil(t, row.SentAt)
	assert.False(t, row.Locked)
	assert.Zero(t, row.Attempts)
}

func TestRunOncePartialFailureIsolatesRows(t *testing.T) {
	store := newFakeStore()
	broker := &fakeBroker{failTopic: "payment.created"}
	okID := appendRow(t, store, event.TypeOrderCreated)
	badID := appendRow(t, store, event.TypePaymentCreated)

	p := NewPublisher(store, broker, PublisherConfig{MaxAttempts: 3}, zerolog.Nop())
	require.NoError(t, p.RunOnce(context.Background()))

	ok := store.get(okID)
	require.NotNil(t, ok.SentAt)

	bad := store.get(badID)
	assert.Nil(t, bad.SentAt)
	assert.False(t, bad.Locked, "failed row must return to the unsent pool")
	assert.Equal(t, 1, bad.Attempts)
}

func TestFailedRowReachesDLQState(t *testing.T) {
	store := newFakeStore()
	broker := &fakeBroker{failTopic: "order.created"}
	appendRow(t, store, event.TypeOrderCreated)

	p := NewPublisher(store, broker, PublisherConfig{MaxAttempts: 3}, zerolog.Nop())
	for i := 0; i < 5; i++ {
		require.NoError(t, p.RunOnce(context.Background()))
	}

	// After three failed attempts the row is dead: never claimed again.
	dead, err := store.CountDead(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	unsent, err := store.CountUnsent(context.Background(), 3)
	require.NoError(t, err)
	assert.Zero(t, unsent)
}

func TestMarkSentFailureUnlocksForRedelivery(t *testing.T) {
	store := newFakeStore()
	store.markSentErr = errors.New("db down")
	broker := &fakeBroker{}
	id := appendRow(t, store, event.TypeOrderCreated)

	p := NewPublisher(store, broker, PublisherConfig{}, zerolog.Nop())
	require.NoError(t, p.RunOnce(context.Background()))

	// Published but not marked: the row stays claimable, so the event will
	// be delivered at least once more.
	assert.Len(t, broker.published, 1)
	row := store.get(id)
	assert.Nil(t, row.SentAt)
	assert.False(t, row.Locked)
}

func TestWriteEventDerivesTopic(t *testing.T) {
	store := newFakeStore()
	env, err := event.NewEnvelope(event.TypeInventoryReserved, "test", struct{}{}, nil)
	require.NoError(t, err)
	require.NoError(t, WriteEvent(context.Background(), store, nil, env))

	rows, err := store.ClaimBatch(context.Background(), 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "inventory.reserved", rows[0].Topic)
	assert.Equal(t, env.EventID, rows[0].EventID)

	got, err := event.Decode(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
}
