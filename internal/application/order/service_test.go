package order

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopstream/commerce-core/internal/domain"
	"github.com/shopstream/commerce-core/internal/outbox"
)

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakeOrderRepo struct {
	byID  map[uuid.UUID]*domain.Order
	byKey map[string]*domain.Order

	insertErr   error
	missKeyOnce bool
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		byID:  make(map[uuid.UUID]*domain.Order),
		byKey: make(map[string]*domain.Order),
	}
}

func (r *fakeOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrderRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	if r.missKeyOnce {
		r.missKeyOnce = false
		return nil, domain.ErrOrderNotFound
	}
	o, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrderRepo) InsertTx(_ context.Context, _ pgx.Tx, o *domain.Order) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	cp := *o
	r.byID[o.ID] = &cp
	if o.IdempotencyKey != "" {
		r.byKey[o.IdempotencyKey] = &cp
	}
	return nil
}

func (r *fakeOrderRepo) GetForUpdateTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeOrderRepo) UpdateStatusTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status domain.OrderStatus) error {
	o, ok := r.byID[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	return nil
}

type fakeVariantReader struct {
	variants []domain.ProductVariant
}

func (r *fakeVariantReader) GetBySKUs(_ context.Context, skus []string) ([]domain.ProductVariant, error) {
	var out []domain.ProductVariant
	for _, v := range r.variants {
		for _, sku := range skus {
			if v.SKU == sku {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

type captureAppender struct {
	records []outbox.Record
}

func (a *captureAppender) Append(_ context.Context, _ pgx.Tx, rec outbox.Record) error {
	a.records = append(a.records, rec)
	return nil
}

func variant(sku, price string, stock int32) domain.ProductVariant {
	return domain.ProductVariant{
		ID:       uuid.New(),
		SKU:      sku,
		Price:    decimal.RequireFromString(price),
		Currency: "USD",
		Stock:    stock,
	}
}

func newTestService(repo *fakeOrderRepo, variants *fakeVariantReader, events *captureAppender) *Service {
	return NewService(fakeTx{}, repo, variants, events, "test", zerolog.Nop())
}

func TestCreateComputesAmountsAndEmitsEvent(t *testing.T) {
	repo := newFakeOrderRepo()
	events := &captureAppender{}
	svc := newTestService(repo, &fakeVariantReader{variants: []domain.ProductVariant{
		variant("SKU-A", "10.00", 5),
		variant("SKU-B", "2.50", 5),
	}}, events)

	o, err := svc.Create(context.Background(), CreateInput{
		UserID: uuid.New(),
		Items: []ItemInput{
			{SKU: "SKU-A", Quantity: 2},
			{SKU: "SKU-B", Quantity: 4},
		},
		Tax:      decimal.RequireFromString("1.00"),
		Shipping: decimal.RequireFromString("3.00"),
		Discount: decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderCreated, o.Status)
	assert.True(t, o.Subtotal.Equal(decimal.RequireFromString("30.00")), "subtotal %s", o.Subtotal)
	// total = subtotal - discount + tax + shipping
	assert.True(t, o.Total.Equal(decimal.RequireFromString("29.00")), "total %s", o.Total)
	assert.Equal(t, "USD", o.Currency)
	require.Len(t, events.records, 1)
	assert.Equal(t, "order.created", events.records[0].Topic)
}

func TestCreateIdempotentReplay(t *testing.T) {
	repo := newFakeOrderRepo()
	events := &captureAppender{}
	svc := newTestService(repo, &fakeVariantReader{variants: []domain.ProductVariant{
		variant("SKU-A", "10.00", 5),
	}}, events)

	in := CreateInput{
		UserID:         uuid.New(),
		Items:          []ItemInput{{SKU: "SKU-A", Quantity: 1}},
		IdempotencyKey: "key-1",
	}
	first, err := svc.Create(context.Background(), in)
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, events.records, 1, "replay must not emit a second event")
}

func TestCreateRaceOnIdempotencyKey(t *testing.T) {
	repo := newFakeOrderRepo()
	events := &captureAppender{}
	svc := newTestService(repo, &fakeVariantReader{variants: []domain.ProductVariant{
		variant("SKU-A", "10.00", 5),
	}}, events)

	// The pre-insert lookup misses but the insert hits the unique index:
	// the losing request gets the committed winner back.
	winner := &domain.Order{ID: uuid.New(), Status: domain.OrderCreated, IdempotencyKey: "key-1"}
	repo.byID[winner.ID] = winner
	repo.byKey["key-1"] = winner
	repo.missKeyOnce = true
	repo.insertErr = &pgconn.PgError{Code: "23505"}

	got, err := svc.Create(context.Background(), CreateInput{
		UserID:         uuid.New(),
		Items:          []ItemInput{{SKU: "SKU-A", Quantity: 1}},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
}

func TestCreateValidation(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := newTestService(repo, &fakeVariantReader{variants: []domain.ProductVariant{
		variant("SKU-A", "10.00", 1),
	}}, &captureAppender{})

	_, err := svc.Create(context.Background(), CreateInput{UserID: uuid.New()})
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))

	_, err = svc.Create(context.Background(), CreateInput{
		UserID: uuid.New(),
		Items:  []ItemInput{{SKU: "SKU-A", Quantity: 0}},
	})
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))

	_, err = svc.Create(context.Background(), CreateInput{
		UserID: uuid.New(),
		Items:  []ItemInput{{SKU: "NOPE", Quantity: 1}},
	})
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))

	_, err = svc.Create(context.Background(), CreateInput{
		UserID: uuid.New(),
		Items:  []ItemInput{{SKU: "SKU-A", Quantity: 2}},
	})
	assert.Equal(t, domain.KindInsufficientStock, domain.KindOf(err))
}

func TestUpdateStatusRejectsIllegalEdge(t *testing.T) {
	repo := newFakeOrderRepo()
	events := &captureAppender{}
	svc := newTestService(repo, &fakeVariantReader{}, events)

	o := &domain.Order{ID: uuid.New(), UserID: uuid.New(), Status: domain.OrderCreated}
	repo.byID[o.ID] = o

	_, err := svc.UpdateStatus(context.Background(), o.ID, domain.OrderShipped, "")
	assert.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))
	assert.Empty(t, events.records)

	updated, err := svc.UpdateStatus(context.Background(), o.ID, domain.OrderCancelled, "customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, updated.Status)
	require.Len(t, events.records, 1)
	assert.Equal(t, "order.updated", events.records[0].Topic)
}

func TestMarkPaidTxIsIdempotent(t *testing.T) {
	repo := newFakeOrderRepo()
	events := &captureAppender{}
	svc := newTestService(repo, &fakeVariantReader{}, events)

	o := &domain.Order{ID: uuid.New(), Status: domain.OrderCreated}
	repo.byID[o.ID] = o
	paymentID := uuid.New()

	require.NoError(t, svc.MarkPaidTx(context.Background(), nil, o.ID, paymentID, false))
	assert.Equal(t, domain.OrderPaid, repo.byID[o.ID].Status)
	require.Len(t, events.records, 1)
	assert.Equal(t, "order.paid", events.records[0].Topic)

	// Second call (webhook replay) is a no-op.
	require.NoError(t, svc.MarkPaidTx(context.Background(), nil, o.ID, paymentID, false))
	assert.Len(t, events.records, 1)
}

func TestMarkPaidTxRejectsTerminalOrder(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := newTestService(repo, &fakeVariantReader{}, &captureAppender{})

	o := &domain.Order{ID: uuid.New(), Status: domain.OrderCancelled}
	repo.byID[o.ID] = o

	err := svc.MarkPaidTx(context.Background(), nil, o.ID, uuid.New(), false)
	assert.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))
}
