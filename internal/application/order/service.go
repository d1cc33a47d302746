package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/shopstream/commerce-core/internal/contracts/event"
	"github.com/shopstream/commerce-core/internal/domain"
	"github.com/shopstream/commerce-core/internal/outbox"
)

type ItemInput struct {
	SKU            string
	Quantity       int32
	DiscountAmount decimal.Decimal
}

type CreateInput struct {
	UserID         uuid.UUID
	Items          []ItemInput
	IdempotencyKey string
	PromotionCode  string
	Discount       decimal.Decimal
	Tax            decimal.Decimal
	Shipping       decimal.Decimal
}

// Service is the order engine: idempotent creation and the status state
// machine, with events co-committed through the outbox.
type Service struct {
	tx       TxRunner
	orders   Repository
	variants VariantReader
	events   outbox.Appender
	source   string
	lg       zerolog.Logger
}

func NewService(tx TxRunner, orders Repository, variants VariantReader, events outbox.Appender, source string, lg zerolog.Logger) *Service {
	return &Service{
		tx:       tx,
		orders:   orders,
		variants: variants,
		events:   events,
		source:   source,
		lg:       lg.With().Str("component", "order_service").Logger(),
	}
}

// Create builds and persists an order. A repeated call with the same
// idempotency key returns the stored order unchanged.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Order, error) {
	if len(in.Items) == 0 {
		return nil, domain.E(domain.KindInvalidInput, "order has no items")
	}
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return nil, domain.Ef(domain.KindInvalidInput, "quantity must be >= 1 for sku %s", it.SKU)
		}
	}

	if in.IdempotencyKey != "" {
		existing, err := s.orders.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
	}

	skus := make([]string, len(in.Items))
	for i, it := range in.Items {
		skus[i] = it.SKU
	}
	variants, err := s.variants.GetBySKUs(ctx, skus)
	if err != nil {
		return nil, err
	}
	bySKU := make(map[string]domain.ProductVariant, len(variants))
	for _, v := range variants {
		bySKU[v.SKU] = v
	}

	o := &domain.Order{
		ID:             uuid.New(),
		UserID:         in.UserID,
		Status:         domain.OrderCreated,
		Discount:       in.Discount,
		Tax:            in.Tax,
		Shipping:       in.Shipping,
		IdempotencyKey: in.IdempotencyKey,
		PromotionCode:  in.PromotionCode,
		CreatedAt:      time.Now().UTC(),
	}

	for _, it := range in.Items {
		v, ok := bySKU[it.SKU]
		if !ok {
			return nil, domain.Ef(domain.KindInvalidInput, "unknown sku %s", it.SKU)
		}
		// Advisory check only; the authoritative guard is the reservation
		// engine.
		if v.Stock < it.Quantity {
			return nil, domain.Ef(domain.KindInsufficientStock, "insufficient stock for sku %s", it.SKU)
		}
		if o.Currency == "" {
			o.Currency = v.Currency
		} else if o.Currency != v.Currency {
			return nil, domain.Ef(domain.KindInvalidInput, "mixed currencies: %s and %s", o.Currency, v.Currency)
		}

		total := v.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		o.Items = append(o.Items, domain.OrderItem{
			ID:             uuid.New(),
			OrderID:        o.ID,
			VariantID:      v.ID,
			SKU:            v.SKU,
			Quantity:       it.Quantity,
			UnitPrice:      v.Price,
			TotalPrice:     total,
			DiscountAmount: it.DiscountAmount,
		})
		o.Subtotal = o.Subtotal.Add(total)
	}
	o.ComputeTotal()

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.orders.InsertTx(ctx, tx, o); err != nil {
			return err
		}
		env, err := event.NewEnvelope(event.TypeOrderCreated, s.source, createdPayload(o), nil)
		if err != nil {
			return err
		}
		return outbox.WriteEvent(ctx, s.events, tx, env)
	})
	if err != nil {
		// Two creates raced on the same key; the committed one wins and is
		// returned as-is.
		if in.IdempotencyKey != "" && isUniqueViolation(err) {
			return s.orders.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		}
		return nil, err
	}

	s.lg.Info().
		Str("order_id", o.ID.String()).
		Str("user_id", o.UserID.String()).
		Str("total", o.Total.String()).
		Str("currency", o.Currency).
		Msg("order created")
	return o, nil
}

// UpdateStatus applies one edge of the transition table and emits
// order.updated in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to domain.OrderStatus, reason string) (*domain.Order, error) {
	var updated *domain.Order
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		o, err := s.orders.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !o.Status.CanTransition(to) {
			return domain.Ef(domain.KindInvalidTransition, "order %s: %s -> %s", id, o.Status, to)
		}
		if err := s.orders.UpdateStatusTx(ctx, tx, id, to); err != nil {
			return err
		}

		env, err := event.NewEnvelope(event.TypeOrderUpdated, s.source, event.OrderUpdatedPayload{
			OrderID:   o.ID.String(),
			UserID:    o.UserID.String(),
			OldStatus: string(o.Status),
			NewStatus: string(to),
			Reason:    reason,
		}, nil)
		if err != nil {
			return err
		}
		if err := outbox.WriteEvent(ctx, s.events, tx, env); err != nil {
			return err
		}

		o.Status = to
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.lg.Info().
		Str("order_id", id.String()).
		Str("status", string(to)).
		Str("reason", reason).
		Msg("order status updated")
	return updated, nil
}

// MarkPaidTx transitions the order to PAID inside the caller's transaction
// and appends order.paid. The payment coordinator calls this so the payment
// mutation, the order mutation, and both events commit atomically.
func (s *Service) MarkPaidTx(ctx context.Context, tx pgx.Tx, orderID, paymentID uuid.UUID, reconciled bool) error {
	o, err := s.orders.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if o.Status == domain.OrderPaid {
		return nil // already paid; webhook replay path
	}
	if !o.Status.CanTransition(domain.OrderPaid) {
		return domain.Ef(domain.KindInvalidTransition, "order %s: %s -> %s", orderID, o.Status, domain.OrderPaid)
	}
	if err := s.orders.UpdateStatusTx(ctx, tx, orderID, domain.OrderPaid); err != nil {
		return err
	}

	env, err := event.NewEnvelope(event.TypeOrderPaid, s.source, event.OrderPaidPayload{
		OrderID:    orderID.String(),
		PaymentID:  paymentID.String(),
		Reconciled: reconciled,
	}, nil)
	if err != nil {
		return err
	}
	return outbox.WriteEvent(ctx, s.events, tx, env)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.orders.GetByID(ctx, id)
}

func createdPayload(o *domain.Order) event.OrderCreatedPayload {
	items := make([]event.OrderItemPayload, len(o.Items))
	for i, it := range o.Items {
		items[i] = event.OrderItemPayload{
			VariantID:      it.VariantID.String(),
			SKU:            it.SKU,
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice.String(),
			TotalPrice:     it.TotalPrice.String(),
			DiscountAmount: it.DiscountAmount.String(),
		}
	}
	return event.OrderCreatedPayload{
		OrderID:        o.ID.String(),
		UserID:         o.UserID.String(),
		TotalAmount:    o.Total.String(),
		Currency:       o.Currency,
		Items:          items,
		IdempotencyKey: o.IdempotencyKey,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
