package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/shopstream/commerce-core/internal/domain"
)

type OrderRepo struct {
	db *DB
}

func NewOrderRepo(db *DB) *OrderRepo {
	return &OrderRepo{db: db}
}

const selectOrderSQL = `
SELECT id, user_id, status, subtotal, discount, tax, shipping, total,
       currency, COALESCE(idempotency_key, ''), COALESCE(promotion_code, ''),
       created_at, updated_at
FROM orders
`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var subtotal, discount, tax, shipping, total string
	var status string
	err := row.Scan(
		&o.ID, &o.UserID, &status, &subtotal, &discount, &tax, &shipping, &total,
		&o.Currency, &o.IdempotencyKey, &o.PromotionCode, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.Subtotal, _ = decimal.NewFromString(subtotal)
	o.Discount, _ = decimal.NewFromString(discount)
	o.Tax, _ = decimal.NewFromString(tax)
	o.Shipping, _ = decimal.NewFromString(shipping)
	o.Total, _ = decimal.NewFromString(total)
	return &o, nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := scanOrder(r.db.pool.QueryRow(ctx, selectOrderSQL+`WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	items, err := r.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (r *OrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	o, err := scanOrder(r.db.pool.QueryRow(ctx, selectOrderSQL+`WHERE idempotency_key = $1`, key))
	if err != nil {
		return nil, err
	}
	items, err := r.loadItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (r *OrderRepo) loadItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, order_id, variant_id, sku, quantity, unit_price, total_price, discount_amount
		FROM order_items WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		var unit, total, disc string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.SKU,
			&it.Quantity, &unit, &total, &disc); err != nil {
			return nil, err
		}
		it.UnitPrice, _ = decimal.NewFromString(unit)
		it.TotalPrice, _ = decimal.NewFromString(total)
		it.DiscountAmount, _ = decimal.NewFromString(disc)
		items = append(items, it)
	}
	return items, rows.Err()
}

// InsertTx writes the order and its items inside the caller's transaction.
func (r *OrderRepo) InsertTx(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	var key any
	if o.IdempotencyKey != "" {
		key = o.IdempotencyKey
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, status, subtotal, discount, tax, shipping, total,
		                    currency, idempotency_key, promotion_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, o.ID, o.UserID, string(o.Status),
		o.Subtotal.String(), o.Discount.String(), o.Tax.String(), o.Shipping.String(), o.Total.String(),
		o.Currency, key, nullable(o.PromotionCode), o.CreatedAt)
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		_, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, variant_id, sku, quantity,
			                         unit_price, total_price, discount_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, it.ID, o.ID, it.VariantID, it.SKU, it.Quantity,
			it.UnitPrice.String(), it.TotalPrice.String(), it.DiscountAmount.String())
		if err != nil {
			return err
		}
	}
	return nil
}

// GetForUpdateTx serializes concurrent status transitions on one order.
func (r *OrderRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	return scanOrder(tx.QueryRow(ctx, selectOrderSQL+`WHERE id = $1 FOR UPDATE`, id))
}

func (r *OrderRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.OrderStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
