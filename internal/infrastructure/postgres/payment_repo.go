package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/shopstream/commerce-core/internal/domain"
)

type PaymentRepo struct {
	db *DB
}

func NewPaymentRepo(db *DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

const selectPaymentSQL = `
SELECT id, order_id, payment_intent_id, provider, amount, currency, status,
       method, idempotency_key, COALESCE(webhook_event_id, ''), created_at, updated_at
FROM payments
`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var amount, status string
	err := row.Scan(&p.ID, &p.OrderID, &p.PaymentIntentID, &p.Provider, &amount,
		&p.Currency, &status, &p.Method, &p.IdempotencyKey, &p.WebhookEventID,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	p.Amount, _ = decimal.NewFromString(amount)
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return scanPayment(r.db.pool.QueryRow(ctx, selectPaymentSQL+`WHERE id = $1`, id))
}

func (r *PaymentRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	return scanPayment(r.db.pool.QueryRow(ctx, selectPaymentSQL+`WHERE idempotency_key = $1`, key))
}

func (r *PaymentRepo) GetByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	return scanPayment(r.db.pool.QueryRow(ctx, selectPaymentSQL+`WHERE payment_intent_id = $1`, intentID))
}

// GetByWebhookEventID looks up the payment already mutated by a webhook
// delivery; used for replay detection.
func (r *PaymentRepo) GetByWebhookEventID(ctx context.Context, webhookEventID string) (*domain.Payment, error) {
	return scanPayment(r.db.pool.QueryRow(ctx, selectPaymentSQL+`WHERE webhook_event_id = $1`, webhookEventID))
}

func (r *PaymentRepo) GetByIntentIDForUpdateTx(ctx context.Context, tx pgx.Tx, intentID string) (*domain.Payment, error) {
	return scanPayment(tx.QueryRow(ctx, selectPaymentSQL+`WHERE payment_intent_id = $1 FOR UPDATE`, intentID))
}

func (r *PaymentRepo) InsertTx(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, payment_intent_id, provider, amount, currency,
		                      status, method, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, p.ID, p.OrderID, p.PaymentIntentID, p.Provider, p.Amount.String(), p.Currency,
		string(p.Status), p.Method, p.IdempotencyKey, p.CreatedAt)
	return err
}

func (r *PaymentRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.PaymentStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// SetWebhookEventTx stamps the single-use webhook event id together with the
// status change. The partial unique index rejects a second delivery that
// somehow raced past the lookup.
func (r *PaymentRepo) SetWebhookEventTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, webhookEventID string, status domain.PaymentStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payments SET status = $2, webhook_event_id = $3, updated_at = NOW()
		WHERE id = $1
	`, id, string(status), webhookEventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// ListNonTerminal returns payments the reconciliation job should check.
func (r *PaymentRepo) ListNonTerminal(ctx context.Context, limit int) ([]domain.Payment, error) {
	rows, err := r.db.pool.Query(ctx, selectPaymentSQL+`
		WHERE status IN ('PENDING', 'PROCESSING')
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		var p domain.Payment
		var amount, status string
		if err := rows.Scan(&p.ID, &p.OrderID, &p.PaymentIntentID, &p.Provider, &amount,
			&p.Currency, &status, &p.Method, &p.IdempotencyKey, &p.WebhookEventID,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Amount, _ = decimal.NewFromString(amount)
		p.Status = domain.PaymentStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}
