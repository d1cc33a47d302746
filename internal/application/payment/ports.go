package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shopstream/commerce-core/internal/domain"
)

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*domain.Payment, error)
	GetByWebhookEventID(ctx context.Context, webhookEventID string) (*domain.Payment, error)
	GetByIntentIDForUpdateTx(ctx context.Context, tx pgx.Tx, intentID string) (*domain.Payment, error)
	InsertTx(ctx context.Context, tx pgx.Tx, p *domain.Payment) error
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.PaymentStatus) error
	SetWebhookEventTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, webhookEventID string, status domain.PaymentStatus) error
	ListNonTerminal(ctx context.Context, limit int) ([]domain.Payment, error)
}

type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

// OrderMarker flips the order to PAID inside the caller's transaction so the
// payment row, the order row, and both events commit together.
type OrderMarker interface {
	MarkPaidTx(ctx context.Context, tx pgx.Tx, orderID, paymentID uuid.UUID, reconciled bool) error
}
