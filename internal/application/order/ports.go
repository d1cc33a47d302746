package order

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shopstream/commerce-core/internal/domain"
)

// TxRunner owns the transaction boundary. Every business operation in this
// package is all-or-nothing inside one WithTx call.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	InsertTx(ctx context.Context, tx pgx.Tx, o *domain.Order) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.OrderStatus) error
}

type VariantReader interface {
	GetBySKUs(ctx context.Context, skus []string) ([]domain.ProductVariant, error)
}
