package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shopstream/commerce-core/internal/domain"
)

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type VariantRepository interface {
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.ProductVariant, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.ProductVariant, error)
	CASStockTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStock int32, observedVersion uint64) (bool, error)
	SetStockTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStock int32) error
	IncrementStockTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int32) error
}

type ReservationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.InventoryReservation, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.InventoryReservation, error)
	InsertTx(ctx context.Context, tx pgx.Tx, res *domain.InventoryReservation) error
	SetStateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, state domain.ReservationState, at time.Time) error
	ClaimExpiredTx(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]domain.InventoryReservation, error)
}

// Experiments assigns a reservation strategy per call. The default
// implementation is a fixed choice with an optional deterministic split on
// reserved_by, so A/B results stay stable for one actor.
type Experiments interface {
	StrategyFor(reservedBy string) Strategy
}

type Strategy string

const (
	StrategyOptimistic  Strategy = "optimistic"
	StrategyPessimistic Strategy = "pessimistic"
)
