package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/shopstream/commerce-core/internal/domain"
)

// VariantRepo reads catalog variants and owns the stock/version columns the
// inventory engine mutates.
type VariantRepo struct {
	db *DB
}

func NewVariantRepo(db *DB) *VariantRepo {
	return &VariantRepo{db: db}
}

const selectVariantSQL = `
SELECT id, sku, price, currency, stock, version FROM product_variants
`

func scanVariant(row pgx.Row) (*domain.ProductVariant, error) {
	var v domain.ProductVariant
	var price string
	err := row.Scan(&v.ID, &v.SKU, &price, &v.Currency, &v.Stock, &v.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVariantNotFound
		}
		return nil, err
	}
	v.Price, _ = decimal.NewFromString(price)
	return &v, nil
}

func (r *VariantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ProductVariant, error) {
	return scanVariant(r.db.pool.QueryRow(ctx, selectVariantSQL+`WHERE id = $1`, id))
}

// GetBySKUs fetches all referenced variants in one query. Missing SKUs are
// detected by the caller comparing lengths.
func (r *VariantRepo) GetBySKUs(ctx context.Context, skus []string) ([]domain.ProductVariant, error) {
	rows, err := r.db.pool.Query(ctx, selectVariantSQL+`WHERE sku = ANY($1)`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []domain.ProductVariant
	for rows.Next() {
		var v domain.ProductVariant
		var price string
		if err := rows.Scan(&v.ID, &v.SKU, &price, &v.Currency, &v.Stock, &v.Version); err != nil {
			return nil, err
		}
		v.Price, _ = decimal.NewFromString(price)
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// GetForUpdateTx locks the variant row; used by the pessimistic strategy.
func (r *VariantRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.ProductVariant, error) {
	return scanVariant(tx.QueryRow(ctx, selectVariantSQL+`WHERE id = $1 FOR UPDATE`, id))
}

// GetTx reads the variant without locking; used by the optimistic strategy.
func (r *VariantRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.ProductVariant, error) {
	return scanVariant(tx.QueryRow(ctx, selectVariantSQL+`WHERE id = $1`, id))
}

// CASStockTx performs the optimistic update: stock changes only if the
// version still matches what the caller observed. Returns false when the
// version moved and the caller must re-read and retry.
func (r *VariantRepo) CASStockTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStock int32, observedVersion uint64) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE product_variants
		SET stock = $2, version = version + 1
		WHERE id = $1 AND version = $3
	`, id, newStock, observedVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementStockTx restores stock by a relative amount. Safe without a
// prior read; used by the TTL sweep.
func (r *VariantRepo) IncrementStockTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int32) error {
	tag, err := tx.Exec(ctx, `
		UPDATE product_variants
		SET stock = stock + $2, version = version + 1
		WHERE id = $1
	`, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVariantNotFound
	}
	return nil
}

// SetStockTx writes stock under an already-held row lock (pessimistic path).
// The version still advances so optimistic readers observe the change.
func (r *VariantRepo) SetStockTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, newStock int32) error {
	tag, err := tx.Exec(ctx, `
		UPDATE product_variants
		SET stock = $2, version = version + 1
		WHERE id = $1
	`, id, newStock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVariantNotFound
	}
	return nil
}
