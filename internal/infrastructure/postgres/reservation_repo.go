package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shopstream/commerce-core/internal/domain"
)

type ReservationRepo struct {
	db *DB
}

func NewReservationRepo(db *DB) *ReservationRepo {
	return &ReservationRepo{db: db}
}

const selectReservationSQL = `
SELECT id, variant_id, quantity, reserved_by, state, expires_at, created_at, committed_at, released_at
FROM inventory_reservations
`

func scanReservation(row pgx.Row) (*domain.InventoryReservation, error) {
	var res domain.InventoryReservation
	var state string
	err := row.Scan(&res.ID, &res.VariantID, &res.Quantity, &res.ReservedBy,
		&state, &res.ExpiresAt, &res.CreatedAt, &res.CommittedAt, &res.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, err
	}
	res.State = domain.ReservationState(state)
	return &res, nil
}

func (r *ReservationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.InventoryReservation, error) {
	return scanReservation(r.db.pool.QueryRow(ctx, selectReservationSQL+`WHERE id = $1`, id))
}

// GetForUpdateTx locks the reservation row so commit/release/sweep do not
// race each other into a double transition.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.InventoryReservation, error) {
	return scanReservation(tx.QueryRow(ctx, selectReservationSQL+`WHERE id = $1 FOR UPDATE`, id))
}

func (r *ReservationRepo) InsertTx(ctx context.Context, tx pgx.Tx, res *domain.InventoryReservation) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO inventory_reservations (id, variant_id, quantity, reserved_by, state, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, res.ID, res.VariantID, res.Quantity, res.ReservedBy, string(res.State), res.ExpiresAt, res.CreatedAt)
	return err
}

func (r *ReservationRepo) SetStateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, state domain.ReservationState, at time.Time) error {
	var column string
	switch state {
	case domain.ReservationCommitted:
		column = "committed_at"
	case domain.ReservationReleased, domain.ReservationExpired:
		column = "released_at"
	default:
		column = ""
	}

	sql := `UPDATE inventory_reservations SET state = $2 WHERE id = $1`
	if column != "" {
		sql = `UPDATE inventory_reservations SET state = $2, ` + column + ` = $3 WHERE id = $1`
		_, err := tx.Exec(ctx, sql, id, string(state), at)
		return err
	}
	_, err := tx.Exec(ctx, sql, id, string(state))
	return err
}

// ClaimExpiredTx locks a batch of held reservations past their TTL. SKIP
// LOCKED lets several sweepers coexist; each expiry is finished in the
// caller's transaction together with the stock restore and the outbox row.
func (r *ReservationRepo) ClaimExpiredTx(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]domain.InventoryReservation, error) {
	rows, err := tx.Query(ctx, selectReservationSQL+`
		WHERE state = 'HELD' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InventoryReservation
	for rows.Next() {
		var res domain.InventoryReservation
		var state string
		if err := rows.Scan(&res.ID, &res.VariantID, &res.Quantity, &res.ReservedBy,
			&state, &res.ExpiresAt, &res.CreatedAt, &res.CommittedAt, &res.ReleasedAt); err != nil {
			return nil, err
		}
		res.State = domain.ReservationState(state)
		out = append(out, res)
	}
	return out, rows.Err()
}

// HeldQuantity sums HELD and COMMITTED quantities for a variant; used by
// invariant checks and ops tooling.
func (r *ReservationRepo) HeldQuantity(ctx context.Context, variantID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM inventory_reservations
		WHERE variant_id = $1 AND state IN ('HELD', 'COMMITTED')
	`, variantID).Scan(&n)
	return n, err
}
