package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shopstream/commerce-core/internal/outbox"
)

// OutboxStore implements outbox.Store on Postgres.
type OutboxStore struct {
	db *DB
}

func NewOutboxStore(db *DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Append(ctx context.Context, tx pgx.Tx, rec outbox.Record) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, topic, event_id, event_type, payload, attempts, locked, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, FALSE, $6)
	`, rec.ID, rec.Topic, rec.EventID, rec.EventType, rec.Payload, rec.CreatedAt)
	return err
}

// ClaimBatch selects candidate rows and locks them row-by-row in one
// statement. Only rows the UPDATE actually flipped are returned, so
// concurrent publishers never share a row and no prefix-ordering assumption
// is needed. SKIP LOCKED keeps claimants from blocking each other.
func (s *OutboxStore) ClaimBatch(ctx context.Context, limit, maxAttempts int) ([]outbox.Record, error) {
	rows, err := s.db.pool.Query(ctx, `
		UPDATE outbox
		SET locked = TRUE
		WHERE id IN (
			SELECT id FROM outbox
			WHERE sent_at IS NULL AND locked = FALSE AND attempts < $2
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic, event_id, event_type, payload, attempts, locked, sent_at, created_at
	`, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []outbox.Record
	for rows.Next() {
		var rec outbox.Record
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.EventID, &rec.EventType,
			&rec.Payload, &rec.Attempts, &rec.Locked, &rec.SentAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		batch = append(batch, rec)
	}
	return batch, rows.Err()
}

func (s *OutboxStore) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE outbox SET sent_at = $2, locked = FALSE WHERE id = $1
	`, id, at)
	return err
}

func (s *OutboxStore) Unlock(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE outbox SET locked = FALSE, attempts = attempts + 1
		WHERE id = $1 AND sent_at IS NULL
	`, id)
	return err
}

func (s *OutboxStore) CountUnsent(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	err := s.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL AND attempts < $1
	`, maxAttempts).Scan(&n)
	return n, err
}

func (s *OutboxStore) CountDead(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	err := s.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL AND attempts >= $1
	`, maxAttempts).Scan(&n)
	return n, err
}

// PurgeSentBefore deletes delivered rows older than cutoff; dead rows are
// kept for the DLQ retention window handled by ops tooling.
func (s *OutboxStore) PurgeSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.pool.Exec(ctx, `
		DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
