package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shopstream/commerce-core/internal/contracts/event"
)

// Record is one durable outbox row. State is encoded by (locked, sent_at,
// attempts): exactly one of unsent-unlocked / locked / sent holds, and a row
// with attempts == max_attempts that is still unsent is dead (outbox DLQ).
type Record struct {
	ID        uuid.UUID
	Topic     string
	EventID   string
	EventType string
	Payload   []byte // full envelope JSON
	Attempts  int
	Locked    bool
	SentAt    *time.Time
	CreatedAt time.Time
}

// Appender is the narrow port business services use to co-commit events.
type Appender interface {
	// Append inserts one record inside tx. It fails only if tx fails.
	Append(ctx context.Context, tx pgx.Tx, rec Record) error
}

// Store is the persistence port for outbox rows. Append participates in the
// caller's transaction; the remaining operations are used by the publisher
// outside any business transaction.
type Store interface {
	Appender

	// ClaimBatch locks up to limit unsent, unlocked, non-dead rows and
	// returns exactly the rows this caller now owns.
	ClaimBatch(ctx context.Context, limit, maxAttempts int) ([]Record, error)

	// MarkSent stamps sent_at and clears the lock.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error

	// Unlock returns a row to the unsent pool and increments attempts.
	Unlock(ctx context.Context, id uuid.UUID) error

	// CountUnsent returns rows with sent_at IS NULL and attempts < maxAttempts.
	CountUnsent(ctx context.Context, maxAttempts int) (int64, error)

	// CountDead returns unsent rows that exhausted their attempts.
	CountDead(ctx context.Context, maxAttempts int) (int64, error)
}

// WriteEvent appends env to the outbox inside tx under the topic derived
// from its event type. Every committed business mutation that must be
// observed externally goes through here, in the same transaction.
func WriteEvent(ctx context.Context, store Appender, tx pgx.Tx, env event.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	return store.Append(ctx, tx, Record{
		ID:        uuid.New(),
		Topic:     event.Topic(env.EventType),
		EventID:   env.EventID,
		EventType: env.EventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}
