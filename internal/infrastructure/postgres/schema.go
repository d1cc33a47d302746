package postgres

import "context"

// Schema is applied by deploy tooling and test setup. The core relies on the
// unique indexes for idempotency and on (sent_at, locked) for outbox polling.
const Schema = `
CREATE TABLE IF NOT EXISTS product_variants (
    id          UUID PRIMARY KEY,
    sku         TEXT NOT NULL UNIQUE,
    price       NUMERIC(12,2) NOT NULL,
    currency    TEXT NOT NULL,
    stock       INT NOT NULL CHECK (stock >= 0),
    version     BIGINT NOT NULL DEFAULT 0,
    attributes  JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS orders (
    id              UUID PRIMARY KEY,
    user_id         UUID NOT NULL,
    status          TEXT NOT NULL,
    subtotal        NUMERIC(12,2) NOT NULL,
    discount        NUMERIC(12,2) NOT NULL DEFAULT 0,
    tax             NUMERIC(12,2) NOT NULL DEFAULT 0,
    shipping        NUMERIC(12,2) NOT NULL DEFAULT 0,
    total           NUMERIC(12,2) NOT NULL,
    currency        TEXT NOT NULL,
    idempotency_key TEXT,
    promotion_code  TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS orders_idempotency_key_uq
    ON orders (idempotency_key) WHERE idempotency_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS order_items (
    id              UUID PRIMARY KEY,
    order_id        UUID NOT NULL REFERENCES orders(id),
    variant_id      UUID NOT NULL,
    sku             TEXT NOT NULL,
    quantity        INT NOT NULL CHECK (quantity >= 1),
    unit_price      NUMERIC(12,2) NOT NULL,
    total_price     NUMERIC(12,2) NOT NULL,
    discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
    attributes      JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS order_items_order_id_idx ON order_items (order_id);

CREATE TABLE IF NOT EXISTS payments (
    id                UUID PRIMARY KEY,
    order_id          UUID NOT NULL REFERENCES orders(id),
    payment_intent_id TEXT NOT NULL UNIQUE,
    provider          TEXT NOT NULL,
    amount            NUMERIC(12,2) NOT NULL,
    currency          TEXT NOT NULL,
    status            TEXT NOT NULL,
    method            TEXT NOT NULL DEFAULT '',
    idempotency_key   TEXT NOT NULL UNIQUE,
    webhook_event_id  TEXT,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS payments_webhook_event_id_uq
    ON payments (webhook_event_id) WHERE webhook_event_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS inventory_reservations (
    id           UUID PRIMARY KEY,
    variant_id   UUID NOT NULL REFERENCES product_variants(id),
    quantity     INT NOT NULL CHECK (quantity >= 1),
    reserved_by  TEXT NOT NULL,
    state        TEXT NOT NULL,
    expires_at   TIMESTAMPTZ NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    committed_at TIMESTAMPTZ,
    released_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS inventory_reservations_sweep_idx
    ON inventory_reservations (state, expires_at);

CREATE TABLE IF NOT EXISTS outbox (
    id         UUID PRIMARY KEY,
    topic      TEXT NOT NULL,
    event_id   UUID NOT NULL,
    event_type TEXT NOT NULL,
    payload    JSONB NOT NULL,
    attempts   INT NOT NULL DEFAULT 0,
    locked     BOOLEAN NOT NULL DEFAULT FALSE,
    sent_at    TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS outbox_unsent_idx ON outbox (sent_at, locked);
`

// EnsureSchema applies the schema. Intended for dev and test environments.
func (d *DB) EnsureSchema(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, Schema)
	return err
}
