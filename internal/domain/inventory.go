package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReservationState string

const (
	ReservationHeld      ReservationState = "HELD"
	ReservationCommitted ReservationState = "COMMITTED"
	ReservationReleased  ReservationState = "RELEASED"
	ReservationExpired   ReservationState = "EXPIRED"
)

// HELD is the only non-terminal state.
func (s ReservationState) Terminal() bool {
	return s != ReservationHeld
}

type InventoryReservation struct {
	ID          uuid.UUID
	VariantID   uuid.UUID
	Quantity    int32
	ReservedBy  string // order id or session id; treated as opaque
	State       ReservationState
	ExpiresAt   time.Time
	CreatedAt   time.Time
	CommittedAt *time.Time
	ReleasedAt  *time.Time
}

// ProductVariant is a read-mostly reference from the catalog. The inventory
// engine owns stock and version; everything else is informational here.
type ProductVariant struct {
	ID         uuid.UUID
	SKU        string
	Price      decimal.Decimal
	Currency   string
	Stock      int32
	Version    uint64 // monotonic; used by the optimistic CAS strategy
	Attributes map[string]string
}
