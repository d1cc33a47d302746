package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentSucceeded  PaymentStatus = "SUCCEEDED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing, PaymentSucceeded, PaymentFailed, PaymentCancelled},
	PaymentProcessing: {PaymentSucceeded, PaymentFailed, PaymentCancelled},
	PaymentSucceeded:  {PaymentRefunded},
}

func (from PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal payment statuses accept no further webhook or reconciliation
// updates, except SUCCEEDED which may still be refunded.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentFailed, PaymentCancelled, PaymentRefunded:
		return true
	default:
		return false
	}
}

type Payment struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	PaymentIntentID string
	Provider        string
	Amount          decimal.Decimal
	Currency        string
	Status          PaymentStatus
	Method          string
	IdempotencyKey  string
	WebhookEventID  string // single-use; empty until a webhook lands
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
