package event

// Event types. Additive changes bump the version suffix; consumers select by
// the full event_type string.
const (
	TypeOrderCreated = "order.created.v1"
	TypeOrderUpdated = "order.updated.v1"
	TypeOrderPaid    = "order.paid.v1"

	TypePaymentCreated    = "payment.created.v1"
	TypePaymentSucceeded  = "payment.succeeded.v1"
	TypePaymentFailed     = "payment.failed.v1"
	TypePaymentRefunded   = "payment.refunded.v1"
	TypePaymentReconciled = "payment.reconciled.v1"

	TypeInventoryReserved  = "inventory.reserved.v1"
	TypeInventoryCommitted = "inventory.committed.v1"
	TypeInventoryReleased  = "inventory.released.v1"
	TypeInventoryExpired   = "inventory.expired.v1"

	TypeSearchIndexed = "search.indexed.v1"
	TypeSearchDeleted = "search.deleted.v1"
)

// Topic returns the outbox topic (short name) for an event type, which is
// the type without its version suffix: "order.created.v1" -> "order.created".
func Topic(eventType string) string {
	for i := len(eventType) - 1; i >= 0; i-- {
		if eventType[i] == '.' {
			if i+2 <= len(eventType)-1 && eventType[i+1] == 'v' {
				return eventType[:i]
			}
			return eventType
		}
	}
	return eventType
}

type OrderItemPayload struct {
	VariantID      string `json:"variant_id"`
	SKU            string `json:"sku"`
	Quantity       int32  `json:"quantity"`
	UnitPrice      string `json:"unit_price"`
	TotalPrice     string `json:"total_price"`
	DiscountAmount string `json:"discount_amount"`
}

type OrderCreatedPayload struct {
	OrderID        string             `json:"order_id"`
	UserID         string             `json:"user_id"`
	TotalAmount    string             `json:"total_amount"`
	Currency       string             `json:"currency"`
	Items          []OrderItemPayload `json:"items"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

type OrderUpdatedPayload struct {
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Reason    string `json:"reason,omitempty"`
}

type OrderPaidPayload struct {
	OrderID    string `json:"order_id"`
	PaymentID  string `json:"payment_id"`
	Reconciled bool   `json:"reconciled,omitempty"`
}

type PaymentPayload struct {
	PaymentID       string `json:"payment_id"`
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Provider        string `json:"provider"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
}

type InventoryPayload struct {
	ReservationID string `json:"reservation_id"`
	VariantID     string `json:"variant_id"`
	Quantity      int32  `json:"quantity"`
	ReservedBy    string `json:"reserved_by,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type SearchPayload struct {
	ProductID string `json:"product_id"`
	Action    string `json:"action"`
}
