package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderPaid      OrderStatus = "PAID"
	OrderFulfilled OrderStatus = "FULFILLED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRefunded  OrderStatus = "REFUNDED"
)

// orderTransitions is the full transition table. Terminal statuses
// (DELIVERED, CANCELLED, REFUNDED) have no outgoing edges.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderCreated:   {OrderPaid, OrderCancelled},
	OrderPaid:      {OrderFulfilled, OrderCancelled, OrderRefunded},
	OrderFulfilled: {OrderShipped, OrderRefunded},
	OrderShipped:   {OrderDelivered, OrderRefunded},
}

// CanTransition reports whether from -> to is a legal order status change.
func (from OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status accepts no further transitions.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

type OrderItem struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	VariantID      uuid.UUID
	SKU            string
	Quantity       int32
	UnitPrice      decimal.Decimal
	TotalPrice     decimal.Decimal
	DiscountAmount decimal.Decimal
	Attributes     map[string]string
}

type Order struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Status         OrderStatus
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Tax            decimal.Decimal
	Shipping       decimal.Decimal
	Total          decimal.Decimal
	Currency       string
	IdempotencyKey string // empty when not supplied
	PromotionCode  string
	Items          []OrderItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ComputeTotal enforces the amount invariant:
// total = subtotal - discount + tax + shipping.
func (o *Order) ComputeTotal() {
	o.Total = o.Subtotal.Sub(o.Discount).Add(o.Tax).Add(o.Shipping)
}
