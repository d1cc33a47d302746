package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderCreated, OrderPaid, true},
		{OrderCreated, OrderCancelled, true},
		{OrderCreated, OrderShipped, false},
		{OrderPaid, OrderFulfilled, true},
		{OrderPaid, OrderRefunded, true},
		{OrderPaid, OrderCreated, false},
		{OrderFulfilled, OrderShipped, true},
		{OrderShipped, OrderDelivered, true},
		{OrderShipped, OrderRefunded, true},
		{OrderDelivered, OrderRefunded, false},
		{OrderCancelled, OrderPaid, false},
		{OrderRefunded, OrderCreated, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestOrderTerminal(t *testing.T) {
	assert.True(t, OrderDelivered.Terminal())
	assert.True(t, OrderCancelled.Terminal())
	assert.True(t, OrderRefunded.Terminal())
	assert.False(t, OrderCreated.Terminal())
	assert.False(t, OrderShipped.Terminal())
}

func TestPaymentTransitions(t *testing.T) {
	assert.True(t, PaymentPending.CanTransition(PaymentProcessing))
	assert.True(t, PaymentPending.CanTransition(PaymentSucceeded))
	assert.True(t, PaymentProcessing.CanTransition(PaymentFailed))
	assert.True(t, PaymentSucceeded.CanTransition(PaymentRefunded))
	assert.False(t, PaymentSucceeded.CanTransition(PaymentFailed))
	assert.False(t, PaymentFailed.CanTransition(PaymentSucceeded))
	assert.False(t, PaymentRefunded.CanTransition(PaymentPending))
}

func TestPaymentTerminal(t *testing.T) {
	assert.True(t, PaymentFailed.Terminal())
	assert.True(t, PaymentCancelled.Terminal())
	assert.True(t, PaymentRefunded.Terminal())
	// SUCCEEDED can still be refunded.
	assert.False(t, PaymentSucceeded.Terminal())
	assert.False(t, PaymentPending.Terminal())
}

func TestReservationTerminal(t *testing.T) {
	assert.False(t, ReservationHeld.Terminal())
	assert.True(t, ReservationCommitted.Terminal())
	assert.True(t, ReservationReleased.Terminal())
	assert.True(t, ReservationExpired.Terminal())
}

func TestComputeTotal(t *testing.T) {
	o := &Order{
		Subtotal: decimal.RequireFromString("100.00"),
		Discount: decimal.RequireFromString("10.00"),
		Tax:      decimal.RequireFromString("8.50"),
		Shipping: decimal.RequireFromString("4.99"),
	}
	o.ComputeTotal()
	require.True(t, o.Total.Equal(decimal.RequireFromString("103.49")), "got %s", o.Total)
}

func TestErrorKinds(t *testing.T) {
	err := Wrap(KindTransientUpstream, "provider call", assert.AnError)
	assert.Equal(t, KindTransientUpstream, KindOf(err))
	assert.True(t, Retryable(err))

	assert.False(t, Retryable(ErrInvalidSignature))
	assert.False(t, Retryable(ErrInsufficientStock))
	assert.Equal(t, KindNotFound, KindOf(ErrOrderNotFound))

	// Unclassified errors default to retryable.
	assert.True(t, Retryable(assert.AnError))
}
