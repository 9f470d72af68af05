package entity

import "time"

const (
	OrderStateNew            = "new"
	OrderStatePendingPayment = "pending_payment"
	OrderStatePaymentReview  = "payment_review"
	OrderStateProcessing     = "processing"
	OrderStateComplete       = "complete"
	OrderStateClosed         = "closed"
	OrderStateCanceled       = "canceled"
)

const (
	PaymentMethodStripe         = "stripe_payments"
	PaymentMethodStripeExpress  = "stripe_payments_express"
	PaymentMethodStripeCheckout = "stripe_payments_checkout"
)

type Order struct {
	ID uint64

	IncrementID string
	StoreCode   string

	State  string
	Status string

	PaymentMethod string
	LastTransID   *string

	CurrencyCode    string
	GrandTotalCents int64
	InvoicedCents   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanCancel reports whether the ledger still accepts a cancel for the order.
func (o *Order) CanCancel() bool {
	if o == nil || o.InvoicedCents > 0 {
		return false
	}
	switch o.State {
	case OrderStateNew, OrderStatePendingPayment, OrderStatePaymentReview:
		return true
	default:
		return false
	}
}
