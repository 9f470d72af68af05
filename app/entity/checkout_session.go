package entity

import "time"

type CheckoutSession struct {
	ID uint64

	OrderIncrementID  string
	CheckoutSessionID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
