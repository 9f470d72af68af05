package entity

import "time"

type OrderComment struct {
	ID uint64

	OrderID uint64
	Status  string
	Comment string

	CreatedAt time.Time
}
