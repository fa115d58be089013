package entity

import "time"

type Order struct {
	ID uint64

	PublicID string

	BuyerName  string
	BuyerEmail string
	BuyerPhone string
	BuyerTaxID *string

	Quantity     int32
	UnitPriceCLP int64
	TotalCLP     int64
	Currency     string

	Status int32

	PaidAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
