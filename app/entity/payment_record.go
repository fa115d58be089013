package entity

import "time"

type PaymentRecord struct {
	ID uint64

	OrderID uint64

	GatewayPaymentID  string
	NotificationToken string
	PaymentURL        string

	GatewayStatus       *string
	GatewayStatusDetail *string
	PayerEmail          *string
	PayerName           *string
	RawPayload          *string

	Superseded bool

	ExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
