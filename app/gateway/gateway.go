package gateway

import (
	"context"
	"errors"
	"time"
)

// Status is the internal payment-status vocabulary. Gateway responses
// are mapped into it; raw gateway strings never drive transitions.
type Status string

const (
	StatusVerified  Status = "verified"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
)

var (
	// ErrUnavailable covers network failures and gateway 5xx
	// responses. Callers may retry.
	ErrUnavailable = errors.New("payment gateway unavailable")

	// ErrRejected covers gateway 4xx validation responses. Callers
	// must not retry the same request.
	ErrRejected = errors.New("payment gateway rejected the request")
)

type CreateInput struct {
	OrderRef          string
	Subject           string
	Amount            int64
	Currency          string
	PayerEmail        string
	PayerName         string
	NotificationToken string

	NotifyURL string
	ReturnURL string
	CancelURL string

	ExpiresAt time.Time
}

type CreateOutput struct {
	GatewayPaymentID  string
	PaymentURL        string
	NotificationToken string
	ExpiresAt         *time.Time
}

type StatusSnapshot struct {
	Status       Status
	StatusDetail string
	PayerEmail   string
	PayerName    string
	PaidAt       *time.Time
	ExpiresAt    *time.Time
	RawPayload   string
}

type Gateway interface {
	CreatePayment(ctx context.Context, input *CreateInput) (*CreateOutput, error)
	GetPaymentStatus(ctx context.Context, gatewayPaymentID string) (*StatusSnapshot, error)
	VerifyNotice(notificationToken, signatureHeader, apiVersion string) bool
}
