package types

import (
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

type OrderStatus int32

const (
	OrderStatusPending   OrderStatus = 1
	OrderStatusPaid      OrderStatus = 10
	OrderStatusExpired   OrderStatus = 20
	OrderStatusCancelled OrderStatus = 30
)

const (
	HeaderPaymentSignature = "X-Payment-Signature"
	HeaderAPIVersion       = "X-Api-Version"

	DefaultNoticeAPIVersion = "1.3"

	maxOrderQuantity = 100
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "pending"
	case OrderStatusPaid:
		return "paid"
	case OrderStatusExpired:
		return "expired"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

type CreateOrderRequest struct {
	BuyerName  string `json:"buyer_name" form:"buyer_name"`
	BuyerEmail string `json:"buyer_email" form:"buyer_email"`
	BuyerPhone string `json:"buyer_phone" form:"buyer_phone"`
	BuyerTaxID string `json:"buyer_tax_id" form:"buyer_tax_id"`
	Quantity   int32  `json:"quantity" form:"quantity"`
}

func NewCreateOrderRequestFromContext(ctx echo.Context) (*CreateOrderRequest, error) {
	var body CreateOrderRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.BuyerName = strings.TrimSpace(body.BuyerName)
	body.BuyerEmail = strings.ToLower(strings.TrimSpace(body.BuyerEmail))
	body.BuyerPhone = strings.TrimSpace(body.BuyerPhone)
	body.BuyerTaxID = strings.ToUpper(strings.TrimSpace(body.BuyerTaxID))

	return &body, nil
}

func (r *CreateOrderRequest) Validate() error {
	if r.BuyerName == "" {
		return errors.New("buyer_name is required")
	}
	if r.BuyerEmail == "" || !strings.Contains(r.BuyerEmail, "@") {
		return errors.New("buyer_email must be a valid email address")
	}
	if r.BuyerPhone == "" {
		return errors.New("buyer_phone is required")
	}
	if r.Quantity <= 0 {
		return errors.New("quantity must be > 0")
	}
	if r.Quantity > maxOrderQuantity {
		return errors.New("quantity exceeds the per-order maximum")
	}
	return nil
}

type GetOrderRequest struct {
	PublicID string
}

func NewGetOrderRequestFromContext(ctx echo.Context) (*GetOrderRequest, error) {
	return &GetOrderRequest{PublicID: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *GetOrderRequest) Validate() error {
	if r.PublicID == "" {
		return errors.New("order id is required")
	}
	return nil
}

type RetryPaymentRequest struct {
	PublicID string
}

func NewRetryPaymentRequestFromContext(ctx echo.Context) (*RetryPaymentRequest, error) {
	return &RetryPaymentRequest{PublicID: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *RetryPaymentRequest) Validate() error {
	if r.PublicID == "" {
		return errors.New("order id is required")
	}
	return nil
}

type PaymentNoticeRequest struct {
	NotificationToken string
	Signature         string
	APIVersion        string
}

// NewPaymentNoticeRequestFromContext extracts the notification token
// from either a form-encoded or a JSON body. The token has shipped
// under two field names over the life of the gateway integration, so
// both are accepted.
func NewPaymentNoticeRequestFromContext(ctx echo.Context) (*PaymentNoticeRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	apiVersion := strings.TrimSpace(ctx.Request().Header.Get(HeaderAPIVersion))
	if apiVersion == "" {
		apiVersion = DefaultNoticeAPIVersion
	}

	req := &PaymentNoticeRequest{
		NotificationToken: extractNotificationToken(rawBody, ctx.Request().Header.Get(echo.HeaderContentType)),
		Signature:         strings.TrimSpace(ctx.Request().Header.Get(HeaderPaymentSignature)),
		APIVersion:        apiVersion,
	}

	return req, nil
}

func (r *PaymentNoticeRequest) Validate() error {
	if strings.TrimSpace(r.NotificationToken) == "" {
		return errors.New("notification token is required")
	}
	return nil
}

func extractNotificationToken(rawBody []byte, contentType string) string {
	if len(rawBody) == 0 {
		return ""
	}

	if strings.Contains(strings.ToLower(contentType), echo.MIMEApplicationJSON) {
		return tokenFromJSON(rawBody)
	}

	values, err := url.ParseQuery(string(rawBody))
	if err == nil {
		if token := firstTokenField(values.Get("notification_token"), values.Get("notification_id")); token != "" {
			return token
		}
	}

	// Some gateway versions post JSON without a content type.
	return tokenFromJSON(rawBody)
}

func tokenFromJSON(rawBody []byte) string {
	var body struct {
		NotificationToken string `json:"notification_token"`
		NotificationID    string `json:"notification_id"`
	}
	if json.Unmarshal(rawBody, &body) != nil {
		return ""
	}
	return firstTokenField(body.NotificationToken, body.NotificationID)
}

func firstTokenField(candidates ...string) string {
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type Order struct {
	ID         string `json:"id"`
	BuyerName  string `json:"buyer_name"`
	BuyerEmail string `json:"buyer_email"`
	BuyerPhone string `json:"buyer_phone"`
	BuyerTaxID string `json:"buyer_tax_id,omitempty"`
	Quantity   int32  `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	Total      int64  `json:"total"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	PaidAt     string `json:"paid_at,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type OrderEnvelopeResponse struct {
	Order *Order `json:"order"`
}

type CheckoutResponse struct {
	Order      *Order `json:"order"`
	PaymentURL string `json:"payment_url"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
