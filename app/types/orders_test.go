package types

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewCreateOrderRequestFromContextNormalizes(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString(`{"buyer_name":" Ana Rojas ","buyer_email":" Ana@Example.CL ","buyer_phone":"+56911111111","buyer_tax_id":"12.345.678-k","quantity":4}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewCreateOrderRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.BuyerName != "Ana Rojas" {
		t.Fatalf("expected trimmed buyer name, got %q", parsed.BuyerName)
	}
	if parsed.BuyerEmail != "ana@example.cl" {
		t.Fatalf("expected lower-cased email, got %q", parsed.BuyerEmail)
	}
	if parsed.BuyerTaxID != "12.345.678-K" {
		t.Fatalf("expected upper-cased tax id, got %q", parsed.BuyerTaxID)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestCreateOrderValidate(t *testing.T) {
	req := &CreateOrderRequest{}
	if err := req.Validate(); err == nil {
		t.Fatal("expected buyer_name validation error")
	}

	req = &CreateOrderRequest{
		BuyerName:  "Ana Rojas",
		BuyerEmail: "not-an-email",
		BuyerPhone: "+56911111111",
		Quantity:   1,
	}
	if err := req.Validate(); err == nil {
		t.Fatal("expected buyer_email validation error")
	}

	req.BuyerEmail = "ana@example.cl"
	req.Quantity = 0
	if err := req.Validate(); err == nil {
		t.Fatal("expected quantity validation error")
	}

	req.Quantity = maxOrderQuantity + 1
	if err := req.Validate(); err == nil {
		t.Fatal("expected quantity maximum validation error")
	}

	req.Quantity = 4
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewPaymentNoticeRequestFromContextFormBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/webhooks/payment", bytes.NewBufferString("notification_token=tok-1&api_version=1.3"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.Header.Set(HeaderPaymentSignature, "sig-value")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewPaymentNoticeRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.NotificationToken != "tok-1" {
		t.Fatalf("unexpected token: %q", parsed.NotificationToken)
	}
	if parsed.Signature != "sig-value" {
		t.Fatalf("unexpected signature: %q", parsed.Signature)
	}
	if parsed.APIVersion != DefaultNoticeAPIVersion {
		t.Fatalf("expected default api version, got %q", parsed.APIVersion)
	}
}

func TestNewPaymentNoticeRequestFromContextJSONBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/webhooks/payment", bytes.NewBufferString(`{"notification_token":"tok-json"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderAPIVersion, "1.3")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewPaymentNoticeRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.NotificationToken != "tok-json" {
		t.Fatalf("unexpected token: %q", parsed.NotificationToken)
	}
}

func TestNewPaymentNoticeRequestAcceptsLegacyFieldName(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/webhooks/payment", bytes.NewBufferString("notification_id=tok-legacy"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewPaymentNoticeRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.NotificationToken != "tok-legacy" {
		t.Fatalf("expected legacy field to be accepted, got %q", parsed.NotificationToken)
	}
}

func TestNewPaymentNoticeRequestJSONWithoutContentType(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/webhooks/payment", bytes.NewBufferString(`{"notification_id":"tok-bare"}`))
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewPaymentNoticeRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.NotificationToken != "tok-bare" {
		t.Fatalf("expected bare JSON body to parse, got %q", parsed.NotificationToken)
	}
}

func TestPaymentNoticeValidateRequiresToken(t *testing.T) {
	req := &PaymentNoticeRequest{NotificationToken: "  "}
	if err := req.Validate(); err == nil {
		t.Fatal("expected missing token validation error")
	}
}

func TestOrderStatusStringAndTerminal(t *testing.T) {
	if OrderStatusPending.String() != "pending" || OrderStatusPending.Terminal() {
		t.Fatal("pending must be non-terminal")
	}
	for _, status := range []OrderStatus{OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled} {
		if !status.Terminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	if OrderStatus(99).String() != "unknown" {
		t.Fatalf("unexpected string for unknown status: %s", OrderStatus(99))
	}
}
