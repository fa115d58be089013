package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultKhipuBaseURL = "https://gateway.khipu.com/api/2.0"
	noticeAPIVersion    = "1.3"
)

type KhipuConfig struct {
	ReceiverID  string
	Secret      string
	APIBaseURL  string
	HTTPTimeout time.Duration

	// SkipSignatureCheck disables notice verification. Only for
	// non-production setups; it is never inferred.
	SkipSignatureCheck bool
}

type KhipuGateway struct {
	cfg    KhipuConfig
	client *http.Client
}

func NewKhipuGateway(cfg KhipuConfig) *KhipuGateway {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultKhipuBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &KhipuGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (g *KhipuGateway) CreatePayment(ctx context.Context, input *CreateInput) (*CreateOutput, error) {
	if strings.TrimSpace(g.cfg.ReceiverID) == "" || strings.TrimSpace(g.cfg.Secret) == "" {
		return nil, errors.New("gateway receiver id and secret are not configured")
	}

	values := url.Values{}
	values.Set("subject", strings.TrimSpace(input.Subject))
	values.Set("amount", strconv.FormatInt(input.Amount, 10))
	values.Set("currency", strings.ToUpper(strings.TrimSpace(input.Currency)))
	values.Set("transaction_id", strings.TrimSpace(input.OrderRef))
	values.Set("payer_email", strings.TrimSpace(input.PayerEmail))
	values.Set("payer_name", strings.TrimSpace(input.PayerName))
	values.Set("notification_token", strings.TrimSpace(input.NotificationToken))
	values.Set("notify_url", strings.TrimSpace(input.NotifyURL))
	values.Set("notify_api_version", noticeAPIVersion)
	values.Set("return_url", strings.TrimSpace(input.ReturnURL))
	values.Set("cancel_url", strings.TrimSpace(input.CancelURL))
	if !input.ExpiresAt.IsZero() {
		values.Set("expires_date", input.ExpiresAt.UTC().Format(time.RFC3339))
	}

	body, err := g.postForm(ctx, "/payments", values)
	if err != nil {
		return nil, err
	}

	var payload struct {
		PaymentID         string `json:"payment_id"`
		PaymentURL        string `json:"payment_url"`
		NotificationToken string `json:"notification_token"`
		ExpiresDate       string `json:"expires_date"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("gateway create payment response malformed: %w", err)
	}

	paymentID := strings.TrimSpace(payload.PaymentID)
	paymentURL := strings.TrimSpace(payload.PaymentURL)
	if paymentID == "" || paymentURL == "" {
		return nil, fmt.Errorf("%w: payment id or url missing in response", ErrRejected)
	}

	token := strings.TrimSpace(payload.NotificationToken)
	if token == "" {
		token = strings.TrimSpace(input.NotificationToken)
	}

	return &CreateOutput{
		GatewayPaymentID:  paymentID,
		PaymentURL:        paymentURL,
		NotificationToken: token,
		ExpiresAt:         parseGatewayTime(payload.ExpiresDate),
	}, nil
}

func (g *KhipuGateway) GetPaymentStatus(ctx context.Context, gatewayPaymentID string) (*StatusSnapshot, error) {
	gatewayPaymentID = strings.TrimSpace(gatewayPaymentID)
	if gatewayPaymentID == "" {
		return nil, fmt.Errorf("%w: empty gateway payment id", ErrRejected)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.APIBaseURL+"/payments/"+url.PathEscape(gatewayPaymentID), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(g.cfg.ReceiverID, g.cfg.Secret)

	body, err := g.do(req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Status       string `json:"status"`
		StatusDetail string `json:"status_detail"`
		PayerEmail   string `json:"payer_email"`
		PayerName    string `json:"payer_name"`
		PaidDate     string `json:"paid_date"`
		ExpiresDate  string `json:"expires_date"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("gateway status response malformed: %w", err)
	}

	return &StatusSnapshot{
		Status:       mapGatewayStatus(payload.Status),
		StatusDetail: strings.TrimSpace(payload.StatusDetail),
		PayerEmail:   strings.TrimSpace(payload.PayerEmail),
		PayerName:    strings.TrimSpace(payload.PayerName),
		PaidAt:       parseGatewayTime(payload.PaidDate),
		ExpiresAt:    parseGatewayTime(payload.ExpiresDate),
		RawPayload:   string(body),
	}, nil
}

// VerifyNotice checks the HMAC-SHA256 signature the gateway attaches to
// webhook deliveries. It never errors: any malformed input is a failed
// verification.
func (g *KhipuGateway) VerifyNotice(notificationToken, signatureHeader, apiVersion string) bool {
	if g.cfg.SkipSignatureCheck {
		return true
	}
	return verifyNoticeSignature(notificationToken, signatureHeader, apiVersion, g.cfg.ReceiverID, g.cfg.Secret)
}

func verifyNoticeSignature(notificationToken, signatureHeader, apiVersion, receiverID, secret string) bool {
	notificationToken = strings.TrimSpace(notificationToken)
	signatureHeader = strings.TrimSpace(signatureHeader)
	if notificationToken == "" || signatureHeader == "" || strings.TrimSpace(secret) == "" {
		return false
	}
	if strings.TrimSpace(apiVersion) != noticeAPIVersion {
		return false
	}

	signedPayload := "notification_token=" + notificationToken + "&receiver_id=" + strings.TrimSpace(receiverID)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := mac.Sum(nil)

	candidate, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, "sha256="))
	if err != nil {
		return false
	}

	return hmac.Equal(candidate, expected)
}

func (g *KhipuGateway) postForm(ctx context.Context, path string, values url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIBaseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(g.cfg.ReceiverID, g.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return g.do(req)
}

func (g *KhipuGateway) do(req *http.Request) ([]byte, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrRejected, resp.StatusCode, truncateBody(body))
	}

	return body, nil
}

func mapGatewayStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "done", "verified":
		return StatusVerified
	case "expired":
		return StatusExpired
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusPending
	}
}

func parseGatewayTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max])
}
