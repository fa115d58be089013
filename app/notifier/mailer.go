package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xKodda/realcars-payments/app/entity"
	"github.com/xKodda/realcars-payments/app/factory"
	"github.com/xKodda/realcars-payments/app/types"
	"github.com/xKodda/realcars-payments/config"
)

// Mailer sends buyer notifications through an HTTP mail API. Delivery
// is best effort: callers log failures and move on, order state never
// depends on it.
type Mailer struct {
	cfg    config.MailConfig
	client *http.Client
	logger logrus.FieldLogger
}

func NewMailer(cfg config.MailConfig) *Mailer {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Mailer{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: factory.NewModuleLogger("mailer"),
	}
}

type mailMessage struct {
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
	ToEmail   string `json:"to_email"`
	ToName    string `json:"to_name"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

func (m *Mailer) SendOrderStatus(ctx context.Context, order *entity.Order) error {
	if strings.TrimSpace(m.cfg.APIBaseURL) == "" {
		m.logger.WithField("order_id", order.PublicID).Debug("mail api not configured, skipping notification")
		return nil
	}

	subject, body := composeOrderStatusMail(order)
	if subject == "" {
		return nil
	}

	payload, err := json.Marshal(&mailMessage{
		FromEmail: m.cfg.FromEmail,
		FromName:  m.cfg.FromName,
		ToEmail:   order.BuyerEmail,
		ToName:    order.BuyerName,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return err
	}

	url := strings.TrimRight(m.cfg.APIBaseURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(m.cfg.APIKey) != "" {
		req.Header.Set("X-API-Key", m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail api returned status=%d", resp.StatusCode)
	}

	return nil
}

func composeOrderStatusMail(order *entity.Order) (string, string) {
	switch types.OrderStatus(order.Status) {
	case types.OrderStatusPaid:
		return fmt.Sprintf("Pago confirmado - orden %s", order.PublicID),
			fmt.Sprintf("Hola %s, tu pago fue confirmado. Se emitieron %d números para el sorteo.", order.BuyerName, order.Quantity)
	case types.OrderStatusExpired:
		return fmt.Sprintf("Orden %s expirada", order.PublicID),
			fmt.Sprintf("Hola %s, tu orden expiró sin registrar el pago. Puedes intentarlo nuevamente.", order.BuyerName)
	case types.OrderStatusCancelled:
		return fmt.Sprintf("Orden %s cancelada", order.PublicID),
			fmt.Sprintf("Hola %s, tu orden fue cancelada. No se realizó ningún cobro.", order.BuyerName)
	default:
		return "", ""
	}
}
