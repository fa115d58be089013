package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xKodda/realcars-payments/app/entity"
	"github.com/xKodda/realcars-payments/app/factory"
	"github.com/xKodda/realcars-payments/app/gateway"
	"github.com/xKodda/realcars-payments/app/repository"
	"github.com/xKodda/realcars-payments/app/types"
	"github.com/xKodda/realcars-payments/config"
)

const defaultSweepBatchSize = int32(100)

type orderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	UpdateStatus(ctx context.Context, order *entity.Order, fromStatus int32) error
	FindByID(ctx context.Context, id uint64) (*entity.Order, error)
	FindByPublicID(ctx context.Context, publicID string) (*entity.Order, error)
	ListPendingPastDeadline(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Order, error)
	ApplySettlement(ctx context.Context, order *entity.Order, record *entity.PaymentRecord, fromStatus int32) error
}

type paymentRecordRepository interface {
	Create(ctx context.Context, record *entity.PaymentRecord) error
	Update(ctx context.Context, record *entity.PaymentRecord) error
	FindByNotificationToken(ctx context.Context, token string) (*entity.PaymentRecord, error)
	FindActiveByOrderID(ctx context.Context, orderID uint64) (*entity.PaymentRecord, error)
	Supersede(ctx context.Context, id uint64, now time.Time) error
}

type orderEventRepository interface {
	Create(ctx context.Context, event *entity.OrderEvent) error
}

type noticeClaimRepository interface {
	Claim(ctx context.Context, token string, now, staleBefore time.Time) (repository.ClaimOutcome, error)
	Complete(ctx context.Context, token string, now time.Time) error
	Release(ctx context.Context, token string) error
}

type raffleTicketRepository interface {
	IssueForOrder(ctx context.Context, orderID uint64, count int32, now time.Time) (int32, error)
}

type buyerNotifier interface {
	SendOrderStatus(ctx context.Context, order *entity.Order) error
}

type OrderService struct {
	orderRepo  orderRepository
	recordRepo paymentRecordRepository
	eventRepo  orderEventRepository
	claimRepo  noticeClaimRepository
	ticketRepo raffleTicketRepository
	gw         gateway.Gateway
	mailer     buyerNotifier
	ordersCfg  config.OrdersConfig
	logger     logrus.FieldLogger
}

func NewOrderService(
	orderRepo orderRepository,
	recordRepo paymentRecordRepository,
	eventRepo orderEventRepository,
	claimRepo noticeClaimRepository,
	ticketRepo raffleTicketRepository,
	gw gateway.Gateway,
	mailer buyerNotifier,
	ordersCfg config.OrdersConfig,
) *OrderService {
	return &OrderService{
		orderRepo:  orderRepo,
		recordRepo: recordRepo,
		eventRepo:  eventRepo,
		claimRepo:  claimRepo,
		ticketRepo: ticketRepo,
		gw:         gw,
		mailer:     mailer,
		ordersCfg:  ordersCfg,
		logger:     factory.NewModuleLogger("order-service"),
	}
}

// CreateOrder records a purchase intent and requests a gateway payment
// for it. The unit price is captured at creation time; ticket issuance
// later uses the stored quantity, never a recomputed one.
func (s *OrderService) CreateOrder(ctx context.Context, req *types.CreateOrderRequest) (*entity.Order, *entity.PaymentRecord, error) {
	if req.Quantity <= 0 {
		return nil, nil, ErrInvalidRequest
	}

	unitPrice := s.ordersCfg.TicketUnitPriceCLP
	if unitPrice <= 0 {
		return nil, nil, fmt.Errorf("ticket unit price is not configured")
	}

	now := time.Now().UTC()
	order := &entity.Order{
		PublicID:     uuid.NewString(),
		BuyerName:    req.BuyerName,
		BuyerEmail:   req.BuyerEmail,
		BuyerPhone:   req.BuyerPhone,
		BuyerTaxID:   normalizeOptionalString(req.BuyerTaxID),
		Quantity:     req.Quantity,
		UnitPriceCLP: unitPrice,
		TotalCLP:     int64(req.Quantity) * unitPrice,
		Currency:     s.ordersCfg.Currency,
		Status:       int32(types.OrderStatusPending),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, nil, err
	}

	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: "order_created",
		NewStatus: order.Status,
		CreatedAt: now,
	})

	record, err := s.requestPayment(ctx, order, now)
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			// Non-retryable rejection: fail the order rather than
			// leaving it pending forever.
			s.failRejectedOrder(ctx, order)
		}
		return nil, nil, err
	}

	return order, record, nil
}

func (s *OrderService) failRejectedOrder(ctx context.Context, order *entity.Order) {
	now := time.Now().UTC()
	oldStatus := order.Status
	order.Status = int32(types.OrderStatusCancelled)
	order.UpdatedAt = now

	if err := s.orderRepo.UpdateStatus(ctx, order, oldStatus); err != nil {
		s.logger.WithError(err).WithField("order_id", order.PublicID).Error("failed to cancel gateway-rejected order")
		return
	}

	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: "payment_rejected",
		OldStatus: &oldStatus,
		NewStatus: order.Status,
		CreatedAt: now,
	})
}

func (s *OrderService) GetOrder(ctx context.Context, publicID string) (*entity.Order, error) {
	order, err := s.orderRepo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// RetryPayment starts a fresh payment attempt for a still-pending
// order. The prior record is superseded first, so its notification
// token can no longer transition the order.
func (s *OrderService) RetryPayment(ctx context.Context, publicID string) (*entity.Order, *entity.PaymentRecord, error) {
	order, err := s.orderRepo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, ErrOrderNotFound
	}
	if types.OrderStatus(order.Status) != types.OrderStatusPending {
		return nil, nil, ErrOrderNotPending
	}

	now := time.Now().UTC()
	active, err := s.recordRepo.FindActiveByOrderID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	if active != nil {
		if err := s.recordRepo.Supersede(ctx, active.ID, now); err != nil {
			return nil, nil, err
		}
	}

	record, err := s.requestPayment(ctx, order, now)
	if err != nil {
		return nil, nil, err
	}

	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: "payment_retried",
		NewStatus: order.Status,
		CreatedAt: now,
	})

	return order, record, nil
}

func (s *OrderService) requestPayment(ctx context.Context, order *entity.Order, now time.Time) (*entity.PaymentRecord, error) {
	token := uuid.NewString()
	expiresAt := now.Add(s.ordersCfg.PaymentTimeout)

	output, err := s.gw.CreatePayment(ctx, &gateway.CreateInput{
		OrderRef:          order.PublicID,
		Subject:           fmt.Sprintf("Sorteo Real Cars - orden %s", order.PublicID),
		Amount:            order.TotalCLP,
		Currency:          order.Currency,
		PayerEmail:        order.BuyerEmail,
		PayerName:         order.BuyerName,
		NotificationToken: token,
		NotifyURL:         s.ordersCfg.NotifyURL,
		ReturnURL:         s.ordersCfg.ReturnURL,
		CancelURL:         s.ordersCfg.CancelURL,
		ExpiresAt:         expiresAt,
	})
	if err != nil {
		return nil, err
	}

	recordExpiry := output.ExpiresAt
	if recordExpiry == nil {
		recordExpiry = &expiresAt
	}

	record := &entity.PaymentRecord{
		OrderID:           order.ID,
		GatewayPaymentID:  output.GatewayPaymentID,
		NotificationToken: output.NotificationToken,
		PaymentURL:        output.PaymentURL,
		ExpiresAt:         recordExpiry,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.recordRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: "payment_requested",
		NewStatus: order.Status,
		CreatedAt: now,
	})

	return record, nil
}

func (s *OrderService) sweepBatchSize() int32 {
	if s.ordersCfg.SweepBatchSize > 0 {
		return s.ordersCfg.SweepBatchSize
	}
	return defaultSweepBatchSize
}

func normalizeOptionalString(v string) *string {
	if v == "" {
		return nil
	}
	s := v
	return &s
}
