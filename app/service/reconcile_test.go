package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xKodda/realcars-payments/app/entity"
	"github.com/xKodda/realcars-payments/app/gateway"
	"github.com/xKodda/realcars-payments/app/types"
)

func seedPendingOrder(f *serviceFixture, quantity int32, createdAt time.Time) (*entity.Order, *entity.PaymentRecord) {
	order := &entity.Order{
		PublicID:     fmt.Sprintf("ord-%d", f.orderRepo.nextID),
		BuyerName:    "Ana Rojas",
		BuyerEmail:   "ana@example.cl",
		BuyerPhone:   "+56911111111",
		Quantity:     quantity,
		UnitPriceCLP: 2500,
		TotalCLP:     int64(quantity) * 2500,
		Currency:     "CLP",
		Status:       int32(types.OrderStatusPending),
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	_ = f.orderRepo.Create(context.Background(), order)

	record := &entity.PaymentRecord{
		OrderID:           order.ID,
		GatewayPaymentID:  fmt.Sprintf("pay-%d", order.ID),
		NotificationToken: fmt.Sprintf("tok-%d", order.ID),
		PaymentURL:        "https://gateway.example/pay/" + order.PublicID,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
	_ = f.recordRepo.Create(context.Background(), record)

	return order, record
}

func noticeFor(record *entity.PaymentRecord) *types.PaymentNoticeRequest {
	return &types.PaymentNoticeRequest{
		NotificationToken: record.NotificationToken,
		Signature:         "valid-signature",
		APIVersion:        types.DefaultNoticeAPIVersion,
	}
}

func verifiedSnapshot() *gateway.StatusSnapshot {
	paidAt := time.Now().UTC().Add(-time.Minute)
	return &gateway.StatusSnapshot{
		Status:     gateway.StatusVerified,
		PayerEmail: "ana@example.cl",
		PayerName:  "Ana Rojas",
		PaidAt:     &paidAt,
		RawPayload: `{"status":"done"}`,
	}
}

func TestHandlePaymentNoticeSettlesOrderAndIssuesTickets(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: true, snapshot: verifiedSnapshot()})
	order, record := seedPendingOrder(f, 4, time.Now().UTC().Add(-time.Minute))

	if err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record)); err != nil {
		t.Fatalf("handle payment notice failed: %v", err)
	}

	settled, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(settled.Status) != types.OrderStatusPaid {
		t.Fatalf("expected paid order, got %d", settled.Status)
	}
	if settled.PaidAt == nil {
		t.Fatal("expected paid_at to be set")
	}
	if got := f.ticketRepo.countForOrder(order.ID); got != 4 {
		t.Fatalf("expected 4 raffle tickets, got %d", got)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected one buyer notification, got %d", len(f.mailer.sent))
	}
	if f.eventRepo.countByType("order_paid") != 1 {
		t.Fatalf("expected order_paid event, got %+v", f.eventRepo.events)
	}
	state := f.claimRepo.claims[record.NotificationToken]
	if state == nil || !state.completed {
		t.Fatalf("expected completed notice claim, got %+v", state)
	}
}

func TestHandlePaymentNoticeDuplicateDeliveriesSettleOnce(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: true, snapshot: verifiedSnapshot()})
	order, record := seedPendingOrder(f, 4, time.Now().UTC().Add(-time.Minute))

	for i := 0; i < 3; i++ {
		if err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record)); err != nil {
			t.Fatalf("delivery %d failed: %v", i+1, err)
		}
	}

	if f.gw.statusCalls != 1 {
		t.Fatalf("expected one gateway status fetch, got %d", f.gw.statusCalls)
	}
	if f.orderRepo.settlements != 1 {
		t.Fatalf("expected one settlement, got %d", f.orderRepo.settlements)
	}
	if got := f.ticketRepo.countForOrder(order.ID); got != 4 {
		t.Fatalf("expected 4 raffle tickets after duplicates, got %d", got)
	}
	if f.ticketRepo.calls != 1 {
		t.Fatalf("expected one ticket issuance call, got %d", f.ticketRepo.calls)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected one buyer notification, got %d", len(f.mailer.sent))
	}
}

func TestHandlePaymentNoticeConcurrentDeliveriesSettleOnce(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: true, snapshot: verifiedSnapshot()})
	order, record := seedPendingOrder(f, 4, time.Now().UTC().Add(-time.Minute))

	const deliveries = 8
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.HandlePaymentNotice(context.Background(), noticeFor(record))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("delivery %d failed: %v", i+1, err)
		}
	}

	if got := f.gw.statusCallCount(); got != 1 {
		t.Fatalf("expected one gateway status fetch, got %d", got)
	}
	if f.orderRepo.settlements != 1 {
		t.Fatalf("expected one settlement, got %d", f.orderRepo.settlements)
	}
	if f.ticketRepo.calls != 1 {
		t.Fatalf("expected one ticket issuance call, got %d", f.ticketRepo.calls)
	}
	if got := f.ticketRepo.countForOrder(order.ID); got != 4 {
		t.Fatalf("expected 4 raffle tickets, got %d", got)
	}
	if got := f.mailer.sentCount(); got != 1 {
		t.Fatalf("expected one buyer notification, got %d", got)
	}
	settled, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(settled.Status) != types.OrderStatusPaid {
		t.Fatalf("expected paid order, got %d", settled.Status)
	}
}

func TestHandlePaymentNoticeBodyIsNeverTrusted(t *testing.T) {
	// The gateway still reports pending, so no matter what the notice
	// body claimed, the order must not move.
	f := newServiceFixture(&fakeGateway{
		verifyOK: true,
		snapshot: &gateway.StatusSnapshot{Status: gateway.StatusPending},
	})
	order, record := seedPendingOrder(f, 2, time.Now().UTC().Add(-time.Minute))

	if err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record)); err != nil {
		t.Fatalf("handle payment notice failed: %v", err)
	}

	stored, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(stored.Status) != types.OrderStatusPending {
		t.Fatalf("expected order still pending, got %d", stored.Status)
	}
	if f.ticketRepo.countForOrder(order.ID) != 0 {
		t.Fatal("expected no raffle tickets")
	}
	if f.claimRepo.releases != 1 {
		t.Fatalf("expected claim released for a later retry, releases=%d", f.claimRepo.releases)
	}

	// A later delivery, once the gateway reports the payment, settles.
	f.gw.snapshot = verifiedSnapshot()
	if err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record)); err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}
	settled, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(settled.Status) != types.OrderStatusPaid {
		t.Fatalf("expected paid order after second delivery, got %d", settled.Status)
	}
}

func TestHandlePaymentNoticeInvalidSignatureRejected(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: false, snapshot: verifiedSnapshot()})
	order, record := seedPendingOrder(f, 1, time.Now().UTC().Add(-time.Minute))

	err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record))
	if !errors.Is(err, ErrNoticeRejected) {
		t.Fatalf("expected ErrNoticeRejected, got %v", err)
	}

	if f.gw.statusCalls != 0 {
		t.Fatalf("expected no gateway fetch for a rejected notice, got %d", f.gw.statusCalls)
	}
	if len(f.claimRepo.claims) != 0 {
		t.Fatalf("expected no claim for a rejected notice, got %+v", f.claimRepo.claims)
	}
	stored, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(stored.Status) != types.OrderStatusPending {
		t.Fatalf("expected order untouched, got %d", stored.Status)
	}
}

func TestHandlePaymentNoticeMissingTokenInvalid(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: true})

	err := f.svc.HandlePaymentNotice(context.Background(), &types.PaymentNoticeRequest{
		NotificationToken: "   ",
		Signature:         "valid-signature",
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestHandlePaymentNoticeUnknownTokenAcknowledged(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: true, snapshot: verifiedSnapshot()})

	err := f.svc.HandlePaymentNotice(context.Background(), &types.PaymentNoticeRequest{
		NotificationToken: "tok-unknown",
		Signature:         "valid-signature",
	})
	if err != nil {
		t.Fatalf("expected unknown token to be acknowledged, got %v", err)
	}
	if f.gw.statusCalls != 0 {
		t.Fatalf("expected no gateway fetch for unknown token, got %d", f.gw.statusCalls)
	}
	if len(f.claimRepo.claims) != 0 {
		t.Fatalf("expected no claim for unknown token, got %+v", f.claimRepo.claims)
	}
}

func TestHandlePaymentNoticeSupersededRecordAcknowledged(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: true, snapshot: verifiedSnapshot()})
	order, record := seedPendingOrder(f, 1, time.Now().UTC().Add(-time.Minute))
	_ = f.recordRepo.Supersede(context.Background(), record.ID, time.Now().UTC())

	if err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record)); err != nil {
		t.Fatalf("expected superseded notice to be acknowledged, got %v", err)
	}

	stored, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(stored.Status) != types.OrderStatusPending {
		t.Fatalf("expected order untouched for superseded record, got %d", stored.Status)
	}
	if f.gw.statusCalls != 0 {
		t.Fatalf("expected no gateway fetch for superseded record, got %d", f.gw.statusCalls)
	}
}

func TestHandlePaymentNoticeTerminalOrderIsImmutable(t *testing.T) {
	f := newServiceFixture(&fakeGateway{
		verifyOK: true,
		snapshot: &gateway.StatusSnapshot{Status: gateway.StatusCancelled},
	})
	order, record := seedPendingOrder(f, 2, time.Now().UTC().Add(-time.Minute))

	paidAt := time.Now().UTC()
	stored := f.orderRepo.orders[order.ID]
	stored.Status = int32(types.OrderStatusPaid)
	stored.PaidAt = &paidAt

	if err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record)); err != nil {
		t.Fatalf("handle payment notice failed: %v", err)
	}

	after, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(after.Status) != types.OrderStatusPaid {
		t.Fatalf("expected paid order to stay paid, got %d", after.Status)
	}
	if f.gw.statusCalls != 0 {
		t.Fatalf("expected no gateway fetch for terminal order, got %d", f.gw.statusCalls)
	}
	state := f.claimRepo.claims[record.NotificationToken]
	if state == nil || !state.completed {
		t.Fatalf("expected claim completed for terminal order, got %+v", state)
	}
}

func TestHandlePaymentNoticeGatewayUnavailableAcknowledged(t *testing.T) {
	f := newServiceFixture(&fakeGateway{
		verifyOK:  true,
		statusErr: fmt.Errorf("%w: dial tcp: timeout", gateway.ErrUnavailable),
	})
	order, record := seedPendingOrder(f, 1, time.Now().UTC().Add(-time.Minute))

	if err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record)); err != nil {
		t.Fatalf("expected outage to be acknowledged, got %v", err)
	}

	stored, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(stored.Status) != types.OrderStatusPending {
		t.Fatalf("expected order still pending during outage, got %d", stored.Status)
	}
	if f.claimRepo.releases != 1 {
		t.Fatalf("expected claim released during outage, releases=%d", f.claimRepo.releases)
	}

	// The gateway recovers; the next delivery can settle.
	f.gw.statusErr = nil
	f.gw.snapshot = verifiedSnapshot()
	if err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record)); err != nil {
		t.Fatalf("post-recovery delivery failed: %v", err)
	}
	settled, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(settled.Status) != types.OrderStatusPaid {
		t.Fatalf("expected paid order after recovery, got %d", settled.Status)
	}
}

func TestHandlePaymentNoticeStaleClaimIsTakenOver(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: true, snapshot: verifiedSnapshot()})
	order, record := seedPendingOrder(f, 1, time.Now().UTC().Add(-time.Hour))

	// A crashed handler left an uncompleted claim past the stale window.
	f.claimRepo.claims[record.NotificationToken] = &fakeClaimState{
		startedAt: time.Now().UTC().Add(-10 * time.Minute),
	}

	if err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record)); err != nil {
		t.Fatalf("handle payment notice failed: %v", err)
	}

	settled, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(settled.Status) != types.OrderStatusPaid {
		t.Fatalf("expected stale claim takeover to settle, got %d", settled.Status)
	}
}

func TestHandlePaymentNoticeInFlightClaimAcknowledged(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: true, snapshot: verifiedSnapshot()})
	order, record := seedPendingOrder(f, 1, time.Now().UTC().Add(-time.Minute))

	f.claimRepo.claims[record.NotificationToken] = &fakeClaimState{
		startedAt: time.Now().UTC(),
	}

	if err := f.svc.HandlePaymentNotice(context.Background(), noticeFor(record)); err != nil {
		t.Fatalf("expected in-flight duplicate to be acknowledged, got %v", err)
	}
	if f.gw.statusCalls != 0 {
		t.Fatalf("expected no gateway fetch for in-flight duplicate, got %d", f.gw.statusCalls)
	}
	stored, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(stored.Status) != types.OrderStatusPending {
		t.Fatalf("expected order untouched, got %d", stored.Status)
	}
}

func TestRunSettlementSweepExpiresUnpaidOrder(t *testing.T) {
	f := newServiceFixture(&fakeGateway{
		verifyOK: true,
		snapshot: &gateway.StatusSnapshot{Status: gateway.StatusExpired},
	})
	order, _ := seedPendingOrder(f, 2, time.Now().UTC().Add(-2*time.Hour))

	if err := f.svc.RunSettlementSweep(context.Background()); err != nil {
		t.Fatalf("settlement sweep failed: %v", err)
	}

	stored, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(stored.Status) != types.OrderStatusExpired {
		t.Fatalf("expected expired order, got %d", stored.Status)
	}
	if f.ticketRepo.countForOrder(order.ID) != 0 {
		t.Fatal("expected no raffle tickets for expired order")
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected one buyer notification, got %d", len(f.mailer.sent))
	}
	if f.eventRepo.countByType("order_expired") != 1 {
		t.Fatalf("expected order_expired event, got %+v", f.eventRepo.events)
	}
}

func TestRunSettlementSweepSettlesLatePayment(t *testing.T) {
	// A webhook was missed, but the gateway says the payment went
	// through: the sweep settles via the same transition as the webhook.
	f := newServiceFixture(&fakeGateway{verifyOK: true, snapshot: verifiedSnapshot()})
	order, _ := seedPendingOrder(f, 3, time.Now().UTC().Add(-2*time.Hour))

	if err := f.svc.RunSettlementSweep(context.Background()); err != nil {
		t.Fatalf("settlement sweep failed: %v", err)
	}

	stored, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(stored.Status) != types.OrderStatusPaid {
		t.Fatalf("expected paid order, got %d", stored.Status)
	}
	if got := f.ticketRepo.countForOrder(order.ID); got != 3 {
		t.Fatalf("expected 3 raffle tickets, got %d", got)
	}
}

func TestRunSettlementSweepCancelsOrderWithoutPaymentRecord(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: true})
	createdAt := time.Now().UTC().Add(-2 * time.Hour)
	order := &entity.Order{
		PublicID:     "ord-norecord",
		BuyerName:    "Ana Rojas",
		BuyerEmail:   "ana@example.cl",
		BuyerPhone:   "+56911111111",
		Quantity:     1,
		UnitPriceCLP: 2500,
		TotalCLP:     2500,
		Currency:     "CLP",
		Status:       int32(types.OrderStatusPending),
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	_ = f.orderRepo.Create(context.Background(), order)

	if err := f.svc.RunSettlementSweep(context.Background()); err != nil {
		t.Fatalf("settlement sweep failed: %v", err)
	}

	stored, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(stored.Status) != types.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %d", stored.Status)
	}
	if f.gw.statusCalls != 0 {
		t.Fatalf("expected no gateway fetch without a payment record, got %d", f.gw.statusCalls)
	}
}

func TestRunSettlementSweepLeavesFreshOrdersAlone(t *testing.T) {
	f := newServiceFixture(&fakeGateway{verifyOK: true, snapshot: verifiedSnapshot()})
	order, _ := seedPendingOrder(f, 1, time.Now().UTC().Add(-time.Minute))

	if err := f.svc.RunSettlementSweep(context.Background()); err != nil {
		t.Fatalf("settlement sweep failed: %v", err)
	}

	stored, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(stored.Status) != types.OrderStatusPending {
		t.Fatalf("expected fresh order untouched, got %d", stored.Status)
	}
	if f.gw.statusCalls != 0 {
		t.Fatalf("expected no gateway fetch for fresh order, got %d", f.gw.statusCalls)
	}
}

func TestRunSettlementSweepKeepsPendingWhenGatewayStillPending(t *testing.T) {
	f := newServiceFixture(&fakeGateway{
		verifyOK: true,
		snapshot: &gateway.StatusSnapshot{Status: gateway.StatusPending},
	})
	order, record := seedPendingOrder(f, 1, time.Now().UTC().Add(-2*time.Hour))

	if err := f.svc.RunSettlementSweep(context.Background()); err != nil {
		t.Fatalf("settlement sweep failed: %v", err)
	}

	stored, _ := f.orderRepo.FindByID(context.Background(), order.ID)
	if types.OrderStatus(stored.Status) != types.OrderStatusPending {
		t.Fatalf("expected order still pending, got %d", stored.Status)
	}
	if _, ok := f.claimRepo.claims[record.NotificationToken]; ok {
		t.Fatal("expected claim released after no-op sweep")
	}
}
