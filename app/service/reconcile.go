package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xKodda/realcars-payments/app/entity"
	"github.com/xKodda/realcars-payments/app/gateway"
	"github.com/xKodda/realcars-payments/app/metrics"
	"github.com/xKodda/realcars-payments/app/repository"
	"github.com/xKodda/realcars-payments/app/types"
)

// HandlePaymentNotice reconciles one gateway webhook delivery.
//
// The notice body is only a trigger: the order transition is driven by
// a fresh status fetch from the gateway, so a forged or stale body can
// never settle an order. Every outcome except a bad signature is
// acknowledged to the gateway (a nil return), including unknown
// tokens, duplicates, and gateway outages; anything else would only
// provoke retry storms.
func (s *OrderService) HandlePaymentNotice(ctx context.Context, req *types.PaymentNoticeRequest) error {
	token := strings.TrimSpace(req.NotificationToken)
	if token == "" {
		return ErrInvalidRequest
	}

	if !s.gw.VerifyNotice(token, req.Signature, req.APIVersion) {
		metrics.RecordPaymentNotice(metrics.NoticeOutcomeRejected)
		s.logger.WithField("notification_token", token).Warn("payment notice signature verification failed")
		return ErrNoticeRejected
	}

	record, err := s.recordRepo.FindByNotificationToken(ctx, token)
	if err != nil {
		return err
	}
	if record == nil {
		// Unknown tokens are acknowledged so the gateway stops
		// retrying. Counted: a rising rate here means a
		// persistence-ordering problem, not a benign race.
		metrics.RecordPaymentNotice(metrics.NoticeOutcomeUnknownToken)
		s.logger.WithField("notification_token", token).Warn("no payment record for notification token, acknowledging")
		return nil
	}
	if record.Superseded {
		metrics.RecordPaymentNotice(metrics.NoticeOutcomeSuperseded)
		s.logger.WithField("order_id", record.OrderID).Info("notice for superseded payment record, acknowledging")
		return nil
	}

	now := time.Now().UTC()
	outcome, err := s.claimRepo.Claim(ctx, token, now, now.Add(-s.ordersCfg.ClaimStaleAfter))
	if err != nil {
		return err
	}
	if outcome != repository.ClaimProceed {
		metrics.RecordPaymentNotice(metrics.NoticeOutcomeDuplicate)
		return nil
	}

	return s.reconcileClaimed(ctx, record, token, now)
}

// reconcileClaimed runs steps 6-10 of the notice flow while holding
// the idempotency claim for token.
func (s *OrderService) reconcileClaimed(ctx context.Context, record *entity.PaymentRecord, token string, now time.Time) error {
	order, err := s.orderRepo.FindByID(ctx, record.OrderID)
	if err != nil {
		s.releaseClaim(ctx, token)
		return err
	}
	if order == nil {
		s.releaseClaim(ctx, token)
		s.logger.WithField("order_id", record.OrderID).Error("payment record references missing order")
		return nil
	}

	if types.OrderStatus(order.Status).Terminal() {
		// Defense in depth: the order settled through another path.
		if err := s.claimRepo.Complete(ctx, token, now); err != nil {
			s.logger.WithError(err).Warn("failed to complete notice claim")
		}
		metrics.RecordPaymentNotice(metrics.NoticeOutcomeNoChange)
		return nil
	}

	snapshot, err := s.gw.GetPaymentStatus(ctx, record.GatewayPaymentID)
	if err != nil {
		s.releaseClaim(ctx, token)
		switch {
		case errors.Is(err, gateway.ErrUnavailable):
			metrics.RecordPaymentNotice(metrics.NoticeOutcomeUnavailable)
			s.logger.WithError(err).WithField("order_id", order.PublicID).Warn("gateway unavailable during reconciliation, will re-check via sweep")
		default:
			metrics.RecordPaymentNotice(metrics.NoticeOutcomeGatewayError)
			s.logger.WithError(err).WithField("order_id", order.PublicID).Error("gateway rejected status fetch, manual investigation required")
		}
		return nil
	}

	tr, settled, err := s.applyAuthoritativeStatus(ctx, order, record, snapshot, now)
	if err != nil {
		s.releaseClaim(ctx, token)
		return err
	}
	if !settled {
		// Authoritative status is still pending (or another writer
		// won the race). Release so a later delivery can retry.
		s.releaseClaim(ctx, token)
		metrics.RecordPaymentNotice(metrics.NoticeOutcomeNoChange)
		return nil
	}

	if err := s.claimRepo.Complete(ctx, token, now); err != nil {
		s.logger.WithError(err).Warn("failed to complete notice claim")
	}

	s.fireSideEffects(ctx, order, tr, now)
	metrics.RecordPaymentNotice(metrics.NoticeOutcomeSettled)
	metrics.RecordOrderSettlement(tr.toStatus.String())

	return nil
}

// applyAuthoritativeStatus stamps the gateway snapshot onto the
// payment record and, when the mapped status warrants it, settles the
// order and record together in one atomic repository transaction.
func (s *OrderService) applyAuthoritativeStatus(
	ctx context.Context,
	order *entity.Order,
	record *entity.PaymentRecord,
	snapshot *gateway.StatusSnapshot,
	now time.Time,
) (transition, bool, error) {
	statusStr := string(snapshot.Status)
	record.GatewayStatus = &statusStr
	record.GatewayStatusDetail = normalizeOptionalString(snapshot.StatusDetail)
	record.PayerEmail = normalizeOptionalString(snapshot.PayerEmail)
	record.PayerName = normalizeOptionalString(snapshot.PayerName)
	record.RawPayload = normalizeOptionalString(snapshot.RawPayload)
	record.UpdatedAt = now

	tr := planTransition(order, snapshot.Status)
	if !tr.settle {
		if err := s.recordRepo.Update(ctx, record); err != nil {
			s.logger.WithError(err).WithField("order_id", order.PublicID).Warn("failed to persist payment snapshot")
		}
		return tr, false, nil
	}

	oldStatus := order.Status
	order.Status = int32(tr.toStatus)
	if tr.toStatus == types.OrderStatusPaid {
		paidAt := now
		if snapshot.PaidAt != nil {
			paidAt = *snapshot.PaidAt
		}
		order.PaidAt = &paidAt
	}
	order.UpdatedAt = now

	err := s.orderRepo.ApplySettlement(ctx, order, record, oldStatus)
	if errors.Is(err, repository.ErrOrderStale) {
		return tr, false, nil
	}
	if err != nil {
		return tr, false, err
	}

	payloadJSON := snapshot.RawPayload
	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:     order.ID,
		EventType:   tr.eventType,
		OldStatus:   &oldStatus,
		NewStatus:   order.Status,
		PayloadJSON: normalizeOptionalString(payloadJSON),
		CreatedAt:   now,
	})

	return tr, true, nil
}

// fireSideEffects runs post-commit work. Failures are logged and never
// propagated: a paid order stays paid even if its email bounces.
func (s *OrderService) fireSideEffects(ctx context.Context, order *entity.Order, tr transition, now time.Time) {
	if tr.issueTickets {
		issued, err := s.ticketRepo.IssueForOrder(ctx, order.ID, order.Quantity, now)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", order.PublicID).Error("raffle ticket issuance failed")
		} else if issued < order.Quantity {
			s.logger.WithFields(map[string]interface{}{
				"order_id": order.PublicID,
				"issued":   issued,
				"expected": order.Quantity,
			}).Info("some raffle tickets were already issued")
		}
	}

	if tr.notifyBuyer {
		if err := s.mailer.SendOrderStatus(ctx, order); err != nil {
			s.logger.WithError(err).WithField("order_id", order.PublicID).Warn("buyer notification failed")
		}
	}
}

// RunSettlementSweep re-checks pending orders past their payment
// deadline. It is a safety net for missed webhooks and shares the
// claim discipline and transition function with the webhook path.
func (s *OrderService) RunSettlementSweep(ctx context.Context) error {
	now := time.Now().UTC()
	cutoff := now.Add(-s.ordersCfg.PaymentTimeout)
	orders, err := s.orderRepo.ListPendingPastDeadline(ctx, cutoff, s.sweepBatchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, order := range orders {
		if order == nil {
			continue
		}
		if err := s.sweepOrder(ctx, order, now); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *OrderService) sweepOrder(ctx context.Context, order *entity.Order, now time.Time) error {
	record, err := s.recordRepo.FindActiveByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}

	if record == nil {
		// No payment was ever requested; nothing external to
		// reconcile against.
		oldStatus := order.Status
		order.Status = int32(types.OrderStatusCancelled)
		order.UpdatedAt = now
		err := s.orderRepo.UpdateStatus(ctx, order, oldStatus)
		if errors.Is(err, repository.ErrOrderStale) {
			return nil
		}
		if err != nil {
			return err
		}
		_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
			OrderID:   order.ID,
			EventType: "order_cancelled",
			OldStatus: &oldStatus,
			NewStatus: order.Status,
			CreatedAt: now,
		})
		metrics.RecordOrderSettlement(types.OrderStatusCancelled.String())
		return nil
	}

	token := record.NotificationToken
	outcome, err := s.claimRepo.Claim(ctx, token, now, now.Add(-s.ordersCfg.ClaimStaleAfter))
	if err != nil {
		return err
	}
	if outcome != repository.ClaimProceed {
		return nil
	}

	snapshot, err := s.gw.GetPaymentStatus(ctx, record.GatewayPaymentID)
	if err != nil {
		s.releaseClaim(ctx, token)
		if errors.Is(err, gateway.ErrUnavailable) {
			s.logger.WithError(err).WithField("order_id", order.PublicID).Warn("gateway unavailable during sweep")
			return nil
		}
		return err
	}

	tr, settled, err := s.applyAuthoritativeStatus(ctx, order, record, snapshot, now)
	if err != nil {
		s.releaseClaim(ctx, token)
		return err
	}
	if !settled {
		s.releaseClaim(ctx, token)
		return nil
	}

	if err := s.claimRepo.Complete(ctx, token, now); err != nil {
		s.logger.WithError(err).Warn("failed to complete notice claim")
	}

	s.fireSideEffects(ctx, order, tr, now)
	metrics.RecordOrderSettlement(tr.toStatus.String())

	return nil
}

func (s *OrderService) releaseClaim(ctx context.Context, token string) {
	if err := s.claimRepo.Release(ctx, token); err != nil {
		s.logger.WithError(err).WithField("notification_token", token).Error("failed to release notice claim")
	}
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
