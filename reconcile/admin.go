package reconcile

import (
	"context"
	"errors"

	"xmr-payment-svc/models"
	"xmr-payment-svc/orders"

	"go.uber.org/zap"
)

// Override force-sets a payment's status, skipping the forward-only state
// machine. This is the audited escape hatch for support work (resetting
// an expired payment, force-confirming a manually verified one); the
// automatic path never comes through here. The change is still projected
// onto the linked order so the two stores keep agreeing.
func (s *Service) Override(ctx context.Context, paymentID string, status models.PaymentStatus) (Result, error) {
	if !status.Valid() {
		return Result{}, ErrInvalidStatus
	}

	p, ok := s.store.Get(paymentID)
	if !ok {
		return Result{}, ErrPaymentNotFound
	}

	s.logger.Warn("ADMIN ACTION: payment status override",
		zap.String("payment_id", paymentID),
		zap.String("from", string(p.Status)),
		zap.String("to", string(status)),
	)

	p, _ = s.store.UpdateStatus(paymentID, status)

	order, err := s.resolveOrder(ctx, p)
	if err != nil {
		if !errors.Is(err, orders.ErrNotFound) {
			s.logger.Error("override: order lookup failed", zap.String("payment_id", paymentID), zap.Error(err))
		}
		return Result{Payment: p}, nil
	}

	if err := s.projectOntoOrder(ctx, &p, order, status); err != nil {
		s.logger.Error("override: failed to project status onto order",
			zap.String("payment_id", paymentID),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return Result{Payment: p}, nil
	}

	s.notifier.Publish(order.ID, status)
	s.emit(ctx, models.PaymentEvent{
		PaymentID: p.PaymentID,
		OrderID:   order.ID,
		Amount:    p.Amount,
		Status:    status,
		EventType: "payment_overridden",
	})
	return Result{Payment: p, Order: order}, nil
}

// ForceOrderStatus force-sets an order's status and, when the order is
// linked to a payment, mirrors the status onto the payment so the stores
// do not drift apart. Audited like Override.
func (s *Service) ForceOrderStatus(ctx context.Context, orderID, status string) (*models.OrderRecord, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.logger.Warn("ADMIN ACTION: order status override",
		zap.String("order_id", orderID),
		zap.String("from", order.Status),
		zap.String("to", status),
	)

	if err := s.orders.SetStatus(ctx, orderID, status); err != nil {
		return nil, err
	}
	order.Status = status

	if ps := models.PaymentStatus(status); ps.Valid() && order.PaymentID != "" {
		if _, ok := s.store.UpdateStatus(order.PaymentID, ps); !ok {
			s.logger.Warn("order references unknown payment",
				zap.String("order_id", orderID),
				zap.String("payment_id", order.PaymentID),
			)
		}
		s.notifier.Publish(orderID, ps)
	}

	return &order, nil
}
