// Package reconcile owns every payment status transition and the
// Payment↔Order linkage. The poller, the proof-submission endpoint and
// the admin overrides all route through here; nothing else writes
// payment status.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"xmr-payment-svc/middleware"
	"xmr-payment-svc/models"
	"xmr-payment-svc/orders"
	"xmr-payment-svc/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrAlreadyExpired  = errors.New("payment already expired")
	ErrInvalidStatus   = errors.New("invalid payment status")
)

// Notifier fans a status change out to live subscribers of an order.
type Notifier interface {
	Publish(orderID string, status models.PaymentStatus)
}

// EventSink receives payment lifecycle events (Kafka in production).
type EventSink interface {
	PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

// Service is the authoritative transition function. Within Confirm the
// payment-cache write happens before the order write, which happens
// before the notification publish.
type Service struct {
	store    *store.Store
	orders   *orders.Store
	notifier Notifier
	events   EventSink
	logger   *zap.Logger

	mu      sync.Mutex
	orphans map[string]time.Time
}

func NewService(st *store.Store, ord *orders.Store, notifier Notifier, events EventSink, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		orders:   ord,
		notifier: notifier,
		events:   events,
		logger:   logger,
		orphans:  make(map[string]time.Time),
	}
}

// Result is the state of a payment and its order after a transition.
type Result struct {
	Payment models.PaymentRecord `json:"payment"`
	Order   *models.OrderRecord  `json:"order,omitempty"`
}

// Confirm moves a Pending payment to Confirmed and projects the change
// onto the linked order. Idempotent for already-Confirmed/Completed
// payments; confirmation of an Expired payment is a conflict surfaced to
// the caller. A transient order-store failure never fails the call: the
// payment stays Confirmed and the next repair sweep heals the order side.
func (s *Service) Confirm(ctx context.Context, paymentID, txHash string) (Result, error) {
	ctx, span := otel.Tracer("xmr-payment-service").Start(ctx, "ConfirmPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", paymentID),
		attribute.String("tx.hash", txHash),
	)

	p, ok := s.store.Get(paymentID)
	if !ok {
		return Result{}, ErrPaymentNotFound
	}

	switch p.Status {
	case models.PaymentStatusConfirmed, models.PaymentStatusCompleted:
		s.logger.Info("payment already confirmed, skipping",
			zap.String("payment_id", paymentID),
			zap.String("status", string(p.Status)),
		)
		return Result{Payment: p}, nil
	case models.PaymentStatusExpired:
		return Result{Payment: p}, ErrAlreadyExpired
	}

	p, _ = s.store.UpdateStatus(paymentID, models.PaymentStatusConfirmed)
	middleware.RecordPaymentProcessed(string(models.PaymentStatusConfirmed))
	s.logger.Info("payment confirmed",
		zap.String("payment_id", paymentID),
		zap.String("tx_hash", txHash),
	)

	order, err := s.resolveOrder(ctx, p)
	if err != nil {
		// Orphan: confirmed payment with no resolvable order. Recorded for
		// the repair sweep; the confirmation itself stands.
		s.recordOrphan(paymentID)
		s.logger.Warn("confirmed payment has no resolvable order",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return Result{Payment: p}, nil
	}

	if err := s.projectOntoOrder(ctx, &p, order, models.PaymentStatusConfirmed); err != nil {
		s.logger.Error("failed to project confirmation onto order, repair sweep will heal",
			zap.String("payment_id", paymentID),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return Result{Payment: p}, nil
	}
	s.resolveOrphan(paymentID)

	s.notifier.Publish(order.ID, models.PaymentStatusConfirmed)
	s.emit(ctx, models.PaymentEvent{
		PaymentID: p.PaymentID,
		OrderID:   order.ID,
		Amount:    p.Amount,
		Status:    p.Status,
		EventType: "payment_confirmed",
		TxHash:    txHash,
	})

	return Result{Payment: p, Order: order}, nil
}

// resolveOrder finds the order for a payment: the payment's own link
// first, then a reverse lookup by payment id.
func (s *Service) resolveOrder(ctx context.Context, p models.PaymentRecord) (*models.OrderRecord, error) {
	if p.OrderID != "" {
		o, err := s.orders.Get(ctx, p.OrderID)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", p.OrderID, err)
		}
		return &o, nil
	}

	o, err := s.orders.GetByPaymentID(ctx, p.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("reverse lookup for payment %s: %w", p.PaymentID, err)
	}
	return &o, nil
}

// projectOntoOrder makes both sides of the link agree and writes the
// status onto the order row. The payment cache is updated before the
// order row.
func (s *Service) projectOntoOrder(ctx context.Context, p *models.PaymentRecord, order *models.OrderRecord, status models.PaymentStatus) error {
	if p.OrderID == "" {
		if err := s.store.LinkOrder(p.PaymentID, order.ID); err != nil {
			return fmt.Errorf("failed to link payment to order %s: %w", order.ID, err)
		}
		p.OrderID = order.ID
	}

	if order.PaymentID != p.PaymentID {
		if order.PaymentID != "" {
			// Conflicting linkage: most recent confirm wins, loudly.
			s.logger.Warn("order linked to a different payment, repairing",
				zap.String("order_id", order.ID),
				zap.String("old_payment_id", order.PaymentID),
				zap.String("new_payment_id", p.PaymentID),
			)
		}
		if err := s.orders.SetPaymentID(ctx, order.ID, p.PaymentID); err != nil {
			return err
		}
		order.PaymentID = p.PaymentID
	}

	if err := s.orders.SetStatus(ctx, order.ID, string(status)); err != nil {
		return err
	}
	order.Status = string(status)
	return nil
}

// ExpireStale transitions Pending payments older than ttl to Expired and
// notifies their subscribers. Routed through the service so expiry shows
// up in the event stream like every other transition.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) []models.PaymentRecord {
	expired := s.store.ExpireStale(ttl)
	for _, p := range expired {
		middleware.RecordPaymentProcessed(string(models.PaymentStatusExpired))
		s.logger.Info("payment expired",
			zap.String("payment_id", p.PaymentID),
			zap.String("order_id", p.OrderID),
			zap.Duration("ttl", ttl),
		)
		if p.OrderID != "" {
			s.notifier.Publish(p.OrderID, models.PaymentStatusExpired)
		}
		s.emit(ctx, models.PaymentEvent{
			PaymentID: p.PaymentID,
			OrderID:   p.OrderID,
			Amount:    p.Amount,
			Status:    p.Status,
			EventType: "payment_expired",
		})
	}
	return expired
}

func (s *Service) emit(ctx context.Context, event models.PaymentEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPaymentEvent(ctx, event); err != nil {
		s.logger.Error("failed to publish payment event",
			zap.String("payment_id", event.PaymentID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

func (s *Service) recordOrphan(paymentID string) {
	s.mu.Lock()
	s.orphans[paymentID] = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Service) resolveOrphan(paymentID string) {
	s.mu.Lock()
	delete(s.orphans, paymentID)
	s.mu.Unlock()
}

// OrphanCount reports how many confirmed payments are still waiting for
// an order to attach to.
func (s *Service) OrphanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orphans)
}
