package reconcile

import (
	"context"
	"errors"

	"xmr-payment-svc/models"
	"xmr-payment-svc/orders"
	"xmr-payment-svc/store"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// RepairReport summarizes one repair sweep. A sweep over a consistent
// system reports zero repairs.
type RepairReport struct {
	PaymentsChecked  int `json:"payments_checked"`
	OrdersChecked    int `json:"orders_checked"`
	RepairedLinks    int `json:"repaired_links"`
	RepairedStatuses int `json:"repaired_statuses"`
	Orphans          int `json:"orphans"`
}

func (r RepairReport) clean() bool {
	return r.RepairedLinks == 0 && r.RepairedStatuses == 0
}

// RepairAll walks both sides of the Payment↔Order linkage and makes them
// agree. Safe to run repeatedly: a second sweep over an unchanged system
// performs no writes.
func (s *Service) RepairAll(ctx context.Context) (RepairReport, error) {
	ctx, span := otel.Tracer("xmr-payment-service").Start(ctx, "RepairAll")
	defer span.End()

	var report RepairReport

	// Payment side: every Confirmed/Completed payment must have an order
	// that points back at it and carries its status.
	for _, p := range s.store.ListAll() {
		if p.Status != models.PaymentStatusConfirmed && p.Status != models.PaymentStatusCompleted {
			continue
		}
		report.PaymentsChecked++

		order, err := s.resolveOrder(ctx, p)
		if err != nil {
			s.recordOrphan(p.PaymentID)
			s.logger.Warn("repair: payment has no resolvable order",
				zap.String("payment_id", p.PaymentID),
				zap.Error(err),
			)
			continue
		}

		linked := order.PaymentID == p.PaymentID && p.OrderID == order.ID
		statusMatch := order.Status == string(p.Status)
		if linked && statusMatch {
			s.resolveOrphan(p.PaymentID)
			continue
		}

		if err := s.projectOntoOrder(ctx, &p, order, p.Status); err != nil {
			s.logger.Error("repair: failed to project payment onto order",
				zap.String("payment_id", p.PaymentID),
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
			continue
		}
		s.resolveOrphan(p.PaymentID)
		if !linked {
			report.RepairedLinks++
		}
		if !statusMatch {
			report.RepairedStatuses++
			s.notifier.Publish(order.ID, p.Status)
		}
		s.logger.Info("repair: payment/order realigned",
			zap.String("payment_id", p.PaymentID),
			zap.String("order_id", order.ID),
			zap.String("status", string(p.Status)),
		)
	}

	// Order side: every order that names a payment must have that payment
	// pointing back. Payments are never fabricated; an order naming an
	// unknown payment is reported, not patched.
	linked, err := s.orders.ListLinked(ctx)
	if err != nil {
		return report, err
	}
	for _, o := range linked {
		report.OrdersChecked++

		p, ok := s.store.Get(o.PaymentID)
		if !ok {
			s.logger.Warn("repair: order references unknown payment",
				zap.String("order_id", o.ID),
				zap.String("payment_id", o.PaymentID),
			)
			continue
		}
		if p.OrderID == o.ID {
			continue
		}

		if err := s.store.LinkOrder(p.PaymentID, o.ID); err != nil {
			if errors.Is(err, store.ErrOrderConflict) {
				s.logger.Warn("repair: payment linked elsewhere, leaving order side for next confirm",
					zap.String("order_id", o.ID),
					zap.String("payment_id", p.PaymentID),
					zap.String("payment_order_id", p.OrderID),
				)
			}
			continue
		}
		report.RepairedLinks++
		s.logger.Info("repair: restored payment-side link",
			zap.String("payment_id", p.PaymentID),
			zap.String("order_id", o.ID),
		)
	}

	report.Orphans = s.OrphanCount()
	if report.clean() {
		s.logger.Info("repair sweep found system consistent")
	}
	return report, nil
}

// DumpEntry pairs a raw cache record with whatever the order table
// currently says, for the diagnostic endpoint.
type DumpEntry struct {
	Payment    models.PaymentRecord `json:"payment"`
	Order      *models.OrderRecord  `json:"order,omitempty"`
	Consistent bool                 `json:"consistent"`
}

// Dump reports every payment in the cache alongside its order row so
// divergence between the two stores is visible without guesswork.
func (s *Service) Dump(ctx context.Context) []DumpEntry {
	all := s.store.ListAll()
	entries := make([]DumpEntry, 0, len(all))
	for _, p := range all {
		entry := DumpEntry{Payment: p}
		if order, err := s.resolveOrder(ctx, p); err == nil {
			entry.Order = order
			entry.Consistent = order.PaymentID == p.PaymentID &&
				p.OrderID == order.ID &&
				order.Status == string(p.Status)
		} else if !errors.Is(err, orders.ErrNotFound) {
			s.logger.Error("dump: order lookup failed",
				zap.String("payment_id", p.PaymentID),
				zap.Error(err),
			)
		}
		entries = append(entries, entry)
	}
	return entries
}
