// Package poller drives payment confirmation in the background: one
// wallet sweep per cycle matched against all pending payments, followed
// by the stale-payment expiry pass.
package poller

import (
	"context"
	"math"
	"os"
	"time"

	"xmr-payment-svc/models"
	"xmr-payment-svc/reconcile"
	"xmr-payment-svc/store"
	"xmr-payment-svc/wallet"

	"go.uber.org/zap"
)

// amountTolerance is the absolute slack allowed when matching a transfer
// amount against a payment amount.
const amountTolerance = 1e-5

type Poller struct {
	store    *store.Store
	wallet   wallet.Client
	rec      *reconcile.Service
	logger   *zap.Logger
	interval time.Duration
	ttl      time.Duration
}

func New(st *store.Store, w wallet.Client, rec *reconcile.Service, logger *zap.Logger) *Poller {
	return &Poller{
		store:    st,
		wallet:   w,
		rec:      rec,
		logger:   logger,
		interval: getDurationEnv("PAYMENT_CHECK_INTERVAL", time.Minute),
		ttl:      getDurationEnv("PAYMENT_TTL", 2*time.Hour),
	}
}

// Run loops until ctx is cancelled. Cancellation is observed only between
// cycles, so a confirmation in progress always completes.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("payment poller started",
		zap.Duration("interval", p.interval),
		zap.Duration("ttl", p.ttl),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("payment poller stopped")
			return
		case <-ticker.C:
			p.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single cycle: one CheckTransfers call amortized across
// all pending payments, then the expiry sweep. Re-running against an
// unchanged transfer set is a no-op: confirmed payments leave the pending
// set, and Confirm tolerates repeats.
func (p *Poller) CheckOnce(ctx context.Context) {
	pending := p.store.ListPending()
	if len(pending) > 0 {
		p.logger.Info("checking pending payments", zap.Int("count", len(pending)))

		transfers, err := p.wallet.CheckTransfers(ctx)
		if err != nil {
			// Inconclusive, not a confirmed absence of funds. Next cycle retries.
			p.logger.Warn("wallet transfer check failed, retrying next cycle", zap.Error(err))
			transfers = nil
		}

		for _, payment := range pending {
			t, ok := matchTransfer(payment, transfers)
			if !ok {
				continue
			}
			if _, err := p.rec.Confirm(ctx, payment.PaymentID, t.TxHash); err != nil {
				p.logger.Error("failed to confirm matched payment",
					zap.String("payment_id", payment.PaymentID),
					zap.String("tx_hash", t.TxHash),
					zap.Error(err),
				)
			}
		}
	}

	p.rec.ExpireStale(ctx, p.ttl)
}

// ForceCheck runs an out-of-cycle wallet check for one payment. Returns
// whether the payment is confirmed afterwards.
func (p *Poller) ForceCheck(ctx context.Context, paymentID string) (bool, error) {
	payment, ok := p.store.Get(paymentID)
	if !ok {
		return false, reconcile.ErrPaymentNotFound
	}
	if payment.Status != models.PaymentStatusPending {
		return payment.Status == models.PaymentStatusConfirmed ||
			payment.Status == models.PaymentStatusCompleted, nil
	}

	transfers, err := p.wallet.CheckTransfers(ctx)
	if err != nil {
		p.logger.Warn("force check inconclusive, wallet unreachable",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return false, nil
	}

	t, ok := matchTransfer(payment, transfers)
	if !ok {
		return false, nil
	}
	if _, err := p.rec.Confirm(ctx, paymentID, t.TxHash); err != nil {
		return false, err
	}
	return true, nil
}

// matchTransfer finds a transfer to the payment's address whose amount is
// within tolerance. With a shared wallet address the amount is the only
// disambiguator, so equal-valued concurrent payments could collide.
func matchTransfer(p models.PaymentRecord, transfers []models.Transfer) (models.Transfer, bool) {
	for _, t := range transfers {
		if t.Address == p.Address && math.Abs(t.Amount-p.Amount) < amountTolerance {
			return t, true
		}
	}
	return models.Transfer{}, false
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
