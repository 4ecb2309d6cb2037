// Package store holds the in-memory payment cache. It is the single
// source of truth for payment status within a running instance; the
// persisted order table is only a projection of it.
package store

import (
	"errors"
	"sync"
	"time"

	"xmr-payment-svc/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("payment not found")
	ErrOrderConflict = errors.New("payment already linked to a different order")
)

// Store is a mutex-guarded map of payment records. Every operation is a
// short critical section with no I/O; wallet and database calls happen
// strictly outside the lock. Records are returned by value so callers
// never hold a reference into the map.
type Store struct {
	mu       sync.Mutex
	payments map[string]*models.PaymentRecord
}

func New() *Store {
	return &Store{payments: make(map[string]*models.PaymentRecord)}
}

// Create inserts a new Pending payment. The destination address must be
// obtained from the wallet before calling; Create itself never blocks on
// I/O.
func (s *Store) Create(orderID string, amount float64, address string) models.PaymentRecord {
	now := time.Now().UTC()
	p := &models.PaymentRecord{
		PaymentID: uuid.NewString(),
		OrderID:   orderID,
		Amount:    amount,
		Address:   address,
		Status:    models.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.payments[p.PaymentID] = p
	s.mu.Unlock()

	return *p
}

func (s *Store) Get(paymentID string) (models.PaymentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return models.PaymentRecord{}, false
	}
	return *p, true
}

// GetByOrderID scans for the payment linked to orderID. If more than one
// record carries the same order id (a defect upstream), the most recently
// created one wins.
func (s *Store) GetByOrderID(orderID string) (models.PaymentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.PaymentRecord
	for _, p := range s.payments {
		if p.OrderID != orderID {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return models.PaymentRecord{}, false
	}
	return *best, true
}

// UpdateStatus sets the status and bumps UpdatedAt. Transition legality is
// the reconciler's responsibility, not the store's.
func (s *Store) UpdateStatus(paymentID string, status models.PaymentStatus) (models.PaymentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return models.PaymentRecord{}, false
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return *p, true
}

// LinkOrder sets the payment's order id. Linking to the already-linked
// order is a no-op success; linking to a different one is a conflict and
// is reported, never silently overwritten.
func (s *Store) LinkOrder(paymentID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return ErrNotFound
	}
	if p.OrderID == orderID {
		return nil
	}
	if p.OrderID != "" {
		return ErrOrderConflict
	}
	p.OrderID = orderID
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListPending() []models.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PaymentRecord
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusPending {
			out = append(out, *p)
		}
	}
	return out
}

func (s *Store) ListAll() []models.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.PaymentRecord, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, *p)
	}
	return out
}

// ExpireStale marks every Pending payment older than ttl as Expired and
// returns the records it touched. Non-Pending records are never modified;
// expired records are kept for audit, never deleted.
func (s *Store) ExpireStale(ttl time.Duration) []models.PaymentRecord {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []models.PaymentRecord
	for _, p := range s.payments {
		if p.Status != models.PaymentStatusPending {
			continue
		}
		if now.Sub(p.CreatedAt) > ttl {
			p.Status = models.PaymentStatusExpired
			p.UpdatedAt = now
			expired = append(expired, *p)
		}
	}
	return expired
}
