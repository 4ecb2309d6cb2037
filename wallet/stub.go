package wallet

import (
	"context"
	"fmt"
	"sync"

	"xmr-payment-svc/models"
)

// Stub is a deterministic in-memory wallet used by tests. Transfers are
// injected explicitly; nothing is ever confirmed by chance.
type Stub struct {
	mu        sync.Mutex
	transfers []models.Transfer
	verified  map[string]bool
	addrSeq   int
	err       error
}

func NewStub() *Stub {
	return &Stub{verified: make(map[string]bool)}
}

// AddTransfer makes t visible to subsequent CheckTransfers calls.
func (s *Stub) AddTransfer(t models.Transfer) {
	s.mu.Lock()
	s.transfers = append(s.transfers, t)
	s.mu.Unlock()
}

// SetVerified marks txHash as provable via VerifyTransaction.
func (s *Stub) SetVerified(txHash string, ok bool) {
	s.mu.Lock()
	s.verified[txHash] = ok
	s.mu.Unlock()
}

// Fail makes every call return err until reset with Fail(nil).
func (s *Stub) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Stub) CreateAddress(_ context.Context, label string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.addrSeq++
	return fmt.Sprintf("stub-address-%d-%s", s.addrSeq, label), nil
}

func (s *Stub) CheckTransfers(_ context.Context) ([]models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.Transfer, len(s.transfers))
	copy(out, s.transfers)
	return out, nil
}

func (s *Stub) VerifyTransaction(_ context.Context, txHash, _, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.verified[txHash], nil
}
