// Package wallet talks to the external Monero wallet service. The Client
// interface is the only thing the rest of the service sees; RPCClient is
// the real network-backed implementation and Stub is the deterministic
// test double.
package wallet

import (
	"context"

	"xmr-payment-svc/models"
)

// USDPerXMR is a fixed conversion rate. Live rate fetching is deliberately
// out of scope.
const USDPerXMR = 150.0

// USDToXMR converts a USD amount into XMR at the fixed rate.
func USDToXMR(usd float64) float64 {
	return usd / USDPerXMR
}

// Client is the wallet boundary.
//
// CreateAddress may hand back a shared address rather than a unique one;
// callers must not assume uniqueness. CheckTransfers reports all recently
// observed incoming transfers, confirmed and in-pool, in one call;
// transient failures surface as an error which callers treat as
// "inconclusive, retry next cycle", never as a confirmed absence of funds.
// VerifyTransaction is the proof-based path used when a client submits
// a tx hash and tx key directly.
type Client interface {
	CreateAddress(ctx context.Context, label string) (string, error)
	CheckTransfers(ctx context.Context) ([]models.Transfer, error)
	VerifyTransaction(ctx context.Context, txHash, txKey, address string) (bool, error)
}
