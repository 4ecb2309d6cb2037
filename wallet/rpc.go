package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"xmr-payment-svc/circuitbreaker"
	"xmr-payment-svc/models"

	"go.uber.org/zap"
)

// atomicUnitsPerXMR converts wallet RPC amounts (piconero) to XMR.
const atomicUnitsPerXMR = 1e12

// RPCClient speaks JSON-RPC to monero-wallet-rpc. All calls run through a
// circuit breaker so a flapping wallet daemon trips open instead of being
// hammered every cycle.
type RPCClient struct {
	url      string
	username string
	password string
	primary  string
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewRPCClient(logger *zap.Logger) *RPCClient {
	return &RPCClient{
		url:      getEnv("MONERO_RPC_URL", "http://localhost:18082/json_rpc"),
		username: getEnv("MONERO_RPC_USERNAME", "monero"),
		password: getEnv("MONERO_RPC_PASSWORD", "password"),
		primary:  getEnv("MONERO_WALLET_ADDRESS", ""),
		client:   &http.Client{Timeout: 15 * time.Second},
		breaker:  circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		logger:   logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (w *RPCClient) call(ctx context.Context, method string, params any, result any) error {
	return w.breaker.Execute(ctx, func() error {
		payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "0", Method: method, Params: params})
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", method, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(w.username, w.password)

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("wallet RPC request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("wallet RPC returned status %d", resp.StatusCode)
		}

		var rpcResp rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
		if rpcResp.Error != nil {
			return fmt.Errorf("wallet RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
		}
		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	})
}

// CreateAddress asks the wallet for a subaddress labelled for this
// payment. If the wallet is unreachable it falls back to the configured
// primary address, so checkout keeps working while the daemon is down.
func (w *RPCClient) CreateAddress(ctx context.Context, label string) (string, error) {
	var result struct {
		Address string `json:"address"`
	}
	err := w.call(ctx, "create_address", map[string]any{
		"account_index": 0,
		"label":         label,
	}, &result)
	if err != nil {
		if w.primary != "" {
			w.logger.Warn("create_address failed, falling back to primary address",
				zap.String("label", label),
				zap.Error(err),
			)
			return w.primary, nil
		}
		return "", err
	}
	return result.Address, nil
}

type rpcTransfer struct {
	TxID          string  `json:"txid"`
	Amount        float64 `json:"amount"`
	Confirmations uint64  `json:"confirmations"`
	Timestamp     int64   `json:"timestamp"`
	Address       string  `json:"address"`
}

// CheckTransfers returns all recently observed incoming transfers, both
// confirmed and still in the tx pool. Entries the wallet reports in a
// shape we do not understand are skipped, never a crash.
func (w *RPCClient) CheckTransfers(ctx context.Context) ([]models.Transfer, error) {
	var result struct {
		In   []rpcTransfer `json:"in"`
		Pool []rpcTransfer `json:"pool"`
	}
	err := w.call(ctx, "get_transfers", map[string]any{
		"in":   true,
		"pool": true,
	}, &result)
	if err != nil {
		return nil, err
	}

	transfers := make([]models.Transfer, 0, len(result.In)+len(result.Pool))
	for _, t := range append(result.In, result.Pool...) {
		if t.TxID == "" || t.Address == "" {
			w.logger.Warn("skipping malformed transfer entry", zap.String("txid", t.TxID))
			continue
		}
		transfers = append(transfers, models.Transfer{
			TxHash:        t.TxID,
			Amount:        t.Amount / atomicUnitsPerXMR,
			Confirmations: t.Confirmations,
			Timestamp:     t.Timestamp,
			Address:       t.Address,
		})
	}
	return transfers, nil
}

// VerifyTransaction checks a client-submitted tx hash and tx key against
// the wallet via check_tx_key. The proof stands if the wallet saw funds
// arrive at the address for that transaction.
func (w *RPCClient) VerifyTransaction(ctx context.Context, txHash, txKey, address string) (bool, error) {
	var result struct {
		Received      uint64 `json:"received"`
		InPool        bool   `json:"in_pool"`
		Confirmations uint64 `json:"confirmations"`
	}
	err := w.call(ctx, "check_tx_key", map[string]any{
		"txid":    txHash,
		"tx_key":  txKey,
		"address": address,
	}, &result)
	if err != nil {
		return false, err
	}
	return result.Received > 0, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
