package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tonsentry/tonsentry/pkg/faults"
)

// GatewayClient implements Client against a wallet-gateway sidecar: the
// service that holds the signing keys, talks to the chain, and exposes
// the three operations the coordinator needs over plain REST. Signing
// and consensus never cross this boundary.
type GatewayClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewGatewayClient builds a client for the gateway at endpoint.
func NewGatewayClient(endpoint string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GatewayClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type gatewayTx struct {
	LT          uint64 `json:"lt"`
	Hash        string `json:"hash"`
	OutMessages []struct {
		Destination string `json:"destination"`
		Payload     []byte `json:"payload"`
	} `json:"out_messages"`
}

// RecentTransactions fetches the contract's latest transactions, most
// recent first, as the gateway orders them.
func (c *GatewayClient) RecentTransactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	u := fmt.Sprintf("%s/v1/contracts/%s/transactions?limit=%d", c.endpoint, url.PathEscape(address), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var raw []gatewayTx
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(raw))
	for _, t := range raw {
		tx := Transaction{LT: t.LT, Hash: t.Hash}
		for _, m := range t.OutMessages {
			tx.OutMessages = append(tx.OutMessages, Message{Destination: m.Destination, Payload: m.Payload})
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// SubmitPayment asks the gateway to sign and send the guarded-contract
// call from the given wallet.
func (c *GatewayClient) SubmitPayment(ctx context.Context, wallet Wallet, contractAddress string, amountNano int64, target string) error {
	body, err := json.Marshal(map[string]any{
		"contract":    contractAddress,
		"amount_nano": amountNano,
		"target":      target,
	})
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/v1/wallets/%s/submit", c.endpoint, url.PathEscape(wallet.Address))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if wallet.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+wallet.Secret)
	}

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("%w: %s", faults.ErrChainSubmissionFailed, err)
	}
	return nil
}

// RemainingAllowance reads the contract's currently unspent on-chain
// allowance for the active window.
func (c *GatewayClient) RemainingAllowance(ctx context.Context, contractAddress string) (int64, error) {
	u := fmt.Sprintf("%s/v1/contracts/%s/allowance", c.endpoint, url.PathEscape(contractAddress))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	var out struct {
		RemainingNano int64 `json:"remaining_nano"`
	}
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	return out.RemainingNano, nil
}

func (c *GatewayClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway response decode: %w", err)
	}
	return nil
}
