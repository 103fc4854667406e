// Package solana is a minimal JSON-RPC client for the Solana chain: balance
// reads, transaction submission, and confirmation polling.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// Client is a Solana JSON-RPC client.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// NewClient creates a client for the given RPC endpoint. The limiter is
// optional.
func NewClient(rpcURL string, limiter domain.RateLimiter) *Client {
	return &Client{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		limiter: limiter,
	}
}

const (
	rateKey    = "solana_rpc"
	rateLimit  = 100
	rateWindow = time.Minute
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, rateKey, rateLimit, rateWindow)
		if err == nil && !allowed {
			return domain.ErrRateLimited
		}
	}

	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("solana: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("solana: request %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("solana: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("solana: read %s: %w", method, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solana: %s: status %d: %s", method, resp.StatusCode, body)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("solana: decode %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("solana: %s: %w", method, rpcResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("solana: decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetBalance returns the lamport balance of a wallet.
func (c *Client) GetBalance(ctx context.Context, wallet string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []any{wallet}, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

type tokenAccountsResult struct {
	Value []struct {
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						TokenAmount struct {
							Amount   string `json:"amount"`
							Decimals int    `json:"decimals"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

// GetTokenBalance returns the wallet's balance of a mint in base units,
// summed over all its token accounts, plus the mint's decimals.
func (c *Client) GetTokenBalance(ctx context.Context, wallet, mint string) (uint64, int, error) {
	params := []any{
		wallet,
		map[string]any{"mint": mint},
		map[string]any{"encoding": "jsonParsed"},
	}
	var result tokenAccountsResult
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return 0, 0, err
	}

	var total uint64
	decimals := 0
	for _, v := range result.Value {
		amt := v.Account.Data.Parsed.Info.TokenAmount
		n, err := strconv.ParseUint(amt.Amount, 10, 64)
		if err != nil {
			continue
		}
		total += n
		decimals = amt.Decimals
	}
	return total, decimals, nil
}

// SendTransaction submits a signed base64 transaction and returns its
// signature. Preflight simulation is left on so obviously-failing
// transactions are rejected before they spend a slot.
func (c *Client) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	params := []any{
		signedTxBase64,
		map[string]any{"encoding": "base64", "maxRetries": 3},
	}
	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// SignatureStatus is the confirmation state of a submitted transaction.
type SignatureStatus struct {
	Confirmed bool
	Failed    bool
	Err       string
}

type signatureStatusesResult struct {
	Value []*struct {
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	} `json:"value"`
}

// GetSignatureStatus returns the confirmation state of one signature. An
// unknown signature yields a zero status, not an error.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	params := []any{
		[]string{signature},
		map[string]any{"searchTransactionHistory": true},
	}
	var result signatureStatusesResult
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return SignatureStatus{}, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return SignatureStatus{}, nil
	}

	entry := result.Value[0]
	status := SignatureStatus{
		Confirmed: entry.ConfirmationStatus == "confirmed" || entry.ConfirmationStatus == "finalized",
	}
	if len(entry.Err) > 0 && string(entry.Err) != "null" {
		status.Failed = true
		status.Err = string(entry.Err)
	}
	return status, nil
}

// WaitForConfirmation polls a signature until it confirms, fails, or the
// context expires.
func (c *Client) WaitForConfirmation(ctx context.Context, signature string, pollInterval time.Duration) (SignatureStatus, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetSignatureStatus(ctx, signature)
		if err == nil && (status.Confirmed || status.Failed) {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return SignatureStatus{}, fmt.Errorf("solana: confirm %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}
