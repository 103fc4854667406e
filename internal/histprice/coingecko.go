package histprice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// CoinGecko is a live SOL/USD source using the public simple-price endpoint.
type CoinGecko struct {
	baseURL    string
	httpClient *http.Client
}

// NewCoinGecko creates the client. baseURL is the API root, e.g.
// "https://api.coingecko.com/api/v3".
func NewCoinGecko(baseURL string) *CoinGecko {
	return &CoinGecko{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name identifies this source in logs.
func (c *CoinGecko) Name() string { return "coingecko" }

// SolPrice fetches the current SOL/USD price.
func (c *CoinGecko) SolPrice(ctx context.Context) (float64, error) {
	url := c.baseURL + "/simple/price?ids=solana&vs_currencies=usd"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("coingecko: request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("coingecko: sol price: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("coingecko: read: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		Solana struct {
			USD float64 `json:"usd"`
		} `json:"solana"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("coingecko: decode: %w", err)
	}
	if parsed.Solana.USD <= 0 {
		return 0, fmt.Errorf("coingecko: empty price: %w", domain.ErrNotFound)
	}
	return parsed.Solana.USD, nil
}

var _ LiveSource = (*CoinGecko)(nil)
