// Package birdeye is the REST and WebSocket client for the Birdeye market
// data API, the primary price and metadata source for tracked tokens.
package birdeye

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// Client is the Birdeye REST client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// NewClient creates a Birdeye client.
//
// baseURL is the API root, e.g. "https://public-api.birdeye.so". The limiter
// is optional; when set, requests beyond the configured budget return
// domain.ErrRateLimited instead of hitting the upstream.
func NewClient(baseURL, apiKey string, limiter domain.RateLimiter) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: limiter,
	}
}

// rate budget for the free tier, shared across all endpoints.
const (
	rateKey    = "birdeye"
	rateLimit  = 50
	rateWindow = time.Minute
)

type priceResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Value          float64 `json:"value"`
		UpdateUnixTime int64   `json:"updateUnixTime"`
		PriceChange24h float64 `json:"priceChange24h"`
		Liquidity      float64 `json:"liquidity"`
	} `json:"data"`
}

// Price fetches the current price of a mint in USD.
func (c *Client) Price(ctx context.Context, mint string) (domain.PriceSample, error) {
	params := url.Values{}
	params.Set("address", mint)

	body, err := c.doGet(ctx, "/defi/price?"+params.Encode())
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("birdeye: price %s: %w", mint, err)
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PriceSample{}, fmt.Errorf("birdeye: decode price %s: %w", mint, err)
	}
	if !resp.Success {
		return domain.PriceSample{}, fmt.Errorf("birdeye: price %s: %w", mint, domain.ErrNotFound)
	}

	sample := domain.PriceSample{
		Mint:      mint,
		Price:     resp.Data.Value,
		Source:    domain.PriceSourceBirdeye,
		Timestamp: time.Unix(resp.Data.UpdateUnixTime, 0).UTC(),
		ChangePct: resp.Data.PriceChange24h,
	}
	if resp.Data.Liquidity > 0 {
		liq := resp.Data.Liquidity
		sample.LiquidityUSD = &liq
	}
	return sample, nil
}

type overviewResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Name      string  `json:"name"`
		Symbol    string  `json:"symbol"`
		Decimals  int     `json:"decimals"`
		Holder    int     `json:"holder"`
		Liquidity float64 `json:"liquidity"`
		V24hUSD   float64 `json:"v24hUSD"`
	} `json:"data"`
}

// TokenOverview fetches metadata and market stats for a mint. A missing
// token returns domain.ErrNotFound so the metadata resolver can cache the
// negative result.
func (c *Client) TokenOverview(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	params := url.Values{}
	params.Set("address", mint)

	body, err := c.doGet(ctx, "/defi/token_overview?"+params.Encode())
	if err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("birdeye: token overview %s: %w", mint, err)
	}

	var resp overviewResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("birdeye: decode overview %s: %w", mint, err)
	}
	if !resp.Success || resp.Data.Symbol == "" {
		return domain.TokenMetadata{}, fmt.Errorf("birdeye: overview %s: %w", mint, domain.ErrNotFound)
	}

	return domain.TokenMetadata{
		Mint:     mint,
		Name:     resp.Data.Name,
		Symbol:   resp.Data.Symbol,
		Decimals: resp.Data.Decimals,
		Source:   "birdeye",
	}, nil
}

type historyResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Items []struct {
			UnixTime int64   `json:"unixTime"`
			Value    float64 `json:"value"`
		} `json:"items"`
	} `json:"data"`
}

// HistoricalPrice returns the price of a mint at (or nearest before) the
// given time, used for SOL/USD backfill on late-processed trades.
func (c *Client) HistoricalPrice(ctx context.Context, mint string, at time.Time) (float64, error) {
	params := url.Values{}
	params.Set("address", mint)
	params.Set("address_type", "token")
	params.Set("type", "1m")
	params.Set("time_from", strconv.FormatInt(at.Add(-10*time.Minute).Unix(), 10))
	params.Set("time_to", strconv.FormatInt(at.Unix(), 10))

	body, err := c.doGet(ctx, "/defi/history_price?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("birdeye: history %s: %w", mint, err)
	}

	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("birdeye: decode history %s: %w", mint, err)
	}
	if !resp.Success || len(resp.Data.Items) == 0 {
		return 0, fmt.Errorf("birdeye: history %s: %w", mint, domain.ErrNotFound)
	}

	// Newest item at or before the requested time.
	best := resp.Data.Items[0]
	for _, item := range resp.Data.Items[1:] {
		if item.UnixTime > best.UnixTime && item.UnixTime <= at.Unix() {
			best = item
		}
	}
	return best.Value, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, rateKey, rateLimit, rateWindow)
		if err == nil && !allowed {
			return nil, domain.ErrRateLimited
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("x-chain", "solana")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
