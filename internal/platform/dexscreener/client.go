// Package dexscreener is the REST client for the DexScreener pairs API, the
// secondary price source and the metadata fallback.
package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// Client is the DexScreener REST client. The API needs no key.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a DexScreener client. baseURL is the API root, e.g.
// "https://api.dexscreener.com".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type pairsResponse struct {
	Pairs []pair `json:"pairs"`
}

type pair struct {
	ChainID   string `json:"chainId"`
	DexID     string `json:"dexId"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD    string  `json:"priceUsd"`
	PriceNative string  `json:"priceNative"`
	Volume      struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// Price fetches the current price for a mint, taken from the deepest Solana
// pair the screener knows about. Returns domain.ErrNotFound for unlisted
// mints.
func (c *Client) Price(ctx context.Context, mint string) (domain.PriceSample, error) {
	best, err := c.bestPair(ctx, mint)
	if err != nil {
		return domain.PriceSample{}, err
	}

	price, err := strconv.ParseFloat(best.PriceUSD, 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("dexscreener: parse price %s: %w", mint, err)
	}

	sample := domain.PriceSample{
		Mint:      mint,
		Price:     price,
		Source:    domain.PriceSourceDexScreener,
		Timestamp: time.Now().UTC(), // the API does not timestamp quotes
		ChangePct: best.PriceChange.H24,
	}
	if best.Volume.H24 > 0 {
		v := best.Volume.H24
		sample.Volume24h = &v
	}
	if best.Liquidity.USD > 0 {
		liq := best.Liquidity.USD
		sample.LiquidityUSD = &liq
	}
	return sample, nil
}

// TokenMetadata resolves name and symbol from the best pair. Decimals are
// not exposed by this API and are left zero for the caller to default.
func (c *Client) TokenMetadata(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	best, err := c.bestPair(ctx, mint)
	if err != nil {
		return domain.TokenMetadata{}, err
	}
	return domain.TokenMetadata{
		Mint:   mint,
		Name:   best.BaseToken.Name,
		Symbol: best.BaseToken.Symbol,
		Source: "dexscreener",
	}, nil
}

// bestPair returns the Solana pair with the deepest liquidity for the mint.
func (c *Client) bestPair(ctx context.Context, mint string) (pair, error) {
	body, err := c.doGet(ctx, "/latest/dex/tokens/"+mint)
	if err != nil {
		return pair{}, fmt.Errorf("dexscreener: pairs %s: %w", mint, err)
	}

	var resp pairsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return pair{}, fmt.Errorf("dexscreener: decode pairs %s: %w", mint, err)
	}

	var best *pair
	for i := range resp.Pairs {
		p := &resp.Pairs[i]
		if p.ChainID != "solana" || p.BaseToken.Address != mint {
			continue
		}
		if best == nil || p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	if best == nil {
		return pair{}, fmt.Errorf("dexscreener: pairs %s: %w", mint, domain.ErrNotFound)
	}
	return *best, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
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
