// Package jupiter is the REST client for the Jupiter swap aggregator: sell
// quotes and unsigned swap transaction builds.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// Client is the Jupiter REST client.
type Client struct {
	baseURL      string
	tokenListURL string
	httpClient   *http.Client
	limiter      domain.RateLimiter
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithTokenListURL overrides the token list endpoint. The token API lives on
// a separate host from the quote API.
func WithTokenListURL(u string) Option {
	return func(c *Client) { c.tokenListURL = u }
}

// NewClient creates a Jupiter client. baseURL is the API root, e.g.
// "https://quote-api.jup.ag/v6". The limiter is optional.
func NewClient(baseURL string, limiter domain.RateLimiter, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		tokenListURL: defaultTokenListURL,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		limiter: limiter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const (
	rateKey    = "jupiter"
	rateLimit  = 60
	rateWindow = time.Minute
)

// quoteResponse is the subset of the aggregator's quote we consume. The full
// body is retained verbatim in RoutePlan because the swap build endpoint
// wants it echoed back unchanged.
type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`
}

// Quote asks for the best route selling amount base units of inputMint into
// outputMint.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (domain.SwapQuote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))

	body, err := c.doGet(ctx, "/quote?"+params.Encode())
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: quote %s: %w", inputMint, classify(err))
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: decode quote %s: %w", inputMint, err)
	}
	if resp.OutAmount == "" {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: quote %s: no route", inputMint)
	}

	inAmt, _ := strconv.ParseUint(resp.InAmount, 10, 64)
	outAmt, err := strconv.ParseUint(resp.OutAmount, 10, 64)
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: parse outAmount %q: %w", resp.OutAmount, err)
	}
	impact, _ := strconv.ParseFloat(resp.PriceImpactPct, 64)

	return domain.SwapQuote{
		InputMint:   resp.InputMint,
		OutputMint:  resp.OutputMint,
		InAmount:    inAmt,
		OutAmount:   outAmt,
		PriceImpact: impact,
		SlippageBps: resp.SlippageBps,
		RoutePlan:   body,
	}, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error"`
}

// BuildSwap turns a quote into an unsigned base64 transaction for the given
// wallet.
func (c *Client) BuildSwap(ctx context.Context, quote domain.SwapQuote, userPublicKey string) (string, error) {
	reqBody := swapRequest{
		QuoteResponse:           quote.RoutePlan,
		UserPublicKey:           userPublicKey,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	}

	body, err := c.doPost(ctx, "/swap", reqBody)
	if err != nil {
		return "", fmt.Errorf("jupiter: build swap %s: %w", quote.InputMint, classify(err))
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("jupiter: decode swap %s: %w", quote.InputMint, err)
	}
	if resp.SwapTransaction == "" {
		return "", fmt.Errorf("jupiter: build swap %s: %s", quote.InputMint, resp.Error)
	}
	return resp.SwapTransaction, nil
}

// ClassifyError maps an aggregator or chain error message to a sell error
// class.
func ClassifyError(msg string) domain.SellErrorType {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "blockhash"):
		return domain.SellErrBlockhashExpired
	case strings.Contains(lower, "insufficient"):
		return domain.SellErrInsufficientFunds
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"),
		strings.Contains(lower, "too many requests"):
		return domain.SellErrRateLimit
	case strings.Contains(lower, "slippage"), strings.Contains(lower, "0x1771"):
		return domain.SellErrSlippageExceeded
	case strings.Contains(lower, "simulation"), strings.Contains(lower, "simulate"):
		return domain.SellErrSimulationFailed
	case strings.Contains(lower, "no route"), strings.Contains(lower, "route not found"):
		return domain.SellErrNoRouteFound
	default:
		return domain.SellErrUnknown
	}
}

// classify folds HTTP 429s into the shared rate limit sentinel.
func classify(err error) error {
	if strings.Contains(err.Error(), "429") {
		return domain.ErrRateLimited
	}
	return err
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.allow(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	if err := c.allow(ctx); err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) allow(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	allowed, err := c.limiter.Allow(ctx, rateKey, rateLimit, rateWindow)
	if err == nil && !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
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
