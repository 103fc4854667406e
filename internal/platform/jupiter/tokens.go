package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

const defaultTokenListURL = "https://tokens.jup.ag/token"

type tokenResponse struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// TokenInfo looks up a mint on the Jupiter token list. Mints the list does
// not carry return domain.ErrNotFound.
func (c *Client) TokenInfo(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	if err := c.allow(ctx); err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("jupiter: token info %s: %w", mint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tokenListURL+"/"+mint, nil)
	if err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("jupiter: token info %s: %w", mint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("jupiter: token info %s: %w", mint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("jupiter: token info %s: %w", mint, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.TokenMetadata{}, fmt.Errorf("jupiter: token info %s: %w", mint, domain.ErrNotFound)
	case http.StatusTooManyRequests:
		return domain.TokenMetadata{}, fmt.Errorf("jupiter: token info %s: %w", mint, domain.ErrRateLimited)
	default:
		return domain.TokenMetadata{}, fmt.Errorf("jupiter: token info %s: status %d: %s", mint, resp.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("jupiter: decode token info %s: %w", mint, err)
	}
	if tok.Symbol == "" {
		return domain.TokenMetadata{}, fmt.Errorf("jupiter: token info %s: %w", mint, domain.ErrNotFound)
	}

	return domain.TokenMetadata{
		Mint:     mint,
		Name:     tok.Name,
		Symbol:   tok.Symbol,
		Decimals: tok.Decimals,
	}, nil
}
