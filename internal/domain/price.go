package domain

import "time"

// PriceSource identifies which feed produced a sample.
type PriceSource string

const (
	PriceSourceBirdeye     PriceSource = "birdeye"
	PriceSourceDexScreener PriceSource = "dexscreener"
	PriceSourceCoinGecko   PriceSource = "coingecko"
)

// PriceSample is one observed price for a mint with provenance. A sample is
// owned by the feed manager that produced it and is superseded by newer
// samples; consumers must treat samples older than the staleness window as
// missing.
type PriceSample struct {
	Mint      string      `json:"mint"`
	Price     float64     `json:"price"` // SOL per token unit
	Source    PriceSource `json:"source"`
	Timestamp time.Time   `json:"timestamp"`

	// Change vs. the immediately preceding sample for the same mint.
	Change    float64 `json:"change"`
	ChangePct float64 `json:"changePct"`

	// Optional auxiliary market fields, populated when the feed provides them.
	Volume24h    *float64 `json:"volume24h,omitempty"`
	LiquidityUSD *float64 `json:"liquidityUsd,omitempty"`
	HolderCount  *int     `json:"holderCount,omitempty"`
}

// Age returns how old the sample is at the given instant.
func (s PriceSample) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// TokenMetadata describes a mint resolved through the metadata waterfall.
type TokenMetadata struct {
	Mint     string `json:"mint"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Source   string `json:"source"`

	// NotFound marks the cached "looked everywhere, found nothing" sentinel
	// so the resolver never repeats a hopeless waterfall.
	NotFound bool `json:"notFound,omitempty"`
}
