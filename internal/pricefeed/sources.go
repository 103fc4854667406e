package pricefeed

import (
	"context"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/platform/birdeye"
	"github.com/alanyoungcy/soltraderbot/internal/platform/dexscreener"
)

// BirdeyeSource adapts the Birdeye REST client into a PollSource.
type BirdeyeSource struct {
	client *birdeye.Client
}

// NewBirdeyeSource wraps a Birdeye client.
func NewBirdeyeSource(client *birdeye.Client) *BirdeyeSource {
	return &BirdeyeSource{client: client}
}

func (s *BirdeyeSource) Name() string { return "birdeye" }

func (s *BirdeyeSource) Price(ctx context.Context, mint string) (domain.PriceSample, error) {
	return s.client.Price(ctx, mint)
}

// SolPrice implements the histprice live source using wrapped SOL.
func (s *BirdeyeSource) SolPrice(ctx context.Context) (float64, error) {
	sample, err := s.client.Price(ctx, domain.WrappedSOLMint)
	if err != nil {
		return 0, err
	}
	return sample.Price, nil
}

// SolPriceAt implements the histprice historical source.
func (s *BirdeyeSource) SolPriceAt(ctx context.Context, at time.Time) (float64, error) {
	return s.client.HistoricalPrice(ctx, domain.WrappedSOLMint, at)
}

// DexScreenerSource adapts the DexScreener REST client into a PollSource.
type DexScreenerSource struct {
	client *dexscreener.Client
}

// NewDexScreenerSource wraps a DexScreener client.
func NewDexScreenerSource(client *dexscreener.Client) *DexScreenerSource {
	return &DexScreenerSource{client: client}
}

func (s *DexScreenerSource) Name() string { return "dexscreener" }

func (s *DexScreenerSource) Price(ctx context.Context, mint string) (domain.PriceSample, error) {
	return s.client.Price(ctx, mint)
}

var (
	_ PollSource = (*BirdeyeSource)(nil)
	_ PollSource = (*DexScreenerSource)(nil)
)
