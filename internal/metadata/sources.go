package metadata

import (
	"context"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/platform/birdeye"
	"github.com/alanyoungcy/soltraderbot/internal/platform/dexscreener"
	"github.com/alanyoungcy/soltraderbot/internal/platform/jupiter"
)

// BirdeyeSource adapts the Birdeye REST client into a metadata Source.
type BirdeyeSource struct {
	client *birdeye.Client
}

// NewBirdeyeSource wraps a Birdeye client.
func NewBirdeyeSource(client *birdeye.Client) *BirdeyeSource {
	return &BirdeyeSource{client: client}
}

func (s *BirdeyeSource) Name() string { return "birdeye" }

func (s *BirdeyeSource) Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	return s.client.TokenOverview(ctx, mint)
}

// DexScreenerSource adapts the DexScreener REST client into a metadata Source.
type DexScreenerSource struct {
	client *dexscreener.Client
}

// NewDexScreenerSource wraps a DexScreener client.
func NewDexScreenerSource(client *dexscreener.Client) *DexScreenerSource {
	return &DexScreenerSource{client: client}
}

func (s *DexScreenerSource) Name() string { return "dexscreener" }

func (s *DexScreenerSource) Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	return s.client.TokenMetadata(ctx, mint)
}

// JupiterSource adapts the Jupiter token list into a metadata Source.
type JupiterSource struct {
	client *jupiter.Client
}

// NewJupiterSource wraps a Jupiter client.
func NewJupiterSource(client *jupiter.Client) *JupiterSource {
	return &JupiterSource{client: client}
}

func (s *JupiterSource) Name() string { return "jupiter" }

func (s *JupiterSource) Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	return s.client.TokenInfo(ctx, mint)
}

var (
	_ Source = (*BirdeyeSource)(nil)
	_ Source = (*DexScreenerSource)(nil)
	_ Source = (*JupiterSource)(nil)
)
