// Package metadata resolves token names, symbols and decimals through a
// source waterfall, caching every outcome including "not found".
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// Source is one metadata provider in the waterfall.
type Source interface {
	Name() string
	Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error)
}

// defaultDecimals is assumed for mints no source can describe; launchpad
// tokens overwhelmingly use 6.
const defaultDecimals = 6

// Resolver walks the source waterfall for unknown mints.
type Resolver struct {
	sources []Source
	cache   domain.MetadataCache
	bus     domain.SignalBus
	logger  *slog.Logger
}

// Option configures optional Resolver behavior.
type Option func(*Resolver)

// WithBus publishes a metadata event the first time a mint resolves.
func WithBus(bus domain.SignalBus) Option {
	return func(r *Resolver) { r.bus = bus }
}

// NewResolver creates a Resolver. Sources are tried in order.
func NewResolver(sources []Source, cache domain.MetadataCache, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		sources: sources,
		cache:   cache,
		logger:  logger.With(slog.String("component", "metadata")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns metadata for a mint. The cache is consulted first,
// including the negative sentinel; on a full miss every source is tried once
// and the result (or the sentinel) cached so no mint is ever resolved twice.
// The returned metadata is always usable: hopeless mints get defaults.
func (r *Resolver) Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	if cached, err := r.cache.Get(ctx, mint); err == nil {
		if cached.NotFound {
			return defaultMetadata(mint), nil
		}
		return cached, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.TokenMetadata{}, fmt.Errorf("metadata: cache get %s: %w", mint, err)
	}

	for _, src := range r.sources {
		meta, err := src.Resolve(ctx, mint)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				r.logger.WarnContext(ctx, "source failed",
					slog.String("source", src.Name()),
					slog.String("mint", mint),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if meta.Symbol == "" {
			continue
		}
		if meta.Decimals == 0 {
			meta.Decimals = defaultDecimals
		}
		meta.Source = src.Name()
		r.cacheSet(ctx, meta)
		r.publish(ctx, meta)
		r.logger.InfoContext(ctx, "metadata resolved",
			slog.String("mint", mint),
			slog.String("symbol", meta.Symbol),
			slog.String("source", src.Name()),
		)
		return meta, nil
	}

	// Cache the miss so the waterfall never repeats for this mint.
	r.cacheSet(ctx, domain.TokenMetadata{Mint: mint, NotFound: true})
	return defaultMetadata(mint), nil
}

// publish announces a freshly resolved mint on the metadata channel. Cache
// hits never republish.
func (r *Resolver) publish(ctx context.Context, meta domain.TokenMetadata) {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":    "metadata_resolved",
		"metadata": meta,
	})
	if err := r.bus.Publish(ctx, "metadata", payload); err != nil {
		r.logger.WarnContext(ctx, "publish metadata event failed",
			slog.String("mint", meta.Mint),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Resolver) cacheSet(ctx context.Context, meta domain.TokenMetadata) {
	if err := r.cache.Set(ctx, meta); err != nil {
		r.logger.WarnContext(ctx, "cache set failed",
			slog.String("mint", meta.Mint),
			slog.String("error", err.Error()),
		)
	}
}

// defaultMetadata builds a display-safe placeholder for unresolvable mints.
func defaultMetadata(mint string) domain.TokenMetadata {
	symbol := mint
	if len(symbol) > 6 {
		symbol = symbol[:6]
	}
	return domain.TokenMetadata{
		Mint:     mint,
		Name:     "Unknown Token " + symbol,
		Symbol:   symbol,
		Decimals: defaultDecimals,
		Source:   "default",
	}
}
