// Package histprice supplies the SOL/USD rate, live or at a past instant,
// for fiat enrichment of ledger records. Lookups degrade along a chain:
// cached bucket, live source, historical source, hardcoded default.
package histprice

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LiveSource returns the current SOL/USD price.
type LiveSource interface {
	Name() string
	SolPrice(ctx context.Context) (float64, error)
}

// HistoricalSource returns the SOL/USD price at a past instant.
type HistoricalSource interface {
	SolPriceAt(ctx context.Context, at time.Time) (float64, error)
}

const (
	// liveWindow treats lookups this close to now as "current".
	liveWindow = 10 * time.Minute

	// bucketSize is the cache granularity; SOL/USD moves slowly enough that
	// hourly resolution is fine for bookkeeping.
	bucketSize = time.Hour

	// fallbackPrice is the last-resort rate when every source fails. Wrong
	// fiat numbers beat missing ones for display; SOL figures stay exact.
	fallbackPrice = 150.0
)

// Service implements the ledger's SolPriceSource.
type Service struct {
	live       []LiveSource
	historical HistoricalSource
	logger     *slog.Logger

	mu      sync.Mutex
	buckets map[int64]float64
}

// New creates the service. Live sources are tried in order; historical may
// be nil, in which case past lookups fall straight to the default.
func New(live []LiveSource, historical HistoricalSource, logger *slog.Logger) *Service {
	return &Service{
		live:       live,
		historical: historical,
		logger:     logger.With(slog.String("component", "histprice")),
		buckets:    make(map[int64]float64),
	}
}

// SolPriceUSD returns the SOL/USD rate at the given instant. It never fails;
// the chain bottoms out at a hardcoded default. Only rates a source actually
// supplied enter the hour-bucket cache, so a fallback answer is retried on
// the next lookup instead of pinning the bucket.
func (s *Service) SolPriceUSD(ctx context.Context, at time.Time) (float64, error) {
	bucket := at.Truncate(bucketSize).Unix()

	s.mu.Lock()
	if price, ok := s.buckets[bucket]; ok {
		s.mu.Unlock()
		return price, nil
	}
	s.mu.Unlock()

	var (
		price float64
		ok    bool
	)
	if time.Since(at) < liveWindow {
		price, ok = s.livePrice(ctx)
	} else {
		price, ok = s.historicalPrice(ctx, at)
	}
	if !ok {
		s.logger.WarnContext(ctx, "all sol price sources failed, using fallback",
			slog.Float64("fallback", fallbackPrice),
		)
		return fallbackPrice, nil
	}

	s.mu.Lock()
	s.buckets[bucket] = price
	s.mu.Unlock()
	return price, nil
}

func (s *Service) livePrice(ctx context.Context) (float64, bool) {
	for _, src := range s.live {
		price, err := src.SolPrice(ctx)
		if err == nil && price > 0 {
			return price, true
		}
		if err != nil {
			s.logger.WarnContext(ctx, "live sol price failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	return 0, false
}

func (s *Service) historicalPrice(ctx context.Context, at time.Time) (float64, bool) {
	if s.historical != nil {
		price, err := s.historical.SolPriceAt(ctx, at)
		if err == nil && price > 0 {
			return price, true
		}
		if err != nil {
			s.logger.WarnContext(ctx, "historical sol price failed",
				slog.Time("at", at),
				slog.String("error", err.Error()),
			)
		}
	}
	// A current price is a better guess than a constant.
	return s.livePrice(ctx)
}
