package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// sampleTTL bounds how long a price sample is served after its source went
// quiet. Staleness decisions belong to the feed manager; the TTL is only a
// hard floor under it.
const sampleTTL = 5 * time.Minute

// PriceCache implements domain.PriceCache. Each mint's latest sample is a
// JSON value at "price:{mint}" with a TTL.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(mint string) string {
	return key("price", mint)
}

// SetSample stores the latest sample for a mint, replacing any previous one.
func (pc *PriceCache) SetSample(ctx context.Context, sample domain.PriceSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("redis: marshal sample %s: %w", sample.Mint, err)
	}
	if err := pc.rdb.Set(ctx, priceKey(sample.Mint), data, sampleTTL).Err(); err != nil {
		return fmt.Errorf("redis: set sample %s: %w", sample.Mint, err)
	}
	return nil
}

// GetSample retrieves the latest sample for a mint. It returns
// domain.ErrNotFound when the key is missing or expired.
func (pc *PriceCache) GetSample(ctx context.Context, mint string) (domain.PriceSample, error) {
	data, err := pc.rdb.Get(ctx, priceKey(mint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: get sample %s: %w", mint, err)
	}

	var sample domain.PriceSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: decode sample %s: %w", mint, err)
	}
	return sample, nil
}

// GetSamples retrieves samples for multiple mints using a pipeline. Mints
// without a cached sample are omitted from the result map.
func (pc *PriceCache) GetSamples(ctx context.Context, mints []string) (map[string]domain.PriceSample, error) {
	if len(mints) == 0 {
		return map[string]domain.PriceSample{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(mints))
	for _, mint := range mints {
		cmds[mint] = pipe.Get(ctx, priceKey(mint))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get samples pipeline: %w", err)
	}

	result := make(map[string]domain.PriceSample, len(mints))
	for mint, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var sample domain.PriceSample
		if err := json.Unmarshal(data, &sample); err != nil {
			continue
		}
		result[mint] = sample
	}
	return result, nil
}

// Delete removes the cached sample for a mint, used when its position closes.
func (pc *PriceCache) Delete(ctx context.Context, mint string) error {
	if err := pc.rdb.Del(ctx, priceKey(mint)).Err(); err != nil {
		return fmt.Errorf("redis: delete sample %s: %w", mint, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
