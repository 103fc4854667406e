package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// MetadataCache implements domain.MetadataCache. Entries never expire; token
// metadata is immutable and the not-found sentinel is cached so hopeless
// mints are resolved exactly once.
type MetadataCache struct {
	rdb *redis.Client
}

// NewMetadataCache creates a MetadataCache backed by the given Client.
func NewMetadataCache(c *Client) *MetadataCache {
	return &MetadataCache{rdb: c.Underlying()}
}

func metadataKey(mint string) string {
	return key("meta", mint)
}

// Set stores resolved metadata for a mint.
func (mc *MetadataCache) Set(ctx context.Context, meta domain.TokenMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("redis: marshal metadata %s: %w", meta.Mint, err)
	}
	if err := mc.rdb.Set(ctx, metadataKey(meta.Mint), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set metadata %s: %w", meta.Mint, err)
	}
	return nil
}

// Get retrieves cached metadata for a mint, returning domain.ErrNotFound
// when the mint has never been resolved.
func (mc *MetadataCache) Get(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	data, err := mc.rdb.Get(ctx, metadataKey(mint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TokenMetadata{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("redis: get metadata %s: %w", mint, err)
	}

	var meta domain.TokenMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("redis: decode metadata %s: %w", mint, err)
	}
	return meta, nil
}

// Compile-time interface check.
var _ domain.MetadataCache = (*MetadataCache)(nil)
