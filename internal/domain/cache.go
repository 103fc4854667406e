package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest price samples. Samples are
// stored with a TTL; a missing or expired key surfaces as ErrNotFound.
type PriceCache interface {
	SetSample(ctx context.Context, sample PriceSample) error
	GetSample(ctx context.Context, mint string) (PriceSample, error)
	GetSamples(ctx context.Context, mints []string) (map[string]PriceSample, error)
	Delete(ctx context.Context, mint string) error
}

// MetadataCache caches resolved token metadata indefinitely, including the
// not-found sentinel so hopeless lookups are never repeated.
type MetadataCache interface {
	Set(ctx context.Context, meta TokenMetadata) error
	Get(ctx context.Context, mint string) (TokenMetadata, error)
}

// RateLimiter provides distributed rate limiting for upstream call paths.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locks with a TTL. Acquire returns an
// unlock function on success and ErrLockHeld when another party holds the
// lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out for "positions", "prices", "metadata",
// and "sells" events, plus durable streams for execution history.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
