package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

type fakeSource struct {
	name  string
	meta  domain.TokenMetadata
	err   error
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	f.calls++
	if f.err != nil {
		return domain.TokenMetadata{}, f.err
	}
	m := f.meta
	m.Mint = mint
	return m, nil
}

type memMetaCache struct {
	mu sync.Mutex
	m  map[string]domain.TokenMetadata
}

func newMemMetaCache() *memMetaCache {
	return &memMetaCache{m: map[string]domain.TokenMetadata{}}
}

func (c *memMetaCache) Set(ctx context.Context, meta domain.TokenMetadata) error {
	c.mu.Lock()
	c.m[meta.Mint] = meta
	c.mu.Unlock()
	return nil
}

func (c *memMetaCache) Get(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, ok := c.m[mint]
	if !ok {
		return domain.TokenMetadata{}, domain.ErrNotFound
	}
	return meta, nil
}

func newResolver(cache domain.MetadataCache, sources ...Source) *Resolver {
	return NewResolver(sources, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolveWaterfallOrder(t *testing.T) {
	first := &fakeSource{name: "birdeye", err: domain.ErrNotFound}
	second := &fakeSource{name: "dexscreener", meta: domain.TokenMetadata{Name: "Pepe", Symbol: "PEPE"}}
	r := newResolver(newMemMetaCache(), first, second)

	meta, err := r.Resolve(context.Background(), "MintA")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Symbol != "PEPE" || meta.Source != "dexscreener" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if first.calls != 1 {
		t.Errorf("first source must be consulted before the fallback")
	}
	if meta.Decimals != defaultDecimals {
		t.Errorf("missing decimals must be defaulted, got %d", meta.Decimals)
	}
}

func TestResolveCachesResult(t *testing.T) {
	src := &fakeSource{name: "birdeye", meta: domain.TokenMetadata{Name: "Doge", Symbol: "DOGE", Decimals: 9}}
	r := newResolver(newMemMetaCache(), src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(ctx, "MintA"); err != nil {
			t.Fatal(err)
		}
	}
	if src.calls != 1 {
		t.Errorf("source must be hit exactly once, got %d", src.calls)
	}
}

func TestResolveCachesNotFoundSentinel(t *testing.T) {
	src := &fakeSource{name: "birdeye", err: domain.ErrNotFound}
	r := newResolver(newMemMetaCache(), src)
	ctx := context.Background()

	meta, err := r.Resolve(ctx, "MintUnknown12345")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Source != "default" || meta.Symbol != "MintUn" {
		t.Fatalf("expected default metadata, got %+v", meta)
	}

	// Second resolve must come from the cached sentinel.
	if _, err := r.Resolve(ctx, "MintUnknown12345"); err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 {
		t.Errorf("negative result must be cached, source hit %d times", src.calls)
	}
}

type captureBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newCaptureBus() *captureBus {
	return &captureBus{published: map[string][][]byte{}}
}

func (b *captureBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	b.published[channel] = append(b.published[channel], payload)
	b.mu.Unlock()
	return nil
}

func (b *captureBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (b *captureBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *captureBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestResolvePublishesOnFirstResolution(t *testing.T) {
	src := &fakeSource{name: "dexscreener", meta: domain.TokenMetadata{Name: "Bonk", Symbol: "BONK", Decimals: 5}}
	bus := newCaptureBus()
	r := NewResolver([]Source{src}, newMemMetaCache(),
		slog.New(slog.NewTextHandler(io.Discard, nil)), WithBus(bus))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(ctx, "MintA"); err != nil {
			t.Fatal(err)
		}
	}

	msgs := bus.published["metadata"]
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one metadata event, got %d", len(msgs))
	}
	var event struct {
		Event    string               `json:"event"`
		Metadata domain.TokenMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(msgs[0], &event); err != nil {
		t.Fatal(err)
	}
	if event.Event != "metadata_resolved" || event.Metadata.Symbol != "BONK" {
		t.Fatalf("unexpected event payload: %s", msgs[0])
	}
}

func TestResolveSourceErrorFallsThrough(t *testing.T) {
	broken := &fakeSource{name: "birdeye", err: errors.New("boom")}
	good := &fakeSource{name: "dexscreener", meta: domain.TokenMetadata{Name: "Wif", Symbol: "WIF"}}
	r := newResolver(newMemMetaCache(), broken, good)

	meta, err := r.Resolve(context.Background(), "MintA")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Symbol != "WIF" {
		t.Fatalf("hard source errors must fall through to the next source: %+v", meta)
	}
}
