package histprice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubLive struct {
	name  string
	price float64
	err   error
	calls int
}

func (s *stubLive) Name() string { return s.name }

func (s *stubLive) SolPrice(ctx context.Context) (float64, error) {
	s.calls++
	return s.price, s.err
}

type stubHistorical struct {
	price float64
	err   error
}

func (s *stubHistorical) SolPriceAt(ctx context.Context, at time.Time) (float64, error) {
	return s.price, s.err
}

func newService(live []LiveSource, hist HistoricalSource) *Service {
	return New(live, hist, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLiveChainFirstSourceWins(t *testing.T) {
	first := &stubLive{name: "birdeye", price: 180}
	second := &stubLive{name: "coingecko", price: 999}
	s := newService([]LiveSource{first, second}, nil)

	price, err := s.SolPriceUSD(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if price != 180 {
		t.Errorf("price = %v, want 180", price)
	}
	if second.calls != 0 {
		t.Error("fallback source must not be hit when the primary works")
	}
}

func TestLiveChainFallsThrough(t *testing.T) {
	first := &stubLive{name: "birdeye", err: errors.New("down")}
	second := &stubLive{name: "coingecko", price: 175}
	s := newService([]LiveSource{first, second}, nil)

	price, _ := s.SolPriceUSD(context.Background(), time.Now())
	if price != 175 {
		t.Errorf("price = %v, want 175", price)
	}
}

func TestAllSourcesFailUsesDefault(t *testing.T) {
	broken := &stubLive{name: "birdeye", err: errors.New("down")}
	s := newService([]LiveSource{broken}, nil)

	price, err := s.SolPriceUSD(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if price != fallbackPrice {
		t.Errorf("price = %v, want the fallback %v", price, fallbackPrice)
	}
}

func TestFallbackRateNotCached(t *testing.T) {
	flaky := &stubLive{name: "birdeye", err: errors.New("down")}
	s := newService([]LiveSource{flaky}, nil)
	ctx := context.Background()

	now := time.Now()
	price, _ := s.SolPriceUSD(ctx, now)
	if price != fallbackPrice {
		t.Fatalf("price = %v, want the fallback %v", price, fallbackPrice)
	}

	flaky.err = nil
	flaky.price = 182
	price, _ = s.SolPriceUSD(ctx, now.Add(time.Second))
	if price != 182 {
		t.Errorf("price after recovery = %v, want 182; the fallback must not pin the bucket", price)
	}
}

func TestHistoricalLookup(t *testing.T) {
	live := &stubLive{name: "birdeye", price: 200}
	hist := &stubHistorical{price: 120}
	s := newService([]LiveSource{live}, hist)

	past := time.Now().Add(-24 * time.Hour)
	price, _ := s.SolPriceUSD(context.Background(), past)
	if price != 120 {
		t.Errorf("price = %v, want historical 120", price)
	}
	if live.calls != 0 {
		t.Error("live sources must not be hit for past instants when history works")
	}
}

func TestBucketCaching(t *testing.T) {
	live := &stubLive{name: "birdeye", price: 190}
	s := newService([]LiveSource{live}, nil)
	ctx := context.Background()

	now := time.Now()
	s.SolPriceUSD(ctx, now)
	s.SolPriceUSD(ctx, now.Add(time.Second))
	if live.calls != 1 {
		t.Errorf("same bucket must be served from cache, source hit %d times", live.calls)
	}
}

func TestCoinGeckoClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"solana":{"usd":187.42}}`))
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL)
	price, err := cg.SolPrice(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if price != 187.42 {
		t.Errorf("price = %v, want 187.42", price)
	}
}
