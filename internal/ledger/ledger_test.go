package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

type memStore struct {
	mu    sync.Mutex
	saved map[string]domain.Position
	saves int
}

func (s *memStore) LoadAll(ctx context.Context) (map[string]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Position, len(s.saved))
	for k, v := range s.saved {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) SaveAll(ctx context.Context, positions map[string]domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = make(map[string]domain.Position, len(positions))
	for k, v := range positions {
		s.saved[k] = v
	}
	s.saves++
	return nil
}

type memBus struct {
	mu     sync.Mutex
	events []string
}

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	var evt struct {
		Event string `json:"event"`
	}
	json.Unmarshal(payload, &evt)
	b.mu.Lock()
	b.events = append(b.events, evt.Event)
	b.mu.Unlock()
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}
func (b *memBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }
func (b *memBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fixedSolPrice struct {
	price float64
	err   error
}

func (f fixedSolPrice) SolPriceUSD(ctx context.Context, at time.Time) (float64, error) {
	return f.price, f.err
}

func testLedger(t *testing.T, opts ...Option) (*Ledger, *memStore, *memBus) {
	t.Helper()
	store := &memStore{saved: map[string]domain.Position{}}
	bus := &memBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(store, bus, logger, opts...)
	if err := l.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return l, store, bus
}

func buyAnalysis(mint string, amount, solSpent float64, sig string) domain.TradeAnalysis {
	return domain.TradeAnalysis{
		Signature:    sig,
		Timestamp:    time.Now().UTC(),
		IsOwnWallet:  true,
		IsTrade:      true,
		Platform:     "PumpFun",
		TokensBought: []domain.TokenFlow{{Mint: mint, Amount: amount}},
		SolSpent:     solSpent,
		Type:         domain.TradeTypeBuy,
	}
}

func sellAnalysis(mint string, amount, proceeds float64, sig string) domain.TradeAnalysis {
	return domain.TradeAnalysis{
		Signature:   sig,
		Timestamp:   time.Now().UTC(),
		IsOwnWallet: true,
		IsTrade:     true,
		TokensSold:  []domain.TokenFlow{{Mint: mint, Amount: amount}},
		SolReceived: proceeds,
		Type:        domain.TradeTypeSell,
	}
}

func TestOpenIncreaseAverageCost(t *testing.T) {
	l, store, bus := testLedger(t)
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.01, "s1")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.03, "s2")); err != nil {
		t.Fatal(err)
	}

	pos, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if pos.TotalAmount != 2000 {
		t.Errorf("totalAmount = %v, want 2000", pos.TotalAmount)
	}
	if math.Abs(pos.TotalInvested-0.04) > 1e-12 {
		t.Errorf("totalInvested = %v, want 0.04", pos.TotalInvested)
	}
	if math.Abs(pos.AverageCost-0.00002) > 1e-12 {
		t.Errorf("averageCost = %v, want 0.00002", pos.AverageCost)
	}
	if len(pos.Transactions) != 2 {
		t.Errorf("expected 2 transaction records, got %d", len(pos.Transactions))
	}
	if store.saves != 2 {
		t.Errorf("expected 2 persisted saves, got %d", store.saves)
	}
	if len(bus.events) != 2 || bus.events[0] != "position_opened" || bus.events[1] != "position_increased" {
		t.Errorf("unexpected events: %v", bus.events)
	}
}

func TestPartialSellReducesCostBasisProportionally(t *testing.T) {
	l, _, bus := testLedger(t)
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.04, "s1")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(ctx, sellAnalysis("MintA", 250, 0.02, "s2")); err != nil {
		t.Fatal(err)
	}

	pos, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if pos.TotalAmount != 750 {
		t.Errorf("totalAmount = %v, want 750", pos.TotalAmount)
	}
	if math.Abs(pos.TotalInvested-0.03) > 1e-12 {
		t.Errorf("totalInvested = %v, want 0.03", pos.TotalInvested)
	}
	// Average cost is unchanged by a proportional reduction.
	if math.Abs(pos.AverageCost-0.00004) > 1e-15 {
		t.Errorf("averageCost = %v, want 0.00004", pos.AverageCost)
	}
	if !pos.IsOpen() {
		t.Error("position must remain open after a partial sell")
	}
	if bus.events[len(bus.events)-1] != "position_reduced" {
		t.Errorf("expected position_reduced, got %v", bus.events)
	}
}

func TestFullSellClosesWithPnL(t *testing.T) {
	l, _, bus := testLedger(t)
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.04, "s1")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(ctx, sellAnalysis("MintA", 1000, 0.10, "s2")); err != nil {
		t.Fatal(err)
	}

	pos, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if pos.IsOpen() {
		t.Fatal("position must be closed after selling the full balance")
	}
	if pos.TotalAmount != 0 || pos.TotalInvested != 0 {
		t.Errorf("closed position must zero amounts: %+v", pos)
	}
	if pos.ClosedAt == nil {
		t.Error("closedAt not set")
	}
	if pos.FinalPnL == nil || math.Abs(*pos.FinalPnL-0.06) > 1e-12 {
		t.Errorf("finalPnL = %v, want 0.06", pos.FinalPnL)
	}
	if bus.events[len(bus.events)-1] != "position_closed" {
		t.Errorf("expected position_closed, got %v", bus.events)
	}
}

func TestPartialThenFullSellPnLUsesRemainingBasis(t *testing.T) {
	l, _, _ := testLedger(t)
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 100, 10, "s1")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(ctx, sellAnalysis("MintA", 50, 8, "s2")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(ctx, sellAnalysis("MintA", 50, 8, "s3")); err != nil {
		t.Fatal(err)
	}

	pos, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if pos.IsOpen() {
		t.Fatal("position must be closed")
	}
	// The closing fill's proceeds against the 5 SOL basis left after the
	// first proportional reduction, not the episode's summed cash flows.
	if pos.FinalPnL == nil || math.Abs(*pos.FinalPnL-3) > 1e-12 {
		t.Errorf("finalPnL = %v, want 3", pos.FinalPnL)
	}
}

func TestTokenSwapReducesSoldPosition(t *testing.T) {
	l, _, _ := testLedger(t)
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.04, "s1")); err != nil {
		t.Fatal(err)
	}

	// Token-for-token swap: the fee makes it a buy of MintB, but the sold
	// MintA leg must still be folded in even with zero SOL proceeds.
	swap := domain.TradeAnalysis{
		Signature:    "s2",
		Timestamp:    time.Now().UTC(),
		IsOwnWallet:  true,
		IsTrade:      true,
		IsSwap:       true,
		TokensBought: []domain.TokenFlow{{Mint: "MintB", Amount: 500}},
		TokensSold:   []domain.TokenFlow{{Mint: "MintA", Amount: 1000}},
		SolSpent:     0.000005,
		Type:         domain.TradeTypeBuy,
	}
	if err := l.ApplyTrade(ctx, swap); err != nil {
		t.Fatal(err)
	}

	sold, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if sold.IsOpen() || sold.TotalAmount != 0 {
		t.Errorf("sold leg must close MintA, got %+v", sold)
	}
	if sold.FinalPnL == nil || math.Abs(*sold.FinalPnL-(-0.04)) > 1e-12 {
		t.Errorf("finalPnL = %v, want -0.04", sold.FinalPnL)
	}

	bought, err := l.Position("MintB")
	if err != nil {
		t.Fatal(err)
	}
	if !bought.IsOpen() || bought.TotalAmount != 500 {
		t.Errorf("bought leg must open MintB, got %+v", bought)
	}
}

func TestReplayedSignatureAppliedOnce(t *testing.T) {
	l, store, _ := testLedger(t)
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.04, "s1")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.04, "s1")); err != nil {
		t.Fatal(err)
	}

	pos, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if pos.TotalAmount != 1000 {
		t.Errorf("totalAmount = %v, want 1000 (replay must not double-count)", pos.TotalAmount)
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
}

func TestDustBalanceClosesPosition(t *testing.T) {
	l, _, _ := testLedger(t)
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.04, "s1")); err != nil {
		t.Fatal(err)
	}
	// Leave less than the epsilon behind.
	if err := l.ApplyTrade(ctx, sellAnalysis("MintA", 1000-1e-7, 0.05, "s2")); err != nil {
		t.Fatal(err)
	}

	pos, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if pos.IsOpen() {
		t.Error("dust below epsilon must close the position")
	}
}

func TestReopenStartsFreshEpisode(t *testing.T) {
	l, _, bus := testLedger(t)
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.04, "s1")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(ctx, sellAnalysis("MintA", 1000, 0.10, "s2")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 500, 0.02, "s3")); err != nil {
		t.Fatal(err)
	}

	pos, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if !pos.IsOpen() {
		t.Fatal("position must reopen on a buy after close")
	}
	if pos.TotalAmount != 500 || math.Abs(pos.TotalInvested-0.02) > 1e-12 {
		t.Errorf("reopened basis must start fresh: %+v", pos)
	}
	if pos.FinalPnL != nil || pos.ClosedAt != nil {
		t.Error("reopen must clear close-time fields")
	}
	if len(pos.Transactions) != 3 {
		t.Errorf("transaction history must survive reopen, got %d records", len(pos.Transactions))
	}
	if bus.events[len(bus.events)-1] != "position_reopened" {
		t.Errorf("expected position_reopened, got %v", bus.events)
	}
}

func TestSellWithoutPositionSkipped(t *testing.T) {
	l, store, _ := testLedger(t)
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, sellAnalysis("Ghost", 100, 0.01, "s1")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Position("Ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if store.saves != 0 {
		t.Errorf("skipped sell must not persist, saves = %d", store.saves)
	}
}

func TestOversellClampedToHeldBalance(t *testing.T) {
	l, _, _ := testLedger(t)
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.04, "s1")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(ctx, sellAnalysis("MintA", 5000, 0.10, "s2")); err != nil {
		t.Fatal(err)
	}

	pos, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if pos.IsOpen() {
		t.Error("clamped oversell must fully close the position")
	}
}

func TestUSDEnrichment(t *testing.T) {
	l, _, _ := testLedger(t, WithSolPrices(fixedSolPrice{price: 200}))
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.05, "s1")); err != nil {
		t.Fatal(err)
	}
	pos, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if pos.TotalInvestedUSD == nil || math.Abs(*pos.TotalInvestedUSD-10) > 1e-9 {
		t.Fatalf("totalInvestedUsd = %v, want 10", pos.TotalInvestedUSD)
	}
	rec := pos.Transactions[0]
	if rec.USDAmount == nil || math.Abs(*rec.USDAmount-10) > 1e-9 {
		t.Errorf("usdAmount = %v, want 10", rec.USDAmount)
	}
	if rec.SolPriceAtTime == nil || *rec.SolPriceAtTime != 200 {
		t.Errorf("solPriceAtTime = %v, want 200", rec.SolPriceAtTime)
	}
}

func TestUSDDegradesOnPriceError(t *testing.T) {
	l, _, _ := testLedger(t, WithSolPrices(fixedSolPrice{err: errors.New("upstream down")}))
	ctx := context.Background()

	if err := l.ApplyTrade(ctx, buyAnalysis("MintA", 1000, 0.05, "s1")); err != nil {
		t.Fatal(err)
	}
	pos, err := l.Position("MintA")
	if err != nil {
		t.Fatal(err)
	}
	if pos.TotalInvestedUSD != nil || pos.Transactions[0].USDAmount != nil {
		t.Error("fiat fields must stay nil when the SOL price is unavailable")
	}
}

func TestForeignAnalysisIgnored(t *testing.T) {
	l, store, _ := testLedger(t)
	ctx := context.Background()

	a := buyAnalysis("MintA", 1000, 0.04, "s1")
	a.IsOwnWallet = false
	if err := l.ApplyTrade(ctx, a); err != nil {
		t.Fatal(err)
	}
	if store.saves != 0 {
		t.Error("foreign-wallet analyses must not mutate the ledger")
	}
}

func TestOpenMints(t *testing.T) {
	l, _, _ := testLedger(t)
	ctx := context.Background()

	l.ApplyTrade(ctx, buyAnalysis("B", 10, 0.01, "s1"))
	l.ApplyTrade(ctx, buyAnalysis("A", 10, 0.01, "s2"))
	l.ApplyTrade(ctx, sellAnalysis("B", 10, 0.02, "s3"))

	mints := l.OpenMints()
	if len(mints) != 1 || mints[0] != "A" {
		t.Errorf("openMints = %v, want [A]", mints)
	}
}
