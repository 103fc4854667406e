package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/platform/solana"
)

const testMint = "MintAAAA111111111111111111111111111111111111"

type fakeAggregator struct {
	mu         sync.Mutex
	quoteErrs  []error // consumed per Quote call
	swapErr    error
	outAmount  uint64
	quoteCalls int
}

func (f *fakeAggregator) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (domain.SwapQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	if len(f.quoteErrs) > 0 {
		err := f.quoteErrs[0]
		f.quoteErrs = f.quoteErrs[1:]
		if err != nil {
			return domain.SwapQuote{}, err
		}
	}
	return domain.SwapQuote{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InAmount:    amount,
		OutAmount:   f.outAmount,
		SlippageBps: slippageBps,
		RoutePlan:   []byte(`{}`),
	}, nil
}

func (f *fakeAggregator) BuildSwap(ctx context.Context, quote domain.SwapQuote, userPublicKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.swapErr != nil {
		return "", f.swapErr
	}
	return "dW5zaWduZWQ=", nil
}

type fakeChain struct {
	mu          sync.Mutex
	balance     uint64
	sendErrs    []error // consumed per SendTransaction call
	sendCalls   int
	confirm     solana.SignatureStatus
	confirmErrs []error // consumed per WaitForConfirmation call
}

func (f *fakeChain) GetTokenBalance(ctx context.Context, wallet, mint string) (uint64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, 6, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "sig111", nil
}

func (f *fakeChain) WaitForConfirmation(ctx context.Context, signature string, poll time.Duration) (solana.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.confirmErrs) > 0 {
		err := f.confirmErrs[0]
		f.confirmErrs = f.confirmErrs[1:]
		if err != nil {
			return solana.SignatureStatus{}, err
		}
	}
	return f.confirm, nil
}

type fakeSigner struct{}

func (fakeSigner) PublicKey() string { return "Wa11et" }

func (fakeSigner) SignTransaction(unsigned string) (string, string, error) {
	return "c2lnbmVk", "sigB58", nil
}

type fakePositions struct {
	mu      sync.Mutex
	mints   []string
	applied []domain.TradeAnalysis
}

func (f *fakePositions) OpenMints() []string { return f.mints }

func (f *fakePositions) ApplyTrade(ctx context.Context, a domain.TradeAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, a)
	return nil
}

type nopBus struct{}

func (nopBus) Publish(ctx context.Context, channel string, payload []byte) error     { return nil }
func (nopBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error)  { return nil, nil }
func (nopBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }
func (nopBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func newCoordinator(t *testing.T, agg *fakeAggregator, chain *fakeChain) (*Coordinator, *fakePositions) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		ConfirmTimeout: time.Second,
		ConfirmPoll:    time.Millisecond,
	}
	positions := &fakePositions{mints: []string{testMint}}
	return New(cfg, agg, chain, fakeSigner{}, positions, nopBus{}, logger), positions
}

func TestSellColdPathSuccess(t *testing.T) {
	agg := &fakeAggregator{outAmount: 2_000_000_000}
	chain := &fakeChain{balance: 1_000_000, confirm: solana.SignatureStatus{Confirmed: true}}
	c, _ := newCoordinator(t, agg, chain)

	result := c.Sell(context.Background(), testMint, 50)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.UsedWarmQuote {
		t.Error("no warm quote existed, cold path expected")
	}
	if result.Signature != "sig111" {
		t.Errorf("signature = %q", result.Signature)
	}
	if result.SolReceived != 2.0 {
		t.Errorf("solReceived = %v, want 2.0", result.SolReceived)
	}
}

func TestSellUsesWarmQuote(t *testing.T) {
	agg := &fakeAggregator{outAmount: 1_000_000_000}
	chain := &fakeChain{balance: 1_000_000, confirm: solana.SignatureStatus{Confirmed: true}}
	c, _ := newCoordinator(t, agg, chain)

	c.warmCycle(context.Background())
	quoteCallsAfterWarm := agg.quoteCalls

	result := c.Sell(context.Background(), testMint, 25)
	if !result.Success || !result.UsedWarmQuote {
		t.Fatalf("expected warm-quote success, got %+v", result)
	}
	if agg.quoteCalls != quoteCallsAfterWarm {
		t.Error("warm path must not requote")
	}
	// A completed sell invalidates the mint's remaining warm quotes.
	if len(c.WarmedQuotes()) != 0 {
		t.Error("warm quotes must be invalidated after a sell")
	}
}

func TestWarmQuoteExpiredFallsBackCold(t *testing.T) {
	agg := &fakeAggregator{outAmount: 1_000_000_000}
	chain := &fakeChain{balance: 1_000_000, confirm: solana.SignatureStatus{Confirmed: true}}
	c, _ := newCoordinator(t, agg, chain)

	c.warmCycle(context.Background())
	c.mu.Lock()
	for fraction, q := range c.warm[testMint] {
		q.Timestamp = time.Now().Add(-time.Minute)
		c.warm[testMint][fraction] = q
	}
	c.mu.Unlock()

	result := c.Sell(context.Background(), testMint, 25)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.UsedWarmQuote {
		t.Error("expired quote must force the cold path")
	}
}

func TestWarmQuoteBalanceDriftRejected(t *testing.T) {
	agg := &fakeAggregator{outAmount: 1_000_000_000}
	chain := &fakeChain{balance: 1_000_000, confirm: solana.SignatureStatus{Confirmed: true}}
	c, _ := newCoordinator(t, agg, chain)

	c.warmCycle(context.Background())

	// Balance moves 5%, past the 1% default tolerance.
	chain.mu.Lock()
	chain.balance = 1_050_000
	chain.mu.Unlock()

	result := c.Sell(context.Background(), testMint, 25)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.UsedWarmQuote {
		t.Error("drifted balance must force the cold path")
	}
}

func TestSellFailsFastWhileCircuitOpen(t *testing.T) {
	agg := &fakeAggregator{outAmount: 1}
	chain := &fakeChain{balance: 1_000_000}
	c, _ := newCoordinator(t, agg, chain)

	for i := 0; i < 3; i++ {
		c.breaker.Failure()
	}

	result := c.Sell(context.Background(), testMint, 100)
	if result.Success {
		t.Fatal("sell must fail while the circuit is open")
	}
	if result.Error != domain.ErrCircuitOpen.Error() {
		t.Errorf("error = %q, want circuit-open", result.Error)
	}
	if chain.sendCalls != 0 {
		t.Error("no transaction may be submitted while open")
	}
}

func TestSellRejectsUnsupportedFraction(t *testing.T) {
	c, _ := newCoordinator(t, &fakeAggregator{outAmount: 1}, &fakeChain{balance: 1})
	result := c.Sell(context.Background(), testMint, 33)
	if result.Success {
		t.Fatal("unsupported fraction must fail")
	}
}

func TestSellZeroBalance(t *testing.T) {
	c, _ := newCoordinator(t, &fakeAggregator{outAmount: 1}, &fakeChain{balance: 0})
	result := c.Sell(context.Background(), testMint, 100)
	if result.Success {
		t.Fatal("zero balance must fail")
	}
	if result.ErrorType != domain.SellErrInsufficientFunds {
		t.Errorf("errorType = %s, want INSUFFICIENT_FUNDS", result.ErrorType)
	}
}

func TestSubmitRetriesRateLimit(t *testing.T) {
	agg := &fakeAggregator{outAmount: 1_000_000_000}
	chain := &fakeChain{
		balance:  1_000_000,
		sendErrs: []error{errors.New("429 too many requests"), nil},
		confirm:  solana.SignatureStatus{Confirmed: true},
	}
	c, _ := newCoordinator(t, agg, chain)

	result := c.Sell(context.Background(), testMint, 100)
	if !result.Success {
		t.Fatalf("expected success after retry, got %+v", result)
	}
	if chain.sendCalls != 2 {
		t.Errorf("sendCalls = %d, want 2", chain.sendCalls)
	}
}

func TestSubmitDoesNotRetryDeterministicFailure(t *testing.T) {
	agg := &fakeAggregator{outAmount: 1_000_000_000}
	chain := &fakeChain{
		balance:  1_000_000,
		sendErrs: []error{errors.New("custom program error: slippage tolerance exceeded")},
	}
	c, _ := newCoordinator(t, agg, chain)

	result := c.Sell(context.Background(), testMint, 100)
	if result.Success {
		t.Fatal("deterministic failure must not succeed")
	}
	if result.ErrorType != domain.SellErrSlippageExceeded {
		t.Errorf("errorType = %s, want SLIPPAGE_EXCEEDED", result.ErrorType)
	}
	if chain.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1 (no retry)", chain.sendCalls)
	}
}

func TestConcurrentSellBlocked(t *testing.T) {
	agg := &fakeAggregator{outAmount: 1_000_000_000}
	chain := &fakeChain{balance: 1_000_000, confirm: solana.SignatureStatus{Confirmed: true}}
	c, _ := newCoordinator(t, agg, chain)

	c.mu.Lock()
	c.inProgress[testMint] = true
	c.mu.Unlock()

	result := c.Sell(context.Background(), testMint, 100)
	if result.Success {
		t.Fatal("duplicate sell must be rejected")
	}
	if result.Error != domain.ErrSellInProgress.Error() {
		t.Errorf("error = %q, want in-progress", result.Error)
	}
}

func TestOnChainFailureClassified(t *testing.T) {
	agg := &fakeAggregator{outAmount: 1_000_000_000}
	chain := &fakeChain{
		balance: 1_000_000,
		confirm: solana.SignatureStatus{Failed: true, Err: `{"InstructionError":[3,{"Custom":6001}]} slippage`},
	}
	c, positions := newCoordinator(t, agg, chain)

	result := c.Sell(context.Background(), testMint, 100)
	if result.Success {
		t.Fatal("failed transaction must not report success")
	}
	if result.ErrorType != domain.SellErrSlippageExceeded {
		t.Errorf("errorType = %s, want SLIPPAGE_EXCEEDED", result.ErrorType)
	}
	if len(positions.applied) != 0 {
		t.Error("failed sell must not touch the ledger")
	}
}

func TestConfirmErrorRetriedWithFreshQuote(t *testing.T) {
	agg := &fakeAggregator{outAmount: 1_000_000_000}
	chain := &fakeChain{
		balance:     1_000_000,
		confirmErrs: []error{errors.New("rpc timeout")},
		confirm:     solana.SignatureStatus{Confirmed: true},
	}
	c, _ := newCoordinator(t, agg, chain)

	result := c.Sell(context.Background(), testMint, 100)
	if !result.Success {
		t.Fatalf("expected success on the fallback pass, got %+v", result)
	}
	if agg.quoteCalls != 2 {
		t.Errorf("quoteCalls = %d, want 2 (fallback requotes)", agg.quoteCalls)
	}
	if chain.sendCalls != 2 {
		t.Errorf("sendCalls = %d, want 2", chain.sendCalls)
	}
}

func TestColdQuoteFailureRetriedOnce(t *testing.T) {
	agg := &fakeAggregator{
		outAmount: 1_000_000_000,
		quoteErrs: []error{errors.New("503 service unavailable")},
	}
	chain := &fakeChain{balance: 1_000_000, confirm: solana.SignatureStatus{Confirmed: true}}
	c, _ := newCoordinator(t, agg, chain)

	result := c.Sell(context.Background(), testMint, 100)
	if !result.Success {
		t.Fatalf("expected success on the second quote, got %+v", result)
	}
	if agg.quoteCalls != 2 {
		t.Errorf("quoteCalls = %d, want 2", agg.quoteCalls)
	}

	// A second quote failure is terminal.
	agg2 := &fakeAggregator{
		outAmount: 1_000_000_000,
		quoteErrs: []error{errors.New("503"), errors.New("503")},
	}
	c2, _ := newCoordinator(t, agg2, &fakeChain{balance: 1_000_000})
	if result := c2.Sell(context.Background(), testMint, 100); result.Success {
		t.Fatal("two quote failures must fail the sell")
	}
	if agg2.quoteCalls != 2 {
		t.Errorf("quoteCalls = %d, want exactly 2", agg2.quoteCalls)
	}
}

func TestConfirmedSellUpdatesPositions(t *testing.T) {
	agg := &fakeAggregator{outAmount: 2_000_000_000}
	chain := &fakeChain{balance: 1_000_000, confirm: solana.SignatureStatus{Confirmed: true}}
	c, positions := newCoordinator(t, agg, chain)

	result := c.Sell(context.Background(), testMint, 50)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if len(positions.applied) != 1 {
		t.Fatalf("applied = %d trades, want 1", len(positions.applied))
	}
	a := positions.applied[0]
	if a.Type != domain.TradeTypeSell || !a.IsOwnWallet || !a.IsTrade {
		t.Errorf("unexpected analysis: %+v", a)
	}
	if a.Signature != "sig111" {
		t.Errorf("signature = %q, want sig111", a.Signature)
	}
	if len(a.TokensSold) != 1 || a.TokensSold[0].Mint != testMint {
		t.Fatalf("tokensSold = %+v", a.TokensSold)
	}
	// 50% of 1_000_000 base units at 6 decimals.
	if a.TokensSold[0].Amount != 0.5 {
		t.Errorf("sold amount = %v, want 0.5", a.TokensSold[0].Amount)
	}
	if a.SolReceived != 2.0 {
		t.Errorf("solReceived = %v, want 2.0", a.SolReceived)
	}
}
