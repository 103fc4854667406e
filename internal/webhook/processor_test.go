package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/txanalysis"
)

const (
	ownWallet = "OwnWa11et1111111111111111111111111111111111"
	testMint  = "MintAAAA111111111111111111111111111111111111"

	raydiumV4Program = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
)

type memLedger struct {
	applies []domain.TradeAnalysis
	mints   []string
}

func (m *memLedger) ApplyTrade(ctx context.Context, a domain.TradeAnalysis) error {
	m.applies = append(m.applies, a)
	return nil
}

func (m *memLedger) OpenMints() []string { return m.mints }

type memRawLog struct {
	records    []domain.RawTransactionRecord
	failAppend bool
}

func (m *memRawLog) Append(ctx context.Context, rec domain.RawTransactionRecord) error {
	if m.failAppend {
		return errors.New("disk full")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memRawLog) Recent(ctx context.Context, n int) ([]domain.RawTransactionRecord, error) {
	return m.records, nil
}

type fakeFeeds struct{ calls [][]string }

func (f *fakeFeeds) UpdateTracked(ctx context.Context, mints []string) {
	f.calls = append(f.calls, mints)
}

type fakeResolver struct{ mints []string }

func (f *fakeResolver) Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error) {
	f.mints = append(f.mints, mint)
	return domain.TokenMetadata{Mint: mint, Symbol: "TEST"}, nil
}

type fakeQuotes struct{ mints []string }

func (f *fakeQuotes) InvalidateQuotes(mint string) { f.mints = append(f.mints, mint) }

func buyTxJSON(signature, feePayer string) string {
	return fmt.Sprintf(`{
		"signature": %q,
		"timestamp": 1700000000,
		"feePayer": %q,
		"fee": 5000,
		"instructions": [{"programId": %q}],
		"nativeTransfers": [
			{"fromUserAccount": %q, "toUserAccount": "PoolVau1t", "amount": 10000000}
		],
		"accountData": [{
			"account": %q,
			"nativeBalanceChange": -10005000,
			"tokenBalanceChanges": [{
				"userAccount": %q,
				"mint": %q,
				"rawTokenAmount": {"tokenAmount": "1000000000", "decimals": 6}
			}]
		}]
	}`, signature, feePayer, raydiumV4Program, feePayer, feePayer, feePayer, testMint)
}

func newProcessor(t *testing.T, ledger *memLedger, rawLog *memRawLog, opts ...Option) *Processor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(txanalysis.New(ownWallet), ledger, rawLog, time.Minute, logger, opts...)
}

func TestProcessAppliesBuy(t *testing.T) {
	ledger := &memLedger{mints: []string{testMint}}
	rawLog := &memRawLog{}
	feeds := &fakeFeeds{}
	resolver := &fakeResolver{}
	quotes := &fakeQuotes{}
	p := newProcessor(t, ledger, rawLog, WithFeeds(feeds), WithMetadata(resolver), WithQuotes(quotes))

	result, err := p.Process(context.Background(), []byte(buyTxJSON("sig1", ownWallet)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Received != 1 || result.Trades != 1 {
		t.Fatalf("result = %+v, want 1 received 1 trade", result)
	}

	if len(ledger.applies) != 1 {
		t.Fatalf("applies = %d, want 1", len(ledger.applies))
	}
	applied := ledger.applies[0]
	if applied.Type != domain.TradeTypeBuy || applied.Signature != "sig1" {
		t.Errorf("applied = %+v", applied)
	}
	if len(rawLog.records) != 1 || rawLog.records[0].Signature != "sig1" {
		t.Errorf("raw log records = %+v", rawLog.records)
	}
	if len(feeds.calls) != 1 || feeds.calls[0][0] != testMint {
		t.Errorf("feed updates = %+v", feeds.calls)
	}
	if len(resolver.mints) != 1 || resolver.mints[0] != testMint {
		t.Errorf("resolved mints = %v", resolver.mints)
	}
	if len(quotes.mints) != 1 || quotes.mints[0] != testMint {
		t.Errorf("invalidated mints = %v", quotes.mints)
	}
}

func TestProcessDropsReplay(t *testing.T) {
	ledger := &memLedger{}
	p := newProcessor(t, ledger, &memRawLog{})
	body := []byte(buyTxJSON("sig1", ownWallet))

	if _, err := p.Process(context.Background(), body); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	result, err := p.Process(context.Background(), body)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if result.Duplicates != 1 || result.Trades != 0 {
		t.Errorf("result = %+v, want 1 duplicate 0 trades", result)
	}
	if len(ledger.applies) != 1 {
		t.Errorf("applies = %d, want 1", len(ledger.applies))
	}
}

func TestProcessBatchKeepsPerItemPayloads(t *testing.T) {
	ledger := &memLedger{}
	rawLog := &memRawLog{}
	feeds := &fakeFeeds{}
	p := newProcessor(t, ledger, rawLog, WithFeeds(feeds))

	body := []byte("[" + buyTxJSON("sig1", ownWallet) + "," + buyTxJSON("sig2", "SomeoneE1se") + "]")
	result, err := p.Process(context.Background(), body)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Received != 2 || result.Trades != 1 || result.Ignored != 1 {
		t.Fatalf("result = %+v, want 2 received 1 trade 1 ignored", result)
	}

	// Foreign transactions are still retained in the raw window.
	if len(rawLog.records) != 2 {
		t.Fatalf("raw log records = %d, want 2", len(rawLog.records))
	}
	for i, want := range []string{"sig1", "sig2"} {
		var decoded struct {
			Signature string `json:"signature"`
		}
		if err := json.Unmarshal(rawLog.records[i].Payload, &decoded); err != nil {
			t.Fatalf("record %d payload: %v", i, err)
		}
		if decoded.Signature != want {
			t.Errorf("record %d signature = %q, want %q", i, decoded.Signature, want)
		}
	}
}

func TestProcessUnparsableBody(t *testing.T) {
	p := newProcessor(t, &memLedger{}, &memRawLog{})
	if _, err := p.Process(context.Background(), []byte("not json")); !errors.Is(err, domain.ErrUnparsable) {
		t.Fatalf("err = %v, want ErrUnparsable", err)
	}
}

func TestProcessRawLogFailureDoesNotBlockTrade(t *testing.T) {
	ledger := &memLedger{}
	p := newProcessor(t, ledger, &memRawLog{failAppend: true})

	result, err := p.Process(context.Background(), []byte(buyTxJSON("sig1", ownWallet)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Trades != 1 || len(ledger.applies) != 1 {
		t.Errorf("trade must apply despite raw log failure, result = %+v", result)
	}
}

func TestProcessNoSideEffectsWithoutTrades(t *testing.T) {
	feeds := &fakeFeeds{}
	p := newProcessor(t, &memLedger{}, &memRawLog{}, WithFeeds(feeds))

	result, err := p.Process(context.Background(), []byte(buyTxJSON("sig1", "SomeoneE1se")))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Ignored != 1 {
		t.Errorf("result = %+v, want 1 ignored", result)
	}
	if len(feeds.calls) != 0 {
		t.Error("feeds must not be retargeted when nothing changed")
	}
}

func TestDedupWindow(t *testing.T) {
	d := NewDedup(time.Minute)
	if d.IsDuplicate("sig1") {
		t.Error("first sighting must not be a duplicate")
	}
	if !d.IsDuplicate("sig1") {
		t.Error("second sighting within TTL must be a duplicate")
	}

	d.seen["sig1"] = time.Now().Add(-2 * time.Minute)
	d.Cleanup()
	if d.IsDuplicate("sig1") {
		t.Error("expired entry must be forgotten after cleanup")
	}
}
