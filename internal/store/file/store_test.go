package file

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samplePositions() map[string]domain.Position {
	now := time.Now().UTC().Truncate(time.Second)
	return map[string]domain.Position{
		"MintA": {
			Mint:          "MintA",
			TotalAmount:   1000,
			AverageCost:   0.00001,
			TotalInvested: 0.01,
			Status:        domain.PositionStatusOpen,
			Platform:      "PumpFun",
			OpenedAt:      now,
			LastUpdate:    now,
			Transactions: []domain.TransactionRecord{{
				Type:      domain.TransactionBuy,
				Amount:    1000,
				Price:     0.00001,
				SolAmount: 0.01,
				Signature: "sig1",
				Timestamp: now,
			}},
		},
	}
}

func TestPositionStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPositionStore(dir, 5, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// Fresh directory loads empty, not an error.
	got, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %d entries", len(got))
	}

	want := samplePositions()
	if err := store.SaveAll(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err = store.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := got["MintA"]
	if !ok {
		t.Fatal("MintA not persisted")
	}
	if p.TotalAmount != 1000 || p.Status != domain.PositionStatusOpen || len(p.Transactions) != 1 {
		t.Fatalf("round trip mismatch: %+v", p)
	}
}

func TestPositionStoreSnapshotRecovery(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPositionStore(dir, 5, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := store.SaveAll(ctx, samplePositions()); err != nil {
		t.Fatal(err)
	}

	// Corrupt the main file; LoadAll must fall back to the snapshot.
	if err := os.WriteFile(filepath.Join(dir, positionsFile), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["MintA"]; !ok {
		t.Fatal("snapshot recovery lost MintA")
	}
}

func TestPositionStorePrunesSnapshots(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPositionStore(dir, 3, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := store.SaveAll(ctx, samplePositions()); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond) // distinct snapshot timestamps
	}

	names, err := store.snapshotNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) > 3 {
		t.Fatalf("expected at most 3 snapshots, got %d", len(names))
	}
}

func TestRawLogWindow(t *testing.T) {
	dir := t.TempDir()
	log, err := NewRawLog(dir, 3, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, sig := range []string{"a", "b", "c", "d", "e"} {
		rec := domain.RawTransactionRecord{
			Signature:  sig,
			ReceivedAt: time.Now().UTC(),
			Payload:    []byte(`{}`),
		}
		if err := log.Append(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := log.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("window should hold 3 entries, got %d", len(recent))
	}
	if recent[0].Signature != "e" || recent[2].Signature != "c" {
		t.Fatalf("expected newest first e..c, got %s..%s", recent[0].Signature, recent[2].Signature)
	}

	// Reopen and confirm the window survived.
	log2, err := NewRawLog(dir, 3, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	recent2, err := log2.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent2) != 2 || recent2[0].Signature != "e" {
		t.Fatalf("reload mismatch: %+v", recent2)
	}
}
