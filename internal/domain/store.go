package domain

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists the full position map. The in-memory map is
// authoritative; SaveAll rewrites the current state and appends a
// timestamped snapshot after every ledger mutation.
type PositionStore interface {
	LoadAll(ctx context.Context) (map[string]Position, error)
	SaveAll(ctx context.Context, positions map[string]Position) error
}

// RawTransactionRecord is one raw webhook payload retained for debugging and
// replay, stored in a rolling window of the most recent N entries.
type RawTransactionRecord struct {
	Signature  string          `json:"signature"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Payload    json.RawMessage `json:"payload"`
}

// RawTransactionLog retains a rolling window of raw webhook payloads.
type RawTransactionLog interface {
	Append(ctx context.Context, rec RawTransactionRecord) error
	Recent(ctx context.Context, n int) ([]RawTransactionRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// HistoryStore is the durable write-behind mirror for analyses and closed
// positions. Failures here are logged and never block the ledger.
type HistoryStore interface {
	RecordAnalysis(ctx context.Context, a TradeAnalysis) error
	ListAnalyses(ctx context.Context, opts ListOpts) ([]TradeAnalysis, error)
	RecordClosedPosition(ctx context.Context, p Position) error
	ListClosedPositions(ctx context.Context, opts ListOpts) ([]Position, error)
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter writes objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader reads, lists, and removes objects in blob storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}

// Archiver moves aged local state (position snapshots, raw-transaction
// windows) into blob storage on a retention schedule.
type Archiver interface {
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}
