package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// snapshotTimeLayout matches the file store's snapshot naming.
const snapshotTimeLayout = "positions-2006-01-02T15-04-05.000Z.json"

// Archiver implements domain.Archiver by moving aged local state into object
// storage: position snapshots older than the cutoff are uploaded and removed
// locally, and raw transaction records older than the cutoff are uploaded as
// JSONL.
//
// The raw window on disk is not truncated here; it is bounded by its own
// rolling size and keeps serving the debug API.
type Archiver struct {
	writer       domain.BlobWriter
	snapshotsDir string
	rawLog       domain.RawTransactionLog
	audit        domain.AuditStore // nil when Postgres is not wired
	logger       *slog.Logger
}

// NewArchiver creates an Archiver over the file store's snapshot directory
// and raw transaction log.
func NewArchiver(writer domain.BlobWriter, snapshotsDir string, rawLog domain.RawTransactionLog, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:       writer,
		snapshotsDir: snapshotsDir,
		rawLog:       rawLog,
		audit:        audit,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

var _ domain.Archiver = (*Archiver)(nil)

// ArchiveBefore uploads and prunes state older than the cutoff. It returns
// the number of archived items. A failed upload leaves the local file in
// place for the next run.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	archived, err := a.archiveSnapshots(ctx, cutoff)
	if err != nil {
		return archived, err
	}

	rawCount, err := a.archiveRawWindow(ctx, cutoff)
	if err != nil {
		return archived, err
	}
	archived += rawCount

	if a.audit != nil && archived > 0 {
		if err := a.audit.Log(ctx, "archive.completed", map[string]any{
			"count":  archived,
			"before": cutoff.Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "archive audit log failed", slog.String("error", err.Error()))
		}
	}
	return archived, nil
}

func (a *Archiver) archiveSnapshots(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(a.snapshotsDir)
	if err != nil {
		return 0, fmt.Errorf("s3blob: read snapshots dir: %w", err)
	}

	archived := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if !a.snapshotAged(entry, cutoff) {
			continue
		}

		local := filepath.Join(a.snapshotsDir, entry.Name())
		data, err := os.ReadFile(local)
		if err != nil {
			a.logger.WarnContext(ctx, "read snapshot failed",
				slog.String("snapshot", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		key := "archive/snapshots/" + entry.Name()
		if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
			return archived, fmt.Errorf("s3blob: upload snapshot %s: %w", entry.Name(), err)
		}
		if err := os.Remove(local); err != nil {
			a.logger.WarnContext(ctx, "remove archived snapshot failed",
				slog.String("snapshot", entry.Name()),
				slog.String("error", err.Error()),
			)
		}
		archived++
	}
	return archived, nil
}

// snapshotAged parses the timestamp out of the snapshot name, falling back
// to file modification time for names that do not match the layout.
func (a *Archiver) snapshotAged(entry os.DirEntry, cutoff time.Time) bool {
	if ts, err := time.Parse(snapshotTimeLayout, entry.Name()); err == nil {
		return ts.Before(cutoff)
	}
	info, err := entry.Info()
	if err != nil {
		return false
	}
	return info.ModTime().Before(cutoff)
}

func (a *Archiver) archiveRawWindow(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := a.rawLog.Recent(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: read raw window: %w", err)
	}

	var aged []domain.RawTransactionRecord
	for _, rec := range records {
		if rec.ReceivedAt.Before(cutoff) {
			aged = append(aged, rec)
		}
	}
	if len(aged) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(aged)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal raw records: %w", err)
	}

	key := fmt.Sprintf("archive/transactions/%s.jsonl", cutoff.UTC().Format("2006-01-02"))
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload raw records: %w", err)
	}
	return len(aged), nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
