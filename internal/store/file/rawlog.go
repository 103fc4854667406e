package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

const rawLogFile = "transactions.json"

// RawLog implements domain.RawTransactionLog as a rolling window persisted
// to a single JSON file. Appends rewrite the whole window; the window is
// small enough that this stays cheap.
type RawLog struct {
	mu      sync.Mutex
	path    string
	maxSize int
	window  []domain.RawTransactionRecord
	logger  *slog.Logger
}

var _ domain.RawTransactionLog = (*RawLog)(nil)

// NewRawLog opens (or creates) the rolling raw-transaction log in dir,
// retaining at most maxSize entries.
func NewRawLog(dir string, maxSize int, logger *slog.Logger) (*RawLog, error) {
	if maxSize <= 0 {
		maxSize = 200
	}
	l := &RawLog{
		path:    filepath.Join(dir, rawLogFile),
		maxSize: maxSize,
		logger:  logger.With(slog.String("component", "raw_log")),
	}

	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read raw log: %w", err)
	}
	if err := json.Unmarshal(data, &l.window); err != nil {
		// Debug data; start over rather than refuse to boot.
		l.logger.Warn("raw log corrupt, starting fresh", slog.String("error", err.Error()))
		l.window = nil
	}
	if len(l.window) > maxSize {
		l.window = l.window[len(l.window)-maxSize:]
	}
	return l, nil
}

// Append adds a record to the window, evicting the oldest when full.
func (l *RawLog) Append(ctx context.Context, rec domain.RawTransactionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.window = append(l.window, rec)
	if len(l.window) > l.maxSize {
		l.window = l.window[len(l.window)-l.maxSize:]
	}

	data, err := json.Marshal(l.window)
	if err != nil {
		return fmt.Errorf("file: marshal raw log: %w", err)
	}
	if err := writeAtomic(l.path, data); err != nil {
		return fmt.Errorf("file: write raw log: %w", err)
	}
	return nil
}

// Recent returns the newest n records, newest first.
func (l *RawLog) Recent(ctx context.Context, n int) ([]domain.RawTransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.window) {
		n = len(l.window)
	}
	out := make([]domain.RawTransactionRecord, n)
	for i := 0; i < n; i++ {
		out[i] = l.window[len(l.window)-1-i]
	}
	return out, nil
}

// Path returns the on-disk location of the log, used by the archiver.
func (l *RawLog) Path() string {
	return l.path
}
