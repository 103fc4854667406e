// Package file implements JSON-on-disk persistence. The in-memory ledger is
// authoritative; this package only rehydrates it at startup and rewrites it
// after every mutation, with timestamped snapshots for recovery.
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
	"sort"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

const (
	positionsFile = "positions.json"
	snapshotsDir  = "snapshots"
)

// PositionStore implements domain.PositionStore on a data directory.
type PositionStore struct {
	dir          string
	maxSnapshots int
	logger       *slog.Logger
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a PositionStore rooted at dir, keeping at most
// maxSnapshots timestamped snapshots. The directory is created if missing.
func NewPositionStore(dir string, maxSnapshots int, logger *slog.Logger) (*PositionStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, snapshotsDir), 0o755); err != nil {
		return nil, fmt.Errorf("file: create data dir: %w", err)
	}
	if maxSnapshots <= 0 {
		maxSnapshots = 20
	}
	return &PositionStore{
		dir:          dir,
		maxSnapshots: maxSnapshots,
		logger:       logger.With(slog.String("component", "position_store")),
	}, nil
}

// SnapshotsDir returns the on-disk snapshot directory, used by the archiver.
func (s *PositionStore) SnapshotsDir() string {
	return filepath.Join(s.dir, snapshotsDir)
}

// positionsEnvelope is the on-disk shape: versioned so the format can evolve
// without guessing.
type positionsEnvelope struct {
	Version   int                        `json:"version"`
	SavedAt   time.Time                  `json:"savedAt"`
	Positions map[string]domain.Position `json:"positions"`
}

// LoadAll rehydrates the position map. A missing file is a fresh start, not
// an error.
func (s *PositionStore) LoadAll(ctx context.Context) (map[string]domain.Position, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, positionsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]domain.Position{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read positions: %w", err)
	}

	var env positionsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// A corrupt main file falls back to the newest readable snapshot.
		s.logger.Warn("positions file corrupt, trying snapshots", slog.String("error", err.Error()))
		return s.loadFromSnapshot()
	}
	if env.Positions == nil {
		env.Positions = map[string]domain.Position{}
	}
	return env.Positions, nil
}

// SaveAll atomically rewrites the position file and appends a snapshot.
func (s *PositionStore) SaveAll(ctx context.Context, positions map[string]domain.Position) error {
	env := positionsEnvelope{
		Version:   1,
		SavedAt:   time.Now().UTC(),
		Positions: positions,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("file: marshal positions: %w", err)
	}

	if err := writeAtomic(filepath.Join(s.dir, positionsFile), data); err != nil {
		return fmt.Errorf("file: write positions: %w", err)
	}

	name := fmt.Sprintf("positions-%s.json", env.SavedAt.Format("2006-01-02T15-04-05.000Z"))
	if err := writeAtomic(filepath.Join(s.dir, snapshotsDir, name), data); err != nil {
		// Snapshots are recovery aids; a failed one must not fail the save.
		s.logger.Warn("snapshot write failed", slog.String("error", err.Error()))
		return nil
	}
	s.pruneSnapshots()
	return nil
}

func (s *PositionStore) loadFromSnapshot() (map[string]domain.Position, error) {
	names, err := s.snapshotNames()
	if err != nil {
		return nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		data, err := os.ReadFile(filepath.Join(s.dir, snapshotsDir, names[i]))
		if err != nil {
			continue
		}
		var env positionsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		s.logger.Info("recovered positions from snapshot", slog.String("snapshot", names[i]))
		if env.Positions == nil {
			env.Positions = map[string]domain.Position{}
		}
		return env.Positions, nil
	}
	return nil, fmt.Errorf("file: no readable positions file or snapshot: %w", domain.ErrNotFound)
}

func (s *PositionStore) pruneSnapshots() {
	names, err := s.snapshotNames()
	if err != nil || len(names) <= s.maxSnapshots {
		return
	}
	for _, name := range names[:len(names)-s.maxSnapshots] {
		if err := os.Remove(filepath.Join(s.dir, snapshotsDir, name)); err != nil {
			s.logger.Warn("prune snapshot failed", slog.String("snapshot", name), slog.String("error", err.Error()))
		}
	}
}

// snapshotNames returns snapshot file names sorted oldest first. The
// timestamp format sorts lexically.
func (s *PositionStore) snapshotNames() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, snapshotsDir))
	if err != nil {
		return nil, fmt.Errorf("file: read snapshots dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// writeAtomic writes data to a temp file in the target directory and renames
// it into place, so readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
