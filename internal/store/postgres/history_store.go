package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL. Full records
// are stored as JSONB with the fields the list queries filter on broken out
// into columns.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

var _ domain.HistoryStore = (*HistoryStore)(nil)

// RecordAnalysis mirrors one trade analysis. Redeliveries of the same
// signature are silently skipped via ON CONFLICT DO NOTHING.
func (s *HistoryStore) RecordAnalysis(ctx context.Context, a domain.TradeAnalysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("postgres: marshal analysis: %w", err)
	}

	const query = `
		INSERT INTO trade_analyses (
			signature, occurred_at, platform, trade_type,
			sol_spent, sol_received, analysis
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (signature) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		a.Signature, a.Timestamp, a.Platform, string(a.Type),
		a.SolSpent, a.SolReceived, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: record analysis %s: %w", a.Signature, err)
	}
	return nil
}

// ListAnalyses returns mirrored analyses, newest first.
func (s *HistoryStore) ListAnalyses(ctx context.Context, opts domain.ListOpts) ([]domain.TradeAnalysis, error) {
	query, args := listQuery("SELECT analysis FROM trade_analyses", "occurred_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list analyses: %w", err)
	}
	defer rows.Close()

	analyses, err := scanJSONRows[domain.TradeAnalysis](rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list analyses: %w", err)
	}
	return analyses, nil
}

// RecordClosedPosition mirrors one closed position episode.
func (s *HistoryStore) RecordClosedPosition(ctx context.Context, p domain.Position) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("postgres: marshal position: %w", err)
	}

	closedAt := time.Now().UTC()
	if p.ClosedAt != nil {
		closedAt = *p.ClosedAt
	}

	const query = `
		INSERT INTO closed_positions (mint, opened_at, closed_at, final_pnl, position)
		VALUES ($1, $2, $3, $4, $5)`
	_, err = s.pool.Exec(ctx, query, p.Mint, p.OpenedAt, closedAt, p.FinalPnL, payload)
	if err != nil {
		return fmt.Errorf("postgres: record closed position %s: %w", p.Mint, err)
	}
	return nil
}

// ListClosedPositions returns mirrored closed episodes, newest first.
func (s *HistoryStore) ListClosedPositions(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := listQuery("SELECT position FROM closed_positions", "closed_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanJSONRows[domain.Position](rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	return positions, nil
}

// listQuery appends time filtering, ordering, and pagination to a base
// SELECT over a single JSONB column.
func listQuery(base, timeCol string, opts domain.ListOpts) (string, []any) {
	query := base + " WHERE 1=1"
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// scanJSONRows decodes a single-JSONB-column result set.
func scanJSONRows[T any](rows pgx.Rows) ([]T, error) {
	var out []T
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
