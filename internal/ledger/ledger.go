// Package ledger maintains the authoritative in-memory position map for the
// tracked wallet, derived purely from analyzed trades. Every mutation is
// persisted through the position store and fanned out on the signal bus.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// SolPriceSource supplies the SOL/USD rate at a given time, used to enrich
// position records with fiat figures. Failures degrade to SOL-only records.
type SolPriceSource interface {
	SolPriceUSD(ctx context.Context, at time.Time) (float64, error)
}

// Ledger applies trade analyses to the position map.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
	applied   map[string]struct{} // signatures already folded in

	store     domain.PositionStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	history   domain.HistoryStore
	solPrices SolPriceSource
	logger    *slog.Logger
}

// Option configures optional ledger collaborators.
type Option func(*Ledger)

// WithAudit records open/close events in the audit store.
func WithAudit(audit domain.AuditStore) Option {
	return func(l *Ledger) { l.audit = audit }
}

// WithHistory mirrors analyses and closed positions into the history store.
func WithHistory(h domain.HistoryStore) Option {
	return func(l *Ledger) { l.history = h }
}

// WithSolPrices enables USD enrichment of transaction records.
func WithSolPrices(src SolPriceSource) Option {
	return func(l *Ledger) { l.solPrices = src }
}

// New creates a Ledger. Call Load before applying trades.
func New(store domain.PositionStore, bus domain.SignalBus, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		positions: map[string]domain.Position{},
		applied:   map[string]struct{}{},
		store:     store,
		bus:       bus,
		logger:    logger.With(slog.String("component", "ledger")),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load rehydrates the position map from the store.
func (l *Ledger) Load(ctx context.Context) error {
	positions, err := l.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load positions: %w", err)
	}

	applied := map[string]struct{}{}
	for _, p := range positions {
		for _, tx := range p.Transactions {
			if tx.Signature != "" {
				applied[tx.Signature] = struct{}{}
			}
		}
	}

	l.mu.Lock()
	l.positions = positions
	l.applied = applied
	l.mu.Unlock()

	open := 0
	for _, p := range positions {
		if p.IsOpen() {
			open++
		}
	}
	l.logger.InfoContext(ctx, "positions loaded",
		slog.Int("total", len(positions)),
		slog.Int("open", open),
	)
	return nil
}

// ApplyTrade folds one analyzed trade into the position map. Analyses that
// are not trades of the tracked wallet are ignored, as is any signature the
// ledger has already applied; sells can reach it both from webhook delivery
// and from the executor's own confirmations. Bought and sold legs are both
// processed, so a token swap reduces one position while growing another.
// The updated positions are persisted and change events published before
// returning.
func (l *Ledger) ApplyTrade(ctx context.Context, a domain.TradeAnalysis) error {
	if !a.IsOwnWallet || !a.IsTrade {
		return nil
	}
	if l.alreadyApplied(a.Signature) {
		l.logger.DebugContext(ctx, "signature already applied, skipping",
			slog.String("signature", a.Signature),
		)
		return nil
	}

	if l.history != nil {
		if err := l.history.RecordAnalysis(ctx, a); err != nil {
			l.logger.WarnContext(ctx, "history record failed",
				slog.String("signature", a.Signature),
				slog.String("error", err.Error()),
			)
		}
	}

	solUSD := l.solPriceAt(ctx, a.Timestamp)

	l.mu.Lock()
	defer l.mu.Unlock()

	if a.Signature != "" {
		if _, dup := l.applied[a.Signature]; dup {
			return nil
		}
	}

	var changed bool
	if l.applyBuys(ctx, a, solUSD) {
		changed = true
	}
	if l.applySells(ctx, a, solUSD) {
		changed = true
	}
	if !changed {
		return nil
	}
	if a.Signature != "" {
		l.applied[a.Signature] = struct{}{}
	}
	return l.persistLocked(ctx)
}

func (l *Ledger) alreadyApplied(signature string) bool {
	if signature == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.applied[signature]
	return ok
}

// applyBuys spreads the SOL spend across the bought mints. Almost every
// transaction carries exactly one; the even split is a documented
// approximation for multi-mint routes.
func (l *Ledger) applyBuys(ctx context.Context, a domain.TradeAnalysis, solUSD *float64) bool {
	if len(a.TokensBought) == 0 {
		return false
	}
	if len(a.TokensBought) > 1 {
		l.logger.WarnContext(ctx, "multi-mint buy, splitting spend evenly",
			slog.String("signature", a.Signature),
			slog.Int("mints", len(a.TokensBought)),
		)
	}
	solPerMint := a.SolSpent / float64(len(a.TokensBought))

	var changed bool
	for _, flow := range a.TokensBought {
		if flow.Amount <= 0 {
			continue
		}
		l.applyBuy(ctx, a, flow.Mint, flow.Amount, solPerMint, solUSD)
		changed = true
	}
	return changed
}

func (l *Ledger) applyBuy(ctx context.Context, a domain.TradeAnalysis, mint string, amount, solSpent float64, solUSD *float64) {
	now := a.Timestamp
	rec := domain.TransactionRecord{
		Type:      domain.TransactionBuy,
		Amount:    amount,
		Price:     solSpent / amount,
		SolAmount: solSpent,
		Signature: a.Signature,
		Timestamp: now,
	}
	enrichRecord(&rec, solUSD)

	pos, exists := l.positions[mint]
	event := "position_opened"
	switch {
	case !exists:
		pos = domain.Position{
			Mint:     mint,
			Status:   domain.PositionStatusOpen,
			Platform: a.Platform,
			OpenedAt: now,
		}
	case !pos.IsOpen():
		// Reopen: a fresh episode on a mint traded before. History stays,
		// cost basis starts over.
		event = "position_reopened"
		pos.Status = domain.PositionStatusOpen
		pos.TotalAmount = 0
		pos.AverageCost = 0
		pos.AverageCostUSD = nil
		pos.TotalInvested = 0
		pos.TotalInvestedUSD = nil
		pos.OpenedAt = now
		pos.ClosedAt = nil
		pos.FinalPnL = nil
		pos.FinalPnLUSD = nil
		pos.Platform = a.Platform
	default:
		event = "position_increased"
	}

	pos.TotalAmount += amount
	pos.TotalInvested += solSpent
	pos.AverageCost = pos.TotalInvested / pos.TotalAmount
	if solUSD != nil {
		usd := solSpent * *solUSD
		pos.TotalInvestedUSD = addFloat(pos.TotalInvestedUSD, usd)
		avg := *pos.TotalInvestedUSD / pos.TotalAmount
		pos.AverageCostUSD = &avg
	}
	pos.LastUpdate = now
	pos.Transactions = append(pos.Transactions, rec)
	l.positions[mint] = pos

	l.publishLocked(ctx, event, pos)
	l.auditLocked(ctx, event, map[string]any{
		"mint":      mint,
		"amount":    amount,
		"solSpent":  solSpent,
		"signature": a.Signature,
		"platform":  a.Platform,
	})
	l.logger.InfoContext(ctx, event,
		slog.String("mint", mint),
		slog.Float64("amount", amount),
		slog.Float64("sol_spent", solSpent),
		slog.String("platform", a.Platform),
	)
}

// applySells processes the sold legs. Proceeds may be zero; a token-for-token
// swap still empties the sold mint's position.
func (l *Ledger) applySells(ctx context.Context, a domain.TradeAnalysis, solUSD *float64) bool {
	if len(a.TokensSold) == 0 {
		return false
	}
	solPerMint := a.SolReceived / float64(len(a.TokensSold))

	var changed bool
	for _, flow := range a.TokensSold {
		if flow.Amount <= 0 {
			continue
		}
		if l.applySell(ctx, a, flow.Mint, flow.Amount, solPerMint, solUSD) {
			changed = true
		}
	}
	return changed
}

func (l *Ledger) applySell(ctx context.Context, a domain.TradeAnalysis, mint string, amount, proceeds float64, solUSD *float64) bool {
	pos, exists := l.positions[mint]
	if !exists || !pos.IsOpen() {
		// A sell for a mint we never saw bought. Nothing to fold it into.
		l.logger.WarnContext(ctx, "sell without open position, skipping",
			slog.String("mint", mint),
			slog.String("signature", a.Signature),
		)
		return false
	}

	if amount > pos.TotalAmount {
		// Clamp to held balance; the excess came from outside the ledger's
		// view (transfers in, airdrops).
		l.logger.WarnContext(ctx, "sell exceeds held amount, clamping",
			slog.String("mint", mint),
			slog.Float64("sold", amount),
			slog.Float64("held", pos.TotalAmount),
		)
		amount = pos.TotalAmount
	}

	now := a.Timestamp
	rec := domain.TransactionRecord{
		Type:      domain.TransactionSell,
		Amount:    amount,
		Price:     proceeds / amount,
		SolAmount: proceeds,
		Signature: a.Signature,
		Timestamp: now,
	}
	enrichRecord(&rec, solUSD)

	fraction := amount / pos.TotalAmount
	investedBefore := pos.TotalInvested
	investedUSDBefore := pos.TotalInvestedUSD

	pos.TotalAmount -= amount
	pos.TotalInvested -= fraction * investedBefore
	if solUSD != nil && pos.TotalInvestedUSD != nil {
		reduced := *pos.TotalInvestedUSD * (1 - fraction)
		pos.TotalInvestedUSD = &reduced
	}
	pos.LastUpdate = now
	pos.Transactions = append(pos.Transactions, rec)

	event := "position_reduced"
	if pos.TotalAmount <= domain.AmountEpsilon {
		event = "position_closed"
		pos.TotalAmount = 0
		pos.TotalInvested = 0
		pos.AverageCost = 0
		pos.Status = domain.PositionStatusClosed
		closedAt := now
		pos.ClosedAt = &closedAt

		// Realized PnL of the closing fill against the cost basis left
		// after earlier proportional reductions.
		pnl := proceeds - investedBefore
		pos.FinalPnL = &pnl
		if solUSD != nil {
			pnlUSD := pnl * *solUSD
			if investedUSDBefore != nil {
				pnlUSD = proceeds * *solUSD - *investedUSDBefore
			}
			pos.FinalPnLUSD = &pnlUSD
		}
	} else {
		pos.AverageCost = pos.TotalInvested / pos.TotalAmount
	}
	l.positions[mint] = pos

	l.publishLocked(ctx, event, pos)
	l.auditLocked(ctx, event, map[string]any{
		"mint":      mint,
		"amount":    amount,
		"proceeds":  proceeds,
		"signature": a.Signature,
	})
	l.logger.InfoContext(ctx, event,
		slog.String("mint", mint),
		slog.Float64("amount", amount),
		slog.Float64("proceeds", proceeds),
	)

	if event == "position_closed" && l.history != nil {
		if err := l.history.RecordClosedPosition(ctx, pos.Clone()); err != nil {
			l.logger.WarnContext(ctx, "history closed-position record failed",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

// Position returns a deep copy of the record for mint.
func (l *Ledger) Position(mint string) (domain.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[mint]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos.Clone(), nil
}

// Positions returns deep copies of every position, sorted by mint.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

// OpenMints returns the mints with an open position, sorted. The price feed
// manager diffs this set to start and stop per-mint feeds.
func (l *Ledger) OpenMints() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var mints []string
	for mint, p := range l.positions {
		if p.IsOpen() {
			mints = append(mints, mint)
		}
	}
	sort.Strings(mints)
	return mints
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	if err := l.store.SaveAll(ctx, l.positions); err != nil {
		return fmt.Errorf("ledger: persist positions: %w", err)
	}
	return nil
}

func (l *Ledger) publishLocked(ctx context.Context, event string, pos domain.Position) {
	if l.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":    event,
		"position": pos.Clone(),
	})
	if err := l.bus.Publish(ctx, "positions", payload); err != nil {
		l.logger.WarnContext(ctx, "publish position event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) auditLocked(ctx context.Context, event string, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) solPriceAt(ctx context.Context, at time.Time) *float64 {
	if l.solPrices == nil {
		return nil
	}
	price, err := l.solPrices.SolPriceUSD(ctx, at)
	if err != nil {
		l.logger.WarnContext(ctx, "sol price lookup failed, recording SOL only",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &price
}

func enrichRecord(rec *domain.TransactionRecord, solUSD *float64) {
	if solUSD == nil {
		return
	}
	priceUSD := rec.Price * *solUSD
	usdAmount := rec.SolAmount * *solUSD
	solPrice := *solUSD
	rec.PriceUSD = &priceUSD
	rec.USDAmount = &usdAmount
	rec.SolPriceAtTime = &solPrice
}

func addFloat(base *float64, delta float64) *float64 {
	v := delta
	if base != nil {
		v += *base
	}
	return &v
}
