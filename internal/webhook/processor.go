// Package webhook turns raw transaction deliveries into ledger updates. It
// sits between the HTTP ingress and the analysis pipeline: parse, drop
// replays, persist the raw payload, analyze, and apply own-wallet trades.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/txanalysis"
)

// Ledger applies analyzed trades and reports the open position set.
type Ledger interface {
	ApplyTrade(ctx context.Context, a domain.TradeAnalysis) error
	OpenMints() []string
}

// FeedTracker retargets the price feeds after the position set changes.
type FeedTracker interface {
	UpdateTracked(ctx context.Context, mints []string)
}

// MetadataResolver warms token metadata for freshly bought mints.
type MetadataResolver interface {
	Resolve(ctx context.Context, mint string) (domain.TokenMetadata, error)
}

// QuoteInvalidator drops warmed sell quotes whose position changed.
type QuoteInvalidator interface {
	InvalidateQuotes(mint string)
}

// Result summarizes one processed delivery.
type Result struct {
	Received   int `json:"received"`
	Duplicates int `json:"duplicates"`
	Ignored    int `json:"ignored"`
	Trades     int `json:"trades"`
}

// Processor drives raw webhook bodies through the ingestion pipeline.
type Processor struct {
	analyzer *txanalysis.Analyzer
	ledger   Ledger
	rawLog   domain.RawTransactionLog
	dedup    *Dedup
	logger   *slog.Logger

	metadata MetadataResolver
	feeds    FeedTracker
	quotes   QuoteInvalidator
}

// Option configures optional collaborators.
type Option func(*Processor)

// WithMetadata resolves metadata for newly bought mints.
func WithMetadata(resolver MetadataResolver) Option {
	return func(p *Processor) { p.metadata = resolver }
}

// WithFeeds retargets the price feed manager after every applied trade.
func WithFeeds(feeds FeedTracker) Option {
	return func(p *Processor) { p.feeds = feeds }
}

// WithQuotes invalidates warmed quotes for mints a trade touched.
func WithQuotes(quotes QuoteInvalidator) Option {
	return func(p *Processor) { p.quotes = quotes }
}

// New creates a Processor. dedupTTL bounds the signature replay window.
func New(analyzer *txanalysis.Analyzer, ledger Ledger, rawLog domain.RawTransactionLog, dedupTTL time.Duration, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		analyzer: analyzer,
		ledger:   ledger,
		rawLog:   rawLog,
		dedup:    NewDedup(dedupTTL),
		logger:   logger.With(slog.String("component", "webhook")),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run sweeps expired dedup entries until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.dedup.Cleanup()
		}
	}
}

// Process handles one delivery body, a single transaction object or an array.
// Per-transaction failures are logged and skipped so one bad entry cannot
// poison a batch; only an unparsable body is returned as an error.
func (p *Processor) Process(ctx context.Context, body []byte) (Result, error) {
	txs, err := txanalysis.ParsePayload(body)
	if err != nil {
		return Result{}, err
	}
	raws := rawPayloads(body, len(txs))

	result := Result{Received: len(txs)}
	touched := make(map[string]bool)
	bought := make(map[string]bool)

	for i, tx := range txs {
		if tx.Signature != "" && p.dedup.IsDuplicate(tx.Signature) {
			result.Duplicates++
			continue
		}

		if err := p.rawLog.Append(ctx, domain.RawTransactionRecord{
			Signature:  tx.Signature,
			ReceivedAt: time.Now().UTC(),
			Payload:    raws[i],
		}); err != nil {
			p.logger.WarnContext(ctx, "raw log append failed",
				slog.String("signature", tx.Signature),
				slog.String("error", err.Error()),
			)
		}

		analysis := p.analyzer.Analyze(tx)
		if !analysis.IsOwnWallet || !analysis.IsTrade {
			result.Ignored++
			continue
		}

		if err := p.ledger.ApplyTrade(ctx, analysis); err != nil {
			p.logger.WarnContext(ctx, "apply trade failed",
				slog.String("signature", tx.Signature),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Trades++

		for _, flow := range analysis.TokensBought {
			touched[flow.Mint] = true
			bought[flow.Mint] = true
		}
		for _, flow := range analysis.TokensSold {
			touched[flow.Mint] = true
		}
	}

	if result.Trades > 0 {
		p.afterTrades(ctx, touched, bought)
	}
	return result, nil
}

// afterTrades runs the side effects a changed position set implies.
func (p *Processor) afterTrades(ctx context.Context, touched, bought map[string]bool) {
	if p.metadata != nil {
		for mint := range bought {
			if _, err := p.metadata.Resolve(ctx, mint); err != nil {
				p.logger.WarnContext(ctx, "metadata resolve failed",
					slog.String("mint", mint),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if p.quotes != nil {
		for mint := range touched {
			p.quotes.InvalidateQuotes(mint)
		}
	}
	if p.feeds != nil {
		p.feeds.UpdateTracked(ctx, p.ledger.OpenMints())
	}
}

// rawPayloads splits the delivery body into one raw message per transaction,
// aligned with ParsePayload's order. On any mismatch it falls back to the
// re-encoded whole body for every slot.
func rawPayloads(body []byte, n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err == nil && len(items) == n {
		copy(out, items)
		return out
	}
	for i := range out {
		out[i] = json.RawMessage(body)
	}
	return out
}
