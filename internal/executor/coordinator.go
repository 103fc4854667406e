// Package executor turns sell requests into confirmed chain transactions.
// Quotes for the common sell fractions are warmed ahead of user action so
// the hot path is sign-and-submit; a circuit breaker over the aggregator
// and escalating cooldowns keep a broken upstream from burning the rate
// budget.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/platform/jupiter"
	"github.com/alanyoungcy/soltraderbot/internal/platform/solana"
)

// errSignFailed marks a signing failure, which the sell path retries once
// from a fresh quote.
var errSignFailed = errors.New("executor: sign")

// Aggregator provides sell quotes and unsigned swap transactions.
type Aggregator interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (domain.SwapQuote, error)
	BuildSwap(ctx context.Context, quote domain.SwapQuote, userPublicKey string) (string, error)
}

// Chain provides balance reads, submission and confirmation.
type Chain interface {
	GetTokenBalance(ctx context.Context, wallet, mint string) (uint64, int, error)
	SendTransaction(ctx context.Context, signedTxBase64 string) (string, error)
	WaitForConfirmation(ctx context.Context, signature string, pollInterval time.Duration) (solana.SignatureStatus, error)
}

// Signer signs unsigned transactions as the wallet.
type Signer interface {
	PublicKey() string
	SignTransaction(unsignedTxBase64 string) (signedTxBase64, signatureBase58 string, err error)
}

// Positions exposes the ledger surface the coordinator needs: the open set
// for the warm cycle, trade application for confirmed sells.
type Positions interface {
	OpenMints() []string
	ApplyTrade(ctx context.Context, a domain.TradeAnalysis) error
}

// Config tunes the coordinator.
type Config struct {
	Fractions          []int         // warmed sell fractions, percent
	WarmInterval       time.Duration // warm cycle cadence
	MaxQuoteAge        time.Duration // warmed quote validity window
	MaxBalanceDriftPct float64       // warmed quote balance tolerance, percent
	SlippageBps        int
	FailureThreshold   int // consecutive failures before the breaker opens
	SubmitRetries      int // bounded resubmits for retryable failures
	ConfirmTimeout     time.Duration
	ConfirmPoll        time.Duration
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if len(c.Fractions) == 0 {
		c.Fractions = []int{25, 50, 100}
	}
	if c.WarmInterval <= 0 {
		c.WarmInterval = 20 * time.Second
	}
	if c.MaxQuoteAge <= 0 {
		c.MaxQuoteAge = 30 * time.Second
	}
	if c.MaxBalanceDriftPct <= 0 {
		c.MaxBalanceDriftPct = 1.0
	}
	if c.SlippageBps <= 0 {
		c.SlippageBps = 250
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = 3
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 45 * time.Second
	}
	if c.ConfirmPoll <= 0 {
		c.ConfirmPoll = 2 * time.Second
	}
}

// Coordinator owns warm quotes and sell execution.
type Coordinator struct {
	cfg       Config
	agg       Aggregator
	chain     Chain
	signer    Signer
	positions Positions
	bus       domain.SignalBus
	audit     domain.AuditStore
	locks     domain.LockManager
	breaker   *Breaker
	logger    *slog.Logger

	mu         sync.Mutex
	warm       map[string]map[int]domain.WarmedQuote
	inProgress map[string]bool
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithAudit records sell outcomes in the audit store.
func WithAudit(audit domain.AuditStore) Option {
	return func(c *Coordinator) { c.audit = audit }
}

// WithLocks adds a distributed per-mint lock around sell execution, for
// deployments where more than one process can trigger sells.
func WithLocks(locks domain.LockManager) Option {
	return func(c *Coordinator) { c.locks = locks }
}

// New creates a Coordinator.
func New(cfg Config, agg Aggregator, chain Chain, signer Signer, positions Positions, bus domain.SignalBus, logger *slog.Logger, opts ...Option) *Coordinator {
	cfg.Defaults()
	c := &Coordinator{
		cfg:        cfg,
		agg:        agg,
		chain:      chain,
		signer:     signer,
		positions:  positions,
		bus:        bus,
		breaker:    NewBreaker(cfg.FailureThreshold),
		logger:     logger.With(slog.String("component", "executor")),
		warm:       make(map[string]map[int]domain.WarmedQuote),
		inProgress: make(map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run drives the warm cycle until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.WarmInterval)
	defer ticker.Stop()

	c.warmCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.warmCycle(ctx)
		}
	}
}

// warmCycle refreshes quotes for every open position and fraction. It stops
// early while the breaker is open.
func (c *Coordinator) warmCycle(ctx context.Context) {
	if !c.breaker.Allow() {
		return
	}

	for _, mint := range c.positions.OpenMints() {
		// A sell in flight invalidates any quote we would warm.
		c.mu.Lock()
		busy := c.inProgress[mint]
		c.mu.Unlock()
		if busy {
			continue
		}

		balance, _, err := c.chain.GetTokenBalance(ctx, c.signer.PublicKey(), mint)
		if err != nil || balance == 0 {
			continue
		}

		for _, fraction := range c.cfg.Fractions {
			if ctx.Err() != nil {
				return
			}
			if !c.breaker.Allow() {
				return
			}
			quote, err := c.buildWarmedQuote(ctx, mint, fraction, balance)
			if err != nil {
				c.breaker.Failure()
				c.logger.WarnContext(ctx, "quote warm failed",
					slog.String("mint", mint),
					slog.Int("fraction", fraction),
					slog.String("error", err.Error()),
				)
				continue
			}
			c.breaker.Success()

			c.mu.Lock()
			if c.warm[mint] == nil {
				c.warm[mint] = make(map[int]domain.WarmedQuote)
			}
			c.warm[mint][fraction] = quote
			c.mu.Unlock()
		}
	}
}

func (c *Coordinator) buildWarmedQuote(ctx context.Context, mint string, fraction int, balance uint64) (domain.WarmedQuote, error) {
	amount := balance * uint64(fraction) / 100
	if amount == 0 {
		return domain.WarmedQuote{}, fmt.Errorf("executor: zero sell amount for %s", mint)
	}

	quote, err := c.agg.Quote(ctx, mint, domain.WrappedSOLMint, amount, c.cfg.SlippageBps)
	if err != nil {
		return domain.WarmedQuote{}, err
	}
	swapTx, err := c.agg.BuildSwap(ctx, quote, c.signer.PublicKey())
	if err != nil {
		return domain.WarmedQuote{}, err
	}

	return domain.WarmedQuote{
		Mint:            mint,
		FractionPct:     fraction,
		Quote:           quote,
		SwapTransaction: swapTx,
		BalanceSnapshot: balance,
		Timestamp:       time.Now().UTC(),
	}, nil
}

// Sell executes a sell of the given fraction of the wallet's mint balance.
// It always returns a SellResult; failures are encoded, never propagated.
func (c *Coordinator) Sell(ctx context.Context, mint string, fractionPct int) domain.SellResult {
	started := time.Now()
	result := domain.SellResult{
		ID:          uuid.New().String(),
		Mint:        mint,
		FractionPct: fractionPct,
	}

	if !validFraction(c.cfg.Fractions, fractionPct) {
		return c.finish(ctx, result, started, fmt.Errorf("executor: unsupported fraction %d", fractionPct), domain.SellErrUnknown)
	}

	// Per-process in-progress marker.
	c.mu.Lock()
	if c.inProgress[mint] {
		c.mu.Unlock()
		return c.finish(ctx, result, started, domain.ErrSellInProgress, domain.SellErrUnknown)
	}
	c.inProgress[mint] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inProgress, mint)
		c.mu.Unlock()
	}()

	// Cross-process guard when configured.
	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, "sell:"+mint, c.cfg.ConfirmTimeout)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return c.finish(ctx, result, started, domain.ErrSellInProgress, domain.SellErrUnknown)
			}
			// A broken lock backend must not block selling.
			c.logger.WarnContext(ctx, "sell lock unavailable, proceeding",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		} else {
			defer unlock()
		}
	}

	if !c.breaker.Allow() {
		return c.finish(ctx, result, started, domain.ErrCircuitOpen, domain.SellErrRateLimit)
	}

	balance, decimals, err := c.chain.GetTokenBalance(ctx, c.signer.PublicKey(), mint)
	if err != nil {
		return c.finish(ctx, result, started, fmt.Errorf("executor: balance %s: %w", mint, err), domain.SellErrUnknown)
	}
	if balance == 0 {
		return c.finish(ctx, result, started, domain.ErrNoOpenPosition, domain.SellErrInsufficientFunds)
	}

	warmed, usedWarm := c.takeValidWarmQuote(mint, fractionPct, balance)
	result.UsedWarmQuote = usedWarm

	// One fallback pass: a quote, sign, or confirmation failure gets a
	// single retry from a fresh quote. Submit failures already carried
	// their per-class policy through the resubmit loop and stay terminal.
	needQuote := !usedWarm
	for attempt := 0; ; attempt++ {
		if needQuote {
			warmed, err = c.buildWarmedQuote(ctx, mint, fractionPct, balance)
			if err != nil {
				c.breaker.Failure()
				if attempt == 0 {
					c.logger.WarnContext(ctx, "cold quote failed, retrying",
						slog.String("mint", mint),
						slog.String("error", err.Error()),
					)
					continue
				}
				return c.finish(ctx, result, started, fmt.Errorf("executor: cold quote: %w", err), classifyErr(err))
			}
			c.breaker.Success()
		}

		signature, submitErr := c.submitWithRetry(ctx, mint, fractionPct, warmed)
		if submitErr != nil {
			if attempt == 0 && errors.Is(submitErr, errSignFailed) {
				needQuote = true
				balance, decimals = c.refreshBalance(ctx, mint, balance, decimals)
				continue
			}
			return c.finish(ctx, result, started, submitErr, classifyErr(submitErr))
		}
		result.Signature = signature

		confirmCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		status, confirmErr := c.chain.WaitForConfirmation(confirmCtx, signature, c.cfg.ConfirmPoll)
		cancel()
		if confirmErr != nil || status.Failed {
			if attempt == 0 {
				c.logger.WarnContext(ctx, "confirmation failed, retrying with a fresh quote",
					slog.String("mint", mint),
					slog.String("signature", signature),
				)
				needQuote = true
				balance, decimals = c.refreshBalance(ctx, mint, balance, decimals)
				continue
			}
			if confirmErr != nil {
				return c.finish(ctx, result, started, fmt.Errorf("executor: confirmation: %w", confirmErr), domain.SellErrUnknown)
			}
			return c.finish(ctx, result, started, fmt.Errorf("executor: transaction failed: %s", status.Err), jupiter.ClassifyError(status.Err))
		}
		break
	}

	result.Success = true
	result.SolReceived = float64(warmed.Quote.OutAmount) / domain.LamportsPerSOL
	c.InvalidateQuotes(mint)
	c.applyToLedger(ctx, result, warmed, decimals)
	return c.finish(ctx, result, started, nil, "")
}

// refreshBalance re-reads the wallet balance ahead of a fallback pass. On
// error the previous values stand.
func (c *Coordinator) refreshBalance(ctx context.Context, mint string, balance uint64, decimals int) (uint64, int) {
	b, d, err := c.chain.GetTokenBalance(ctx, c.signer.PublicKey(), mint)
	if err != nil || b == 0 {
		return balance, decimals
	}
	return b, d
}

// applyToLedger folds a confirmed sell straight into the position ledger,
// without waiting for the webhook provider to deliver the bot's own
// transaction. The ledger's signature guard drops the redelivery.
func (c *Coordinator) applyToLedger(ctx context.Context, result domain.SellResult, warmed domain.WarmedQuote, decimals int) {
	a := domain.TradeAnalysis{
		Signature:   result.Signature,
		Timestamp:   time.Now().UTC(),
		IsOwnWallet: true,
		IsTrade:     true,
		IsSwap:      true,
		Platform:    "Jupiter",
		TokensSold: []domain.TokenFlow{{
			Mint:   result.Mint,
			Amount: float64(warmed.Quote.InAmount) / math.Pow10(decimals),
		}},
		SolReceived: result.SolReceived,
		Type:        domain.TradeTypeSell,
	}
	if err := c.positions.ApplyTrade(ctx, a); err != nil {
		c.logger.WarnContext(ctx, "ledger update after sell failed",
			slog.String("mint", result.Mint),
			slog.String("signature", result.Signature),
			slog.String("error", err.Error()),
		)
	}
}

// takeValidWarmQuote returns the warmed quote for the mint and fraction if
// it is still young enough and the balance has not drifted past tolerance.
// A stale or drifted quote is dropped.
func (c *Coordinator) takeValidWarmQuote(mint string, fractionPct int, balance uint64) (domain.WarmedQuote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byFraction, ok := c.warm[mint]
	if !ok {
		return domain.WarmedQuote{}, false
	}
	quote, ok := byFraction[fractionPct]
	if !ok {
		return domain.WarmedQuote{}, false
	}

	if quote.Age(time.Now()) > c.cfg.MaxQuoteAge {
		delete(byFraction, fractionPct)
		return domain.WarmedQuote{}, false
	}
	if quote.BalanceSnapshot == 0 {
		return domain.WarmedQuote{}, false
	}
	driftPct := math.Abs(float64(balance)-float64(quote.BalanceSnapshot)) / float64(quote.BalanceSnapshot) * 100
	if driftPct > c.cfg.MaxBalanceDriftPct {
		delete(byFraction, fractionPct)
		return domain.WarmedQuote{}, false
	}
	return quote, true
}

// submitWithRetry signs and submits the swap, retrying retryable failures
// with backoff. An expired blockhash rebuilds the transaction once per
// attempt from a fresh quote.
func (c *Coordinator) submitWithRetry(ctx context.Context, mint string, fractionPct int, warmed domain.WarmedQuote) (string, error) {
	var lastErr error
	current := warmed

	for attempt := 0; attempt < c.cfg.SubmitRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		signed, _, err := c.signer.SignTransaction(current.SwapTransaction)
		if err != nil {
			return "", fmt.Errorf("%w: %v", errSignFailed, err)
		}

		signature, err := c.chain.SendTransaction(ctx, signed)
		if err == nil {
			return signature, nil
		}
		lastErr = err

		errType := classifyErr(err)
		if !errType.Retryable() {
			return "", fmt.Errorf("executor: submit: %w", err)
		}
		if errType == domain.SellErrBlockhashExpired {
			rebuilt, rebuildErr := c.buildWarmedQuote(ctx, mint, fractionPct, current.BalanceSnapshot)
			if rebuildErr != nil {
				return "", fmt.Errorf("executor: rebuild after expired blockhash: %w", rebuildErr)
			}
			current = rebuilt
		}
		c.logger.WarnContext(ctx, "submit retry",
			slog.String("mint", mint),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return "", fmt.Errorf("executor: submit retries exhausted: %w", lastErr)
}

// finish seals a SellResult, records it, and fans it out.
func (c *Coordinator) finish(ctx context.Context, result domain.SellResult, started time.Time, err error, errType domain.SellErrorType) domain.SellResult {
	result.ExecutionTimeMs = time.Since(started).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		result.ErrorType = errType
		c.logger.WarnContext(ctx, "sell failed",
			slog.String("mint", result.Mint),
			slog.Int("fraction", result.FractionPct),
			slog.String("error_type", string(errType)),
			slog.String("error", err.Error()),
		)
	} else {
		c.logger.InfoContext(ctx, "sell executed",
			slog.String("mint", result.Mint),
			slog.Int("fraction", result.FractionPct),
			slog.String("signature", result.Signature),
			slog.Float64("sol_received", result.SolReceived),
			slog.Bool("warm_quote", result.UsedWarmQuote),
			slog.Int64("elapsed_ms", result.ExecutionTimeMs),
		)
	}

	payload, _ := json.Marshal(map[string]any{"event": "sell_result", "result": result})
	if pubErr := c.bus.Publish(ctx, "sells", payload); pubErr != nil {
		c.logger.WarnContext(ctx, "publish sell event failed", slog.String("error", pubErr.Error()))
	}
	if streamErr := c.bus.StreamAppend(ctx, "sells", payload); streamErr != nil {
		c.logger.WarnContext(ctx, "sell stream append failed", slog.String("error", streamErr.Error()))
	}
	if c.audit != nil {
		_ = c.audit.Log(ctx, "sell_executed", map[string]any{
			"id":        result.ID,
			"mint":      result.Mint,
			"fraction":  result.FractionPct,
			"success":   result.Success,
			"signature": result.Signature,
			"errorType": string(result.ErrorType),
		})
	}
	return result
}

// InvalidateQuotes drops warmed quotes for a mint. Position changes make
// them meaningless.
func (c *Coordinator) InvalidateQuotes(mint string) {
	c.mu.Lock()
	delete(c.warm, mint)
	c.mu.Unlock()
}

// WarmedQuotes returns a snapshot of the current warm quote set.
func (c *Coordinator) WarmedQuotes() []domain.WarmedQuote {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.WarmedQuote
	for _, byFraction := range c.warm {
		for _, q := range byFraction {
			out = append(out, q)
		}
	}
	return out
}

// BreakerOpenUntil exposes the breaker state for the status endpoint.
func (c *Coordinator) BreakerOpenUntil() time.Time {
	return c.breaker.OpenUntil()
}

func validFraction(allowed []int, fraction int) bool {
	for _, f := range allowed {
		if f == fraction {
			return true
		}
	}
	return false
}

// classifyErr maps transport and sentinel errors onto sell error classes.
func classifyErr(err error) domain.SellErrorType {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return domain.SellErrRateLimit
	case errors.Is(err, domain.ErrCircuitOpen):
		return domain.SellErrRateLimit
	default:
		return jupiter.ClassifyError(err.Error())
	}
}
