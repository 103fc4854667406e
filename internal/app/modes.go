package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/soltraderbot/internal/crypto"
	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/executor"
	"github.com/alanyoungcy/soltraderbot/internal/histprice"
	"github.com/alanyoungcy/soltraderbot/internal/ledger"
	"github.com/alanyoungcy/soltraderbot/internal/metadata"
	"github.com/alanyoungcy/soltraderbot/internal/notify"
	"github.com/alanyoungcy/soltraderbot/internal/platform/birdeye"
	"github.com/alanyoungcy/soltraderbot/internal/platform/dexscreener"
	"github.com/alanyoungcy/soltraderbot/internal/platform/jupiter"
	"github.com/alanyoungcy/soltraderbot/internal/platform/solana"
	"github.com/alanyoungcy/soltraderbot/internal/pricefeed"
	"github.com/alanyoungcy/soltraderbot/internal/server"
	"github.com/alanyoungcy/soltraderbot/internal/server/handler"
	"github.com/alanyoungcy/soltraderbot/internal/server/ws"
	"github.com/alanyoungcy/soltraderbot/internal/txanalysis"
	"github.com/alanyoungcy/soltraderbot/internal/webhook"
)

// TrackMode runs webhook ingestion, the position ledger, price feeds, and the
// API server. No transactions are ever signed or submitted.
func (a *App) TrackMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting track mode")
	return a.runBot(ctx, deps, false)
}

// TradeMode runs everything track mode does plus the sell executor with its
// warm-quote cycle.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runBot(ctx, deps, true)
}

// FullMode runs trade mode plus the durable history mirror and the S3
// archiver. The extra stores are wired by Wire when their config sections are
// enabled; this mode only adds the archive schedule on top.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runBot(ctx, deps, true)
}

// runBot assembles the ingestion pipeline and runs every subsystem under one
// errgroup until the context is cancelled.
func (a *App) runBot(ctx context.Context, deps *Dependencies, withExecutor bool) error {
	g, ctx := errgroup.WithContext(ctx)

	// Platform clients shared by feeds, metadata, and the executor.
	be := birdeye.NewClient(a.cfg.Feeds.BirdeyeBaseURL, a.cfg.Feeds.BirdeyeAPIKey, deps.RateLimiter)
	dex := dexscreener.NewClient(a.cfg.Feeds.DexScreenerURL)
	jup := jupiter.NewClient(a.cfg.Jupiter.BaseURL, deps.RateLimiter)
	beSource := pricefeed.NewBirdeyeSource(be)

	// SOL/USD bookkeeping rates: live from Birdeye, then CoinGecko, with
	// Birdeye's history endpoint for past lookups.
	hist := histprice.New(
		[]histprice.LiveSource{beSource, histprice.NewCoinGecko(a.cfg.Feeds.CoinGeckoURL)},
		beSource,
		a.logger,
	)

	// Ledger with optional durable mirrors.
	ledgerOpts := []ledger.Option{ledger.WithSolPrices(hist)}
	if deps.AuditStore != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithAudit(deps.AuditStore))
	}
	if deps.HistoryStore != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithHistory(deps.HistoryStore))
	}
	led := ledger.New(deps.PositionStore, deps.SignalBus, a.logger, ledgerOpts...)
	if err := led.Load(ctx); err != nil {
		return fmt.Errorf("run: load ledger: %w", err)
	}

	// Price feed manager.
	var stream pricefeed.Stream
	if a.cfg.Feeds.StreamEnabled && a.cfg.Feeds.BirdeyeAPIKey != "" {
		stream = birdeye.NewWSClient(a.cfg.Feeds.BirdeyeWSURL, a.cfg.Feeds.BirdeyeAPIKey)
	}
	feeds := pricefeed.New(pricefeed.Config{
		PollInterval: a.cfg.Feeds.PollInterval.Duration,
		StaleAfter:   a.cfg.Feeds.StaleAfter.Duration,
	}, beSource, pricefeed.NewDexScreenerSource(dex), stream, deps.PriceCache, deps.SignalBus, a.logger)
	g.Go(func() error {
		err := feeds.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	// Metadata waterfall: DexScreener first (no key, generous limits), then
	// the Jupiter token list, then Birdeye.
	resolver := metadata.NewResolver([]metadata.Source{
		metadata.NewDexScreenerSource(dex),
		metadata.NewJupiterSource(jup),
		metadata.NewBirdeyeSource(be),
	}, deps.MetadataCache, a.logger, metadata.WithBus(deps.SignalBus))

	// Executor (trade and full modes).
	var exec *executor.Coordinator
	if withExecutor {
		built, err := a.buildExecutor(deps, led, jup)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		exec = built
		g.Go(func() error {
			err := exec.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	wallet, err := a.walletAddress()
	if err != nil {
		return fmt.Errorf("run: resolve wallet: %w", err)
	}

	// Webhook processor: parse, dedup, analyze, apply.
	procOpts := []webhook.Option{
		webhook.WithMetadata(resolver),
		webhook.WithFeeds(feeds),
	}
	if exec != nil {
		procOpts = append(procOpts, webhook.WithQuotes(exec))
	}
	proc := webhook.New(
		txanalysis.New(wallet),
		led,
		deps.RawLog,
		a.cfg.Webhook.DedupWindow.Duration,
		a.logger,
		procOpts...,
	)
	g.Go(func() error {
		err := proc.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	// Seed the feed loops with positions restored from disk.
	feeds.UpdateTracked(ctx, led.OpenMints())

	// Notification bridge: signal bus events out to Telegram/Discord.
	bridge := notify.NewBridge(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		err := bridge.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	// Archive schedule (full mode with S3 enabled).
	if deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, deps.Archiver)
	}

	// HTTP + WebSocket server.
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, led, feeds, proc, exec, wallet)
	}

	return g.Wait()
}

// walletAddress returns the tracked wallet public key, deriving it from the
// configured key material when no explicit address is set.
func (a *App) walletAddress() (string, error) {
	if a.cfg.Wallet.Address != "" {
		return a.cfg.Wallet.Address, nil
	}
	keyB58, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return "", fmt.Errorf("load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(keyB58)
	if err != nil {
		return "", fmt.Errorf("derive wallet address: %w", err)
	}
	return signer.PublicKey(), nil
}

// buildExecutor creates the sell execution pipeline: signer, Jupiter
// aggregator, Solana RPC, and the warm-quote coordinator.
func (a *App) buildExecutor(deps *Dependencies, led *ledger.Ledger, agg *jupiter.Client) (*executor.Coordinator, error) {
	keyB58, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("build executor: load key: %w", err)
	}
	signer, err := crypto.NewSigner(keyB58)
	if err != nil {
		return nil, fmt.Errorf("build executor: create signer: %w", err)
	}

	chain := solana.NewClient(a.cfg.Solana.RPCURL, deps.RateLimiter)

	opts := []executor.Option{executor.WithLocks(deps.LockManager)}
	if deps.AuditStore != nil {
		opts = append(opts, executor.WithAudit(deps.AuditStore))
	}

	return executor.New(executor.Config{
		Fractions:          a.cfg.Executor.Fractions,
		WarmInterval:       a.cfg.Executor.WarmInterval.Duration,
		MaxQuoteAge:        a.cfg.Executor.MaxQuoteAge.Duration,
		MaxBalanceDriftPct: a.cfg.Executor.MaxBalanceDriftPct,
		SlippageBps:        a.cfg.Executor.SlippageBps,
		FailureThreshold:   a.cfg.Executor.FailureThreshold,
		SubmitRetries:      a.cfg.Executor.SubmitRetries,
		ConfirmTimeout:     a.cfg.Executor.ConfirmTimeout.Duration,
	}, agg, chain, signer, led, deps.SignalBus, a.logger, opts...), nil
}

// startArchiveLoop moves aged snapshots and raw-transaction windows to blob
// storage on the configured schedule.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, archiver domain.Archiver) {
	interval := a.cfg.S3.ArchiveInterval.Duration
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				n, err := archiver.ArchiveBefore(ctx, cutoff)
				if err != nil {
					a.logger.WarnContext(ctx, "archive cycle failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if n > 0 {
					a.logger.InfoContext(ctx, "archive cycle completed",
						slog.Int("objects", n),
						slog.Time("cutoff", cutoff),
					)
				}
			}
		}
	})
}

// feedSnapshot adapts the feed manager to the status endpoint, scoping the
// snapshot to currently open mints.
type feedSnapshot struct {
	feeds *pricefeed.Manager
	mints func() []string
}

func (f feedSnapshot) Snapshot() map[string]domain.PriceSample {
	return f.feeds.Snapshot(context.Background(), f.mints())
}

// startServer adds the API server and WebSocket hub goroutines to the group.
func (a *App) startServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	led *ledger.Ledger,
	feeds *pricefeed.Manager,
	proc *webhook.Processor,
	exec *executor.Coordinator,
	wallet string,
) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	},
		ws.WithOpenPositions(func() int { return len(led.OpenMints()) }),
		ws.WithConnectHook(func(ctx context.Context) {
			feeds.UpdateTracked(ctx, led.OpenMints())
		}),
	)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	var auth *crypto.WebhookAuth
	if a.cfg.Webhook.Secret != "" {
		auth = &crypto.WebhookAuth{Secret: a.cfg.Webhook.Secret}
	}

	var sellExec handler.SellExecutor
	if exec != nil {
		sellExec = exec
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, wallet, startedAt, led, sellExec,
			feedSnapshot{feeds: feeds, mints: led.OpenMints}),
		Positions: handler.NewPositionHandler(led, a.logger),
		Webhook:   handler.NewWebhookHandler(proc, auth, a.logger),
	}
	if exec != nil {
		handlers.Sell = handler.NewSellHandler(exec, deps.SignalBus, a.logger)
	}
	if deps.HistoryStore != nil {
		handlers.History = handler.NewHistoryHandler(deps.HistoryStore, deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
