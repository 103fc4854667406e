// Package pricefeed keeps fresh prices for every tracked mint. A streaming
// source is primary when configured; per-mint poll loops run underneath it
// and take over whenever the stream goes quiet or dies for good.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// PollSource is a pull-based price provider.
type PollSource interface {
	Name() string
	Price(ctx context.Context, mint string) (domain.PriceSample, error)
}

// Stream is a push-based price provider with per-mint subscriptions.
type Stream interface {
	Connect(ctx context.Context) error
	Subscribe(mint string) error
	Unsubscribe(mint string) error
	OnSample(func(domain.PriceSample))
	Errors() <-chan error
	Close() error
}

const (
	// maxStreamReconnects bounds redial attempts before the stream is
	// abandoned for the life of the process and polling carries the load.
	maxStreamReconnects = 5

	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = 60 * time.Second
)

// Config tunes the manager.
type Config struct {
	PollInterval time.Duration // per-mint poll cadence
	StaleAfter   time.Duration // samples older than this are unusable
}

// Manager owns one feed loop per tracked mint.
type Manager struct {
	cfg       Config
	primary   PollSource
	secondary PollSource
	stream    Stream
	cache     domain.PriceCache
	bus       domain.SignalBus
	logger    *slog.Logger

	mu         sync.Mutex
	loops      map[string]context.CancelFunc
	last       map[string]domain.PriceSample
	streamDead bool
	rootCtx    context.Context
	wg         sync.WaitGroup
}

// New creates a Manager. secondary and stream may be nil.
func New(cfg Config, primary, secondary PollSource, stream Stream, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 60 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		primary:   primary,
		secondary: secondary,
		stream:    stream,
		cache:     cache,
		bus:       bus,
		logger:    logger.With(slog.String("component", "pricefeed")),
		loops:     make(map[string]context.CancelFunc),
		last:      make(map[string]domain.PriceSample),
	}
}

// Run starts the manager and blocks until ctx is cancelled. Per-mint loops
// are started and stopped by UpdateTracked while Run is live.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.rootCtx = ctx
	m.mu.Unlock()

	if m.stream != nil {
		m.stream.OnSample(func(sample domain.PriceSample) {
			m.ingest(ctx, sample)
		})
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runStream(ctx)
		}()
	}

	<-ctx.Done()

	m.mu.Lock()
	for mint, cancel := range m.loops {
		cancel()
		delete(m.loops, mint)
	}
	m.mu.Unlock()

	m.wg.Wait()
	return ctx.Err()
}

// runStream keeps the stream connected, redialing with exponential backoff.
// After maxStreamReconnects consecutive failures the stream is declared dead
// and polling alone carries the feed.
func (m *Manager) runStream(ctx context.Context) {
	defer m.stream.Close()

	attempts := 0
	for {
		if err := m.stream.Connect(ctx); err != nil {
			attempts++
			if !m.backoffOrDie(ctx, attempts, err) {
				return
			}
			continue
		}
		attempts = 0
		m.logger.InfoContext(ctx, "price stream connected")

		select {
		case <-ctx.Done():
			return
		case err := <-m.stream.Errors():
			attempts++
			if !m.backoffOrDie(ctx, attempts, err) {
				return
			}
		}
	}
}

// backoffOrDie sleeps before the next redial. It returns false when the
// attempt budget is spent or the context ended.
func (m *Manager) backoffOrDie(ctx context.Context, attempts int, cause error) bool {
	if attempts > maxStreamReconnects {
		m.mu.Lock()
		m.streamDead = true
		m.mu.Unlock()
		m.logger.ErrorContext(ctx, "price stream abandoned, polling only",
			slog.Int("attempts", attempts-1),
			slog.String("error", cause.Error()),
		)
		m.publishEvent(ctx, "feed_fallback", map[string]any{"reason": cause.Error()})
		return false
	}

	delay := reconnectBaseDelay << (attempts - 1)
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}
	m.logger.WarnContext(ctx, "price stream disconnected, redialing",
		slog.Int("attempt", attempts),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()),
	)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// UpdateTracked reconciles the feed set against the mints that should be
// tracked: new mints get a loop and a stream subscription, dropped mints are
// torn down and evicted from the cache.
func (m *Manager) UpdateTracked(ctx context.Context, mints []string) {
	want := make(map[string]bool, len(mints))
	for _, mint := range mints {
		want[mint] = true
	}

	m.mu.Lock()
	root := m.rootCtx
	var started, stopped []string
	for mint := range want {
		if _, ok := m.loops[mint]; ok {
			continue
		}
		if root == nil {
			continue // Run not called yet
		}
		loopCtx, cancel := context.WithCancel(root)
		m.loops[mint] = cancel
		m.wg.Add(1)
		go func(mint string) {
			defer m.wg.Done()
			m.pollLoop(loopCtx, mint)
		}(mint)
		started = append(started, mint)
	}
	for mint, cancel := range m.loops {
		if want[mint] {
			continue
		}
		cancel()
		delete(m.loops, mint)
		delete(m.last, mint)
		stopped = append(stopped, mint)
	}
	streamAlive := m.stream != nil && !m.streamDead
	m.mu.Unlock()

	for _, mint := range started {
		if streamAlive {
			if err := m.stream.Subscribe(mint); err != nil {
				m.logger.WarnContext(ctx, "stream subscribe failed",
					slog.String("mint", mint),
					slog.String("error", err.Error()),
				)
			}
		}
		m.logger.InfoContext(ctx, "feed started", slog.String("mint", mint))
	}
	for _, mint := range stopped {
		if streamAlive {
			_ = m.stream.Unsubscribe(mint)
		}
		if err := m.cache.Delete(ctx, mint); err != nil {
			m.logger.WarnContext(ctx, "cache evict failed",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
		m.logger.InfoContext(ctx, "feed stopped", slog.String("mint", mint))
	}
}

// pollLoop fetches a mint's price at the configured cadence. While a live
// stream keeps the sample fresh the loop stays idle; without one it pulls on
// every tick.
func (m *Manager) pollLoop(ctx context.Context, mint string) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.pollOnce(ctx, mint)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			last, ok := m.last[mint]
			streamAlive := m.stream != nil && !m.streamDead
			m.mu.Unlock()
			if streamAlive && ok && last.Age(time.Now()) < m.cfg.StaleAfter {
				continue
			}
			m.pollOnce(ctx, mint)
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context, mint string) {
	sample, err := m.primary.Price(ctx, mint)
	if err != nil {
		m.logger.WarnContext(ctx, "primary source failed",
			slog.String("mint", mint),
			slog.String("source", m.primary.Name()),
			slog.String("error", err.Error()),
		)
		if m.secondary == nil {
			return
		}
		sample, err = m.secondary.Price(ctx, mint)
		if err != nil {
			m.logger.WarnContext(ctx, "secondary source failed",
				slog.String("mint", mint),
				slog.String("source", m.secondary.Name()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	m.ingest(ctx, sample)
}

// ingest records a sample: delta vs the previous one, cache write, event.
func (m *Manager) ingest(ctx context.Context, sample domain.PriceSample) {
	if sample.Price <= 0 {
		return
	}

	m.mu.Lock()
	prev, hasPrev := m.last[sample.Mint]
	if _, tracked := m.loops[sample.Mint]; !tracked {
		// Stream samples can race a teardown; drop them.
		m.mu.Unlock()
		return
	}
	if hasPrev && prev.Price > 0 {
		sample.Change = sample.Price - prev.Price
		sample.ChangePct = (sample.Change / prev.Price) * 100
	}
	m.last[sample.Mint] = sample
	m.mu.Unlock()

	if err := m.cache.SetSample(ctx, sample); err != nil {
		m.logger.WarnContext(ctx, "cache write failed",
			slog.String("mint", sample.Mint),
			slog.String("error", err.Error()),
		)
	}

	// Tiny jitter is noise nobody needs to hear about.
	if hasPrev && math.Abs(sample.ChangePct) < 0.01 {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":  "price_update",
		"sample": sample,
	})
	if err := m.bus.Publish(ctx, "prices", payload); err != nil {
		m.logger.WarnContext(ctx, "publish price event failed",
			slog.String("mint", sample.Mint),
			slog.String("error", err.Error()),
		)
	}
}

// Latest returns the freshest sample for a mint. Samples older than the
// staleness window come back with ErrStalePrice so callers can decide
// whether a degraded answer is acceptable.
func (m *Manager) Latest(ctx context.Context, mint string) (domain.PriceSample, error) {
	m.mu.Lock()
	sample, ok := m.last[mint]
	m.mu.Unlock()

	if !ok {
		var err error
		sample, err = m.cache.GetSample(ctx, mint)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.PriceSample{}, domain.ErrNotFound
			}
			return domain.PriceSample{}, fmt.Errorf("pricefeed: latest %s: %w", mint, err)
		}
	}
	if sample.Age(time.Now()) > m.cfg.StaleAfter {
		return sample, domain.ErrStalePrice
	}
	return sample, nil
}

// Snapshot returns the freshest samples for the given mints, omitting those
// with nothing cached.
func (m *Manager) Snapshot(ctx context.Context, mints []string) map[string]domain.PriceSample {
	out := make(map[string]domain.PriceSample, len(mints))
	m.mu.Lock()
	var missing []string
	for _, mint := range mints {
		if sample, ok := m.last[mint]; ok {
			out[mint] = sample
		} else {
			missing = append(missing, mint)
		}
	}
	m.mu.Unlock()

	if len(missing) > 0 {
		cached, err := m.cache.GetSamples(ctx, missing)
		if err == nil {
			for mint, sample := range cached {
				out[mint] = sample
			}
		}
	}
	return out
}

func (m *Manager) publishEvent(ctx context.Context, event string, detail map[string]any) {
	payload, _ := json.Marshal(map[string]any{"event": event, "detail": detail})
	if err := m.bus.Publish(ctx, "prices", payload); err != nil {
		m.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
