package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// bridgeChannels are the signal bus channels the bridge follows.
var bridgeChannels = []string{"positions", "sells", "prices"}

// Bridge subscribes to the signal bus and forwards trading events to the
// notifier. It is the only producer of operator notifications; components
// publish to the bus and stay unaware of delivery channels.
type Bridge struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewBridge creates a Bridge between the given bus and notifier.
func NewBridge(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_bridge")),
	}
}

// Run consumes bus events until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	for _, ch := range bridgeChannels {
		msgCh, err := b.bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", ch, err)
		}
		go b.consume(ctx, ch, msgCh)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (b *Bridge) consume(ctx context.Context, channel string, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				return
			}
			b.handle(ctx, channel, data)
		}
	}
}

// busEvent is the envelope every bus publisher uses.
type busEvent struct {
	Event    string             `json:"event"`
	Position *domain.Position   `json:"position,omitempty"`
	Result   *domain.SellResult `json:"result,omitempty"`
	Mint     string             `json:"mint,omitempty"`
}

func (b *Bridge) handle(ctx context.Context, channel string, data []byte) {
	var ev busEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.Event == "" {
		return
	}

	title, message := b.format(ev)
	if title == "" {
		return
	}
	if err := b.notifier.Notify(ctx, ev.Event, title, message); err != nil {
		b.logger.WarnContext(ctx, "notification failed",
			slog.String("event", ev.Event),
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// format renders one event. Unknown events return an empty title and are
// dropped.
func (b *Bridge) format(ev busEvent) (string, string) {
	switch ev.Event {
	case "position_opened", "position_reopened":
		if ev.Position == nil {
			return "", ""
		}
		return "Position opened", fmt.Sprintf(
			"%s\namount: %.4f\ninvested: %.6f SOL",
			ev.Position.Mint, ev.Position.TotalAmount, ev.Position.TotalInvested,
		)
	case "position_closed":
		if ev.Position == nil {
			return "", ""
		}
		pnl := "n/a"
		if ev.Position.FinalPnL != nil {
			pnl = fmt.Sprintf("%+.6f SOL", *ev.Position.FinalPnL)
		}
		return "Position closed", fmt.Sprintf("%s\npnl: %s", ev.Position.Mint, pnl)
	case "sell_result":
		if ev.Result == nil {
			return "", ""
		}
		if ev.Result.Success {
			return "Sell executed", fmt.Sprintf(
				"%s\nfraction: %d%%\nreceived: %.6f SOL\nsignature: %s",
				ev.Result.Mint, ev.Result.FractionPct, ev.Result.SolReceived, ev.Result.Signature,
			)
		}
		return "Sell failed", fmt.Sprintf(
			"%s\nfraction: %d%%\nerror: %s",
			ev.Result.Mint, ev.Result.FractionPct, ev.Result.Error,
		)
	case "feed_fallback":
		return "Price stream degraded", "stream reconnects exhausted, serving polled prices"
	default:
		return "", ""
	}
}
