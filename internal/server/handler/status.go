package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// FeedReader is the price feed view the status endpoint needs.
type FeedReader interface {
	Snapshot() map[string]domain.PriceSample
}

// StatusHandler serves the backend status for dashboards and probes.
type StatusHandler struct {
	Mode      string
	Wallet    string
	StartedAt time.Time

	positions PositionReader
	executor  SellExecutor // nil in track mode
	feeds     FeedReader   // nil when feeds are disabled
}

// NewStatusHandler creates a StatusHandler. executor and feeds may be nil
// when the running mode does not wire them.
func NewStatusHandler(mode, wallet string, startedAt time.Time, positions PositionReader, executor SellExecutor, feeds FeedReader) *StatusHandler {
	return &StatusHandler{
		Mode:      mode,
		Wallet:    wallet,
		StartedAt: startedAt,
		positions: positions,
		executor:  executor,
		feeds:     feeds,
	}
}

// GetStatus responds with the current mode, wallet, and component state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	open := 0
	for _, p := range h.positions.Positions() {
		if p.Status == domain.PositionStatusOpen {
			open++
		}
	}

	status := map[string]any{
		"mode":           h.Mode,
		"wallet":         h.Wallet,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"open_positions": open,
	}
	if h.executor != nil {
		status["warm_quotes"] = len(h.executor.WarmedQuotes())
		if until := h.executor.BreakerOpenUntil(); !until.IsZero() {
			status["breaker_open_until"] = until.UTC().Format(time.RFC3339)
		}
	}
	if h.feeds != nil {
		status["tracked_feeds"] = len(h.feeds.Snapshot())
	}

	writeJSON(w, http.StatusOK, status)
}
