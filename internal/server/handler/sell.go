package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// SellExecutor is the coordinator surface the sell endpoints need.
type SellExecutor interface {
	Sell(ctx context.Context, mint string, fractionPct int) domain.SellResult
	WarmedQuotes() []domain.WarmedQuote
	BreakerOpenUntil() time.Time
}

// SellStreamReader pages through the durable sell-execution stream.
type SellStreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// sellStream is the stream the executor appends every SellResult to.
const sellStream = "sells"

// SellHandler serves manual sell execution, warm-quote introspection, and
// the durable sell history.
type SellHandler struct {
	executor SellExecutor
	sells    SellStreamReader // nil when no durable stream backend is wired
	logger   *slog.Logger
}

// NewSellHandler creates a SellHandler with the given executor and logger.
func NewSellHandler(executor SellExecutor, sells SellStreamReader, logger *slog.Logger) *SellHandler {
	return &SellHandler{
		executor: executor,
		sells:    sells,
		logger:   logger,
	}
}

// sellRequest is the POST /api/sell body.
type sellRequest struct {
	Mint     string `json:"mint"`
	Fraction int    `json:"fraction"` // percent of balance to sell
}

// ExecuteSell triggers a sell of the requested fraction of the mint balance.
// The result is returned whether the sell succeeded or not; the success flag
// and error fields carry the outcome.
// POST /api/sell
func (h *SellHandler) ExecuteSell(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req sellRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Mint == "" {
		writeError(w, http.StatusBadRequest, "mint required")
		return
	}
	if req.Fraction <= 0 || req.Fraction > 100 {
		writeError(w, http.StatusBadRequest, "fraction must be in (0, 100]")
		return
	}

	result := h.executor.Sell(r.Context(), req.Mint, req.Fraction)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// quotesResponse wraps the warm-quote snapshot.
type quotesResponse struct {
	Quotes           []domain.WarmedQuote `json:"quotes"`
	BreakerOpenUntil *time.Time           `json:"breakerOpenUntil,omitempty"`
}

// ListQuotes returns the current warm-quote cache and breaker state.
// GET /api/quotes
func (h *SellHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	resp := quotesResponse{Quotes: h.executor.WarmedQuotes()}
	if resp.Quotes == nil {
		resp.Quotes = []domain.WarmedQuote{}
	}
	if until := h.executor.BreakerOpenUntil(); !until.IsZero() {
		resp.BreakerOpenUntil = &until
	}
	writeJSON(w, http.StatusOK, resp)
}

// sellHistoryEntry pairs a stream entry ID with its recorded SellResult.
// The ID doubles as the cursor for the next page.
type sellHistoryEntry struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// ListSells pages through the durable sell-execution stream, oldest first.
// The "after" cursor is the last entry ID of the previous page.
// GET /api/sells?after=0&limit=50
func (h *SellHandler) ListSells(w http.ResponseWriter, r *http.Request) {
	if h.sells == nil {
		writeError(w, http.StatusNotFound, "sell history not available")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}

	msgs, err := h.sells.StreamRead(r.Context(), sellStream, after, parseListOpts(r).Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list sells failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list sells")
		return
	}

	entries := make([]sellHistoryEntry, 0, len(msgs))
	for _, msg := range msgs {
		if !json.Valid(msg.Payload) {
			continue
		}
		entries = append(entries, sellHistoryEntry{ID: msg.ID, Result: msg.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sells": entries})
}
