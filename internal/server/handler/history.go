package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// HistoryHandler serves the durable trade and position history. Only wired
// when the Postgres mirror is enabled.
type HistoryHandler struct {
	history domain.HistoryStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler backed by the given stores.
func NewHistoryHandler(history domain.HistoryStore, audit domain.AuditStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		audit:   audit,
		logger:  logger,
	}
}

// ListTrades returns recorded trade analyses, newest first.
// GET /api/history/trades?limit=50&offset=0
func (h *HistoryHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.history.ListAnalyses(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeAnalysis{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListClosed returns closed-position history, newest first.
// GET /api/history/closed?limit=50&offset=0
func (h *HistoryHandler) ListClosed(w http.ResponseWriter, r *http.Request) {
	closed, err := h.history.ListClosedPositions(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list closed positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list closed positions")
		return
	}
	if closed == nil {
		closed = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": closed})
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
