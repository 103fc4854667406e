package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// PositionReader is the ledger view the position endpoints need.
type PositionReader interface {
	Positions() []domain.Position
	Position(mint string) (domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given reader and logger.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns every tracked position, open and closed. An optional
// status query narrows the set.
// GET /api/positions?status=open
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	all := h.positions.Positions()

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]domain.Position, 0, len(all))
		for _, p := range all {
			if string(p.Status) == status {
				filtered = append(filtered, p)
			}
		}
		all = filtered
	}

	if all == nil {
		all = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: all})
}

// GetPosition returns the position for one mint.
// GET /api/positions/{mint}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	mint := r.PathValue("mint")
	if mint == "" {
		writeError(w, http.StatusBadRequest, "mint path parameter required")
		return
	}

	pos, err := h.positions.Position(mint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no position for mint")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}
