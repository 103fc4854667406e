package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/soltraderbot/internal/crypto"
	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/webhook"
)

// maxWebhookBody bounds a delivery body. Provider batches stay well under it.
const maxWebhookBody = 2 << 20

// WebhookProcessor handles one parsed delivery body.
type WebhookProcessor interface {
	Process(ctx context.Context, body []byte) (webhook.Result, error)
}

// WebhookHandler serves the transaction webhook ingress.
type WebhookHandler struct {
	processor WebhookProcessor
	auth      *crypto.WebhookAuth
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. auth with an empty secret
// disables verification.
func NewWebhookHandler(processor WebhookProcessor, auth *crypto.WebhookAuth, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		auth:      auth,
		logger:    logger,
	}
}

// HandleWebhook ingests a transaction delivery. The provider authenticates
// with the shared secret in the Authorization header, or with an HMAC of the
// body in X-Signature. A verified-but-unprocessable body still returns 400
// so the provider stops redelivering it.
// POST /webhook
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if !h.authorized(r, body) {
		h.logger.WarnContext(r.Context(), "handler: webhook auth rejected",
			slog.String("remote_addr", r.RemoteAddr),
		)
		writeError(w, http.StatusUnauthorized, "invalid webhook credentials")
		return
	}

	result, err := h.processor.Process(r.Context(), body)
	if err != nil {
		if errors.Is(err, domain.ErrUnparsable) {
			writeError(w, http.StatusBadRequest, "unparsable payload")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: webhook processing failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *WebhookHandler) authorized(r *http.Request, body []byte) bool {
	if h.auth == nil {
		return true
	}
	if sig := r.Header.Get("X-Signature"); sig != "" {
		return h.auth.VerifySignature(sig, body)
	}
	return h.auth.VerifyHeader(r.Header.Get("Authorization"))
}
