// Package http is the chi-based transport of the outreach API service.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

// sharedSecretHeader carries the webhook authentication token configured on
// the provider side.
const sharedSecretHeader = "X-Webhook-Secret"

// maxWebhookBodyBytes bounds webhook payload reads.
const maxWebhookBodyBytes = 1 << 20

type WebhookHandler struct {
	processor    WebhookProcessor
	sharedSecret string
	logger       *slog.Logger
}

// WebhookProcessor is the application service behind the webhook endpoint.
type WebhookProcessor interface {
	Process(ctx context.Context, source string, body json.RawMessage) (domain.EventKind, error)
}

func NewWebhookHandler(processor WebhookProcessor, sharedSecret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor:    processor,
		sharedSecret: sharedSecret,
		logger:       logger.With("handler", "webhook"),
	}
}

// HandleWebhook ingests one provider delivery. Authentication failures and
// oversized bodies are rejected; everything past the secret check is acked
// with 200 regardless of processing outcome, because the provider retries
// non-2xx responses and a poison payload must not be redelivered forever.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	if h.sharedSecret != "" {
		got := r.Header.Get(sharedSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.sharedSecret)) != 1 {
			logger.WarnContext(ctx, "webhook with bad shared secret rejected")
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
	}

	source := chi.URLParam(r, "source")
	if source == "" {
		source = "provider"
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		logger.ErrorContext(ctx, "failed reading webhook body", "error", err)
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored", Kind: "unknown"})
		return
	}
	defer r.Body.Close()

	kind, procErr := h.processor.Process(ctx, source, body)
	if procErr != nil {
		// Raw-log write failed; the payload is lost unless the provider
		// retries, so this is the one case worth a retryable status.
		logger.ErrorContext(ctx, "webhook raw persistence failed", "error", procErr)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "event log unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Status: "accepted", Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
